/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import "time"

type QueueStatus string

const (
	QueueStatusActive   QueueStatus = "active"
	QueueStatusPaused   QueueStatus = "paused"
	QueueStatusArchived QueueStatus = "archived"
)

type QueueAccessMode string

const (
	QueueAccessPrivate    QueueAccessMode = "private"
	QueueAccessRestricted QueueAccessMode = "restricted"
	QueueAccessPublic     QueueAccessMode = "public"
)

// SelectorKind names a built-in sample selector.
type SelectorKind string

const (
	SelectorRoundRobin        SelectorKind = "round_robin"
	SelectorRandom            SelectorKind = "random"
	SelectorWeightedExpertise SelectorKind = "weighted_expertise"
	SelectorRedundancy        SelectorKind = "redundancy"
)

// RequeueKind names the behavior applied when a reservation expires.
type RequeueKind string

const (
	RequeueKindRequeue             RequeueKind = "requeue"
	RequeueKindArchive             RequeueKind = "archive"
	RequeueKindRequeueWithPriority RequeueKind = "requeue_with_priority"
)

// PolicySpec configures the selection, validation, and requeue behavior of a
// queue. Zero values fall back to round-robin with no requeue.
type PolicySpec struct {
	Selector            SelectorKind `json:"selector" db:"selector"`
	Seed                int64        `json:"seed,omitempty" db:"seed"`
	AllowSameLabeler    bool         `json:"allow_same_labeler" db:"allow_same_labeler"`
	Requeue             RequeueKind  `json:"requeue" db:"requeue"`
	RequeuePriority     int          `json:"requeue_priority,omitempty" db:"requeue_priority"`
	MaxRequeueAttempts  int          `json:"max_requeue_attempts" db:"max_requeue_attempts"`
	RequeueDelaySeconds int          `json:"requeue_delay_seconds" db:"requeue_delay_seconds"`
}

// Queue is a tenant-scoped unit of labeling work. Queues own their schema
// versions and assignments; archive is one-way.
type Queue struct {
	ID                string          `json:"id" db:"id"`
	Tenant            string          `json:"tenant" db:"tenant"`
	Name              string          `json:"name" db:"name"`
	SchemaVersionID   string          `json:"schema_version_id" db:"schema_version_id"`
	Policy            PolicySpec      `json:"policy" db:"policy"`
	Status            QueueStatus     `json:"status" db:"status"`
	AccessMode        QueueAccessMode `json:"access_mode" db:"access_mode"`
	LabelsPerSample   int             `json:"labels_per_sample" db:"labels_per_sample"`
	AssignmentTimeout time.Duration   `json:"assignment_timeout" db:"assignment_timeout"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	ArchivedAt        *time.Time      `json:"archived_at,omitempty" db:"archived_at"`
}

// Dispatchable reports whether the queue accepts new assignments.
func (q *Queue) Dispatchable() bool {
	return q.Status == QueueStatusActive
}
