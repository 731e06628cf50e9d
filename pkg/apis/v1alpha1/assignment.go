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

type AssignmentStatus string

const (
	AssignmentStatusPending    AssignmentStatus = "pending"
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	AssignmentStatusCompleted  AssignmentStatus = "completed"
	AssignmentStatusExpired    AssignmentStatus = "expired"
	AssignmentStatusSkipped    AssignmentStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s AssignmentStatus) Terminal() bool {
	switch s {
	case AssignmentStatusCompleted, AssignmentStatusExpired, AssignmentStatusSkipped:
		return true
	}
	return false
}

// Assignment is one labeler's claim on one sample within one queue. Writes
// race through the optimistic Version counter: an update succeeds only when
// the stored version matches the version the writer read.
type Assignment struct {
	ID        string           `json:"id" db:"id"`
	Tenant    string           `json:"tenant" db:"tenant"`
	QueueID   string           `json:"queue_id" db:"queue_id"`
	SampleID  string           `json:"sample_id" db:"sample_id"`
	LabelerID string           `json:"labeler_id" db:"labeler_id"`
	Status    AssignmentStatus `json:"status" db:"status"`
	Version   int64            `json:"version" db:"version"`
	// Attempts counts pending -> in_progress transitions.
	Attempts int `json:"attempts" db:"attempts"`
	// SampleVersion pins the sample provider's version tag observed at
	// dispatch time.
	SampleVersion   string     `json:"sample_version" db:"sample_version"`
	RequeueAttempts int        `json:"requeue_attempts" db:"requeue_attempts"`
	// RequeuePriority orders requeued pool rows at dispatch; higher values
	// are claimed first.
	RequeuePriority int        `json:"requeue_priority,omitempty" db:"requeue_priority"`
	Deadline        *time.Time `json:"deadline,omitempty" db:"deadline"`
	// NotBefore delays re-selection of a requeued assignment.
	NotBefore   *time.Time `json:"not_before,omitempty" db:"not_before"`
	ReservedAt  *time.Time `json:"reserved_at,omitempty" db:"reserved_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	SkippedAt   *time.Time `json:"skipped_at,omitempty" db:"skipped_at"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty" db:"expired_at"`
	SkipReason  string     `json:"skip_reason,omitempty" db:"skip_reason"`
	LabelID     string     `json:"label_id,omitempty" db:"label_id"`
	// Escalated marks an expired assignment flagged for manual review after
	// the requeue budget ran out.
	Escalated bool      `json:"escalated,omitempty" db:"escalated"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Selectable reports whether a pending assignment may be handed out at the
// given instant, honoring the requeue delay.
func (a *Assignment) Selectable(now time.Time) bool {
	if a.Status != AssignmentStatusPending {
		return false
	}
	return a.NotBefore == nil || !a.NotBefore.After(now)
}
