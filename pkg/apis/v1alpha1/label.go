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

// Label is the submitted payload for one completed assignment. Writing a
// label pins its schema version; the first label for a version freezes it.
type Label struct {
	ID              string     `json:"id" db:"id"`
	Tenant          string     `json:"tenant" db:"tenant"`
	QueueID         string     `json:"queue_id" db:"queue_id"`
	AssignmentID    string     `json:"assignment_id" db:"assignment_id"`
	SampleID        string     `json:"sample_id" db:"sample_id"`
	LabelerID       string     `json:"labeler_id" db:"labeler_id"`
	SchemaVersionID string     `json:"schema_version_id" db:"schema_version_id"`
	Payload         Payload    `json:"payload" db:"payload"`
	SubmittedAt     time.Time  `json:"submitted_at" db:"submitted_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
