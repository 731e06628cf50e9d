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

type ActorType string

const (
	ActorLabeler ActorType = "labeler"
	ActorService ActorType = "service"
	ActorSystem  ActorType = "system"
)

// AuditEntry is one append-only record of a state-changing operation. Entries
// are written in the same transaction as the change they describe.
type AuditEntry struct {
	Tenant     string            `json:"tenant" db:"tenant"`
	ActorID    string            `json:"actor_id" db:"actor_id"`
	ActorType  ActorType         `json:"actor_type" db:"actor_type"`
	Action     string            `json:"action" db:"action"`
	EntityType string            `json:"entity_type" db:"entity_type"`
	EntityID   string            `json:"entity_id" db:"entity_id"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	OccurredAt time.Time         `json:"occurred_at" db:"occurred_at"`
}
