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

type LabelerRole string

const (
	RoleLabeler     LabelerRole = "labeler"
	RoleReviewer    LabelerRole = "reviewer"
	RoleAdjudicator LabelerRole = "adjudicator"
	RoleOwner       LabelerRole = "owner"
	RoleAdmin       LabelerRole = "admin"
)

type LabelerStatus string

const (
	LabelerStatusActive      LabelerStatus = "active"
	LabelerStatusSuspended   LabelerStatus = "suspended"
	LabelerStatusDeactivated LabelerStatus = "deactivated"
)

// DifficultyClass classifies a sample's difficulty for weighted selection.
type DifficultyClass string

const (
	DifficultySimple   DifficultyClass = "simple"
	DifficultyModerate DifficultyClass = "moderate"
	DifficultyComplex  DifficultyClass = "complex"
)

// Labeler is a tenant-scoped annotator identity. The pseudonym is derived
// from the external id and stable within the tenant.
type Labeler struct {
	ID         string        `json:"id" db:"id"`
	Tenant     string        `json:"tenant" db:"tenant"`
	ExternalID string        `json:"external_id" db:"external_id"`
	Pseudonym  string        `json:"pseudonym" db:"pseudonym"`
	Role       LabelerRole   `json:"role" db:"role"`
	Status     LabelerStatus `json:"status" db:"status"`
	// ExpertiseWeights maps difficulty classes the labeler is permitted to
	// work, with a relative weight. Empty permits every class.
	ExpertiseWeights         map[DifficultyClass]float64 `json:"expertise_weights,omitempty" db:"expertise_weights"`
	BlocklistedQueues        []string                    `json:"blocklisted_queues,omitempty" db:"blocklisted_queues"`
	MaxConcurrentAssignments int                         `json:"max_concurrent_assignments" db:"max_concurrent_assignments"`
	CreatedAt                time.Time                   `json:"created_at" db:"created_at"`
}

// Blocklisted reports whether the labeler is blocked from the queue.
func (l *Labeler) Blocklisted(queueID string) bool {
	for _, q := range l.BlocklistedQueues {
		if q == queueID {
			return true
		}
	}
	return false
}

// Permits reports whether the labeler's expertise admits the difficulty
// class. An empty weight map permits everything.
func (l *Labeler) Permits(d DifficultyClass) bool {
	if len(l.ExpertiseWeights) == 0 {
		return true
	}
	w, ok := l.ExpertiseWeights[d]
	return ok && w > 0
}

type MembershipRole string

const (
	MembershipRoleLabeler  MembershipRole = "labeler"
	MembershipRoleReviewer MembershipRole = "reviewer"
	MembershipRoleOwner    MembershipRole = "owner"
)

// QueueMembership grants a labeler a role on one queue. A membership is
// active while not revoked and not past its expiry.
type QueueMembership struct {
	QueueID   string         `json:"queue_id" db:"queue_id"`
	Tenant    string         `json:"tenant" db:"tenant"`
	LabelerID string         `json:"labeler_id" db:"labeler_id"`
	Role      MembershipRole `json:"role" db:"role"`
	GrantedAt time.Time      `json:"granted_at" db:"granted_at"`
	GrantedBy string         `json:"granted_by" db:"granted_by"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt *time.Time     `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Active reports whether the membership currently grants its role.
func (m *QueueMembership) Active(now time.Time) bool {
	if m.RevokedAt != nil {
		return false
	}
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}
