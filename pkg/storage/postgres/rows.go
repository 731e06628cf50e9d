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

package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	anvilerrors "github.com/anvil-project/anvil/pkg/errors"
)

// uniqueViolation is the postgres error code for unique constraint failures.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func wrapPut(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return anvilerrors.NewStorage(op, fmt.Errorf("unique violation, %w", err))
	}
	return anvilerrors.NewStorage(op, err)
}

func toJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding column, %w", err)
	}
	return data, nil
}

func fromJSON[T any](data []byte) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding column, %w", err)
	}
	return out, nil
}

type queueRow struct {
	ID                string     `db:"id"`
	Tenant            string     `db:"tenant"`
	Name              string     `db:"name"`
	SchemaVersionID   string     `db:"schema_version_id"`
	Policy            []byte     `db:"policy"`
	Status            string     `db:"status"`
	AccessMode        string     `db:"access_mode"`
	LabelsPerSample   int        `db:"labels_per_sample"`
	AssignmentTimeout int64      `db:"assignment_timeout"`
	CreatedAt         time.Time  `db:"created_at"`
	ArchivedAt        *time.Time `db:"archived_at"`
}

func (r queueRow) domain() (*v1alpha1.Queue, error) {
	policy, err := fromJSON[v1alpha1.PolicySpec](r.Policy)
	if err != nil {
		return nil, err
	}
	return &v1alpha1.Queue{
		ID:                r.ID,
		Tenant:            r.Tenant,
		Name:              r.Name,
		SchemaVersionID:   r.SchemaVersionID,
		Policy:            policy,
		Status:            v1alpha1.QueueStatus(r.Status),
		AccessMode:        v1alpha1.QueueAccessMode(r.AccessMode),
		LabelsPerSample:   r.LabelsPerSample,
		AssignmentTimeout: time.Duration(r.AssignmentTimeout),
		CreatedAt:         r.CreatedAt,
		ArchivedAt:        r.ArchivedAt,
	}, nil
}

type schemaVersionRow struct {
	ID            string     `db:"id"`
	Tenant        string     `db:"tenant"`
	QueueID       string     `db:"queue_id"`
	VersionNumber int        `db:"version_number"`
	Definition    []byte     `db:"definition"`
	Transform     []byte     `db:"transform_from_previous"`
	FrozenAt      *time.Time `db:"frozen_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (r schemaVersionRow) domain() (*v1alpha1.SchemaVersion, error) {
	def, err := fromJSON[v1alpha1.SchemaDefinition](r.Definition)
	if err != nil {
		return nil, err
	}
	sv := &v1alpha1.SchemaVersion{
		ID:            r.ID,
		Tenant:        r.Tenant,
		QueueID:       r.QueueID,
		VersionNumber: r.VersionNumber,
		Definition:    def,
		FrozenAt:      r.FrozenAt,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Transform) > 0 {
		t, err := fromJSON[*v1alpha1.TransformSpec](r.Transform)
		if err != nil {
			return nil, err
		}
		sv.TransformFromPrevious = t
	}
	return sv, nil
}

type sampleRefRow struct {
	ID         string    `db:"id"`
	Tenant     string    `db:"tenant"`
	QueueID    string    `db:"queue_id"`
	VersionTag string    `db:"version_tag"`
	Metadata   []byte    `db:"metadata"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r sampleRefRow) domain() (*v1alpha1.SampleRef, error) {
	md, err := fromJSON[map[string]string](r.Metadata)
	if err != nil {
		return nil, err
	}
	return &v1alpha1.SampleRef{
		ID:         r.ID,
		Tenant:     r.Tenant,
		QueueID:    r.QueueID,
		VersionTag: r.VersionTag,
		Metadata:   md,
		CreatedAt:  r.CreatedAt,
	}, nil
}

type eligibleRow struct {
	sampleRefRow
	LabelCount   int `db:"label_count"`
	ActiveClaims int `db:"active_claims"`
}

type assignmentRow struct {
	ID              string     `db:"id"`
	Tenant          string     `db:"tenant"`
	QueueID         string     `db:"queue_id"`
	SampleID        string     `db:"sample_id"`
	LabelerID       string     `db:"labeler_id"`
	Status          string     `db:"status"`
	Version         int64      `db:"version"`
	Attempts        int        `db:"attempts"`
	SampleVersion   string     `db:"sample_version"`
	RequeueAttempts int        `db:"requeue_attempts"`
	RequeuePriority int        `db:"requeue_priority"`
	Deadline        *time.Time `db:"deadline"`
	NotBefore       *time.Time `db:"not_before"`
	ReservedAt      *time.Time `db:"reserved_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	SkippedAt       *time.Time `db:"skipped_at"`
	ExpiredAt       *time.Time `db:"expired_at"`
	SkipReason      string     `db:"skip_reason"`
	LabelID         string     `db:"label_id"`
	Escalated       bool       `db:"escalated"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (r assignmentRow) domain() *v1alpha1.Assignment {
	return &v1alpha1.Assignment{
		ID:              r.ID,
		Tenant:          r.Tenant,
		QueueID:         r.QueueID,
		SampleID:        r.SampleID,
		LabelerID:       r.LabelerID,
		Status:          v1alpha1.AssignmentStatus(r.Status),
		Version:         r.Version,
		Attempts:        r.Attempts,
		SampleVersion:   r.SampleVersion,
		RequeueAttempts: r.RequeueAttempts,
		RequeuePriority: r.RequeuePriority,
		Deadline:        r.Deadline,
		NotBefore:       r.NotBefore,
		ReservedAt:      r.ReservedAt,
		CompletedAt:     r.CompletedAt,
		SkippedAt:       r.SkippedAt,
		ExpiredAt:       r.ExpiredAt,
		SkipReason:      r.SkipReason,
		LabelID:         r.LabelID,
		Escalated:       r.Escalated,
		CreatedAt:       r.CreatedAt,
	}
}

type labelRow struct {
	ID              string     `db:"id"`
	Tenant          string     `db:"tenant"`
	QueueID         string     `db:"queue_id"`
	AssignmentID    string     `db:"assignment_id"`
	SampleID        string     `db:"sample_id"`
	LabelerID       string     `db:"labeler_id"`
	SchemaVersionID string     `db:"schema_version_id"`
	Payload         []byte     `db:"payload"`
	SubmittedAt     time.Time  `db:"submitted_at"`
	DeletedAt       *time.Time `db:"deleted_at"`
}

func (r labelRow) domain() (*v1alpha1.Label, error) {
	payload, err := fromJSON[v1alpha1.Payload](r.Payload)
	if err != nil {
		return nil, err
	}
	return &v1alpha1.Label{
		ID:              r.ID,
		Tenant:          r.Tenant,
		QueueID:         r.QueueID,
		AssignmentID:    r.AssignmentID,
		SampleID:        r.SampleID,
		LabelerID:       r.LabelerID,
		SchemaVersionID: r.SchemaVersionID,
		Payload:         payload,
		SubmittedAt:     r.SubmittedAt,
		DeletedAt:       r.DeletedAt,
	}, nil
}

type labelerRow struct {
	ID                       string    `db:"id"`
	Tenant                   string    `db:"tenant"`
	ExternalID               string    `db:"external_id"`
	Pseudonym                string    `db:"pseudonym"`
	Role                     string    `db:"role"`
	Status                   string    `db:"status"`
	ExpertiseWeights         []byte    `db:"expertise_weights"`
	BlocklistedQueues        []byte    `db:"blocklisted_queues"`
	MaxConcurrentAssignments int       `db:"max_concurrent_assignments"`
	CreatedAt                time.Time `db:"created_at"`
}

func (r labelerRow) domain() (*v1alpha1.Labeler, error) {
	weights, err := fromJSON[map[v1alpha1.DifficultyClass]float64](r.ExpertiseWeights)
	if err != nil {
		return nil, err
	}
	blocked, err := fromJSON[[]string](r.BlocklistedQueues)
	if err != nil {
		return nil, err
	}
	return &v1alpha1.Labeler{
		ID:                       r.ID,
		Tenant:                   r.Tenant,
		ExternalID:               r.ExternalID,
		Pseudonym:                r.Pseudonym,
		Role:                     v1alpha1.LabelerRole(r.Role),
		Status:                   v1alpha1.LabelerStatus(r.Status),
		ExpertiseWeights:         weights,
		BlocklistedQueues:        blocked,
		MaxConcurrentAssignments: r.MaxConcurrentAssignments,
		CreatedAt:                r.CreatedAt,
	}, nil
}

type membershipRow struct {
	QueueID   string     `db:"queue_id"`
	Tenant    string     `db:"tenant"`
	LabelerID string     `db:"labeler_id"`
	Role      string     `db:"role"`
	GrantedAt time.Time  `db:"granted_at"`
	GrantedBy string     `db:"granted_by"`
	ExpiresAt *time.Time `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

func (r membershipRow) domain() *v1alpha1.QueueMembership {
	return &v1alpha1.QueueMembership{
		QueueID:   r.QueueID,
		Tenant:    r.Tenant,
		LabelerID: r.LabelerID,
		Role:      v1alpha1.MembershipRole(r.Role),
		GrantedAt: r.GrantedAt,
		GrantedBy: r.GrantedBy,
		ExpiresAt: r.ExpiresAt,
		RevokedAt: r.RevokedAt,
	}
}

type metricRow struct {
	Tenant          string    `db:"tenant"`
	QueueID         string    `db:"queue_id"`
	SampleID        string    `db:"sample_id"`
	Dimension       string    `db:"dimension"`
	SchemaVersionID string    `db:"schema_version_id"`
	Metric          string    `db:"metric"`
	Value           float64   `db:"value"`
	Band            string    `db:"band"`
	Flagged         bool      `db:"flagged"`
	NRaters         int       `db:"n_raters"`
	NLabels         int       `db:"n_labels"`
	ComputedAt      time.Time `db:"computed_at"`
}

func (r metricRow) domain() *v1alpha1.AgreementMetric {
	return &v1alpha1.AgreementMetric{
		Tenant:          r.Tenant,
		QueueID:         r.QueueID,
		SampleID:        r.SampleID,
		Dimension:       r.Dimension,
		SchemaVersionID: r.SchemaVersionID,
		Metric:          v1alpha1.AgreementMetricKind(r.Metric),
		Value:           r.Value,
		Band:            v1alpha1.AgreementBand(r.Band),
		Flagged:         r.Flagged,
		NRaters:         r.NRaters,
		NLabels:         r.NLabels,
		ComputedAt:      r.ComputedAt,
	}
}

type auditRow struct {
	Seq        int64     `db:"seq"`
	Tenant     string    `db:"tenant"`
	ActorID    string    `db:"actor_id"`
	ActorType  string    `db:"actor_type"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Metadata   []byte    `db:"metadata"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (r auditRow) domain() (*v1alpha1.AuditEntry, error) {
	md, err := fromJSON[map[string]string](r.Metadata)
	if err != nil {
		return nil, err
	}
	return &v1alpha1.AuditEntry{
		Tenant:     r.Tenant,
		ActorID:    r.ActorID,
		ActorType:  v1alpha1.ActorType(r.ActorType),
		Action:     r.Action,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Metadata:   md,
		OccurredAt: r.OccurredAt,
	}, nil
}
