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

// Package storage defines the port over the durable relational store. Every
// operation is tenant-scoped; adapters must never return rows from another
// tenant. Assignment writes are guarded by an optimistic version counter and
// the eligible-sample query supports a select-for-update-skip-locked semantic
// so concurrent dispatchers never pick the same row.
package storage

import (
	"context"
	"time"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

// AssignmentFilter narrows ListAssignments and CountAssignments. Zero fields
// match everything. Results are ordered by (created_at asc, id asc).
type AssignmentFilter struct {
	QueueID        string
	SampleID       string
	LabelerID      string
	Statuses       []v1alpha1.AssignmentStatus
	DeadlineBefore *time.Time
	Limit          int
	// ForUpdateSkipLocked makes the relational adapter lock returned rows,
	// skipping rows locked by concurrent transactions. Only meaningful
	// inside Tx.
	ForUpdateSkipLocked bool
}

// LabelFilter narrows label reads. Results are ordered by
// (sample_id asc, labeler_id asc, submitted_at asc) so exports and agreement
// computations observe a deterministic sequence.
type LabelFilter struct {
	QueueID         string
	SampleID        string
	LabelerID       string
	SchemaVersionID string
	IncludeDeleted  bool
	Limit           int
	Offset          int
}

// SampleRefFilter narrows sample reference reads. Results are ordered by
// (created_at asc, id asc).
type SampleRefFilter struct {
	QueueID string
	IDs     []string
	Limit   int
}

// AgreementMetricFilter narrows agreement metric reads.
type AgreementMetricFilter struct {
	QueueID   string
	SampleID  string
	Dimension string
}

// AuditFilter narrows audit reads.
type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int
}

// EligibleOptions parameterizes the eligible-sample query for one dispatch.
type EligibleOptions struct {
	QueueID         string
	LabelerID       string
	LabelsPerSample int
	// AllowSameLabeler lifts the exclusion of samples the labeler has
	// already labeled.
	AllowSameLabeler bool
	Now              time.Time
	// Lock requests for-update-skip-locked row reservation; only meaningful
	// inside Tx.
	Lock bool
}

// EligibleSample is one sample still below its redundancy target, annotated
// with the counts selectors need.
type EligibleSample struct {
	Ref *v1alpha1.SampleRef
	// LabelCount is the number of non-deleted labels for the sample.
	LabelCount int
	// ActiveClaims is the number of non-terminal assignments on the sample.
	// Eligibility requires LabelCount+ActiveClaims below the queue's
	// labels_per_sample so the redundancy cap holds even with outstanding
	// reservations.
	ActiveClaims int
}

// Store is the persistence port consumed by the core.
//
// UpdateAssignment implements the optimistic contract: the write succeeds
// only when the stored version equals the incoming version minus one (the
// caller bumps the version when applying a transition); otherwise it fails
// with a stale error and writes nothing.
type Store interface {
	// Queues. PutQueue upserts; the (tenant, name) unique constraint is
	// enforced on insert.
	PutQueue(ctx context.Context, q *v1alpha1.Queue) error
	GetQueue(ctx context.Context, tenant, id string) (*v1alpha1.Queue, error)
	GetQueueByName(ctx context.Context, tenant, name string) (*v1alpha1.Queue, error)
	ListQueues(ctx context.Context, tenant string) ([]*v1alpha1.Queue, error)
	// ListTenants enumerates tenants with at least one queue; the background
	// sweepers iterate it.
	ListTenants(ctx context.Context) ([]string, error)

	// Schema versions. PutSchemaVersion fails with schema_frozen when the
	// stored version has frozen_at set. FreezeSchemaVersion is atomic and
	// idempotent: the first call wins, later calls are no-ops.
	PutSchemaVersion(ctx context.Context, sv *v1alpha1.SchemaVersion) error
	GetSchemaVersion(ctx context.Context, tenant, id string) (*v1alpha1.SchemaVersion, error)
	ListSchemaVersions(ctx context.Context, tenant, queueID string) ([]*v1alpha1.SchemaVersion, error)
	FreezeSchemaVersion(ctx context.Context, tenant, id string, at time.Time) error

	// Sample references.
	PutSampleRef(ctx context.Context, ref *v1alpha1.SampleRef) error
	GetSampleRef(ctx context.Context, tenant, id string) (*v1alpha1.SampleRef, error)
	ListSampleRefs(ctx context.Context, tenant string, f SampleRefFilter) ([]*v1alpha1.SampleRef, error)
	ListEligibleSamples(ctx context.Context, tenant string, opts EligibleOptions) ([]*EligibleSample, error)

	// Assignments.
	CreateAssignment(ctx context.Context, a *v1alpha1.Assignment) error
	GetAssignment(ctx context.Context, tenant, id string) (*v1alpha1.Assignment, error)
	UpdateAssignment(ctx context.Context, a *v1alpha1.Assignment) error
	ListAssignments(ctx context.Context, tenant string, f AssignmentFilter) ([]*v1alpha1.Assignment, error)
	CountAssignments(ctx context.Context, tenant string, f AssignmentFilter) (int, error)

	// Labels. UpdateLabelPayload rewrites a stored payload in place; it
	// exists for the retention sweeper only.
	PutLabel(ctx context.Context, l *v1alpha1.Label) error
	ListLabels(ctx context.Context, tenant string, f LabelFilter) ([]*v1alpha1.Label, error)
	StreamLabels(ctx context.Context, tenant string, f LabelFilter, fn func(*v1alpha1.Label) error) error
	UpdateLabelPayload(ctx context.Context, tenant, id string, p v1alpha1.Payload) error

	// Labelers and memberships. The (tenant, external_id) unique constraint
	// is enforced on insert.
	PutLabeler(ctx context.Context, l *v1alpha1.Labeler) error
	GetLabeler(ctx context.Context, tenant, id string) (*v1alpha1.Labeler, error)
	// FindLabeler resolves a caller identity by its globally unique id
	// without a tenant scope. The access layer compares the resolved tenant
	// against the target entity's tenant; every other read stays scoped.
	FindLabeler(ctx context.Context, id string) (*v1alpha1.Labeler, error)
	GetLabelerByExternalID(ctx context.Context, tenant, externalID string) (*v1alpha1.Labeler, error)
	PutQueueMembership(ctx context.Context, m *v1alpha1.QueueMembership) error
	ListQueueMemberships(ctx context.Context, tenant, labelerID string) ([]*v1alpha1.QueueMembership, error)

	// Agreement metric cache; rebuildable from labels.
	PutAgreementMetric(ctx context.Context, m *v1alpha1.AgreementMetric) error
	ListAgreementMetrics(ctx context.Context, tenant string, f AgreementMetricFilter) ([]*v1alpha1.AgreementMetric, error)

	// Audit. Append-only; DeleteAuditBefore exists for the retention
	// sweeper and returns the number of rows removed.
	AppendAudit(ctx context.Context, e *v1alpha1.AuditEntry) error
	ListAudit(ctx context.Context, tenant string, f AuditFilter) ([]*v1alpha1.AuditEntry, error)
	DeleteAuditBefore(ctx context.Context, tenant string, cutoff time.Time) (int, error)

	// Tx runs fn inside one transactional scope; fn receives a Store bound
	// to that scope. A returned error rolls back every write.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
