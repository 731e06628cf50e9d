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

// Package events emits the named telemetry events for state-changing
// operations so the system's actions are observable without log inspection.
// The default sink is structured logging; deployments may swap in any
// Recorder implementation.
package events

import (
	"context"

	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/export/manifest"
)

// Recorder is the telemetry port. One method per catalog event; emission is
// out-of-band and never participates in the caller's transaction.
type Recorder interface {
	// AssignmentCreated is emitted when dispatch inserts a new assignment.
	AssignmentCreated(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment)
	// AssignmentCompleted is emitted when a label submission completes an
	// assignment.
	AssignmentCompleted(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment)
	// AssignmentSkipped is emitted when a labeler declines an assignment.
	AssignmentSkipped(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment, reason string)
	// AssignmentExpired is emitted when the sweeper reclaims an overdue
	// reservation.
	AssignmentExpired(ctx context.Context, a *v1alpha1.Assignment)
	// AssignmentRequeued is emitted when an expired assignment spawns a
	// pending successor.
	AssignmentRequeued(ctx context.Context, predecessor, successor *v1alpha1.Assignment)
	// AssignmentEscalated is emitted when an expired assignment's requeue
	// budget runs out and it is flagged for manual review.
	AssignmentEscalated(ctx context.Context, a *v1alpha1.Assignment)
	// LowAgreement is emitted when a sample's per-field agreement falls
	// below the configured threshold.
	LowAgreement(ctx context.Context, tenant, sampleID, field string, value float64)
	// ExportCompleted is emitted after a manifest has been written.
	ExportCompleted(ctx context.Context, m *manifest.Manifest)
	// ProviderBreakerOpen is emitted when the sample provider's circuit
	// breaker trips.
	ProviderBreakerOpen(ctx context.Context, name string)
	// AccessDenied is emitted when an operation fails its ACL or tenant
	// gate.
	AccessDenied(ctx context.Context, tenant, callerID, action, reason string)
	// RetentionSwept is emitted after a retention pass with the number of
	// redacted fields and deleted audit rows.
	RetentionSwept(ctx context.Context, tenant string, redacted, deleted int)
}

type recorder struct{}

// NewRecorder returns the logging-backed Recorder.
func NewRecorder() Recorder {
	return recorder{}
}

func (recorder) AssignmentCreated(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment) {
	logging.FromContext(ctx).With(
		"event", "anvil.assignment.created",
		"tenant", a.Tenant,
		"queue-id", q.ID,
		"assignment-id", a.ID,
		"sample-id", a.SampleID,
		"labeler-id", a.LabelerID).Info("assignment created")
}

func (recorder) AssignmentCompleted(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment) {
	logging.FromContext(ctx).With(
		"event", "anvil.assignment.completed",
		"tenant", a.Tenant,
		"queue-id", q.ID,
		"assignment-id", a.ID,
		"label-id", a.LabelID).Info("assignment completed")
}

func (recorder) AssignmentSkipped(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment, reason string) {
	logging.FromContext(ctx).With(
		"event", "anvil.assignment.skipped",
		"tenant", a.Tenant,
		"queue-id", q.ID,
		"assignment-id", a.ID,
		"reason", reason).Info("assignment skipped")
}

func (recorder) AssignmentExpired(ctx context.Context, a *v1alpha1.Assignment) {
	logging.FromContext(ctx).With(
		"event", "anvil.assignment.expired",
		"tenant", a.Tenant,
		"queue-id", a.QueueID,
		"assignment-id", a.ID).Info("assignment expired")
}

func (recorder) AssignmentRequeued(ctx context.Context, predecessor, successor *v1alpha1.Assignment) {
	logging.FromContext(ctx).With(
		"event", "anvil.assignment.requeued",
		"tenant", successor.Tenant,
		"queue-id", successor.QueueID,
		"predecessor-id", predecessor.ID,
		"assignment-id", successor.ID,
		"requeue-attempts", successor.RequeueAttempts).Info("assignment requeued")
}

func (recorder) AssignmentEscalated(ctx context.Context, a *v1alpha1.Assignment) {
	logging.FromContext(ctx).With(
		"event", "anvil.assignment.escalated",
		"tenant", a.Tenant,
		"queue-id", a.QueueID,
		"assignment-id", a.ID,
		"requeue-attempts", a.RequeueAttempts).Warn("assignment escalated for manual review")
}

func (recorder) LowAgreement(ctx context.Context, tenant, sampleID, field string, value float64) {
	logging.FromContext(ctx).With(
		"event", "anvil.agreement.low_score",
		"tenant", tenant,
		"sample-id", sampleID,
		"field", field,
		"value", value).Warn("agreement below threshold")
}

func (recorder) ExportCompleted(ctx context.Context, m *manifest.Manifest) {
	logging.FromContext(ctx).With(
		"event", "anvil.export.completed",
		"export-id", m.ExportID,
		"queue-id", m.QueueID,
		"format", m.Format,
		"row-count", m.RowCount,
		"sha256", m.SHA256Hash).Info("export completed")
}

func (recorder) ProviderBreakerOpen(ctx context.Context, name string) {
	logging.FromContext(ctx).With(
		"event", "anvil.provider.breaker_open",
		"provider", name).Warn("sample provider breaker open")
}

func (recorder) AccessDenied(ctx context.Context, tenant, callerID, action, reason string) {
	logging.FromContext(ctx).With(
		"event", "anvil.access.denied",
		"tenant", tenant,
		"caller-id", callerID,
		"action", action,
		"reason", reason).Warn("access denied")
}

func (recorder) RetentionSwept(ctx context.Context, tenant string, redacted, deleted int) {
	logging.FromContext(ctx).With(
		"event", "anvil.retention.swept",
		"tenant", tenant,
		"redacted-fields", redacted,
		"deleted-audit-rows", deleted).Info("retention sweep finished")
}
