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

package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/acl"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/audit"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/lifecycle"
	"github.com/anvil-project/anvil/pkg/metrics"
	"github.com/anvil-project/anvil/pkg/schema"
	"github.com/anvil-project/anvil/pkg/storage"
)

// SubmitLabel validates the payload against the queue's current schema
// version and completes the assignment. The label write, the schema freeze,
// and the status transition commit in one transaction; a pending assignment
// is reserved on the way through. Only the assigned labeler may submit.
func (c *Coordinator) SubmitLabel(ctx context.Context, tenant, assignmentID, callerID string, payload v1alpha1.Payload) (*v1alpha1.Label, error) {
	start := time.Now()
	a, err := c.store.GetAssignment(ctx, tenant, assignmentID)
	if err != nil {
		return nil, err
	}
	queue, err := c.store.GetQueue(ctx, tenant, a.QueueID)
	if err != nil {
		return nil, err
	}
	caller, err := c.store.FindLabeler(ctx, callerID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	if err := acl.Authorize(ctx, c.store, queue, caller, acl.ActionLabel, now); err != nil {
		c.denied(ctx, tenant, callerID, "submit_label", "assignment", a.ID, err, now)
		metrics.SubmitDuration.WithLabelValues("forbidden").Observe(time.Since(start).Seconds())
		return nil, err
	}
	if a.LabelerID != caller.ID {
		err := errors.NewForbidden(errors.ReasonNotAssignee)
		c.denied(ctx, tenant, callerID, "submit_label", "assignment", a.ID, err, now)
		metrics.SubmitDuration.WithLabelValues("forbidden").Observe(time.Since(start).Seconds())
		return nil, err
	}
	sv, err := c.store.GetSchemaVersion(ctx, tenant, queue.SchemaVersionID)
	if err != nil {
		return nil, err
	}
	normalized, err := schema.Validate(ctx, sv.Definition, payload)
	if err != nil {
		metrics.SubmitDuration.WithLabelValues("validation_error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	label := &v1alpha1.Label{
		ID:              uuid.NewString(),
		Tenant:          tenant,
		QueueID:         queue.ID,
		AssignmentID:    a.ID,
		SampleID:        a.SampleID,
		LabelerID:       caller.ID,
		SchemaVersionID: sv.ID,
		Payload:         normalized,
		SubmittedAt:     now,
	}
	err = c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		cur, err := tx.GetAssignment(ctx, tenant, a.ID)
		if err != nil {
			return err
		}
		if cur.Status == v1alpha1.AssignmentStatusPending {
			if err := lifecycle.Reserve(c.clock, cur, queue.AssignmentTimeout); err != nil {
				return err
			}
			if err := tx.UpdateAssignment(ctx, cur); err != nil {
				return err
			}
		}
		if err := tx.PutLabel(ctx, label); err != nil {
			return err
		}
		// The first label against a version freezes it; later calls no-op.
		if err := tx.FreezeSchemaVersion(ctx, tenant, sv.ID, now); err != nil {
			return err
		}
		if err := lifecycle.Complete(c.clock, cur, label.ID); err != nil {
			return err
		}
		if err := tx.UpdateAssignment(ctx, cur); err != nil {
			return err
		}
		a = cur
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, "submit_label", "label", label.ID, now, map[string]string{
			"assignment_id": a.ID,
			"queue_id":      queue.ID,
			"sample_id":     a.SampleID,
		}))
	})
	if err != nil {
		if errors.IsStale(err) {
			metrics.StaleWritesTotal.Inc()
		}
		metrics.SubmitDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	c.recorder.AssignmentCompleted(ctx, queue, a)
	c.observeAgreement(ctx, queue, sv, label)
	metrics.AssignmentsTotal.WithLabelValues(string(v1alpha1.AssignmentStatusCompleted)).Inc()
	metrics.SubmitDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())
	return label, nil
}

// observeAgreement folds a committed label into the online tally and
// refreshes the affected sample's cache rows. Failures are logged, never
// surfaced; the batch recompute rebuilds the same rows from storage.
func (c *Coordinator) observeAgreement(ctx context.Context, queue *v1alpha1.Queue, sv *v1alpha1.SchemaVersion, label *v1alpha1.Label) {
	c.accum.Observe(label)
	now := c.clock.Now()
	for field, result := range c.accum.SampleResult(label.SampleID, sv.Definition) {
		metrics.AgreementComputations.WithLabelValues(string(result.Metric)).Inc()
		if err := c.store.PutAgreementMetric(ctx, &v1alpha1.AgreementMetric{
			Tenant:          queue.Tenant,
			QueueID:         queue.ID,
			SampleID:        label.SampleID,
			Dimension:       field,
			SchemaVersionID: sv.ID,
			Metric:          result.Metric,
			Value:           result.Value,
			Band:            result.Band,
			Flagged:         result.Flagged,
			NRaters:         result.NRaters,
			NLabels:         result.NLabels,
			ComputedAt:      now,
		}); err != nil {
			logging.FromContext(ctx).With("sample-id", label.SampleID).Errorf("caching online agreement, %s", err)
		}
	}
}

// Skip declines a pending or in_progress assignment. Only the assigned
// labeler may skip.
func (c *Coordinator) Skip(ctx context.Context, tenant, assignmentID, callerID, reason string) (*v1alpha1.Assignment, error) {
	a, err := c.store.GetAssignment(ctx, tenant, assignmentID)
	if err != nil {
		return nil, err
	}
	queue, err := c.store.GetQueue(ctx, tenant, a.QueueID)
	if err != nil {
		return nil, err
	}
	caller, err := c.store.FindLabeler(ctx, callerID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	if err := acl.Authorize(ctx, c.store, queue, caller, acl.ActionLabel, now); err != nil {
		c.denied(ctx, tenant, callerID, "skip", "assignment", a.ID, err, now)
		return nil, err
	}
	if a.LabelerID != caller.ID {
		err := errors.NewForbidden(errors.ReasonNotAssignee)
		c.denied(ctx, tenant, callerID, "skip", "assignment", a.ID, err, now)
		return nil, err
	}
	err = c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		cur, err := tx.GetAssignment(ctx, tenant, a.ID)
		if err != nil {
			return err
		}
		if err := lifecycle.Skip(c.clock, cur, reason); err != nil {
			return err
		}
		if err := tx.UpdateAssignment(ctx, cur); err != nil {
			return err
		}
		a = cur
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, "skip", "assignment", a.ID, now, map[string]string{
			"queue_id": queue.ID,
			"reason":   reason,
		}))
	})
	if err != nil {
		if errors.IsStale(err) {
			metrics.StaleWritesTotal.Inc()
		}
		return nil, err
	}
	c.recorder.AssignmentSkipped(ctx, queue, a, reason)
	metrics.AssignmentsTotal.WithLabelValues(string(v1alpha1.AssignmentStatusSkipped)).Inc()
	return a, nil
}
