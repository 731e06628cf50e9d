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

// Package coordinator is the per-queue dispatch and submission engine. It
// applies the access gates and policy validators, runs the selector, and
// performs every state-changing write inside one transactional scope with its
// audit entry. Telemetry is emitted after commit. The coordinator holds no
// state across calls; serialization between concurrent processes comes from
// the storage layer's optimistic version column and locked eligible reads.
package coordinator

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/acl"
	"github.com/anvil-project/anvil/pkg/agreement"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/audit"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/events"
	"github.com/anvil-project/anvil/pkg/metrics"
	"github.com/anvil-project/anvil/pkg/policy"
	"github.com/anvil-project/anvil/pkg/providers/sample"
	"github.com/anvil-project/anvil/pkg/redaction"
	"github.com/anvil-project/anvil/pkg/storage"
)

// dispatchRetries bounds re-selection after losing a sample race to a
// concurrent dispatcher.
const dispatchRetries = 3

var errLostRace = stderrors.New("sample no longer eligible")

type Coordinator struct {
	store    storage.Store
	provider sample.Provider
	recorder events.Recorder
	pseudo   *redaction.Pseudonymizer
	clock    clock.Clock
	// accum is the online agreement tally fed by SubmitLabel; the batch
	// recompute resets it per sample as it overwrites the cache.
	accum *agreement.Accumulator
}

func NewCoordinator(store storage.Store, provider sample.Provider, recorder events.Recorder, pseudo *redaction.Pseudonymizer, clk clock.Clock) *Coordinator {
	return &Coordinator{
		store:    store,
		provider: provider,
		recorder: recorder,
		pseudo:   pseudo,
		clock:    clk,
		accum:    agreement.NewAccumulator(),
	}
}

// Accumulator exposes the online agreement tally so the batch recompute can
// reset samples it has rebuilt from storage.
func (c *Coordinator) Accumulator() *agreement.Accumulator { return c.accum }

// DispatchNext hands the labeler their next assignment on the queue. Requeued
// pool rows are claimed before fresh samples are considered. Returns
// no_available_work when the queue is paused, archived, or has nothing
// eligible for this labeler.
func (c *Coordinator) DispatchNext(ctx context.Context, tenant, queueID, callerID string) (*v1alpha1.Assignment, error) {
	start := time.Now()
	queue, err := c.store.GetQueue(ctx, tenant, queueID)
	if err != nil {
		return nil, err
	}
	// The caller resolves by identity alone; the access gate compares its
	// tenant against the queue's, so a cross-tenant call surfaces as
	// forbidden rather than not-found.
	caller, err := c.store.FindLabeler(ctx, callerID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	if err := acl.Authorize(ctx, c.store, queue, caller, acl.ActionLabel, now); err != nil {
		c.denied(ctx, tenant, callerID, "dispatch_next", "queue", queue.ID, err, now)
		metrics.DispatchDuration.WithLabelValues("forbidden").Observe(time.Since(start).Seconds())
		return nil, err
	}
	if !queue.Dispatchable() {
		metrics.DispatchDuration.WithLabelValues("no_work").Observe(time.Since(start).Seconds())
		return nil, errors.ErrNoAvailableWork
	}
	pol := policy.ForQueue(queue.Policy)
	if err := pol.Validate(ctx, c.store, queue, caller, now); err != nil {
		if errors.IsForbidden(err) {
			c.denied(ctx, tenant, callerID, "dispatch_next", "queue", queue.ID, err, now)
			metrics.DispatchDuration.WithLabelValues("forbidden").Observe(time.Since(start).Seconds())
		}
		return nil, err
	}

	if a, err := c.claimRequeued(ctx, queue, caller, now); err == nil {
		metrics.DispatchDuration.WithLabelValues("dispatched").Observe(time.Since(start).Seconds())
		return a, nil
	} else if !errors.IsNoAvailableWork(err) {
		return nil, err
	}

	for attempt := 0; attempt < dispatchRetries; attempt++ {
		a, err := c.dispatchFresh(ctx, queue, caller, pol, now)
		if stderrors.Is(err, errLostRace) {
			continue
		}
		if err != nil {
			if errors.IsNoAvailableWork(err) {
				metrics.DispatchDuration.WithLabelValues("no_work").Observe(time.Since(start).Seconds())
			}
			return nil, err
		}
		c.recorder.AssignmentCreated(ctx, queue, a)
		metrics.AssignmentsTotal.WithLabelValues(string(v1alpha1.AssignmentStatusPending)).Inc()
		metrics.DispatchDuration.WithLabelValues("dispatched").Observe(time.Since(start).Seconds())
		return a, nil
	}
	metrics.DispatchDuration.WithLabelValues("no_work").Observe(time.Since(start).Seconds())
	return nil, errors.ErrNoAvailableWork
}

// claimRequeued hands out the first selectable pool row, if any. Pool rows
// are pending assignments created by the timeout reclaimer when an expired
// reservation is requeued; rows pinned to the caller come back to them
// directly, unpinned rows order by requeue priority descending then age, and
// both consume a redundancy slot until claimed, so they take priority over
// fresh samples.
func (c *Coordinator) claimRequeued(ctx context.Context, queue *v1alpha1.Queue, caller *v1alpha1.Labeler, now time.Time) (*v1alpha1.Assignment, error) {
	pending, err := c.store.ListAssignments(ctx, queue.Tenant, storage.AssignmentFilter{
		QueueID:  queue.ID,
		Statuses: []v1alpha1.AssignmentStatus{v1alpha1.AssignmentStatusPending},
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].RequeuePriority > pending[j].RequeuePriority
	})
	for _, a := range pending {
		if !a.Selectable(now) {
			continue
		}
		if a.LabelerID != "" {
			// A successor pinned to the caller is already theirs.
			if a.LabelerID == caller.ID {
				return a, nil
			}
			continue
		}
		if !queue.Policy.AllowSameLabeler {
			prior, err := c.store.ListLabels(ctx, queue.Tenant, storage.LabelFilter{
				SampleID:  a.SampleID,
				LabelerID: caller.ID,
				Limit:     1,
			})
			if err != nil {
				return nil, err
			}
			if len(prior) > 0 {
				continue
			}
		}
		a.LabelerID = caller.ID
		a.Version++
		err = c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return err
			}
			return audit.NewWriter(tx).Record(ctx, audit.Entry(queue.Tenant, caller.ID, "dispatch_next", "assignment", a.ID, now, map[string]string{
				"queue_id":  queue.ID,
				"sample_id": a.SampleID,
				"requeued":  "true",
			}))
		})
		if errors.IsStale(err) {
			// Another dispatcher claimed it first.
			metrics.StaleWritesTotal.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		logging.FromContext(ctx).With("queue-id", queue.ID, "assignment-id", a.ID).Debugf("claimed requeued assignment")
		return a, nil
	}
	return nil, errors.ErrNoAvailableWork
}

// dispatchFresh selects one eligible sample, pins its provider version, and
// inserts the assignment. Eligibility is re-resolved under lock inside the
// transaction; a sample picked away by a concurrent dispatcher surfaces as
// errLostRace so the caller can re-select.
func (c *Coordinator) dispatchFresh(ctx context.Context, queue *v1alpha1.Queue, caller *v1alpha1.Labeler, pol *policy.Composed, now time.Time) (*v1alpha1.Assignment, error) {
	opts := storage.EligibleOptions{
		QueueID:          queue.ID,
		LabelerID:        caller.ID,
		LabelsPerSample:  queue.LabelsPerSample,
		AllowSameLabeler: queue.Policy.AllowSameLabeler,
		Now:              now,
	}
	eligible, err := c.store.ListEligibleSamples(ctx, queue.Tenant, opts)
	if err != nil {
		return nil, err
	}
	chosen, err := pol.Select(ctx, caller, eligible)
	if err != nil {
		return nil, err
	}
	// Provider calls stay outside the transaction.
	dto, err := c.provider.Fetch(ctx, queue.Tenant, chosen.Ref.ID)
	if err != nil {
		return nil, err
	}
	a := &v1alpha1.Assignment{
		ID:            uuid.NewString(),
		Tenant:        queue.Tenant,
		QueueID:       queue.ID,
		SampleID:      chosen.Ref.ID,
		LabelerID:     caller.ID,
		Status:        v1alpha1.AssignmentStatusPending,
		Version:       1,
		SampleVersion: dto.Version,
		CreatedAt:     now,
	}
	err = c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		lockedOpts := opts
		lockedOpts.Lock = true
		locked, err := tx.ListEligibleSamples(ctx, queue.Tenant, lockedOpts)
		if err != nil {
			return err
		}
		if !lo.ContainsBy(locked, func(e *storage.EligibleSample) bool { return e.Ref.ID == chosen.Ref.ID }) {
			return errLostRace
		}
		if err := tx.CreateAssignment(ctx, a); err != nil {
			return err
		}
		return audit.NewWriter(tx).Record(ctx, audit.Entry(queue.Tenant, caller.ID, "dispatch_next", "assignment", a.ID, now, map[string]string{
			"queue_id":  queue.ID,
			"sample_id": a.SampleID,
		}))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// denied records a refused operation: an audit entry plus the access-denied
// event. Audit failures here are logged, not surfaced; the refusal itself is
// the caller's result.
func (c *Coordinator) denied(ctx context.Context, tenant, callerID, action, entityType, entityID string, err error, now time.Time) {
	reason := errors.ForbiddenReason(err)
	c.recorder.AccessDenied(ctx, tenant, callerID, action, reason)
	entry := audit.Entry(tenant, callerID, "access_denied", entityType, entityID, now, map[string]string{
		"action": action,
		"reason": reason,
	})
	if aerr := c.store.AppendAudit(ctx, entry); aerr != nil {
		logging.FromContext(ctx).With("action", action).Errorf("appending access-denied audit entry, %s", aerr)
	}
}
