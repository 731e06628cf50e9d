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

// Package reclaim sweeps overdue reservations. Expired assignments either
// spawn a pending successor per the queue's requeue rule or escalate for
// manual review once the requeue budget is spent. Assignments on archived
// queues expire outright.
package reclaim

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/audit"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/events"
	"github.com/anvil-project/anvil/pkg/lifecycle"
	"github.com/anvil-project/anvil/pkg/metrics"
	"github.com/anvil-project/anvil/pkg/policy"
	"github.com/anvil-project/anvil/pkg/storage"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultBatchSize = 100
)

type Controller struct {
	store     storage.Store
	recorder  events.Recorder
	clock     clock.Clock
	interval  time.Duration
	batchSize int
}

func NewController(store storage.Store, recorder events.Recorder, clk clock.Clock, interval time.Duration, batchSize int) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Controller{store: store, recorder: recorder, clock: clk, interval: interval, batchSize: batchSize}
}

func (c *Controller) Name() string            { return "reclaim" }
func (c *Controller) Interval() time.Duration { return c.interval }

func (c *Controller) Reconcile(ctx context.Context) error {
	tenants, err := c.store.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if err := c.reconcileTenant(ctx, tenant); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) reconcileTenant(ctx context.Context, tenant string) error {
	now := c.clock.Now()
	queues, err := c.store.ListQueues(ctx, tenant)
	if err != nil {
		return err
	}
	byID := map[string]*v1alpha1.Queue{}
	for _, q := range queues {
		byID[q.ID] = q
	}

	overdue, err := c.store.ListAssignments(ctx, tenant, storage.AssignmentFilter{
		Statuses:       []v1alpha1.AssignmentStatus{v1alpha1.AssignmentStatusInProgress},
		DeadlineBefore: &now,
		Limit:          c.batchSize,
	})
	if err != nil {
		return err
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].Deadline.Before(*overdue[j].Deadline) })
	for _, a := range overdue {
		queue, ok := byID[a.QueueID]
		if !ok {
			continue
		}
		if err := c.reclaimOverdue(ctx, queue, a, now); err != nil {
			return err
		}
	}

	for _, q := range queues {
		if q.Status != v1alpha1.QueueStatusArchived {
			continue
		}
		if err := c.expireArchived(ctx, q, now); err != nil {
			return err
		}
	}
	return nil
}

// reclaimOverdue expires one overdue reservation and applies the queue's
// requeue rule. A losing optimistic write means someone completed or skipped
// it first; the row is left alone.
func (c *Controller) reclaimOverdue(ctx context.Context, queue *v1alpha1.Queue, a *v1alpha1.Assignment, now time.Time) error {
	decision := policy.ForQueue(queue.Policy).OnTimeout(a)
	var successor *v1alpha1.Assignment
	err := c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		cur, err := tx.GetAssignment(ctx, queue.Tenant, a.ID)
		if err != nil {
			return err
		}
		if cur.Status != v1alpha1.AssignmentStatusInProgress || cur.Deadline == nil || !cur.Deadline.Before(now) {
			return nil
		}
		if !decision.Requeue {
			cur.Escalated = true
		}
		if err := lifecycle.Expire(c.clock, cur); err != nil {
			return err
		}
		if err := tx.UpdateAssignment(ctx, cur); err != nil {
			return err
		}
		*a = *cur
		w := audit.NewWriter(tx)
		if !decision.Requeue {
			return w.Record(ctx, audit.SystemEntry(queue.Tenant, "escalate_assignment", "assignment", cur.ID, now, map[string]string{
				"queue_id":         queue.ID,
				"requeue_attempts": strconv.Itoa(cur.RequeueAttempts),
			}))
		}
		successor = &v1alpha1.Assignment{
			ID:              uuid.NewString(),
			Tenant:          queue.Tenant,
			QueueID:         queue.ID,
			SampleID:        cur.SampleID,
			Status:          v1alpha1.AssignmentStatusPending,
			Version:         1,
			SampleVersion:   cur.SampleVersion,
			RequeueAttempts: cur.RequeueAttempts + 1,
			RequeuePriority: decision.Priority,
			CreatedAt:       now,
		}
		// Re-offer the sample to the labeler who timed out when the policy
		// permits repeat labeling; otherwise the row goes back to the pool.
		if queue.Policy.AllowSameLabeler {
			successor.LabelerID = cur.LabelerID
		}
		if decision.Delay > 0 {
			notBefore := now.Add(decision.Delay)
			successor.NotBefore = &notBefore
		}
		if err := tx.CreateAssignment(ctx, successor); err != nil {
			return err
		}
		return w.Record(ctx, audit.SystemEntry(queue.Tenant, "requeue_assignment", "assignment", successor.ID, now, map[string]string{
			"queue_id":       queue.ID,
			"predecessor_id": cur.ID,
		}))
	})
	if errors.IsStale(err) {
		metrics.StaleWritesTotal.Inc()
		logging.FromContext(ctx).With("assignment-id", a.ID).Debugf("lost reclaim race, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if a.Status != v1alpha1.AssignmentStatusExpired {
		return nil
	}
	c.recorder.AssignmentExpired(ctx, a)
	metrics.AssignmentsTotal.WithLabelValues(string(v1alpha1.AssignmentStatusExpired)).Inc()
	if successor != nil {
		c.recorder.AssignmentRequeued(ctx, a, successor)
		metrics.ReclaimedTotal.WithLabelValues("requeued").Inc()
	} else {
		c.recorder.AssignmentEscalated(ctx, a)
		metrics.ReclaimedTotal.WithLabelValues("escalated").Inc()
	}
	return nil
}

// expireArchived expires every outstanding assignment on an archived queue;
// no requeue, no escalation.
func (c *Controller) expireArchived(ctx context.Context, queue *v1alpha1.Queue, now time.Time) error {
	outstanding, err := c.store.ListAssignments(ctx, queue.Tenant, storage.AssignmentFilter{
		QueueID:  queue.ID,
		Statuses: []v1alpha1.AssignmentStatus{v1alpha1.AssignmentStatusPending, v1alpha1.AssignmentStatusInProgress},
		Limit:    c.batchSize,
	})
	if err != nil {
		return err
	}
	for _, a := range outstanding {
		err := c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
			cur, err := tx.GetAssignment(ctx, queue.Tenant, a.ID)
			if err != nil {
				return err
			}
			if cur.Status.Terminal() {
				return nil
			}
			if err := lifecycle.Expire(c.clock, cur); err != nil {
				return err
			}
			if err := tx.UpdateAssignment(ctx, cur); err != nil {
				return err
			}
			*a = *cur
			return audit.NewWriter(tx).Record(ctx, audit.SystemEntry(queue.Tenant, "expire_assignment", "assignment", cur.ID, now, map[string]string{
				"queue_id": queue.ID,
				"cause":    "queue_archived",
			}))
		})
		if errors.IsStale(err) {
			metrics.StaleWritesTotal.Inc()
			continue
		}
		if err != nil {
			return err
		}
		if a.Status == v1alpha1.AssignmentStatusExpired {
			c.recorder.AssignmentExpired(ctx, a)
			metrics.ReclaimedTotal.WithLabelValues("archived_queue").Inc()
		}
	}
	return nil
}

