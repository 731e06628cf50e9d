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

	"github.com/anvil-project/anvil/pkg/acl"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

// GetAssignment returns one assignment. The assignee always sees their own
// rows; anyone else needs the review capability on the queue. Cross-tenant
// rows never leak: the tenant scopes the lookup itself.
func (c *Coordinator) GetAssignment(ctx context.Context, tenant, assignmentID, callerID string) (*v1alpha1.Assignment, error) {
	a, err := c.store.GetAssignment(ctx, tenant, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.LabelerID == callerID {
		return a, nil
	}
	if _, _, err := c.reviewGate(ctx, tenant, a.QueueID, callerID); err != nil {
		return nil, err
	}
	return a, nil
}

// ListMyAssignments returns the caller's own assignments on the queue.
func (c *Coordinator) ListMyAssignments(ctx context.Context, tenant, queueID, callerID string, statuses []v1alpha1.AssignmentStatus) ([]*v1alpha1.Assignment, error) {
	if _, err := c.store.GetQueue(ctx, tenant, queueID); err != nil {
		return nil, err
	}
	return c.store.ListAssignments(ctx, tenant, storage.AssignmentFilter{
		QueueID:   queueID,
		LabelerID: callerID,
		Statuses:  statuses,
	})
}

// ListQueueAssignments returns every assignment on the queue for reviewers.
func (c *Coordinator) ListQueueAssignments(ctx context.Context, tenant, queueID, callerID string, f storage.AssignmentFilter) ([]*v1alpha1.Assignment, error) {
	queue, _, err := c.reviewGate(ctx, tenant, queueID, callerID)
	if err != nil {
		return nil, err
	}
	f.QueueID = queue.ID
	return c.store.ListAssignments(ctx, tenant, f)
}

// ListQueueLabels returns submitted labels on the queue for reviewers, in the
// deterministic storage order.
func (c *Coordinator) ListQueueLabels(ctx context.Context, tenant, queueID, callerID string, f storage.LabelFilter) ([]*v1alpha1.Label, error) {
	queue, _, err := c.reviewGate(ctx, tenant, queueID, callerID)
	if err != nil {
		return nil, err
	}
	f.QueueID = queue.ID
	return c.store.ListLabels(ctx, tenant, f)
}

// AgreementReport returns the cached agreement metrics for the queue.
func (c *Coordinator) AgreementReport(ctx context.Context, tenant, queueID, callerID string) ([]*v1alpha1.AgreementMetric, error) {
	queue, _, err := c.reviewGate(ctx, tenant, queueID, callerID)
	if err != nil {
		return nil, err
	}
	return c.store.ListAgreementMetrics(ctx, tenant, storage.AgreementMetricFilter{QueueID: queue.ID})
}

// EscalatedAssignments returns expired assignments flagged for manual review.
func (c *Coordinator) EscalatedAssignments(ctx context.Context, tenant, queueID, callerID string) ([]*v1alpha1.Assignment, error) {
	queue, _, err := c.reviewGate(ctx, tenant, queueID, callerID)
	if err != nil {
		return nil, err
	}
	expired, err := c.store.ListAssignments(ctx, tenant, storage.AssignmentFilter{
		QueueID:  queue.ID,
		Statuses: []v1alpha1.AssignmentStatus{v1alpha1.AssignmentStatusExpired},
	})
	if err != nil {
		return nil, err
	}
	escalated := make([]*v1alpha1.Assignment, 0, len(expired))
	for _, a := range expired {
		if a.Escalated {
			escalated = append(escalated, a)
		}
	}
	return escalated, nil
}

func (c *Coordinator) reviewGate(ctx context.Context, tenant, queueID, callerID string) (*v1alpha1.Queue, *v1alpha1.Labeler, error) {
	queue, err := c.store.GetQueue(ctx, tenant, queueID)
	if err != nil {
		return nil, nil, err
	}
	caller, err := c.store.FindLabeler(ctx, callerID)
	if err != nil {
		return nil, nil, err
	}
	now := c.clock.Now()
	if err := acl.Authorize(ctx, c.store, queue, caller, acl.ActionReview, now); err != nil {
		if errors.IsForbidden(err) {
			c.denied(ctx, tenant, callerID, "review", "queue", queue.ID, err, now)
		}
		return nil, nil, err
	}
	return queue, caller, nil
}
