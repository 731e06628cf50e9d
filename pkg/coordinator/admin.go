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
	"fmt"

	"github.com/google/uuid"

	"github.com/anvil-project/anvil/pkg/acl"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/audit"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/schema"
	"github.com/anvil-project/anvil/pkg/storage"
)

// CreateQueue inserts a new queue with its first schema version and grants
// the creator the owner membership, all in one transaction. The caller must
// be a tenant admin or hold the owner labeler role.
func (c *Coordinator) CreateQueue(ctx context.Context, tenant, callerID string, q *v1alpha1.Queue, def v1alpha1.SchemaDefinition) (*v1alpha1.Queue, error) {
	caller, err := c.store.FindLabeler(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if caller.Tenant != tenant && caller.Role != v1alpha1.RoleAdmin {
		err := errors.NewForbidden(errors.ReasonTenantMismatch)
		c.denied(ctx, tenant, callerID, "create_queue", "queue", q.Name, err, c.clock.Now())
		return nil, err
	}
	if caller.Role != v1alpha1.RoleAdmin && caller.Role != v1alpha1.RoleOwner {
		err := errors.NewForbidden(errors.ReasonRole)
		c.denied(ctx, tenant, callerID, "create_queue", "queue", q.Name, err, c.clock.Now())
		return nil, err
	}
	now := c.clock.Now()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.Tenant = tenant
	q.Status = v1alpha1.QueueStatusActive
	q.CreatedAt = now
	if q.LabelsPerSample <= 0 {
		q.LabelsPerSample = 1
	}
	if q.Policy.Selector == "" {
		q.Policy.Selector = v1alpha1.SelectorRoundRobin
	}
	sv := &v1alpha1.SchemaVersion{
		ID:            uuid.NewString(),
		Tenant:        tenant,
		QueueID:       q.ID,
		VersionNumber: 1,
		Definition:    def,
		CreatedAt:     now,
	}
	q.SchemaVersionID = sv.ID
	err = c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.PutQueue(ctx, q); err != nil {
			return err
		}
		if err := tx.PutSchemaVersion(ctx, sv); err != nil {
			return err
		}
		if err := tx.PutQueueMembership(ctx, &v1alpha1.QueueMembership{
			QueueID:   q.ID,
			Tenant:    tenant,
			LabelerID: caller.ID,
			Role:      v1alpha1.MembershipRoleOwner,
			GrantedAt: now,
			GrantedBy: caller.ID,
		}); err != nil {
			return err
		}
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, "create_queue", "queue", q.ID, now, map[string]string{
			"name": q.Name,
		}))
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// CreateSchemaVersion appends the next schema version for the queue and
// points the queue at it. A transform, when supplied, must be invertible;
// the previous version stays readable for exports pinned to it.
func (c *Coordinator) CreateSchemaVersion(ctx context.Context, tenant, queueID, callerID string, def v1alpha1.SchemaDefinition, transform *v1alpha1.TransformSpec) (*v1alpha1.SchemaVersion, error) {
	queue, caller, err := c.manageGate(ctx, tenant, queueID, callerID, "create_schema_version")
	if err != nil {
		return nil, err
	}
	if transform != nil {
		if err := schema.CheckInvertible(*transform); err != nil {
			return nil, fmt.Errorf("checking transform invertibility, %w", err)
		}
	}
	existing, err := c.store.ListSchemaVersions(ctx, tenant, queue.ID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	sv := &v1alpha1.SchemaVersion{
		ID:                    uuid.NewString(),
		Tenant:                tenant,
		QueueID:               queue.ID,
		VersionNumber:         len(existing) + 1,
		Definition:            def,
		TransformFromPrevious: transform,
		CreatedAt:             now,
	}
	err = c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.PutSchemaVersion(ctx, sv); err != nil {
			return err
		}
		queue.SchemaVersionID = sv.ID
		if err := tx.PutQueue(ctx, queue); err != nil {
			return err
		}
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, "create_schema_version", "schema_version", sv.ID, now, map[string]string{
			"queue_id":       queue.ID,
			"version_number": fmt.Sprintf("%d", sv.VersionNumber),
		}))
	})
	if err != nil {
		return nil, err
	}
	return sv, nil
}

// PauseQueue stops dispatch without disturbing outstanding assignments.
func (c *Coordinator) PauseQueue(ctx context.Context, tenant, queueID, callerID string) error {
	return c.setQueueStatus(ctx, tenant, queueID, callerID, v1alpha1.QueueStatusPaused, "pause_queue")
}

// ResumeQueue re-enables dispatch on a paused queue. Archived queues cannot
// resume.
func (c *Coordinator) ResumeQueue(ctx context.Context, tenant, queueID, callerID string) error {
	return c.setQueueStatus(ctx, tenant, queueID, callerID, v1alpha1.QueueStatusActive, "resume_queue")
}

// ArchiveQueue retires the queue permanently. Outstanding assignments expire
// on the reclaimer's next sweep.
func (c *Coordinator) ArchiveQueue(ctx context.Context, tenant, queueID, callerID string) error {
	return c.setQueueStatus(ctx, tenant, queueID, callerID, v1alpha1.QueueStatusArchived, "archive_queue")
}

func (c *Coordinator) setQueueStatus(ctx context.Context, tenant, queueID, callerID string, status v1alpha1.QueueStatus, action string) error {
	queue, caller, err := c.manageGate(ctx, tenant, queueID, callerID, action)
	if err != nil {
		return err
	}
	if queue.Status == v1alpha1.QueueStatusArchived {
		return fmt.Errorf("queue %q is archived", queue.ID)
	}
	now := c.clock.Now()
	queue.Status = status
	if status == v1alpha1.QueueStatusArchived {
		queue.ArchivedAt = &now
	}
	return c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.PutQueue(ctx, queue); err != nil {
			return err
		}
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, action, "queue", queue.ID, now, nil))
	})
}

// GrantMembership grants or updates a labeler's role on the queue.
func (c *Coordinator) GrantMembership(ctx context.Context, tenant, queueID, callerID, labelerID string, role v1alpha1.MembershipRole) error {
	queue, caller, err := c.manageGate(ctx, tenant, queueID, callerID, "grant_membership")
	if err != nil {
		return err
	}
	if _, err := c.store.GetLabeler(ctx, tenant, labelerID); err != nil {
		return err
	}
	now := c.clock.Now()
	return c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.PutQueueMembership(ctx, &v1alpha1.QueueMembership{
			QueueID:   queue.ID,
			Tenant:    tenant,
			LabelerID: labelerID,
			Role:      role,
			GrantedAt: now,
			GrantedBy: caller.ID,
		}); err != nil {
			return err
		}
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, "grant_membership", "queue_membership", queue.ID+"/"+labelerID, now, map[string]string{
			"role": string(role),
		}))
	})
}

// RevokeMembership revokes a labeler's grant; revoked memberships carry no
// capability from the revocation instant.
func (c *Coordinator) RevokeMembership(ctx context.Context, tenant, queueID, callerID, labelerID string) error {
	queue, caller, err := c.manageGate(ctx, tenant, queueID, callerID, "revoke_membership")
	if err != nil {
		return err
	}
	memberships, err := c.store.ListQueueMemberships(ctx, tenant, labelerID)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	return c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		for _, m := range memberships {
			if m.QueueID != queue.ID || m.RevokedAt != nil {
				continue
			}
			m.RevokedAt = &now
			if err := tx.PutQueueMembership(ctx, m); err != nil {
				return err
			}
		}
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, "revoke_membership", "queue_membership", queue.ID+"/"+labelerID, now, nil))
	})
}

// RegisterLabeler creates the tenant-scoped identity for an external id and
// derives its stable pseudonym. The (tenant, external_id) pair is unique.
func (c *Coordinator) RegisterLabeler(ctx context.Context, tenant, externalID string, role v1alpha1.LabelerRole) (*v1alpha1.Labeler, error) {
	now := c.clock.Now()
	l := &v1alpha1.Labeler{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		ExternalID: externalID,
		Pseudonym:  c.pseudo.Pseudonym(tenant, externalID),
		Role:       role,
		Status:     v1alpha1.LabelerStatusActive,
		CreatedAt:  now,
	}
	err := c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.PutLabeler(ctx, l); err != nil {
			return err
		}
		return audit.NewWriter(tx).Record(ctx, audit.SystemEntry(tenant, "register_labeler", "labeler", l.ID, now, map[string]string{
			"role": string(role),
		}))
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// RegisterSample stores a sample reference for dispatch on the queue.
func (c *Coordinator) RegisterSample(ctx context.Context, tenant, queueID, callerID string, ref *v1alpha1.SampleRef) error {
	queue, caller, err := c.manageGate(ctx, tenant, queueID, callerID, "register_sample")
	if err != nil {
		return err
	}
	now := c.clock.Now()
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	ref.Tenant = tenant
	ref.QueueID = queue.ID
	ref.CreatedAt = now
	return c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.PutSampleRef(ctx, ref); err != nil {
			return err
		}
		return audit.NewWriter(tx).Record(ctx, audit.Entry(tenant, caller.ID, "register_sample", "sample", ref.ID, now, map[string]string{
			"queue_id": queue.ID,
		}))
	})
}

// manageGate loads the queue and caller and requires the manage capability.
func (c *Coordinator) manageGate(ctx context.Context, tenant, queueID, callerID, action string) (*v1alpha1.Queue, *v1alpha1.Labeler, error) {
	queue, err := c.store.GetQueue(ctx, tenant, queueID)
	if err != nil {
		return nil, nil, err
	}
	caller, err := c.store.FindLabeler(ctx, callerID)
	if err != nil {
		return nil, nil, err
	}
	now := c.clock.Now()
	if err := acl.Authorize(ctx, c.store, queue, caller, acl.ActionManage, now); err != nil {
		c.denied(ctx, tenant, callerID, action, "queue", queue.ID, err, now)
		return nil, nil, err
	}
	return queue, caller, nil
}
