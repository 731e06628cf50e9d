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

// Package acl gates core operations on tenant boundaries and queue
// membership roles. Every check resolves the caller's active memberships at
// call time; revoked or expired grants carry no capability.
package acl

import (
	"context"
	"time"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

// Action is a capability the caller requests on a queue.
type Action string

const (
	// ActionLabel covers requesting assignments, submitting, and skipping.
	ActionLabel Action = "label"
	// ActionReview covers reading all labels and exporting.
	ActionReview Action = "review"
	// ActionManage covers membership management and archiving the queue.
	ActionManage Action = "manage"
)

// requiredRoles maps each action to the membership roles that grant it.
var requiredRoles = map[Action][]v1alpha1.MembershipRole{
	ActionLabel:  {v1alpha1.MembershipRoleLabeler, v1alpha1.MembershipRoleReviewer, v1alpha1.MembershipRoleOwner},
	ActionReview: {v1alpha1.MembershipRoleReviewer, v1alpha1.MembershipRoleOwner},
	ActionManage: {v1alpha1.MembershipRoleOwner},
}

// Authorize verifies the caller may perform the action on the queue. The
// tenant gate runs first: a cross-tenant call fails with tenant_mismatch
// before any membership is resolved, except for platform admins. Public
// queues grant the label action to any active labeler in the tenant.
func Authorize(ctx context.Context, store storage.Store, queue *v1alpha1.Queue, caller *v1alpha1.Labeler, action Action, now time.Time) error {
	if caller.Tenant != queue.Tenant {
		if caller.Role == v1alpha1.RoleAdmin {
			return nil
		}
		return errors.NewForbidden(errors.ReasonTenantMismatch)
	}
	if caller.Status != v1alpha1.LabelerStatusActive {
		return errors.NewForbidden(errors.ReasonBlocked)
	}
	if caller.Role == v1alpha1.RoleAdmin {
		return nil
	}
	if action == ActionLabel && queue.AccessMode == v1alpha1.QueueAccessPublic {
		return nil
	}
	memberships, err := store.ListQueueMemberships(ctx, caller.Tenant, caller.ID)
	if err != nil {
		return err
	}
	var active *v1alpha1.QueueMembership
	for _, m := range memberships {
		if m.QueueID == queue.ID && m.Active(now) {
			active = m
			break
		}
	}
	if active == nil {
		return errors.NewForbidden(errors.ReasonNotMember)
	}
	for _, role := range requiredRoles[action] {
		if active.Role == role {
			return nil
		}
	}
	return errors.NewForbidden(errors.ReasonRole)
}
