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

package acl_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/acl"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage/inmemory"
	"github.com/anvil-project/anvil/pkg/test"
)

var _ = Describe("Authorize", func() {
	var store *inmemory.Store
	var queue *v1alpha1.Queue
	var caller *v1alpha1.Labeler
	var now time.Time

	BeforeEach(func() {
		store = inmemory.NewStore()
		queue = test.Queue()
		caller = test.Labeler()
		now = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	})

	grant := func(role v1alpha1.MembershipRole, opts ...test.MembershipOptions) {
		o := test.MembershipOptions{QueueID: queue.ID, LabelerID: caller.ID, Role: role}
		if len(opts) > 0 {
			if opts[0].ExpiresAt != nil {
				o.ExpiresAt = opts[0].ExpiresAt
			}
			if opts[0].RevokedAt != nil {
				o.RevokedAt = opts[0].RevokedAt
			}
		}
		Expect(store.PutQueueMembership(ctx, test.Membership(o))).To(Succeed())
	}

	It("should refuse a cross-tenant caller before resolving memberships", func() {
		caller.Tenant = "tenant-b"
		err := acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonTenantMismatch))
	})
	It("should let a platform admin cross tenants", func() {
		caller.Tenant = "tenant-b"
		caller.Role = v1alpha1.RoleAdmin
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionManage, now)).To(Succeed())
	})
	It("should refuse a suspended caller", func() {
		caller.Status = v1alpha1.LabelerStatusSuspended
		grant(v1alpha1.MembershipRoleOwner)
		err := acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonBlocked))
	})
	It("should let a same-tenant admin do anything without a membership", func() {
		caller.Role = v1alpha1.RoleAdmin
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionManage, now)).To(Succeed())
	})
	It("should grant label on a public queue without a membership", func() {
		queue.AccessMode = v1alpha1.QueueAccessPublic
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)).To(Succeed())
		err := acl.Authorize(ctx, store, queue, caller, acl.ActionReview, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonNotMember))
	})
	It("should refuse a caller without a membership", func() {
		err := acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonNotMember))
	})
	It("should map membership roles to capabilities", func() {
		grant(v1alpha1.MembershipRoleLabeler)
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)).To(Succeed())
		Expect(errors.ForbiddenReason(acl.Authorize(ctx, store, queue, caller, acl.ActionReview, now))).To(Equal(errors.ReasonRole))
		Expect(errors.ForbiddenReason(acl.Authorize(ctx, store, queue, caller, acl.ActionManage, now))).To(Equal(errors.ReasonRole))

		grant(v1alpha1.MembershipRoleReviewer)
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)).To(Succeed())
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionReview, now)).To(Succeed())
		Expect(errors.ForbiddenReason(acl.Authorize(ctx, store, queue, caller, acl.ActionManage, now))).To(Equal(errors.ReasonRole))

		grant(v1alpha1.MembershipRoleOwner)
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)).To(Succeed())
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionReview, now)).To(Succeed())
		Expect(acl.Authorize(ctx, store, queue, caller, acl.ActionManage, now)).To(Succeed())
	})
	It("should treat a revoked membership as absent", func() {
		revoked := now.Add(-time.Minute)
		grant(v1alpha1.MembershipRoleOwner, test.MembershipOptions{RevokedAt: &revoked})
		err := acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonNotMember))
	})
	It("should treat an expired membership as absent", func() {
		expired := now.Add(-time.Minute)
		grant(v1alpha1.MembershipRoleOwner, test.MembershipOptions{ExpiresAt: &expired})
		err := acl.Authorize(ctx, store, queue, caller, acl.ActionLabel, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonNotMember))
	})
})
