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

package policy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/policy"
	"github.com/anvil-project/anvil/pkg/test"
)

var _ = Describe("BlocklistValidator", func() {
	var queue *v1alpha1.Queue
	var labeler *v1alpha1.Labeler
	validator := policy.BlocklistValidator{}

	BeforeEach(func() {
		queue = test.Queue()
		labeler = test.Labeler()
	})

	It("should reject a blocklisted labeler", func() {
		labeler.BlocklistedQueues = []string{queue.ID}
		err := validator.Validate(ctx, store, queue, labeler, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonBlocked))
	})
	It("should reject a labeler without a membership on a private queue", func() {
		err := validator.Validate(ctx, store, queue, labeler, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonBlocked))
	})
	It("should admit a labeler with an active membership", func() {
		Expect(store.PutQueueMembership(ctx, test.Membership(test.MembershipOptions{
			QueueID:   queue.ID,
			LabelerID: labeler.ID,
		}))).To(Succeed())
		Expect(validator.Validate(ctx, store, queue, labeler, now)).To(Succeed())
	})
	It("should reject a revoked membership", func() {
		revoked := now.Add(-time.Hour)
		Expect(store.PutQueueMembership(ctx, test.Membership(test.MembershipOptions{
			QueueID:   queue.ID,
			LabelerID: labeler.ID,
			RevokedAt: &revoked,
		}))).To(Succeed())
		err := validator.Validate(ctx, store, queue, labeler, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonBlocked))
	})
	It("should admit any tenant labeler on a public queue", func() {
		queue.AccessMode = v1alpha1.QueueAccessPublic
		Expect(validator.Validate(ctx, store, queue, labeler, now)).To(Succeed())
	})
	It("should still reject a blocklisted labeler on a public queue", func() {
		queue.AccessMode = v1alpha1.QueueAccessPublic
		labeler.BlocklistedQueues = []string{queue.ID}
		err := validator.Validate(ctx, store, queue, labeler, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonBlocked))
	})
})

var _ = Describe("MaxConcurrentValidator", func() {
	validator := policy.MaxConcurrentValidator{}

	It("should admit a labeler with no budget configured", func() {
		Expect(validator.Validate(ctx, store, test.Queue(), test.Labeler(), now)).To(Succeed())
	})
	It("should reject a labeler at their in-progress budget", func() {
		queue := test.Queue()
		labeler := test.Labeler()
		labeler.MaxConcurrentAssignments = 1
		Expect(store.CreateAssignment(ctx, test.Assignment(test.AssignmentOptions{
			QueueID:   queue.ID,
			LabelerID: labeler.ID,
			Status:    v1alpha1.AssignmentStatusInProgress,
		}))).To(Succeed())
		err := validator.Validate(ctx, store, queue, labeler, now)
		Expect(errors.ForbiddenReason(err)).To(Equal(errors.ReasonMaxConcurrentExceeded))
	})
})

var _ = Describe("OnTimeout", func() {
	It("should requeue within the budget with the configured delay", func() {
		pol := policy.ForQueue(v1alpha1.PolicySpec{
			Selector:            v1alpha1.SelectorRoundRobin,
			Requeue:             v1alpha1.RequeueKindRequeue,
			MaxRequeueAttempts:  2,
			RequeueDelaySeconds: 60,
		})
		decision := pol.OnTimeout(test.Assignment(test.AssignmentOptions{RequeueAttempts: 1}))
		Expect(decision.Requeue).To(BeTrue())
		Expect(decision.Delay).To(Equal(time.Minute))
	})
	It("should stop requeueing once the budget is spent", func() {
		pol := policy.ForQueue(v1alpha1.PolicySpec{
			Requeue:            v1alpha1.RequeueKindRequeue,
			MaxRequeueAttempts: 2,
		})
		decision := pol.OnTimeout(test.Assignment(test.AssignmentOptions{RequeueAttempts: 2}))
		Expect(decision.Requeue).To(BeFalse())
	})
	It("should never requeue under the archive rule", func() {
		pol := policy.ForQueue(v1alpha1.PolicySpec{Requeue: v1alpha1.RequeueKindArchive})
		decision := pol.OnTimeout(test.Assignment())
		Expect(decision.Requeue).To(BeFalse())
	})
})
