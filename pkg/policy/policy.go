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

// Package policy implements the pluggable selection policies that decide
// which sample a labeler receives next. A policy is a triple of validators
// (may this labeler receive work at all), a selector (which sample), and a
// requeue rule (what happens when a reservation times out). Selection is
// deterministic for round-robin and redundancy; only the random selector and
// weighted tie-breaks draw from the seeded source.
package policy

import (
	"context"
	"time"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

// Validator rejects a labeler before selection runs.
type Validator interface {
	// Validate returns a forbidden error naming the reason, or nil.
	Validate(ctx context.Context, store storage.Store, queue *v1alpha1.Queue, labeler *v1alpha1.Labeler, now time.Time) error
}

// Selector picks one sample from the eligible set. Implementations return
// no_available_work when the set is empty after their own restrictions.
type Selector interface {
	Select(ctx context.Context, labeler *v1alpha1.Labeler, eligible []*storage.EligibleSample) (*storage.EligibleSample, error)
}

// RequeueDecision is the outcome of consulting the requeue rule for one
// expired assignment.
type RequeueDecision struct {
	// Requeue creates a successor pending assignment when true; otherwise
	// the assignment is archived and escalated.
	Requeue  bool
	Priority int
	// Delay postpones selection of the successor.
	Delay time.Duration
}

// BlocklistValidator rejects labelers blocklisted from the queue or without
// an active membership.
type BlocklistValidator struct{}

func (BlocklistValidator) Validate(ctx context.Context, store storage.Store, queue *v1alpha1.Queue, labeler *v1alpha1.Labeler, now time.Time) error {
	if labeler.Blocklisted(queue.ID) {
		return errors.NewForbidden(errors.ReasonBlocked)
	}
	memberships, err := store.ListQueueMemberships(ctx, labeler.Tenant, labeler.ID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		if m.QueueID == queue.ID && m.Active(now) {
			return nil
		}
	}
	// Public queues admit any labeler in the tenant without an explicit
	// membership.
	if queue.AccessMode == v1alpha1.QueueAccessPublic {
		return nil
	}
	return errors.NewForbidden(errors.ReasonBlocked)
}

// MaxConcurrentValidator rejects labelers at or above their in-progress
// reservation budget across the tenant.
type MaxConcurrentValidator struct{}

func (MaxConcurrentValidator) Validate(ctx context.Context, store storage.Store, queue *v1alpha1.Queue, labeler *v1alpha1.Labeler, now time.Time) error {
	if labeler.MaxConcurrentAssignments <= 0 {
		return nil
	}
	count, err := store.CountAssignments(ctx, labeler.Tenant, storage.AssignmentFilter{
		LabelerID: labeler.ID,
		Statuses:  []v1alpha1.AssignmentStatus{v1alpha1.AssignmentStatusInProgress},
	})
	if err != nil {
		return err
	}
	if count >= labeler.MaxConcurrentAssignments {
		return errors.NewForbidden(errors.ReasonMaxConcurrentExceeded)
	}
	return nil
}

// Composed chains the validators, runs the configured selector, and exposes
// the requeue rule. It is the policy the coordinator and the reclaimer use.
type Composed struct {
	Validators []Validator
	Selector   Selector
	Spec       v1alpha1.PolicySpec
}

// ForQueue builds the composed policy for a queue's policy spec.
func ForQueue(spec v1alpha1.PolicySpec) *Composed {
	return &Composed{
		Validators: []Validator{BlocklistValidator{}, MaxConcurrentValidator{}},
		Selector:   selectorFor(spec),
		Spec:       spec,
	}
}

func selectorFor(spec v1alpha1.PolicySpec) Selector {
	switch spec.Selector {
	case v1alpha1.SelectorRandom:
		return NewRandom(spec.Seed)
	case v1alpha1.SelectorWeightedExpertise:
		return NewWeightedExpertise(spec.Seed)
	case v1alpha1.SelectorRedundancy:
		return &Redundancy{AllowSameLabeler: spec.AllowSameLabeler}
	default:
		return RoundRobin{}
	}
}

// Validate runs the validator chain in order, surfacing the first rejection.
func (c *Composed) Validate(ctx context.Context, store storage.Store, queue *v1alpha1.Queue, labeler *v1alpha1.Labeler, now time.Time) error {
	for _, v := range c.Validators {
		if err := v.Validate(ctx, store, queue, labeler, now); err != nil {
			return err
		}
	}
	return nil
}

// Select delegates to the configured selector.
func (c *Composed) Select(ctx context.Context, labeler *v1alpha1.Labeler, eligible []*storage.EligibleSample) (*storage.EligibleSample, error) {
	if len(eligible) == 0 {
		return nil, errors.ErrNoAvailableWork
	}
	return c.Selector.Select(ctx, labeler, eligible)
}

// OnTimeout consults the requeue rule for an expired assignment. The requeue
// budget is per assignment chain: once the successor would exceed
// max_requeue_attempts, the chain archives and escalates.
func (c *Composed) OnTimeout(a *v1alpha1.Assignment) RequeueDecision {
	switch c.Spec.Requeue {
	case v1alpha1.RequeueKindRequeue, v1alpha1.RequeueKindRequeueWithPriority:
		if a.RequeueAttempts >= c.Spec.MaxRequeueAttempts {
			return RequeueDecision{Requeue: false}
		}
		return RequeueDecision{
			Requeue:  true,
			Priority: c.Spec.RequeuePriority,
			Delay:    time.Duration(c.Spec.RequeueDelaySeconds) * time.Second,
		}
	default:
		return RequeueDecision{Requeue: false}
	}
}
