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

// Package lifecycle implements the assignment state machine. Each transition
// validates the current status, applies its effects, and bumps the optimistic
// version counter; persisting the result through the storage port's
// compare-and-swap makes the transition atomic. Any edge outside the allowed
// set fails with an invalid-transition error.
//
//	pending -> in_progress -> {completed | skipped | expired}
//	pending -> {skipped | expired}
package lifecycle

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
)

// Reserve moves a pending assignment to in_progress: sets the reservation
// time and deadline, and counts the attempt. The caller must be the assigned
// labeler; ownership is checked by the coordinator, not here.
func Reserve(clk clock.Clock, a *v1alpha1.Assignment, timeout time.Duration) error {
	if a.Status != v1alpha1.AssignmentStatusPending {
		return errors.NewInvalidTransition(string(a.Status), string(v1alpha1.AssignmentStatusInProgress))
	}
	now := clk.Now()
	deadline := now.Add(timeout)
	a.Status = v1alpha1.AssignmentStatusInProgress
	a.ReservedAt = &now
	a.Deadline = &deadline
	a.Attempts++
	a.Version++
	return nil
}

// Complete moves an in_progress assignment to completed and records the
// label written for it. The payload has already validated against the
// queue's schema.
func Complete(clk clock.Clock, a *v1alpha1.Assignment, labelID string) error {
	if a.Status != v1alpha1.AssignmentStatusInProgress {
		return errors.NewInvalidTransition(string(a.Status), string(v1alpha1.AssignmentStatusCompleted))
	}
	now := clk.Now()
	a.Status = v1alpha1.AssignmentStatusCompleted
	a.CompletedAt = &now
	a.LabelID = labelID
	a.Deadline = nil
	a.Version++
	return nil
}

// Skip moves a pending or in_progress assignment to skipped.
func Skip(clk clock.Clock, a *v1alpha1.Assignment, reason string) error {
	switch a.Status {
	case v1alpha1.AssignmentStatusPending, v1alpha1.AssignmentStatusInProgress:
	default:
		return errors.NewInvalidTransition(string(a.Status), string(v1alpha1.AssignmentStatusSkipped))
	}
	now := clk.Now()
	a.Status = v1alpha1.AssignmentStatusSkipped
	a.SkippedAt = &now
	a.SkipReason = reason
	a.Deadline = nil
	a.Version++
	return nil
}

// Expire moves a pending or in_progress assignment to expired. The sweeper
// calls this for overdue reservations and for assignments whose queue was
// archived.
func Expire(clk clock.Clock, a *v1alpha1.Assignment) error {
	switch a.Status {
	case v1alpha1.AssignmentStatusPending, v1alpha1.AssignmentStatusInProgress:
	default:
		return errors.NewInvalidTransition(string(a.Status), string(v1alpha1.AssignmentStatusExpired))
	}
	now := clk.Now()
	a.Status = v1alpha1.AssignmentStatusExpired
	a.ExpiredAt = &now
	a.Deadline = nil
	a.Version++
	return nil
}
