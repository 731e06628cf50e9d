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

// Package controllers hosts the background jobs: each is a polling controller
// reconciled on a fixed cadence with jitter. Reconcile errors are logged and
// the loop continues; only context cancellation stops a controller.
package controllers

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"
)

// jitterFraction spreads reconciles so multiple processes do not sweep in
// lockstep.
const jitterFraction = 0.1

// Controller is one polling background job.
type Controller interface {
	Name() string
	Interval() time.Duration
	Reconcile(ctx context.Context) error
}

// Runner drives a set of controllers until context cancellation.
type Runner struct {
	clock       clock.Clock
	controllers []Controller
}

func NewRunner(clk clock.Clock, controllers ...Controller) *Runner {
	return &Runner{clock: clk, controllers: controllers}
}

// Start blocks until the context is cancelled, running each controller's
// reconcile loop in its own goroutine.
func (r *Runner) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, c := range r.controllers {
		c := c
		group.Go(func() error {
			r.run(ctx, c)
			return nil
		})
	}
	return group.Wait()
}

func (r *Runner) run(ctx context.Context, c Controller) {
	logger := logging.FromContext(ctx).With("controller", c.Name())
	logger.Infof("starting controller")
	for {
		timer := r.clock.NewTimer(withJitter(c.Interval()))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("stopping controller")
			return
		case <-timer.C():
		}
		if err := c.Reconcile(ctx); err != nil {
			logger.Errorf("reconciling, %s", err)
		}
	}
}

func withJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return interval
	}
	span := float64(interval) * jitterFraction
	return interval + time.Duration(rand.Float64()*span)
}
