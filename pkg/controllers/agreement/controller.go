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

// Package agreement recomputes the inter-rater agreement cache from stored
// labels. The cache rows are derived data: the recompute overwrites them
// idempotently, so losing the cache loses nothing.
package agreement

import (
	"context"
	"time"

	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/agreement"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/events"
	"github.com/anvil-project/anvil/pkg/metrics"
	"github.com/anvil-project/anvil/pkg/storage"
)

const (
	DefaultInterval = 15 * time.Minute
	// DefaultLowThreshold is the agreement value below which per-sample
	// low-score events fire.
	DefaultLowThreshold = 0.4
)

type Controller struct {
	store        storage.Store
	recorder     events.Recorder
	accum        *agreement.Accumulator
	clock        clock.Clock
	interval     time.Duration
	lowThreshold float64
}

// NewController builds the batch recompute. accum is the coordinator's online
// tally; recomputed samples are reset there so the tally never drifts from
// storage. A nil accum disables the reset.
func NewController(store storage.Store, recorder events.Recorder, accum *agreement.Accumulator, clk clock.Clock, interval time.Duration, lowThreshold float64) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lowThreshold <= 0 {
		lowThreshold = DefaultLowThreshold
	}
	return &Controller{store: store, recorder: recorder, accum: accum, clock: clk, interval: interval, lowThreshold: lowThreshold}
}

func (c *Controller) Name() string            { return "agreement" }
func (c *Controller) Interval() time.Duration { return c.interval }

func (c *Controller) Reconcile(ctx context.Context) error {
	tenants, err := c.store.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		queues, err := c.store.ListQueues(ctx, tenant)
		if err != nil {
			return err
		}
		for _, q := range queues {
			if err := c.recomputeQueue(ctx, q); err != nil {
				logging.FromContext(ctx).With("queue-id", q.ID).Errorf("recomputing agreement, %s", err)
			}
		}
	}
	return nil
}

// recomputeQueue rebuilds every agreement row for one queue against its
// current schema version.
func (c *Controller) recomputeQueue(ctx context.Context, queue *v1alpha1.Queue) error {
	sv, err := c.store.GetSchemaVersion(ctx, queue.Tenant, queue.SchemaVersionID)
	if err != nil {
		return err
	}
	labels, err := c.store.ListLabels(ctx, queue.Tenant, storage.LabelFilter{QueueID: queue.ID})
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return nil
	}
	now := c.clock.Now()
	ratings := agreement.BuildRatings(sv.Definition, labels)
	for _, field := range sv.Definition.FieldNames() {
		result, err := agreement.ComputeField(ratings[field])
		if errors.IsInsufficientLabels(err) {
			continue
		}
		if err != nil {
			return err
		}
		metrics.AgreementComputations.WithLabelValues(string(result.Metric)).Inc()
		if err := c.store.PutAgreementMetric(ctx, &v1alpha1.AgreementMetric{
			Tenant:          queue.Tenant,
			QueueID:         queue.ID,
			Dimension:       field,
			SchemaVersionID: sv.ID,
			Metric:          result.Metric,
			Value:           result.Value,
			Band:            result.Band,
			Flagged:         result.Flagged,
			NRaters:         result.NRaters,
			NLabels:         result.NLabels,
			ComputedAt:      now,
		}); err != nil {
			return err
		}
		for sampleID, observed := range result.PerSample {
			if err := c.store.PutAgreementMetric(ctx, &v1alpha1.AgreementMetric{
				Tenant:          queue.Tenant,
				QueueID:         queue.ID,
				SampleID:        sampleID,
				Dimension:       field,
				SchemaVersionID: sv.ID,
				Metric:          v1alpha1.MetricPercent,
				Value:           observed,
				Band:            agreement.Band(observed),
				NRaters:         result.NRaters,
				NLabels:         result.NLabels,
				ComputedAt:      now,
			}); err != nil {
				return err
			}
			if observed < c.lowThreshold {
				c.recorder.LowAgreement(ctx, queue.Tenant, sampleID, field, observed)
			}
		}
	}
	if c.accum != nil {
		for _, l := range labels {
			c.accum.Reset(l.SampleID)
		}
	}
	return nil
}
