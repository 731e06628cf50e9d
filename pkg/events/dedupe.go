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

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/export/manifest"
)

// NewDedupeRecorder suppresses duplicate events within a TTL window. Noisy
// repeat emitters (the breaker, low-agreement recomputes, escalations) pass
// through at most once per window.
func NewDedupeRecorder(r Recorder) Recorder {
	return &dedupe{
		rec:   r,
		cache: cache.New(120*time.Second, 10*time.Second),
	}
}

type dedupe struct {
	rec   Recorder
	cache *cache.Cache
}

func (d *dedupe) shouldEmit(parts interface{}) bool {
	h, err := hashstructure.Hash(parts, hashstructure.FormatV2, nil)
	if err != nil {
		return true
	}
	key := fmt.Sprintf("%x", h)
	if _, found := d.cache.Get(key); found {
		return false
	}
	d.cache.SetDefault(key, struct{}{})
	return true
}

func (d *dedupe) AssignmentCreated(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment) {
	d.rec.AssignmentCreated(ctx, q, a)
}

func (d *dedupe) AssignmentCompleted(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment) {
	d.rec.AssignmentCompleted(ctx, q, a)
}

func (d *dedupe) AssignmentSkipped(ctx context.Context, q *v1alpha1.Queue, a *v1alpha1.Assignment, reason string) {
	d.rec.AssignmentSkipped(ctx, q, a, reason)
}

func (d *dedupe) AssignmentExpired(ctx context.Context, a *v1alpha1.Assignment) {
	if !d.shouldEmit([]string{"expired", a.ID}) {
		return
	}
	d.rec.AssignmentExpired(ctx, a)
}

func (d *dedupe) AssignmentRequeued(ctx context.Context, predecessor, successor *v1alpha1.Assignment) {
	d.rec.AssignmentRequeued(ctx, predecessor, successor)
}

func (d *dedupe) AssignmentEscalated(ctx context.Context, a *v1alpha1.Assignment) {
	if !d.shouldEmit([]string{"escalated", a.ID}) {
		return
	}
	d.rec.AssignmentEscalated(ctx, a)
}

func (d *dedupe) LowAgreement(ctx context.Context, tenant, sampleID, field string, value float64) {
	if !d.shouldEmit([]string{"low-agreement", tenant, sampleID, field}) {
		return
	}
	d.rec.LowAgreement(ctx, tenant, sampleID, field, value)
}

func (d *dedupe) ExportCompleted(ctx context.Context, m *manifest.Manifest) {
	d.rec.ExportCompleted(ctx, m)
}

func (d *dedupe) ProviderBreakerOpen(ctx context.Context, name string) {
	if !d.shouldEmit([]string{"breaker", name}) {
		return
	}
	d.rec.ProviderBreakerOpen(ctx, name)
}

func (d *dedupe) AccessDenied(ctx context.Context, tenant, callerID, action, reason string) {
	d.rec.AccessDenied(ctx, tenant, callerID, action, reason)
}

func (d *dedupe) RetentionSwept(ctx context.Context, tenant string, redacted, deleted int) {
	d.rec.RetentionSwept(ctx, tenant, redacted, deleted)
}
