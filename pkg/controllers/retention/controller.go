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

// Package retention enforces field-level expiry on stored label payloads.
// A field past its retention window gets its declared redaction policy
// applied in place; audit rows older than the audit retention window are
// deleted.
package retention

import (
	"context"
	"regexp"
	"time"

	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/audit"
	"github.com/anvil-project/anvil/pkg/events"
	"github.com/anvil-project/anvil/pkg/redaction"
	"github.com/anvil-project/anvil/pkg/storage"
)

const (
	DefaultInterval = 24 * time.Hour
	// DefaultAuditRetention keeps audit rows for two years.
	DefaultAuditRetention = 2 * 365 * 24 * time.Hour
)

// hexDigest matches a full SHA-256 rendering; hash-policy fields that already
// hold one are not re-hashed, keeping the sweep idempotent.
var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

type Controller struct {
	store          storage.Store
	recorder       events.Recorder
	redactor       *redaction.Redactor
	clock          clock.Clock
	interval       time.Duration
	auditRetention time.Duration
}

func NewController(store storage.Store, recorder events.Recorder, redactor *redaction.Redactor, clk clock.Clock, interval, auditRetention time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if auditRetention <= 0 {
		auditRetention = DefaultAuditRetention
	}
	return &Controller{store: store, recorder: recorder, redactor: redactor, clock: clk, interval: interval, auditRetention: auditRetention}
}

func (c *Controller) Name() string            { return "retention" }
func (c *Controller) Interval() time.Duration { return c.interval }

func (c *Controller) Reconcile(ctx context.Context) error {
	tenants, err := c.store.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if err := c.sweepTenant(ctx, tenant); err != nil {
			logging.FromContext(ctx).With("tenant", tenant).Errorf("retention sweep, %s", err)
		}
	}
	return nil
}

func (c *Controller) sweepTenant(ctx context.Context, tenant string) error {
	now := c.clock.Now()
	labels, err := c.store.ListLabels(ctx, tenant, storage.LabelFilter{IncludeDeleted: true})
	if err != nil {
		return err
	}
	definitions := map[string]v1alpha1.SchemaDefinition{}
	redacted := 0
	for _, l := range labels {
		def, ok := definitions[l.SchemaVersionID]
		if !ok {
			sv, err := c.store.GetSchemaVersion(ctx, tenant, l.SchemaVersionID)
			if err != nil {
				return err
			}
			def = sv.Definition
			definitions[l.SchemaVersionID] = def
		}
		n, payload := c.expireFields(def, l, now)
		if n == 0 {
			continue
		}
		err := c.store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
			if err := tx.UpdateLabelPayload(ctx, tenant, l.ID, payload); err != nil {
				return err
			}
			return audit.NewWriter(tx).Record(ctx, audit.SystemEntry(tenant, "retention_redact", "label", l.ID, now, nil))
		})
		if err != nil {
			return err
		}
		redacted += n
	}
	deleted, err := c.store.DeleteAuditBefore(ctx, tenant, now.Add(-c.auditRetention))
	if err != nil {
		return err
	}
	if redacted > 0 || deleted > 0 {
		c.recorder.RetentionSwept(ctx, tenant, redacted, deleted)
	}
	return nil
}

// expireFields applies each overdue field's redaction policy and returns the
// number of fields changed with the rewritten payload.
func (c *Controller) expireFields(def v1alpha1.SchemaDefinition, l *v1alpha1.Label, now time.Time) (int, v1alpha1.Payload) {
	changed := 0
	payload := l.Payload.Clone()
	for _, name := range def.FieldNames() {
		field := def.Fields[name]
		if field.Metadata.RetentionDays <= 0 {
			continue
		}
		expiry := l.SubmittedAt.Add(time.Duration(field.Metadata.RetentionDays) * 24 * time.Hour)
		if now.Before(expiry) {
			continue
		}
		value, present := payload[name]
		if !present {
			continue
		}
		if field.Metadata.RedactionPolicy == v1alpha1.RedactionHash && value.Kind == v1alpha1.ValueKindString && hexDigest.MatchString(value.Str) {
			continue
		}
		redacted, keep := c.redactor.ApplyField(field, value)
		if keep && redacted.Equal(value) {
			continue
		}
		if keep {
			payload[name] = redacted
		} else {
			delete(payload, name)
		}
		changed++
	}
	return changed, payload
}
