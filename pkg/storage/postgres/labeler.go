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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	anvilerrors "github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

func (s *Store) PutLabeler(ctx context.Context, l *v1alpha1.Labeler) error {
	weights, err := toJSON(l.ExpertiseWeights)
	if err != nil {
		return err
	}
	blocked, err := toJSON(l.BlocklistedQueues)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO labelers (id, tenant, external_id, pseudonym, role, status, expertise_weights, blocklisted_queues, max_concurrent_assignments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			pseudonym = EXCLUDED.pseudonym,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			expertise_weights = EXCLUDED.expertise_weights,
			blocklisted_queues = EXCLUDED.blocklisted_queues,
			max_concurrent_assignments = EXCLUDED.max_concurrent_assignments`,
		l.ID, l.Tenant, l.ExternalID, l.Pseudonym, l.Role, l.Status, weights, blocked, l.MaxConcurrentAssignments, l.CreatedAt)
	return wrapPut("put labeler", err)
}

func (s *Store) GetLabeler(ctx context.Context, tenant, id string) (*v1alpha1.Labeler, error) {
	var row labelerRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM labelers WHERE tenant = $1 AND id = $2`, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("labeler", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting labeler, %w", err)
	}
	return row.domain()
}

func (s *Store) FindLabeler(ctx context.Context, id string) (*v1alpha1.Labeler, error) {
	var row labelerRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM labelers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("labeler", id)
	}
	if err != nil {
		return nil, fmt.Errorf("finding labeler, %w", err)
	}
	return row.domain()
}

func (s *Store) GetLabelerByExternalID(ctx context.Context, tenant, externalID string) (*v1alpha1.Labeler, error) {
	var row labelerRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM labelers WHERE tenant = $1 AND external_id = $2`, tenant, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("labeler", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting labeler by external id, %w", err)
	}
	return row.domain()
}

func (s *Store) PutQueueMembership(ctx context.Context, m *v1alpha1.QueueMembership) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO queue_memberships (tenant, queue_id, labeler_id, role, granted_at, granted_by, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant, queue_id, labeler_id) DO UPDATE SET
			role = EXCLUDED.role,
			granted_at = EXCLUDED.granted_at,
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at,
			revoked_at = EXCLUDED.revoked_at`,
		m.Tenant, m.QueueID, m.LabelerID, m.Role, m.GrantedAt, m.GrantedBy, m.ExpiresAt, m.RevokedAt)
	return wrapPut("put queue membership", err)
}

func (s *Store) ListQueueMemberships(ctx context.Context, tenant, labelerID string) ([]*v1alpha1.QueueMembership, error) {
	var rows []membershipRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT * FROM queue_memberships WHERE tenant = $1 AND labeler_id = $2 ORDER BY granted_at ASC, queue_id ASC`,
		tenant, labelerID); err != nil {
		return nil, fmt.Errorf("listing queue memberships, %w", err)
	}
	return lo.Map(rows, func(r membershipRow, _ int) *v1alpha1.QueueMembership { return r.domain() }), nil
}

func (s *Store) PutAgreementMetric(ctx context.Context, m *v1alpha1.AgreementMetric) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO agreement_metrics (tenant, queue_id, sample_id, dimension, schema_version_id, metric, value, band, flagged, n_raters, n_labels, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant, queue_id, sample_id, dimension) DO UPDATE SET
			schema_version_id = EXCLUDED.schema_version_id,
			metric = EXCLUDED.metric,
			value = EXCLUDED.value,
			band = EXCLUDED.band,
			flagged = EXCLUDED.flagged,
			n_raters = EXCLUDED.n_raters,
			n_labels = EXCLUDED.n_labels,
			computed_at = EXCLUDED.computed_at`,
		m.Tenant, m.QueueID, m.SampleID, m.Dimension, m.SchemaVersionID, m.Metric, m.Value, m.Band, m.Flagged, m.NRaters, m.NLabels, m.ComputedAt)
	return wrapPut("put agreement metric", err)
}

func (s *Store) ListAgreementMetrics(ctx context.Context, tenant string, f storage.AgreementMetricFilter) ([]*v1alpha1.AgreementMetric, error) {
	query := `SELECT * FROM agreement_metrics WHERE tenant = ?`
	args := []any{tenant}
	if f.QueueID != "" {
		query += ` AND queue_id = ?`
		args = append(args, f.QueueID)
	}
	if f.SampleID != "" {
		query += ` AND sample_id = ?`
		args = append(args, f.SampleID)
	}
	if f.Dimension != "" {
		query += ` AND dimension = ?`
		args = append(args, f.Dimension)
	}
	query += ` ORDER BY queue_id ASC, sample_id ASC, dimension ASC`
	var rows []metricRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing agreement metrics, %w", err)
	}
	return lo.Map(rows, func(r metricRow, _ int) *v1alpha1.AgreementMetric { return r.domain() }), nil
}

func (s *Store) AppendAudit(ctx context.Context, e *v1alpha1.AuditEntry) error {
	md, err := toJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_entries (tenant, actor_id, actor_type, action, entity_type, entity_id, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Tenant, e.ActorID, e.ActorType, e.Action, e.EntityType, e.EntityID, md, e.OccurredAt)
	return wrapPut("append audit", err)
}

func (s *Store) ListAudit(ctx context.Context, tenant string, f storage.AuditFilter) ([]*v1alpha1.AuditEntry, error) {
	query := `SELECT * FROM audit_entries WHERE tenant = ?`
	args := []any{tenant}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, f.Action)
	}
	if f.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	query += ` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	var rows []auditRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing audit entries, %w", err)
	}
	out := make([]*v1alpha1.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) DeleteAuditBefore(ctx context.Context, tenant string, cutoff time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM audit_entries WHERE tenant = $1 AND occurred_at < $2`, tenant, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting audit entries, %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted audit entries, %w", err)
	}
	return int(n), nil
}
