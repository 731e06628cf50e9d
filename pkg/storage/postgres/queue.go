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

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	anvilerrors "github.com/anvil-project/anvil/pkg/errors"
)

func (s *Store) PutQueue(ctx context.Context, q *v1alpha1.Queue) error {
	policy, err := toJSON(q.Policy)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO queues (id, tenant, name, schema_version_id, policy, status, access_mode, labels_per_sample, assignment_timeout, created_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			schema_version_id = EXCLUDED.schema_version_id,
			policy = EXCLUDED.policy,
			status = EXCLUDED.status,
			access_mode = EXCLUDED.access_mode,
			labels_per_sample = EXCLUDED.labels_per_sample,
			assignment_timeout = EXCLUDED.assignment_timeout,
			archived_at = EXCLUDED.archived_at`,
		q.ID, q.Tenant, q.Name, q.SchemaVersionID, policy, q.Status, q.AccessMode,
		q.LabelsPerSample, int64(q.AssignmentTimeout), q.CreatedAt, q.ArchivedAt)
	return wrapPut("put queue", err)
}

func (s *Store) GetQueue(ctx context.Context, tenant, id string) (*v1alpha1.Queue, error) {
	var row queueRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM queues WHERE tenant = $1 AND id = $2`, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("queue", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting queue, %w", err)
	}
	return row.domain()
}

func (s *Store) GetQueueByName(ctx context.Context, tenant, name string) (*v1alpha1.Queue, error) {
	var row queueRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM queues WHERE tenant = $1 AND name = $2`, tenant, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("queue", name)
	}
	if err != nil {
		return nil, fmt.Errorf("getting queue by name, %w", err)
	}
	return row.domain()
}

func (s *Store) ListQueues(ctx context.Context, tenant string) ([]*v1alpha1.Queue, error) {
	var rows []queueRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, `SELECT * FROM queues WHERE tenant = $1 ORDER BY created_at ASC, id ASC`, tenant); err != nil {
		return nil, fmt.Errorf("listing queues, %w", err)
	}
	out := make([]*v1alpha1.Queue, 0, len(rows))
	for _, r := range rows {
		q, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	var out []string
	if err := sqlx.SelectContext(ctx, s.q, &out, `SELECT DISTINCT tenant FROM queues ORDER BY tenant ASC`); err != nil {
		return nil, fmt.Errorf("listing tenants, %w", err)
	}
	return out, nil
}

func (s *Store) PutSchemaVersion(ctx context.Context, sv *v1alpha1.SchemaVersion) error {
	def, err := toJSON(sv.Definition)
	if err != nil {
		return err
	}
	var transform []byte
	if sv.TransformFromPrevious != nil {
		if transform, err = toJSON(sv.TransformFromPrevious); err != nil {
			return err
		}
	}
	// The DO UPDATE's WHERE leaves frozen rows untouched; zero rows affected
	// on an existing row means the version is frozen.
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO schema_versions (id, tenant, queue_id, version_number, definition, transform_from_previous, frozen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			definition = EXCLUDED.definition,
			transform_from_previous = EXCLUDED.transform_from_previous
		WHERE schema_versions.frozen_at IS NULL`,
		sv.ID, sv.Tenant, sv.QueueID, sv.VersionNumber, def, transform, sv.FrozenAt, sv.CreatedAt)
	if err != nil {
		return wrapPut("put schema version", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return anvilerrors.ErrSchemaFrozen
	}
	return nil
}

func (s *Store) GetSchemaVersion(ctx context.Context, tenant, id string) (*v1alpha1.SchemaVersion, error) {
	var row schemaVersionRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM schema_versions WHERE tenant = $1 AND id = $2`, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("schema version", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting schema version, %w", err)
	}
	return row.domain()
}

func (s *Store) ListSchemaVersions(ctx context.Context, tenant, queueID string) ([]*v1alpha1.SchemaVersion, error) {
	var rows []schemaVersionRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT * FROM schema_versions WHERE tenant = $1 AND queue_id = $2 ORDER BY version_number ASC`,
		tenant, queueID); err != nil {
		return nil, fmt.Errorf("listing schema versions, %w", err)
	}
	out := make([]*v1alpha1.SchemaVersion, 0, len(rows))
	for _, r := range rows {
		sv, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, nil
}

func (s *Store) FreezeSchemaVersion(ctx context.Context, tenant, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE schema_versions SET frozen_at = $3 WHERE tenant = $1 AND id = $2 AND frozen_at IS NULL`,
		tenant, id, at)
	if err != nil {
		return fmt.Errorf("freezing schema version, %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	// Already frozen is a no-op; missing is an error.
	var exists bool
	if err := sqlx.GetContext(ctx, s.q, &exists, `SELECT EXISTS (SELECT 1 FROM schema_versions WHERE tenant = $1 AND id = $2)`, tenant, id); err != nil {
		return fmt.Errorf("checking schema version, %w", err)
	}
	if !exists {
		return anvilerrors.NewNotFound("schema version", id)
	}
	return nil
}
