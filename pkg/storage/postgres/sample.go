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

	"github.com/jmoiron/sqlx"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	anvilerrors "github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

func (s *Store) PutSampleRef(ctx context.Context, ref *v1alpha1.SampleRef) error {
	md, err := toJSON(ref.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO sample_refs (id, tenant, queue_id, version_tag, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant, id) DO UPDATE SET
			version_tag = EXCLUDED.version_tag,
			metadata = EXCLUDED.metadata`,
		ref.ID, ref.Tenant, ref.QueueID, ref.VersionTag, md, ref.CreatedAt)
	return wrapPut("put sample ref", err)
}

func (s *Store) GetSampleRef(ctx context.Context, tenant, id string) (*v1alpha1.SampleRef, error) {
	var row sampleRefRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM sample_refs WHERE tenant = $1 AND id = $2`, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("sample", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting sample ref, %w", err)
	}
	return row.domain()
}

func (s *Store) ListSampleRefs(ctx context.Context, tenant string, f storage.SampleRefFilter) ([]*v1alpha1.SampleRef, error) {
	query := `SELECT * FROM sample_refs WHERE tenant = ?`
	args := []any{tenant}
	if f.QueueID != "" {
		query += ` AND queue_id = ?`
		args = append(args, f.QueueID)
	}
	if len(f.IDs) > 0 {
		query += ` AND id IN (?)`
		args = append(args, f.IDs)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("building sample ref query, %w", err)
	}
	var rows []sampleRefRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), expanded...); err != nil {
		return nil, fmt.Errorf("listing sample refs, %w", err)
	}
	out := make([]*v1alpha1.SampleRef, 0, len(rows))
	for _, r := range rows {
		ref, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// eligibleQuery repeats the count subqueries in the WHERE clause so the base
// table rows stay lockable with FOR UPDATE SKIP LOCKED.
const eligibleQuery = `
SELECT s.id, s.tenant, s.queue_id, s.version_tag, s.metadata, s.created_at,
	(SELECT COUNT(*) FROM labels l
		WHERE l.tenant = s.tenant AND l.queue_id = s.queue_id AND l.sample_id = s.id AND l.deleted_at IS NULL) AS label_count,
	(SELECT COUNT(*) FROM assignments a
		WHERE a.tenant = s.tenant AND a.queue_id = s.queue_id AND a.sample_id = s.id AND a.status IN ('pending', 'in_progress')) AS active_claims
FROM sample_refs s
WHERE s.tenant = $1 AND s.queue_id = $2
	AND (SELECT COUNT(*) FROM labels l
		WHERE l.tenant = s.tenant AND l.queue_id = s.queue_id AND l.sample_id = s.id AND l.deleted_at IS NULL)
	  + (SELECT COUNT(*) FROM assignments a
		WHERE a.tenant = s.tenant AND a.queue_id = s.queue_id AND a.sample_id = s.id AND a.status IN ('pending', 'in_progress')) < $3
	AND NOT EXISTS (SELECT 1 FROM assignments a
		WHERE a.tenant = s.tenant AND a.queue_id = s.queue_id AND a.sample_id = s.id AND a.labeler_id = $4 AND a.status IN ('pending', 'in_progress'))
	AND ($5 OR NOT EXISTS (SELECT 1 FROM labels l
		WHERE l.tenant = s.tenant AND l.queue_id = s.queue_id AND l.sample_id = s.id AND l.labeler_id = $4 AND l.deleted_at IS NULL))
ORDER BY s.created_at ASC, s.id ASC`

func (s *Store) ListEligibleSamples(ctx context.Context, tenant string, opts storage.EligibleOptions) ([]*storage.EligibleSample, error) {
	query := eligibleQuery
	if opts.Lock {
		query += ` FOR UPDATE OF s SKIP LOCKED`
	}
	var rows []eligibleRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query,
		tenant, opts.QueueID, opts.LabelsPerSample, opts.LabelerID, opts.AllowSameLabeler); err != nil {
		return nil, fmt.Errorf("listing eligible samples, %w", err)
	}
	out := make([]*storage.EligibleSample, 0, len(rows))
	for _, r := range rows {
		ref, err := r.sampleRefRow.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, &storage.EligibleSample{Ref: ref, LabelCount: r.LabelCount, ActiveClaims: r.ActiveClaims})
	}
	return out, nil
}
