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
	"github.com/samber/lo"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	anvilerrors "github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

func (s *Store) CreateAssignment(ctx context.Context, a *v1alpha1.Assignment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignments (id, tenant, queue_id, sample_id, labeler_id, status, version, attempts, sample_version,
			requeue_attempts, requeue_priority, deadline, not_before, reserved_at, completed_at, skipped_at, expired_at,
			skip_reason, label_id, escalated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		a.ID, a.Tenant, a.QueueID, a.SampleID, a.LabelerID, a.Status, a.Version, a.Attempts, a.SampleVersion,
		a.RequeueAttempts, a.RequeuePriority, a.Deadline, a.NotBefore, a.ReservedAt, a.CompletedAt, a.SkippedAt,
		a.ExpiredAt, a.SkipReason, a.LabelID, a.Escalated, a.CreatedAt)
	return wrapPut("create assignment", err)
}

func (s *Store) GetAssignment(ctx context.Context, tenant, id string) (*v1alpha1.Assignment, error) {
	var row assignmentRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM assignments WHERE tenant = $1 AND id = $2`, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anvilerrors.NewNotFound("assignment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting assignment, %w", err)
	}
	return row.domain(), nil
}

// UpdateAssignment carries the optimistic contract in the WHERE clause: the
// write lands only when the stored version is the incoming version minus one.
func (s *Store) UpdateAssignment(ctx context.Context, a *v1alpha1.Assignment) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE assignments SET
			labeler_id = $3, status = $4, version = $5, attempts = $6, sample_version = $7, requeue_attempts = $8,
			requeue_priority = $9, deadline = $10, not_before = $11, reserved_at = $12, completed_at = $13,
			expired_at = $14, skipped_at = $15, skip_reason = $16, label_id = $17, escalated = $18
		WHERE tenant = $1 AND id = $2 AND version = $19`,
		a.Tenant, a.ID, a.LabelerID, a.Status, a.Version, a.Attempts, a.SampleVersion, a.RequeueAttempts,
		a.RequeuePriority, a.Deadline, a.NotBefore, a.ReservedAt, a.CompletedAt, a.ExpiredAt, a.SkippedAt,
		a.SkipReason, a.LabelID, a.Escalated, a.Version-1)
	if err != nil {
		return fmt.Errorf("updating assignment, %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var exists bool
	if err := sqlx.GetContext(ctx, s.q, &exists, `SELECT EXISTS (SELECT 1 FROM assignments WHERE tenant = $1 AND id = $2)`, a.Tenant, a.ID); err != nil {
		return fmt.Errorf("checking assignment, %w", err)
	}
	if !exists {
		return anvilerrors.NewNotFound("assignment", a.ID)
	}
	return anvilerrors.ErrStale
}

func (s *Store) ListAssignments(ctx context.Context, tenant string, f storage.AssignmentFilter) ([]*v1alpha1.Assignment, error) {
	query, args, err := assignmentQuery(`SELECT * FROM assignments`, tenant, f)
	if err != nil {
		return nil, err
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	if f.ForUpdateSkipLocked {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	var rows []assignmentRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing assignments, %w", err)
	}
	return lo.Map(rows, func(r assignmentRow, _ int) *v1alpha1.Assignment { return r.domain() }), nil
}

func (s *Store) CountAssignments(ctx context.Context, tenant string, f storage.AssignmentFilter) (int, error) {
	query, args, err := assignmentQuery(`SELECT COUNT(*) FROM assignments`, tenant, f)
	if err != nil {
		return 0, err
	}
	var count int
	if err := sqlx.GetContext(ctx, s.q, &count, s.q.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("counting assignments, %w", err)
	}
	return count, nil
}

func assignmentQuery(prefix, tenant string, f storage.AssignmentFilter) (string, []any, error) {
	query := prefix + ` WHERE tenant = ?`
	args := []any{tenant}
	if f.QueueID != "" {
		query += ` AND queue_id = ?`
		args = append(args, f.QueueID)
	}
	if f.SampleID != "" {
		query += ` AND sample_id = ?`
		args = append(args, f.SampleID)
	}
	if f.LabelerID != "" {
		query += ` AND labeler_id = ?`
		args = append(args, f.LabelerID)
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, lo.Map(f.Statuses, func(s v1alpha1.AssignmentStatus, _ int) string { return string(s) }))
	}
	if f.DeadlineBefore != nil {
		query += ` AND deadline IS NOT NULL AND deadline < ?`
		args = append(args, *f.DeadlineBefore)
	}
	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("building assignment query, %w", err)
	}
	return query, expanded, nil
}

func (s *Store) PutLabel(ctx context.Context, l *v1alpha1.Label) error {
	payload, err := toJSON(l.Payload)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO labels (id, tenant, queue_id, assignment_id, sample_id, labeler_id, schema_version_id, payload, submitted_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.Tenant, l.QueueID, l.AssignmentID, l.SampleID, l.LabelerID, l.SchemaVersionID, payload, l.SubmittedAt, l.DeletedAt)
	return wrapPut("put label", err)
}

func (s *Store) ListLabels(ctx context.Context, tenant string, f storage.LabelFilter) ([]*v1alpha1.Label, error) {
	query, args := labelQuery(tenant, f)
	var rows []labelRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing labels, %w", err)
	}
	out := make([]*v1alpha1.Label, 0, len(rows))
	for _, r := range rows {
		l, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) StreamLabels(ctx context.Context, tenant string, f storage.LabelFilter, fn func(*v1alpha1.Label) error) error {
	query, args := labelQuery(tenant, f)
	rows, err := s.q.QueryxContext(ctx, s.q.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("streaming labels, %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r labelRow
		if err := rows.StructScan(&r); err != nil {
			return fmt.Errorf("scanning label, %w", err)
		}
		l, err := r.domain()
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) UpdateLabelPayload(ctx context.Context, tenant, id string, p v1alpha1.Payload) error {
	payload, err := toJSON(p)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `UPDATE labels SET payload = $3 WHERE tenant = $1 AND id = $2`, tenant, id, payload)
	if err != nil {
		return fmt.Errorf("updating label payload, %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return anvilerrors.NewNotFound("label", id)
	}
	return nil
}

func labelQuery(tenant string, f storage.LabelFilter) (string, []any) {
	query := `SELECT * FROM labels WHERE tenant = ?`
	args := []any{tenant}
	if !f.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if f.QueueID != "" {
		query += ` AND queue_id = ?`
		args = append(args, f.QueueID)
	}
	if f.SampleID != "" {
		query += ` AND sample_id = ?`
		args = append(args, f.SampleID)
	}
	if f.LabelerID != "" {
		query += ` AND labeler_id = ?`
		args = append(args, f.LabelerID)
	}
	if f.SchemaVersionID != "" {
		query += ` AND schema_version_id = ?`
		args = append(args, f.SchemaVersionID)
	}
	query += ` ORDER BY sample_id ASC, labeler_id ASC, submitted_at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, f.Offset)
	}
	return query, args
}
