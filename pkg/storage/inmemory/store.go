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

// Package inmemory implements the storage port in process memory. It backs
// the test suites and single-node deployments. Entities are stored as
// immutable snapshots: every Put clones, every Get clones, so callers never
// alias store-owned memory. Transactions snapshot the maps and restore them
// on error, which is sound because stored entities are never mutated in
// place.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	queues         map[string]*v1alpha1.Queue
	schemaVersions map[string]*v1alpha1.SchemaVersion
	sampleRefs     map[string]*v1alpha1.SampleRef
	assignments    map[string]*v1alpha1.Assignment
	labels         map[string]*v1alpha1.Label
	labelers       map[string]*v1alpha1.Labeler
	memberships    []*v1alpha1.QueueMembership
	metrics        map[string]*v1alpha1.AgreementMetric
	audit          []*v1alpha1.AuditEntry
}

func NewStore() *Store {
	return &Store{
		queues:         map[string]*v1alpha1.Queue{},
		schemaVersions: map[string]*v1alpha1.SchemaVersion{},
		sampleRefs:     map[string]*v1alpha1.SampleRef{},
		assignments:    map[string]*v1alpha1.Assignment{},
		labels:         map[string]*v1alpha1.Label{},
		labelers:       map[string]*v1alpha1.Labeler{},
		metrics:        map[string]*v1alpha1.AgreementMetric{},
	}
}

var _ storage.Store = (*Store)(nil)

func key(tenant, id string) string {
	return tenant + "/" + id
}

// Queues

func (s *Store) PutQueue(ctx context.Context, q *v1alpha1.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.queues {
		if existing.Tenant == q.Tenant && existing.Name == q.Name && existing.ID != q.ID {
			return errors.NewStorage("put queue", errUniqueViolation("queues", "(tenant, name)"))
		}
	}
	s.queues[key(q.Tenant, q.ID)] = cloneQueue(q)
	return nil
}

func (s *Store) GetQueue(ctx context.Context, tenant, id string) (*v1alpha1.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[key(tenant, id)]
	if !ok {
		return nil, errors.NewNotFound("queue", id)
	}
	return cloneQueue(q), nil
}

func (s *Store) GetQueueByName(ctx context.Context, tenant, name string) (*v1alpha1.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.queues {
		if q.Tenant == tenant && q.Name == name {
			return cloneQueue(q), nil
		}
	}
	return nil, errors.NewNotFound("queue", name)
}

func (s *Store) ListQueues(ctx context.Context, tenant string) ([]*v1alpha1.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.Queue{}
	for _, q := range s.queues {
		if q.Tenant == tenant {
			out = append(out, cloneQueue(q))
		}
	}
	sortByCreated(out, func(q *v1alpha1.Queue) (time.Time, string) { return q.CreatedAt, q.ID })
	return out, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenants := map[string]bool{}
	for _, q := range s.queues {
		tenants[q.Tenant] = true
	}
	out := lo.Keys(tenants)
	sort.Strings(out)
	return out, nil
}

// Schema versions

func (s *Store) PutSchemaVersion(ctx context.Context, sv *v1alpha1.SchemaVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.schemaVersions[key(sv.Tenant, sv.ID)]; ok && existing.Frozen() {
		return errors.ErrSchemaFrozen
	}
	for _, existing := range s.schemaVersions {
		if existing.QueueID == sv.QueueID && existing.VersionNumber == sv.VersionNumber && existing.ID != sv.ID {
			return errors.NewStorage("put schema version", errUniqueViolation("schema_versions", "(queue_id, version_number)"))
		}
	}
	s.schemaVersions[key(sv.Tenant, sv.ID)] = cloneSchemaVersion(sv)
	return nil
}

func (s *Store) GetSchemaVersion(ctx context.Context, tenant, id string) (*v1alpha1.SchemaVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.schemaVersions[key(tenant, id)]
	if !ok {
		return nil, errors.NewNotFound("schema version", id)
	}
	return cloneSchemaVersion(sv), nil
}

func (s *Store) ListSchemaVersions(ctx context.Context, tenant, queueID string) ([]*v1alpha1.SchemaVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.SchemaVersion{}
	for _, sv := range s.schemaVersions {
		if sv.Tenant == tenant && sv.QueueID == queueID {
			out = append(out, cloneSchemaVersion(sv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *Store) FreezeSchemaVersion(ctx context.Context, tenant, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.schemaVersions[key(tenant, id)]
	if !ok {
		return errors.NewNotFound("schema version", id)
	}
	if sv.Frozen() {
		return nil
	}
	frozen := cloneSchemaVersion(sv)
	frozen.FrozenAt = &at
	s.schemaVersions[key(tenant, id)] = frozen
	return nil
}

// Sample references

func (s *Store) PutSampleRef(ctx context.Context, ref *v1alpha1.SampleRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleRefs[key(ref.Tenant, ref.ID)] = cloneSampleRef(ref)
	return nil
}

func (s *Store) GetSampleRef(ctx context.Context, tenant, id string) (*v1alpha1.SampleRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.sampleRefs[key(tenant, id)]
	if !ok {
		return nil, errors.NewNotFound("sample", id)
	}
	return cloneSampleRef(ref), nil
}

func (s *Store) ListSampleRefs(ctx context.Context, tenant string, f storage.SampleRefFilter) ([]*v1alpha1.SampleRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.SampleRef{}
	for _, ref := range s.sampleRefs {
		if ref.Tenant != tenant {
			continue
		}
		if f.QueueID != "" && ref.QueueID != f.QueueID {
			continue
		}
		if len(f.IDs) > 0 && !lo.Contains(f.IDs, ref.ID) {
			continue
		}
		out = append(out, cloneSampleRef(ref))
	}
	sortByCreated(out, func(r *v1alpha1.SampleRef) (time.Time, string) { return r.CreatedAt, r.ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListEligibleSamples(ctx context.Context, tenant string, opts storage.EligibleOptions) ([]*storage.EligibleSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Per-sample tallies over labels and non-terminal assignments.
	labelCounts := map[string]int{}
	labeledBy := map[string]bool{} // sampleID/labelerID
	for _, l := range s.labels {
		if l.Tenant != tenant || l.QueueID != opts.QueueID || l.DeletedAt != nil {
			continue
		}
		labelCounts[l.SampleID]++
		labeledBy[l.SampleID+"/"+l.LabelerID] = true
	}
	activeClaims := map[string]int{}
	claimedBy := map[string]bool{}
	for _, a := range s.assignments {
		if a.Tenant != tenant || a.QueueID != opts.QueueID || a.Status.Terminal() {
			continue
		}
		activeClaims[a.SampleID]++
		claimedBy[a.SampleID+"/"+a.LabelerID] = true
	}

	out := []*storage.EligibleSample{}
	for _, ref := range s.sampleRefs {
		if ref.Tenant != tenant || ref.QueueID != opts.QueueID {
			continue
		}
		lc, ac := labelCounts[ref.ID], activeClaims[ref.ID]
		if lc+ac >= opts.LabelsPerSample {
			continue
		}
		if claimedBy[ref.ID+"/"+opts.LabelerID] {
			continue
		}
		if !opts.AllowSameLabeler && labeledBy[ref.ID+"/"+opts.LabelerID] {
			continue
		}
		out = append(out, &storage.EligibleSample{Ref: cloneSampleRef(ref), LabelCount: lc, ActiveClaims: ac})
	}
	sortByCreated(out, func(e *storage.EligibleSample) (time.Time, string) { return e.Ref.CreatedAt, e.Ref.ID })
	return out, nil
}

// Assignments

func (s *Store) CreateAssignment(ctx context.Context, a *v1alpha1.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[key(a.Tenant, a.ID)]; ok {
		return errors.NewStorage("create assignment", errUniqueViolation("assignments", "(id)"))
	}
	s.assignments[key(a.Tenant, a.ID)] = cloneAssignment(a)
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, tenant, id string) (*v1alpha1.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[key(tenant, id)]
	if !ok {
		return nil, errors.NewNotFound("assignment", id)
	}
	return cloneAssignment(a), nil
}

func (s *Store) UpdateAssignment(ctx context.Context, a *v1alpha1.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.assignments[key(a.Tenant, a.ID)]
	if !ok {
		return errors.NewNotFound("assignment", a.ID)
	}
	if stored.Version != a.Version-1 {
		return errors.ErrStale
	}
	s.assignments[key(a.Tenant, a.ID)] = cloneAssignment(a)
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, tenant string, f storage.AssignmentFilter) ([]*v1alpha1.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.Assignment{}
	for _, a := range s.assignments {
		if a.Tenant != tenant || !matchAssignment(a, f) {
			continue
		}
		out = append(out, cloneAssignment(a))
	}
	sortByCreated(out, func(a *v1alpha1.Assignment) (time.Time, string) { return a.CreatedAt, a.ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountAssignments(ctx context.Context, tenant string, f storage.AssignmentFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, a := range s.assignments {
		if a.Tenant == tenant && matchAssignment(a, f) {
			count++
		}
	}
	return count, nil
}

func matchAssignment(a *v1alpha1.Assignment, f storage.AssignmentFilter) bool {
	if f.QueueID != "" && a.QueueID != f.QueueID {
		return false
	}
	if f.SampleID != "" && a.SampleID != f.SampleID {
		return false
	}
	if f.LabelerID != "" && a.LabelerID != f.LabelerID {
		return false
	}
	if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, a.Status) {
		return false
	}
	if f.DeadlineBefore != nil && (a.Deadline == nil || !a.Deadline.Before(*f.DeadlineBefore)) {
		return false
	}
	return true
}

// Labels

func (s *Store) PutLabel(ctx context.Context, l *v1alpha1.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.labels {
		if existing.Tenant == l.Tenant && existing.AssignmentID == l.AssignmentID && existing.ID != l.ID {
			return errors.NewStorage("put label", errUniqueViolation("labels", "(assignment_id)"))
		}
	}
	s.labels[key(l.Tenant, l.ID)] = cloneLabel(l)
	return nil
}

func (s *Store) ListLabels(ctx context.Context, tenant string, f storage.LabelFilter) ([]*v1alpha1.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.Label{}
	for _, l := range s.labels {
		if l.Tenant != tenant || !matchLabel(l, f) {
			continue
		}
		out = append(out, cloneLabel(l))
	}
	sortLabels(out)
	out = paginate(out, f.Offset, f.Limit)
	return out, nil
}

func (s *Store) StreamLabels(ctx context.Context, tenant string, f storage.LabelFilter, fn func(*v1alpha1.Label) error) error {
	labels, err := s.ListLabels(ctx, tenant, f)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateLabelPayload(ctx context.Context, tenant, id string, p v1alpha1.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.labels[key(tenant, id)]
	if !ok {
		return errors.NewNotFound("label", id)
	}
	updated := cloneLabel(l)
	updated.Payload = p.Clone()
	s.labels[key(tenant, id)] = updated
	return nil
}

func matchLabel(l *v1alpha1.Label, f storage.LabelFilter) bool {
	if !f.IncludeDeleted && l.DeletedAt != nil {
		return false
	}
	if f.QueueID != "" && l.QueueID != f.QueueID {
		return false
	}
	if f.SampleID != "" && l.SampleID != f.SampleID {
		return false
	}
	if f.LabelerID != "" && l.LabelerID != f.LabelerID {
		return false
	}
	if f.SchemaVersionID != "" && l.SchemaVersionID != f.SchemaVersionID {
		return false
	}
	return true
}

func sortLabels(labels []*v1alpha1.Label) {
	sort.Slice(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if a.SampleID != b.SampleID {
			return a.SampleID < b.SampleID
		}
		if a.LabelerID != b.LabelerID {
			return a.LabelerID < b.LabelerID
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})
}

// Labelers and memberships

func (s *Store) PutLabeler(ctx context.Context, l *v1alpha1.Labeler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.labelers {
		if existing.Tenant == l.Tenant && existing.ExternalID == l.ExternalID && existing.ID != l.ID {
			return errors.NewStorage("put labeler", errUniqueViolation("labelers", "(tenant, external_id)"))
		}
	}
	s.labelers[key(l.Tenant, l.ID)] = cloneLabeler(l)
	return nil
}

func (s *Store) GetLabeler(ctx context.Context, tenant, id string) (*v1alpha1.Labeler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labelers[key(tenant, id)]
	if !ok {
		return nil, errors.NewNotFound("labeler", id)
	}
	return cloneLabeler(l), nil
}

func (s *Store) FindLabeler(ctx context.Context, id string) (*v1alpha1.Labeler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.labelers {
		if l.ID == id {
			return cloneLabeler(l), nil
		}
	}
	return nil, errors.NewNotFound("labeler", id)
}

func (s *Store) GetLabelerByExternalID(ctx context.Context, tenant, externalID string) (*v1alpha1.Labeler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.labelers {
		if l.Tenant == tenant && l.ExternalID == externalID {
			return cloneLabeler(l), nil
		}
	}
	return nil, errors.NewNotFound("labeler", externalID)
}

func (s *Store) PutQueueMembership(ctx context.Context, m *v1alpha1.QueueMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.memberships {
		if existing.Tenant == m.Tenant && existing.QueueID == m.QueueID && existing.LabelerID == m.LabelerID {
			s.memberships[i] = cloneMembership(m)
			return nil
		}
	}
	s.memberships = append(s.memberships, cloneMembership(m))
	return nil
}

func (s *Store) ListQueueMemberships(ctx context.Context, tenant, labelerID string) ([]*v1alpha1.QueueMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.QueueMembership{}
	for _, m := range s.memberships {
		if m.Tenant == tenant && m.LabelerID == labelerID {
			out = append(out, cloneMembership(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueID < out[j].QueueID })
	return out, nil
}

// Agreement metrics

func (s *Store) PutAgreementMetric(ctx context.Context, m *v1alpha1.AgreementMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[key(m.Tenant, m.QueueID+"/"+m.SampleID+"/"+m.Dimension)] = cloneMetric(m)
	return nil
}

func (s *Store) ListAgreementMetrics(ctx context.Context, tenant string, f storage.AgreementMetricFilter) ([]*v1alpha1.AgreementMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.AgreementMetric{}
	for _, m := range s.metrics {
		if m.Tenant != tenant {
			continue
		}
		if f.QueueID != "" && m.QueueID != f.QueueID {
			continue
		}
		if f.SampleID != "" && m.SampleID != f.SampleID {
			continue
		}
		if f.Dimension != "" && m.Dimension != f.Dimension {
			continue
		}
		out = append(out, cloneMetric(m))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SampleID != b.SampleID {
			return a.SampleID < b.SampleID
		}
		return a.Dimension < b.Dimension
	})
	return out, nil
}

// Audit

func (s *Store) AppendAudit(ctx context.Context, e *v1alpha1.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, cloneAudit(e))
	return nil
}

func (s *Store) ListAudit(ctx context.Context, tenant string, f storage.AuditFilter) ([]*v1alpha1.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*v1alpha1.AuditEntry{}
	for _, e := range s.audit {
		if e.Tenant != tenant {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, cloneAudit(e))
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) DeleteAuditBefore(ctx context.Context, tenant string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.audit[:0]
	removed := 0
	for _, e := range s.audit {
		if e.Tenant == tenant && e.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return removed, nil
}

// Tx serializes transactional scopes on a second mutex and restores a
// snapshot of the maps when fn errors. Entities are never mutated in place,
// so a shallow copy of each map is a complete snapshot.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.snapshot()
	if err := fn(ctx, &txView{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// txView is the store bound to an open transactional scope; a nested Tx
// joins the outer scope.
type txView struct {
	*Store
}

func (v *txView) Tx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	return fn(ctx, v)
}

type snapshot struct {
	queues         map[string]*v1alpha1.Queue
	schemaVersions map[string]*v1alpha1.SchemaVersion
	sampleRefs     map[string]*v1alpha1.SampleRef
	assignments    map[string]*v1alpha1.Assignment
	labels         map[string]*v1alpha1.Label
	labelers       map[string]*v1alpha1.Labeler
	memberships    []*v1alpha1.QueueMembership
	metrics        map[string]*v1alpha1.AgreementMetric
	audit          []*v1alpha1.AuditEntry
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		queues:         copyMap(s.queues),
		schemaVersions: copyMap(s.schemaVersions),
		sampleRefs:     copyMap(s.sampleRefs),
		assignments:    copyMap(s.assignments),
		labels:         copyMap(s.labels),
		labelers:       copyMap(s.labelers),
		memberships:    append([]*v1alpha1.QueueMembership{}, s.memberships...),
		metrics:        copyMap(s.metrics),
		audit:          append([]*v1alpha1.AuditEntry{}, s.audit...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues = snap.queues
	s.schemaVersions = snap.schemaVersions
	s.sampleRefs = snap.sampleRefs
	s.assignments = snap.assignments
	s.labels = snap.labels
	s.labelers = snap.labelers
	s.memberships = snap.memberships
	s.metrics = snap.metrics
	s.audit = snap.audit
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func sortByCreated[T any](items []T, keyFn func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := keyFn(items[i])
		tj, idj := keyFn(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return strings.Compare(idi, idj) < 0
	})
}
