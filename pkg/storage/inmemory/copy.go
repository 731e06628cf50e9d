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

package inmemory

import (
	"fmt"
	"time"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

func errUniqueViolation(table, cols string) error {
	return fmt.Errorf("unique constraint violation on %s %s", table, cols)
}

func cloneQueue(q *v1alpha1.Queue) *v1alpha1.Queue {
	out := *q
	if q.ArchivedAt != nil {
		t := *q.ArchivedAt
		out.ArchivedAt = &t
	}
	return &out
}

func cloneSchemaVersion(sv *v1alpha1.SchemaVersion) *v1alpha1.SchemaVersion {
	out := *sv
	if sv.FrozenAt != nil {
		t := *sv.FrozenAt
		out.FrozenAt = &t
	}
	fields := make(map[string]v1alpha1.Field, len(sv.Definition.Fields))
	for name, f := range sv.Definition.Fields {
		cf := f
		cf.Options = append([]string(nil), f.Options...)
		if f.Min != nil {
			m := *f.Min
			cf.Min = &m
		}
		if f.Max != nil {
			m := *f.Max
			cf.Max = &m
		}
		if f.Default != nil {
			d := *f.Default
			cf.Default = &d
		}
		fields[name] = cf
	}
	out.Definition = v1alpha1.SchemaDefinition{Fields: fields}
	if sv.TransformFromPrevious != nil {
		ops := make([]v1alpha1.TransformOp, len(sv.TransformFromPrevious.Ops))
		for i, op := range sv.TransformFromPrevious.Ops {
			cop := op
			if op.ValueMap != nil {
				vm := make(map[string]string, len(op.ValueMap))
				for k, v := range op.ValueMap {
					vm[k] = v
				}
				cop.ValueMap = vm
			}
			ops[i] = cop
		}
		out.TransformFromPrevious = &v1alpha1.TransformSpec{Ops: ops}
	}
	return &out
}

func cloneSampleRef(ref *v1alpha1.SampleRef) *v1alpha1.SampleRef {
	out := *ref
	if ref.Metadata != nil {
		md := make(map[string]string, len(ref.Metadata))
		for k, v := range ref.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	return &out
}

func cloneAssignment(a *v1alpha1.Assignment) *v1alpha1.Assignment {
	out := *a
	out.Deadline = cloneTime(a.Deadline)
	out.NotBefore = cloneTime(a.NotBefore)
	out.ReservedAt = cloneTime(a.ReservedAt)
	out.CompletedAt = cloneTime(a.CompletedAt)
	out.SkippedAt = cloneTime(a.SkippedAt)
	out.ExpiredAt = cloneTime(a.ExpiredAt)
	return &out
}

func cloneLabel(l *v1alpha1.Label) *v1alpha1.Label {
	out := *l
	out.Payload = l.Payload.Clone()
	out.DeletedAt = cloneTime(l.DeletedAt)
	return &out
}

func cloneLabeler(l *v1alpha1.Labeler) *v1alpha1.Labeler {
	out := *l
	if l.ExpertiseWeights != nil {
		w := make(map[v1alpha1.DifficultyClass]float64, len(l.ExpertiseWeights))
		for k, v := range l.ExpertiseWeights {
			w[k] = v
		}
		out.ExpertiseWeights = w
	}
	out.BlocklistedQueues = append([]string(nil), l.BlocklistedQueues...)
	return &out
}

func cloneMembership(m *v1alpha1.QueueMembership) *v1alpha1.QueueMembership {
	out := *m
	out.ExpiresAt = cloneTime(m.ExpiresAt)
	out.RevokedAt = cloneTime(m.RevokedAt)
	return &out
}

func cloneMetric(m *v1alpha1.AgreementMetric) *v1alpha1.AgreementMetric {
	out := *m
	return &out
}

func cloneAudit(e *v1alpha1.AuditEntry) *v1alpha1.AuditEntry {
	out := *e
	if e.Metadata != nil {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
