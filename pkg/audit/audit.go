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

// Package audit appends structured records for every state-changing
// operation. Writers pass the transaction-scoped store so the entry commits
// or rolls back with the change it describes.
package audit

import (
	"context"
	"time"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/storage"
)

// Writer appends audit entries through a storage scope.
type Writer struct {
	store storage.Store
}

func NewWriter(store storage.Store) *Writer {
	return &Writer{store: store}
}

// Record appends one entry. The caller supplies the occurred-at instant so
// entries inside one transaction share a timestamp.
func (w *Writer) Record(ctx context.Context, e *v1alpha1.AuditEntry) error {
	return w.store.AppendAudit(ctx, e)
}

// Entry builds an audit entry for a labeler-initiated action.
func Entry(tenant, actorID, action, entityType, entityID string, at time.Time, metadata map[string]string) *v1alpha1.AuditEntry {
	return &v1alpha1.AuditEntry{
		Tenant:     tenant,
		ActorID:    actorID,
		ActorType:  v1alpha1.ActorLabeler,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		OccurredAt: at,
	}
}

// SystemEntry builds an audit entry for a background job action.
func SystemEntry(tenant, action, entityType, entityID string, at time.Time, metadata map[string]string) *v1alpha1.AuditEntry {
	return &v1alpha1.AuditEntry{
		Tenant:     tenant,
		ActorID:    "system",
		ActorType:  v1alpha1.ActorSystem,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		OccurredAt: at,
	}
}
