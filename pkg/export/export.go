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

// Package export streams submitted labels into CSV or JSONL artifacts. Rows
// come out in the storage order (sample, labeler, submitted_at), so the same
// storage state and request produce byte-identical artifacts. Labeler
// identities are replaced by pseudonyms and each row passes through the
// redaction mode before emission. The artifact is written to a temp file and
// renamed into place only after the last row; a manifest with the streamed
// SHA-256 lands next to it.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/acl"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/events"
	"github.com/anvil-project/anvil/pkg/export/manifest"
	"github.com/anvil-project/anvil/pkg/metrics"
	"github.com/anvil-project/anvil/pkg/redaction"
	"github.com/anvil-project/anvil/pkg/schema"
	"github.com/anvil-project/anvil/pkg/storage"
)

// chunkSize bounds each storage read while streaming.
const chunkSize = 1000

// Version stamps manifests; overridden at link time for releases.
var Version = "dev"

type Engine struct {
	store    storage.Store
	recorder events.Recorder
	clock    clock.Clock
	// salt feeds hash-policy redaction.
	salt []byte
}

func NewEngine(store storage.Store, recorder events.Recorder, clk clock.Clock, salt []byte) *Engine {
	return &Engine{store: store, recorder: recorder, clock: clk, salt: salt}
}

// Export runs one export for a reviewer of the queue and returns the written
// manifest.
func (e *Engine) Export(ctx context.Context, tenant, callerID string, req Request) (*manifest.Manifest, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.withDefaults()

	queue, err := e.store.GetQueue(ctx, tenant, req.QueueID)
	if err != nil {
		return nil, err
	}
	caller, err := e.store.FindLabeler(ctx, callerID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	if err := acl.Authorize(ctx, e.store, queue, caller, acl.ActionReview, now); err != nil {
		return nil, err
	}
	target, err := e.store.GetSchemaVersion(ctx, tenant, req.SchemaVersionID)
	if err != nil {
		return nil, err
	}
	versions, err := e.store.ListSchemaVersions(ctx, tenant, queue.ID)
	if err != nil {
		return nil, err
	}

	m, err := e.stream(ctx, tenant, req, target, versions)
	if err != nil {
		metrics.ExportDuration.WithLabelValues(string(req.Format), "error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	m.ExportID = manifest.NewExportID(now)
	m.QueueID = queue.ID
	m.SchemaVersionID = target.ID
	m.Format = string(req.Format)
	m.OutputPath = req.OutputPath
	m.ExportedAt = now.UTC()
	m.Parameters = manifest.Parameters{
		Limit:         req.Limit,
		Offset:        req.Offset,
		Filter:        req.SampleID,
		RedactionMode: string(req.RedactionMode),
	}
	m.AnvilVersion = Version
	if m.SchemaDefinitionHash, err = schema.DefinitionHash(target.Definition); err != nil {
		return nil, err
	}
	if err := m.Write(); err != nil {
		return nil, err
	}
	e.recorder.ExportCompleted(ctx, m)
	metrics.ExportDuration.WithLabelValues(string(req.Format), "completed").Observe(time.Since(start).Seconds())
	return m, nil
}

// stream writes the artifact and fills in row count and hash. The temp file
// is removed on any failure, including context cancellation mid-stream.
func (e *Engine) stream(ctx context.Context, tenant string, req Request, target *v1alpha1.SchemaVersion, versions []*v1alpha1.SchemaVersion) (*manifest.Manifest, error) {
	tmpPath := req.OutputPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp artifact, %w", err)
	}
	committed := false
	defer func() {
		file.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	rw, err := newRowWriter(req.Format, io.MultiWriter(file, hasher), target.Definition)
	if err != nil {
		return nil, err
	}

	redactor := redaction.NewRedactor(req.RedactionMode, e.salt)
	migrator := newMigrator(target, versions)
	pseudonyms := map[string]string{}
	sampleMeta := map[string]map[string]string{}
	rows := int64(0)
	offset := req.Offset
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		limit := chunkSize
		if req.Limit > 0 {
			remaining := req.Limit - int(rows)
			if remaining <= 0 {
				break
			}
			if remaining < limit {
				limit = remaining
			}
		}
		labels, err := e.store.ListLabels(ctx, tenant, storage.LabelFilter{
			QueueID:  req.QueueID,
			SampleID: req.SampleID,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			payload, err := migrator.toTarget(l)
			if err != nil {
				return nil, err
			}
			pseudonym, ok := pseudonyms[l.LabelerID]
			if !ok {
				labeler, err := e.store.GetLabeler(ctx, tenant, l.LabelerID)
				if err != nil {
					return nil, err
				}
				pseudonym = labeler.Pseudonym
				pseudonyms[l.LabelerID] = pseudonym
			}
			meta, ok := sampleMeta[l.SampleID]
			if !ok {
				ref, err := e.store.GetSampleRef(ctx, tenant, l.SampleID)
				if err != nil && !errors.IsNotFound(err) {
					return nil, err
				}
				// A registered-then-removed sample still exports its labels,
				// just without reference metadata.
				if ref != nil {
					meta = ref.Metadata
				}
				sampleMeta[l.SampleID] = meta
			}
			if err := rw.Write(exportRow{
				SampleID:    l.SampleID,
				Pseudonym:   pseudonym,
				Payload:     redactor.Apply(target.Definition, payload),
				SubmittedAt: l.SubmittedAt,
				Metadata:    meta,
			}); err != nil {
				return nil, err
			}
			rows++
			metrics.ExportRows.WithLabelValues(string(req.Format)).Inc()
		}
		if len(labels) < limit {
			break
		}
		offset += len(labels)
	}
	if err := rw.Flush(); err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("closing artifact, %w", err)
	}
	if err := os.Rename(tmpPath, req.OutputPath); err != nil {
		return nil, fmt.Errorf("committing artifact, %w", err)
	}
	committed = true
	logging.FromContext(ctx).With("output-path", req.OutputPath, "rows", rows).Debugf("export artifact committed")
	return &manifest.Manifest{
		RowCount:   rows,
		SHA256Hash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// migrator rewrites payloads stored under another schema version into the
// target version's shape by walking the declared transforms along the version
// chain.
type migrator struct {
	target *v1alpha1.SchemaVersion
	// byID and ordered index the queue's versions by id and version number.
	byID    map[string]*v1alpha1.SchemaVersion
	ordered []*v1alpha1.SchemaVersion
}

func newMigrator(target *v1alpha1.SchemaVersion, versions []*v1alpha1.SchemaVersion) *migrator {
	byID := map[string]*v1alpha1.SchemaVersion{}
	for _, sv := range versions {
		byID[sv.ID] = sv
	}
	return &migrator{target: target, byID: byID, ordered: versions}
}

func (m *migrator) toTarget(l *v1alpha1.Label) (v1alpha1.Payload, error) {
	if l.SchemaVersionID == m.target.ID {
		return l.Payload, nil
	}
	from, ok := m.byID[l.SchemaVersionID]
	if !ok {
		return nil, fmt.Errorf("label %s pins unknown schema version %s", l.ID, l.SchemaVersionID)
	}
	payload := l.Payload
	// Walk upward applying forward transforms, or downward applying backward
	// ones.
	for from.VersionNumber < m.target.VersionNumber {
		next := m.atNumber(from.VersionNumber + 1)
		t, err := m.transformOf(next)
		if err != nil {
			return nil, err
		}
		if payload, err = t.Forward(payload); err != nil {
			return nil, err
		}
		from = next
	}
	for from.VersionNumber > m.target.VersionNumber {
		t, err := m.transformOf(from)
		if err != nil {
			return nil, err
		}
		var err2 error
		if payload, err2 = t.Backward(payload); err2 != nil {
			return nil, err2
		}
		from = m.atNumber(from.VersionNumber - 1)
	}
	return payload, nil
}

func (m *migrator) atNumber(n int) *v1alpha1.SchemaVersion {
	for _, sv := range m.ordered {
		if sv.VersionNumber == n {
			return sv
		}
	}
	return nil
}

func (m *migrator) transformOf(sv *v1alpha1.SchemaVersion) (*schema.Transform, error) {
	if sv == nil || sv.TransformFromPrevious == nil {
		return nil, fmt.Errorf("no transform declared between adjacent schema versions")
	}
	return schema.NewTransform(*sv.TransformFromPrevious)
}
