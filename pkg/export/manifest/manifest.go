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

// Package manifest defines the sidecar document written next to every export
// artifact. It lives in its own package so both the export engine and the
// event sinks can reference it without an import cycle.
package manifest

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// Suffix is appended to the artifact path to derive the manifest path.
const Suffix = ".manifest.json"

// Parameters echoes back the request knobs so a consumer can reproduce the
// exact artifact.
type Parameters struct {
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
	Filter        string `json:"filter,omitempty"`
	RedactionMode string `json:"redaction_mode"`
}

// Manifest describes one completed export.
type Manifest struct {
	ExportID        string     `json:"export_id"`
	QueueID         string     `json:"queue_id"`
	SchemaVersionID string     `json:"schema_version_id"`
	SampleVersion   string     `json:"sample_version,omitempty"`
	Format          string     `json:"format"`
	OutputPath      string     `json:"output_path"`
	RowCount        int64      `json:"row_count"`
	SHA256Hash      string     `json:"sha256_hash"`
	ExportedAt      time.Time  `json:"exported_at"`
	Parameters      Parameters `json:"parameters"`
	AnvilVersion    string     `json:"anvil_version"`
	// SchemaDefinitionHash is the 64-hex SHA-256 of the canonical schema
	// definition the rows were validated against.
	SchemaDefinitionHash string `json:"schema_definition_hash"`
}

// NewExportID returns a fresh "exp_"-prefixed ULID. IDs generated at
// monotonically increasing instants sort chronologically.
func NewExportID(now time.Time) string {
	return fmt.Sprintf("exp_%s", ulid.MustNew(ulid.Timestamp(now.UTC()), rand.Reader).String())
}

// Path derives the manifest path for an artifact path.
func Path(outputPath string) string {
	return outputPath + Suffix
}

// Write persists the manifest next to its artifact, pretty-printed with a
// trailing newline.
func (m *Manifest) Write() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest, %w", err)
	}
	if err := os.WriteFile(Path(m.OutputPath), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest, %w", err)
	}
	return nil
}

// Read loads a previously written manifest.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest, %w", err)
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding manifest, %w", err)
	}
	return m, nil
}
