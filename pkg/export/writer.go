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

package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

type exportRow struct {
	SampleID    string
	Pseudonym   string
	Payload     v1alpha1.Payload
	SubmittedAt time.Time
	// Metadata is the sample reference's opaque metadata; nil when the
	// reference is gone.
	Metadata map[string]string
}

type rowWriter interface {
	Write(row exportRow) error
	Flush() error
}

func newRowWriter(format Format, w io.Writer, def v1alpha1.SchemaDefinition) (rowWriter, error) {
	switch format {
	case FormatCSV:
		return newCSVWriter(w, def)
	case FormatJSONL:
		return &jsonlWriter{enc: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// csvWriter emits RFC-4180 rows with the header
// sample_id,labeler_id,<fields in name order>,submitted_at. Absent fields
// emit empty cells.
type csvWriter struct {
	w      *csv.Writer
	fields []string
}

func newCSVWriter(w io.Writer, def v1alpha1.SchemaDefinition) (*csvWriter, error) {
	cw := &csvWriter{w: csv.NewWriter(w), fields: def.FieldNames()}
	header := append([]string{"sample_id", "labeler_id"}, cw.fields...)
	header = append(header, "submitted_at")
	if err := cw.w.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header, %w", err)
	}
	return cw, nil
}

func (c *csvWriter) Write(row exportRow) error {
	record := make([]string, 0, len(c.fields)+3)
	record = append(record, row.SampleID, row.Pseudonym)
	for _, name := range c.fields {
		if v, ok := row.Payload[name]; ok {
			record = append(record, v.CSVString())
		} else {
			record = append(record, "")
		}
	}
	record = append(record, row.SubmittedAt.UTC().Format(time.RFC3339))
	return c.w.Write(record)
}

func (c *csvWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// jsonlWriter emits one JSON object per row; payload values render as their
// bare JSON forms.
type jsonlWriter struct {
	enc *json.Encoder
}

type jsonlRow struct {
	SampleID    string            `json:"sample_id"`
	LabelerID   string            `json:"labeler_id"`
	Payload     v1alpha1.Payload  `json:"payload"`
	SubmittedAt string            `json:"submitted_at"`
	Metadata    map[string]string `json:"metadata"`
}

func (j *jsonlWriter) Write(row exportRow) error {
	metadata := row.Metadata
	if metadata == nil {
		// The key is part of the row shape; absence renders as {}.
		metadata = map[string]string{}
	}
	return j.enc.Encode(jsonlRow{
		SampleID:    row.SampleID,
		LabelerID:   row.Pseudonym,
		Payload:     row.Payload,
		SubmittedAt: row.SubmittedAt.UTC().Format(time.RFC3339),
		Metadata:    metadata,
	})
}

func (j *jsonlWriter) Flush() error { return nil }
