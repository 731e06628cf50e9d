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
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/anvil-project/anvil/pkg/redaction"
)

// Format names an export artifact encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

var validate = validator.New()

// Request describes one export run. SchemaVersionID pins the version the rows
// are emitted in; labels stored under other versions are migrated through the
// declared transforms.
type Request struct {
	QueueID         string `validate:"required"`
	SchemaVersionID string `validate:"required"`
	OutputPath      string `validate:"required"`
	Format          Format `validate:"required,oneof=csv jsonl"`
	// RedactionMode defaults to automatic.
	RedactionMode redaction.Mode `validate:"omitempty,oneof=none automatic aggressive"`
	// SampleID restricts the export to one sample.
	SampleID string
	Limit    int `validate:"min=0"`
	Offset   int `validate:"min=0"`
}

func (r *Request) withDefaults() Request {
	out := *r
	if out.RedactionMode == "" {
		out.RedactionMode = redaction.ModeAutomatic
	}
	return out
}

// Validate checks the request's structural constraints.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("validating export request, %w", err)
	}
	return nil
}
