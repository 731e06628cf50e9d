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

package v1alpha1

import (
	"sort"
	"time"
)

type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiSelect FieldType = "multiselect"
	FieldTypeRange       FieldType = "range"
	FieldTypeNumber      FieldType = "number"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeDate        FieldType = "date"
	FieldTypeDateTime    FieldType = "datetime"
)

type PIIClass string

const (
	PIINone     PIIClass = "none"
	PIIPossible PIIClass = "possible"
	PIILikely   PIIClass = "likely"
	PIIDefinite PIIClass = "definite"
)

type RedactionPolicy string

const (
	RedactionPreserve    RedactionPolicy = "preserve"
	RedactionStrip       RedactionPolicy = "strip"
	RedactionTruncate    RedactionPolicy = "truncate"
	RedactionHash        RedactionPolicy = "hash"
	RedactionRegexRedact RedactionPolicy = "regex_redact"
)

// FieldMetadata carries the privacy posture of a field. RetentionDays of zero
// means the field is retained indefinitely.
type FieldMetadata struct {
	PII             PIIClass        `json:"pii"`
	RetentionDays   int             `json:"retention_days,omitempty"`
	RedactionPolicy RedactionPolicy `json:"redaction_policy"`
}

// Field is one typed entry in a schema definition, identified by name.
type Field struct {
	Name      string        `json:"name"`
	Type      FieldType     `json:"type"`
	Required  bool          `json:"required,omitempty"`
	Options   []string      `json:"options,omitempty"`
	Min       *float64      `json:"min,omitempty"`
	Max       *float64      `json:"max,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	MaxLength int           `json:"max_length,omitempty"`
	Default   *Value        `json:"default,omitempty"`
	Metadata  FieldMetadata `json:"metadata"`
}

// SchemaDefinition is a set of fields keyed by name.
type SchemaDefinition struct {
	Fields map[string]Field `json:"fields"`
}

// FieldNames returns the defined field names in lexicographic order.
func (d SchemaDefinition) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaVersion is one immutable-once-frozen revision of a queue's schema.
// Version numbers are sequential per queue. The first label written against a
// version freezes it.
type SchemaVersion struct {
	ID            string           `json:"id" db:"id"`
	Tenant        string           `json:"tenant" db:"tenant"`
	QueueID       string           `json:"queue_id" db:"queue_id"`
	VersionNumber int              `json:"version_number" db:"version_number"`
	Definition    SchemaDefinition `json:"definition" db:"definition"`
	// TransformFromPrevious rewrites payloads between this version and its
	// predecessor; nil when the version was authored from scratch.
	TransformFromPrevious *TransformSpec `json:"transform_from_previous,omitempty" db:"transform_from_previous"`
	FrozenAt              *time.Time     `json:"frozen_at,omitempty" db:"frozen_at"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
}

// Frozen reports whether the version has been made immutable.
func (sv *SchemaVersion) Frozen() bool {
	return sv.FrozenAt != nil
}

// TransformOp is one reversible field rewrite applied in declaration order by
// the forward direction and in reverse order, inverted, by the backward
// direction.
type TransformOp struct {
	// Kind is one of rename, map_values.
	Kind string `json:"kind"`
	// Field the op applies to (the old name for rename).
	Field string `json:"field"`
	// NewName for rename ops.
	NewName string `json:"new_name,omitempty"`
	// ValueMap for map_values ops; must be a bijection.
	ValueMap map[string]string `json:"value_map,omitempty"`
}

// TransformSpec is a declarative, invertible payload migration between two
// adjacent schema versions.
type TransformSpec struct {
	Ops []TransformOp `json:"ops"`
}
