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

// Package schema validates label payloads against schema versions and
// migrates payloads between adjacent versions. Unknown payload keys are
// stripped rather than rejected; the tolerance is intentional so minor
// payload drift does not fork queue configurations.
package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
)

// Validate checks a payload against a schema definition and returns the
// normalized payload, with every value coerced to the variant its field type
// prescribes. Unknown keys are stripped and logged. On failure it returns a
// ValidationError listing the per-field failures in field-name order.
func Validate(ctx context.Context, def v1alpha1.SchemaDefinition, payload v1alpha1.Payload) (v1alpha1.Payload, error) {
	normalized := v1alpha1.Payload{}
	var fieldErrs []errors.FieldError

	unknown := []string{}
	for name := range payload {
		if _, ok := def.Fields[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		logging.FromContext(ctx).With("unknown-fields", unknown).Debugf("stripping unknown payload fields")
	}

	for _, name := range def.FieldNames() {
		field := def.Fields[name]
		value, present := payload[name]
		if !present {
			if field.Default != nil {
				normalized[name] = *field.Default
				continue
			}
			if field.Required {
				fieldErrs = append(fieldErrs, errors.FieldError{Field: name, Err: "required field is missing"})
			}
			continue
		}
		coerced, err := validateField(field, value)
		if err != nil {
			fieldErrs = append(fieldErrs, errors.FieldError{Field: name, Err: err.Error(), Provided: value.CSVString()})
			continue
		}
		normalized[name] = coerced
	}

	if len(fieldErrs) > 0 {
		return nil, errors.NewValidation(fieldErrs)
	}
	return normalized, nil
}

func validateField(field v1alpha1.Field, value v1alpha1.Value) (v1alpha1.Value, error) {
	switch field.Type {
	case v1alpha1.FieldTypeText:
		return validateText(field, value)
	case v1alpha1.FieldTypeSelect:
		return validateSelect(field, value)
	case v1alpha1.FieldTypeMultiSelect:
		return validateMultiSelect(field, value)
	case v1alpha1.FieldTypeRange:
		return validateRange(field, value)
	case v1alpha1.FieldTypeNumber:
		return validateNumber(value)
	case v1alpha1.FieldTypeBoolean:
		if value.Kind != v1alpha1.ValueKindBool {
			return value, fmt.Errorf("expected boolean, got %s", value.Kind)
		}
		return value, nil
	case v1alpha1.FieldTypeDate:
		return validateTemporal(value, "2006-01-02")
	case v1alpha1.FieldTypeDateTime:
		return validateTemporal(value, time.RFC3339)
	}
	return value, fmt.Errorf("unknown field type %q", field.Type)
}

func validateText(field v1alpha1.Field, value v1alpha1.Value) (v1alpha1.Value, error) {
	if value.Kind != v1alpha1.ValueKindString {
		return value, fmt.Errorf("expected string, got %s", value.Kind)
	}
	if field.MaxLength > 0 && len(value.Str) > field.MaxLength {
		return value, fmt.Errorf("exceeds max length %d", field.MaxLength)
	}
	if field.Pattern != "" {
		re, err := regexp.Compile(field.Pattern)
		if err != nil {
			return value, fmt.Errorf("invalid field pattern %q", field.Pattern)
		}
		if !re.MatchString(value.Str) {
			return value, fmt.Errorf("does not match pattern %q", field.Pattern)
		}
	}
	return value, nil
}

func validateSelect(field v1alpha1.Field, value v1alpha1.Value) (v1alpha1.Value, error) {
	if value.Kind != v1alpha1.ValueKindString {
		return value, fmt.Errorf("expected string, got %s", value.Kind)
	}
	for _, opt := range field.Options {
		if value.Str == opt {
			return value, nil
		}
	}
	return value, fmt.Errorf("not one of the allowed options")
}

func validateMultiSelect(field v1alpha1.Field, value v1alpha1.Value) (v1alpha1.Value, error) {
	if value.Kind != v1alpha1.ValueKindStringList {
		return value, fmt.Errorf("expected list of strings, got %s", value.Kind)
	}
	seen := map[string]bool{}
	for _, v := range value.List {
		if seen[v] {
			return value, fmt.Errorf("duplicate selection %q", v)
		}
		seen[v] = true
		found := false
		for _, opt := range field.Options {
			if v == opt {
				found = true
				break
			}
		}
		if !found {
			return value, fmt.Errorf("%q is not one of the allowed options", v)
		}
	}
	return value, nil
}

func validateRange(field v1alpha1.Field, value v1alpha1.Value) (v1alpha1.Value, error) {
	if value.Kind != v1alpha1.ValueKindInt {
		return value, fmt.Errorf("expected integer, got %s", value.Kind)
	}
	if field.Min != nil && float64(value.Int) < *field.Min {
		return value, fmt.Errorf("below minimum %g", *field.Min)
	}
	if field.Max != nil && float64(value.Int) > *field.Max {
		return value, fmt.Errorf("above maximum %g", *field.Max)
	}
	return value, nil
}

func validateNumber(value v1alpha1.Value) (v1alpha1.Value, error) {
	switch value.Kind {
	case v1alpha1.ValueKindFloat:
		if math.IsNaN(value.Float) || math.IsInf(value.Float, 0) {
			return value, fmt.Errorf("must be finite")
		}
		return value, nil
	case v1alpha1.ValueKindInt:
		// Integral numbers are acceptable for number fields; normalize to
		// the float variant.
		return v1alpha1.FloatValue(float64(value.Int)), nil
	}
	return value, fmt.Errorf("expected number, got %s", value.Kind)
}

func validateTemporal(value v1alpha1.Value, layout string) (v1alpha1.Value, error) {
	switch value.Kind {
	case v1alpha1.ValueKindString:
		if _, err := time.Parse(layout, value.Str); err != nil {
			return value, fmt.Errorf("not a valid ISO-8601 value")
		}
		return value, nil
	case v1alpha1.ValueKindTime:
		return v1alpha1.StringValue(value.Time.UTC().Format(layout)), nil
	}
	return value, fmt.Errorf("expected ISO-8601 string, got %s", value.Kind)
}

// DefinitionHash returns the SHA-256 of the canonical JSON encoding of a
// schema definition, for export lineage manifests. Map keys marshal in
// sorted order, so the hash is stable across processes.
func DefinitionHash(def v1alpha1.SchemaDefinition) (string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("encoding schema definition, %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
