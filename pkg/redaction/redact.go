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

// Package redaction applies field-level PII policies to label payloads at
// export time and derives publication-safe labeler pseudonyms.
package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

// Mode selects how schema-declared redaction policies apply to an export.
type Mode string

const (
	// ModeNone ignores policies; trusted internal exports only. The manifest
	// records the decision.
	ModeNone Mode = "none"
	// ModeAutomatic applies each field's declared policy.
	ModeAutomatic Mode = "automatic"
	// ModeAggressive strips every field whose PII class is not none.
	ModeAggressive Mode = "aggressive"
)

// DefaultTruncateLength bounds truncated values when the field does not
// override it.
const DefaultTruncateLength = 100

// Default patterns for regex_redact: email, SSN, US-style phone, credit
// card.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b(?:\+?1[\s\-.]?)?\(?\d{3}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}\b`),
	regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
}

const redactedPlaceholder = "[REDACTED]"

// Redactor rewrites payload rows before emission.
type Redactor struct {
	mode Mode
	salt []byte
	// patterns override the default regex_redact set when non-empty.
	patterns []*regexp.Regexp
}

type Option func(*Redactor)

// WithPatterns replaces the default regex_redact pattern set.
func WithPatterns(patterns []*regexp.Regexp) Option {
	return func(r *Redactor) { r.patterns = patterns }
}

func NewRedactor(mode Mode, salt []byte, opts ...Option) *Redactor {
	r := &Redactor{mode: mode, salt: salt}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redactor) Mode() Mode { return r.mode }

// Apply returns the payload with each field's policy applied. Fields whose
// policy strips them are absent from the result. The input is not mutated.
func (r *Redactor) Apply(def v1alpha1.SchemaDefinition, payload v1alpha1.Payload) v1alpha1.Payload {
	if r.mode == ModeNone {
		return payload.Clone()
	}
	out := v1alpha1.Payload{}
	for name, value := range payload {
		field, known := def.Fields[name]
		if !known {
			out[name] = value
			continue
		}
		if r.mode == ModeAggressive {
			if field.Metadata.PII != v1alpha1.PIINone {
				continue
			}
			out[name] = value
			continue
		}
		redacted, keep := r.applyPolicy(field.Metadata.RedactionPolicy, value)
		if keep {
			out[name] = redacted
		}
	}
	return out
}

// ApplyField applies one field's declared policy to a single value; used by
// the retention sweeper to expire stored values in place.
func (r *Redactor) ApplyField(field v1alpha1.Field, value v1alpha1.Value) (v1alpha1.Value, bool) {
	return r.applyPolicy(field.Metadata.RedactionPolicy, value)
}

func (r *Redactor) applyPolicy(policy v1alpha1.RedactionPolicy, value v1alpha1.Value) (v1alpha1.Value, bool) {
	switch policy {
	case v1alpha1.RedactionStrip:
		return v1alpha1.Value{}, false
	case v1alpha1.RedactionTruncate:
		// Truncation counts runes so a multi-byte character is never split.
		if value.Kind == v1alpha1.ValueKindString {
			if runes := []rune(value.Str); len(runes) > DefaultTruncateLength {
				return v1alpha1.StringValue(string(runes[:DefaultTruncateLength])), true
			}
		}
		return value, true
	case v1alpha1.RedactionHash:
		sum := sha256.Sum256(append(append([]byte{}, r.salt...), []byte(value.CSVString())...))
		return v1alpha1.StringValue(hex.EncodeToString(sum[:])), true
	case v1alpha1.RedactionRegexRedact:
		if value.Kind != v1alpha1.ValueKindString {
			return value, true
		}
		patterns := r.patterns
		if len(patterns) == 0 {
			patterns = defaultPatterns
		}
		s := value.Str
		for _, re := range patterns {
			s = re.ReplaceAllString(s, redactedPlaceholder)
		}
		return v1alpha1.StringValue(s), true
	default:
		return value, true
	}
}
