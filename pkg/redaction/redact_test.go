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

package redaction_test

import (
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/redaction"
)

func textField(name string, pii v1alpha1.PIIClass, policy v1alpha1.RedactionPolicy) v1alpha1.Field {
	return v1alpha1.Field{
		Name: name,
		Type: v1alpha1.FieldTypeText,
		Metadata: v1alpha1.FieldMetadata{
			PII:             pii,
			RedactionPolicy: policy,
		},
	}
}

var _ = Describe("Redactor", func() {
	salt := []byte("test-salt")

	def := v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{
		"kept":      textField("kept", v1alpha1.PIINone, v1alpha1.RedactionPreserve),
		"dropped":   textField("dropped", v1alpha1.PIILikely, v1alpha1.RedactionStrip),
		"hashed":    textField("hashed", v1alpha1.PIIPossible, v1alpha1.RedactionHash),
		"truncated": textField("truncated", v1alpha1.PIIPossible, v1alpha1.RedactionTruncate),
		"scrubbed":  textField("scrubbed", v1alpha1.PIILikely, v1alpha1.RedactionRegexRedact),
	}}

	payload := func() v1alpha1.Payload {
		return v1alpha1.Payload{
			"kept":      v1alpha1.StringValue("fine"),
			"dropped":   v1alpha1.StringValue("secret"),
			"hashed":    v1alpha1.StringValue("alice"),
			"truncated": v1alpha1.StringValue(strings.Repeat("x", 150)),
			"scrubbed":  v1alpha1.StringValue("reach me at alice@example.com or 555-12-3456"),
		}
	}

	It("should pass everything through unchanged in the none mode", func() {
		out := redaction.NewRedactor(redaction.ModeNone, salt).Apply(def, payload())
		Expect(out).To(HaveLen(5))
		Expect(out["dropped"].CSVString()).To(Equal("secret"))
	})
	It("should apply each field's declared policy in the automatic mode", func() {
		out := redaction.NewRedactor(redaction.ModeAutomatic, salt).Apply(def, payload())

		Expect(out["kept"].CSVString()).To(Equal("fine"))
		Expect(out).ToNot(HaveKey("dropped"))
		Expect(out["hashed"].Str).To(MatchRegexp(`^[0-9a-f]{64}$`))
		Expect(out["truncated"].Str).To(HaveLen(100))
		Expect(out["scrubbed"].Str).ToNot(ContainSubstring("alice@example.com"))
		Expect(out["scrubbed"].Str).ToNot(ContainSubstring("555-12-3456"))
		Expect(out["scrubbed"].Str).To(ContainSubstring("[REDACTED]"))
	})
	It("should truncate on rune boundaries for multi-byte text", func() {
		in := payload()
		in["truncated"] = v1alpha1.StringValue(strings.Repeat("ü", 150))
		out := redaction.NewRedactor(redaction.ModeAutomatic, salt).Apply(def, in)

		runes := []rune(out["truncated"].Str)
		Expect(runes).To(HaveLen(redaction.DefaultTruncateLength))
		// Every rune survives whole; a byte-indexed cut would leave a
		// replacement character at the end.
		Expect(out["truncated"].Str).To(Equal(strings.Repeat("ü", redaction.DefaultTruncateLength)))
	})
	It("should hash deterministically for a fixed salt", func() {
		first := redaction.NewRedactor(redaction.ModeAutomatic, salt).Apply(def, payload())
		second := redaction.NewRedactor(redaction.ModeAutomatic, salt).Apply(def, payload())
		Expect(first["hashed"].Str).To(Equal(second["hashed"].Str))

		other := redaction.NewRedactor(redaction.ModeAutomatic, []byte("other-salt")).Apply(def, payload())
		Expect(other["hashed"].Str).ToNot(Equal(first["hashed"].Str))
	})
	It("should keep only PII-free fields in the aggressive mode", func() {
		out := redaction.NewRedactor(redaction.ModeAggressive, salt).Apply(def, payload())
		Expect(out).To(HaveLen(1))
		Expect(out).To(HaveKey("kept"))
	})
	It("should not mutate the input payload", func() {
		in := payload()
		redaction.NewRedactor(redaction.ModeAutomatic, salt).Apply(def, in)
		Expect(in["hashed"].CSVString()).To(Equal("alice"))
		Expect(in).To(HaveKey("dropped"))
	})
	It("should honor replacement patterns", func() {
		redactor := redaction.NewRedactor(redaction.ModeAutomatic, salt,
			redaction.WithPatterns([]*regexp.Regexp{regexp.MustCompile(`cod-\d+`)}))
		out := redactor.Apply(def, v1alpha1.Payload{"scrubbed": v1alpha1.StringValue("ticket cod-123 escalated")})
		Expect(out["scrubbed"].CSVString()).To(Equal("ticket [REDACTED] escalated"))
	})
})

var _ = Describe("Pseudonymizer", func() {
	It("should derive stable tenant-scoped pseudonyms", func() {
		p := redaction.NewPseudonymizer([]byte("secret"))

		first := p.Pseudonym("tenant-a", "alice@corp")
		Expect(first).To(HavePrefix("labeler_"))
		Expect(first).To(HaveLen(len("labeler_") + 16))
		Expect(p.Pseudonym("tenant-a", "alice@corp")).To(Equal(first))

		// The tenant participates in the derivation.
		Expect(p.Pseudonym("tenant-b", "alice@corp")).ToNot(Equal(first))
		// So does the secret.
		Expect(redaction.NewPseudonymizer([]byte("rotated")).Pseudonym("tenant-a", "alice@corp")).ToNot(Equal(first))
	})
})
