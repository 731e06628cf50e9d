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

package schema_test

import (
	"github.com/samber/lo"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/schema"
)

var _ = Describe("Validate", func() {
	var def v1alpha1.SchemaDefinition

	BeforeEach(func() {
		def = v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{
			"sentiment": {
				Name:     "sentiment",
				Type:     v1alpha1.FieldTypeSelect,
				Required: true,
				Options:  []string{"positive", "negative", "neutral"},
			},
			"confidence": {
				Name: "confidence",
				Type: v1alpha1.FieldTypeRange,
				Min:  lo.ToPtr(1.0),
				Max:  lo.ToPtr(5.0),
			},
			"notes": {
				Name:      "notes",
				Type:      v1alpha1.FieldTypeText,
				MaxLength: 10,
			},
		}}
	})

	It("should accept a valid payload", func() {
		normalized, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment":  v1alpha1.StringValue("positive"),
			"confidence": v1alpha1.IntValue(3),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(normalized).To(HaveLen(2))
		Expect(normalized["sentiment"].Str).To(Equal("positive"))
	})
	It("should strip unknown payload keys", func() {
		normalized, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("neutral"),
			"typo":      v1alpha1.StringValue("ignored"),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(normalized).ToNot(HaveKey("typo"))
	})
	It("should fail when a required field is missing", func() {
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{})
		Expect(errors.IsValidation(err)).To(BeTrue())
		fields := errors.ValidationFields(err)
		Expect(fields).To(HaveLen(1))
		Expect(fields[0].Field).To(Equal("sentiment"))
	})
	It("should apply a declared default for an absent field", func() {
		def.Fields["confidence"] = v1alpha1.Field{
			Name:    "confidence",
			Type:    v1alpha1.FieldTypeRange,
			Default: lo.ToPtr(v1alpha1.IntValue(3)),
		}
		normalized, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("negative"),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(normalized["confidence"].Int).To(BeEquivalentTo(3))
	})
	It("should reject a select value outside the options", func() {
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("ambivalent"),
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should reject a range value outside the bounds", func() {
		for _, out := range []int64{0, 6} {
			_, err := schema.Validate(ctx, def, v1alpha1.Payload{
				"sentiment":  v1alpha1.StringValue("positive"),
				"confidence": v1alpha1.IntValue(out),
			})
			Expect(errors.IsValidation(err)).To(BeTrue())
		}
	})
	It("should reject text beyond the max length", func() {
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("positive"),
			"notes":     v1alpha1.StringValue("this is far too long"),
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should enforce a text pattern when declared", func() {
		def.Fields["notes"] = v1alpha1.Field{Name: "notes", Type: v1alpha1.FieldTypeText, Pattern: `^[a-z]+$`}
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("positive"),
			"notes":     v1alpha1.StringValue("UPPER"),
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should normalize integral numbers to the float variant", func() {
		def.Fields["score"] = v1alpha1.Field{Name: "score", Type: v1alpha1.FieldTypeNumber}
		normalized, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("positive"),
			"score":     v1alpha1.IntValue(7),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(normalized["score"].Kind).To(Equal(v1alpha1.ValueKindFloat))
		Expect(normalized["score"].Float).To(Equal(7.0))
	})
	It("should reject a non-boolean for a boolean field", func() {
		def.Fields["verified"] = v1alpha1.Field{Name: "verified", Type: v1alpha1.FieldTypeBoolean}
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("positive"),
			"verified":  v1alpha1.StringValue("yes"),
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should reject duplicate multiselect values", func() {
		def.Fields["tags"] = v1alpha1.Field{Name: "tags", Type: v1alpha1.FieldTypeMultiSelect, Options: []string{"a", "b"}}
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("positive"),
			"tags":      v1alpha1.StringListValue([]string{"a", "a"}),
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should validate ISO-8601 dates", func() {
		def.Fields["reviewed"] = v1alpha1.Field{Name: "reviewed", Type: v1alpha1.FieldTypeDate}
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("positive"),
			"reviewed":  v1alpha1.StringValue("2026-08-24"),
		})
		Expect(err).ToNot(HaveOccurred())
		_, err = schema.Validate(ctx, def, v1alpha1.Payload{
			"sentiment": v1alpha1.StringValue("positive"),
			"reviewed":  v1alpha1.StringValue("24/08/2026"),
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should aggregate per-field failures in field-name order", func() {
		_, err := schema.Validate(ctx, def, v1alpha1.Payload{
			"confidence": v1alpha1.IntValue(9),
			"notes":      v1alpha1.StringValue("this is far too long"),
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
		fields := errors.ValidationFields(err)
		Expect(lo.Map(fields, func(f errors.FieldError, _ int) string { return f.Field })).
			To(Equal([]string{"confidence", "notes", "sentiment"}))
	})
})

var _ = Describe("DefinitionHash", func() {
	It("should be stable across calls and sensitive to changes", func() {
		def := v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{
			"sentiment": {Name: "sentiment", Type: v1alpha1.FieldTypeSelect, Options: []string{"positive", "negative"}},
		}}
		h1, err := schema.DefinitionHash(def)
		Expect(err).ToNot(HaveOccurred())
		h2, err := schema.DefinitionHash(def)
		Expect(err).ToNot(HaveOccurred())
		Expect(h1).To(Equal(h2))
		Expect(h1).To(HaveLen(64))

		def.Fields["sentiment"] = v1alpha1.Field{Name: "sentiment", Type: v1alpha1.FieldTypeSelect, Options: []string{"positive"}}
		h3, err := schema.DefinitionHash(def)
		Expect(err).ToNot(HaveOccurred())
		Expect(h3).ToNot(Equal(h1))
	})
})
