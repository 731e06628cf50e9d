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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/schema"
)

var _ = Describe("Transform", func() {
	It("should round-trip a payload through rename and map_values", func() {
		t, err := schema.NewTransform(v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
			{Kind: "rename", Field: "sentiment", NewName: "polarity"},
			{Kind: "map_values", Field: "polarity", ValueMap: map[string]string{"pos": "positive", "neg": "negative"}},
		}})
		Expect(err).ToNot(HaveOccurred())

		original := v1alpha1.Payload{"sentiment": v1alpha1.StringValue("pos")}
		forward, err := t.Forward(original)
		Expect(err).ToNot(HaveOccurred())
		Expect(forward).ToNot(HaveKey("sentiment"))
		Expect(forward["polarity"].Str).To(Equal("positive"))

		backward, err := t.Backward(forward)
		Expect(err).ToNot(HaveOccurred())
		Expect(backward.Equal(original)).To(BeTrue())
	})
	It("should not mutate the input payload", func() {
		t, err := schema.NewTransform(v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
			{Kind: "rename", Field: "a", NewName: "b"},
		}})
		Expect(err).ToNot(HaveOccurred())
		original := v1alpha1.Payload{"a": v1alpha1.StringValue("x")}
		_, err = t.Forward(original)
		Expect(err).ToNot(HaveOccurred())
		Expect(original).To(HaveKey("a"))
	})
	It("should pass fields untouched when the mapped field is absent", func() {
		t, err := schema.NewTransform(v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
			{Kind: "map_values", Field: "polarity", ValueMap: map[string]string{"pos": "positive"}},
		}})
		Expect(err).ToNot(HaveOccurred())
		out, err := t.Forward(v1alpha1.Payload{"other": v1alpha1.IntValue(1)})
		Expect(err).ToNot(HaveOccurred())
		Expect(out["other"].Int).To(BeEquivalentTo(1))
	})
	It("should leave unmapped values alone", func() {
		t, err := schema.NewTransform(v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
			{Kind: "map_values", Field: "sentiment", ValueMap: map[string]string{"pos": "positive"}},
		}})
		Expect(err).ToNot(HaveOccurred())
		out, err := t.Forward(v1alpha1.Payload{"sentiment": v1alpha1.StringValue("neutral")})
		Expect(err).ToNot(HaveOccurred())
		Expect(out["sentiment"].Str).To(Equal("neutral"))
	})
})

var _ = Describe("CheckInvertible", func() {
	It("should reject a value map that is not a bijection", func() {
		err := schema.CheckInvertible(v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
			{Kind: "map_values", Field: "sentiment", ValueMap: map[string]string{"pos": "positive", "good": "positive"}},
		}})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("bijection"))
	})
	It("should reject a rename without a new name", func() {
		err := schema.CheckInvertible(v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
			{Kind: "rename", Field: "sentiment"},
		}})
		Expect(err).To(HaveOccurred())
	})
	It("should reject an unknown op kind", func() {
		err := schema.CheckInvertible(v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
			{Kind: "drop", Field: "sentiment"},
		}})
		Expect(err).To(HaveOccurred())
	})
	It("should accept an empty spec", func() {
		Expect(schema.CheckInvertible(v1alpha1.TransformSpec{})).To(Succeed())
	})
})
