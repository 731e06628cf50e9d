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

package agreement_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/agreement"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/test"
)

func selectField(name string) v1alpha1.Field {
	return v1alpha1.Field{Name: name, Type: v1alpha1.FieldTypeSelect, Options: []string{"a", "b"}}
}

func ratings(field v1alpha1.Field, bySample map[string]map[string]string) *agreement.FieldRatings {
	return &agreement.FieldRatings{Field: field, BySample: bySample}
}

var _ = Describe("ComputeField", func() {
	It("should pick Cohen's kappa for two complete raters", func() {
		result, err := agreement.ComputeField(ratings(selectField("sentiment"), map[string]map[string]string{
			"s1": {"r1": "a", "r2": "a"},
			"s2": {"r1": "a", "r2": "b"},
			"s3": {"r1": "b", "r2": "b"},
		}))
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Metric).To(Equal(v1alpha1.MetricCohen))
		Expect(result.NRaters).To(Equal(2))
		Expect(result.NSamples).To(Equal(3))
		Expect(result.NLabels).To(Equal(6))
		Expect(result.Flagged).To(BeFalse())
		Expect(result.PerSample).To(HaveLen(3))
		Expect(result.PerSample["s2"]).To(Equal(0.0))
	})
	It("should pick Fleiss' kappa for three or more complete raters", func() {
		result, err := agreement.ComputeField(ratings(selectField("sentiment"), map[string]map[string]string{
			"s1": {"r1": "a", "r2": "a", "r3": "a"},
			"s2": {"r1": "b", "r2": "b", "r3": "b"},
		}))
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Metric).To(Equal(v1alpha1.MetricFleiss))
		Expect(result.Value).To(Equal(1.0))
		Expect(result.Band).To(Equal(v1alpha1.BandNearPerfect))
	})
	It("should fall to Krippendorff's alpha for incomplete data", func() {
		result, err := agreement.ComputeField(ratings(selectField("sentiment"), map[string]map[string]string{
			"s1": {"r1": "a", "r2": "a", "r3": "a"},
			"s2": {"r1": "a", "r2": "b"},
		}))
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Metric).To(Equal(v1alpha1.MetricKrippendorff))
	})
	It("should flag the percent fallback for field types without a distance level", func() {
		result, err := agreement.ComputeField(ratings(v1alpha1.Field{Name: "notes", Type: v1alpha1.FieldTypeText}, map[string]map[string]string{
			"s1": {"r1": "fine", "r2": "fine", "r3": "fine"},
			"s2": {"r1": "fine", "r2": "bad"},
		}))
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Metric).To(Equal(v1alpha1.MetricPercent))
		Expect(result.Flagged).To(BeTrue())
		Expect(result.Value).To(BeNumerically("~", 0.5, 1e-9))
	})
	It("should exclude samples with a single rating and fail when none remain", func() {
		_, err := agreement.ComputeField(ratings(selectField("sentiment"), map[string]map[string]string{
			"s1": {"r1": "a"},
			"s2": {"r2": "b"},
		}))
		Expect(errors.IsInsufficientLabels(err)).To(BeTrue())
	})
})

var _ = Describe("BuildRatings", func() {
	It("should group payload values per field, skipping soft-deleted labels", func() {
		def := v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{"sentiment": selectField("sentiment")}}
		deleted := time.Now().UTC()
		labels := []*v1alpha1.Label{
			test.Label(test.LabelOptions{SampleID: "s1", LabelerID: "r1", Payload: v1alpha1.Payload{"sentiment": v1alpha1.StringValue("a")}}),
			test.Label(test.LabelOptions{SampleID: "s1", LabelerID: "r2", Payload: v1alpha1.Payload{"sentiment": v1alpha1.StringValue("b")}}),
		}
		gone := test.Label(test.LabelOptions{SampleID: "s1", LabelerID: "r3", Payload: v1alpha1.Payload{"sentiment": v1alpha1.StringValue("a")}})
		gone.DeletedAt = &deleted
		labels = append(labels, gone)

		out := agreement.BuildRatings(def, labels)
		Expect(out["sentiment"].BySample["s1"]).To(HaveLen(2))
		Expect(out["sentiment"].BySample["s1"]).ToNot(HaveKey("r3"))
	})
})

var _ = Describe("Accumulator", func() {
	It("should fold submissions and recompute per-sample agreement", func() {
		def := v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{"sentiment": selectField("sentiment")}}
		acc := agreement.NewAccumulator()
		acc.Observe(test.Label(test.LabelOptions{SampleID: "s1", LabelerID: "r1", Payload: v1alpha1.Payload{"sentiment": v1alpha1.StringValue("a")}}))
		Expect(acc.SampleResult("s1", def)).To(BeEmpty())

		acc.Observe(test.Label(test.LabelOptions{SampleID: "s1", LabelerID: "r2", Payload: v1alpha1.Payload{"sentiment": v1alpha1.StringValue("a")}}))
		results := acc.SampleResult("s1", def)
		Expect(results).To(HaveKey("sentiment"))
		Expect(results["sentiment"].Value).To(Equal(1.0))

		acc.Reset("s1")
		Expect(acc.SampleResult("s1", def)).To(BeNil())
	})
	It("should ignore fields the schema does not define", func() {
		def := v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{"sentiment": selectField("sentiment")}}
		acc := agreement.NewAccumulator()
		acc.Observe(test.Label(test.LabelOptions{SampleID: "s1", LabelerID: "r1", Payload: v1alpha1.Payload{"stale": v1alpha1.StringValue("a")}}))
		acc.Observe(test.Label(test.LabelOptions{SampleID: "s1", LabelerID: "r2", Payload: v1alpha1.Payload{"stale": v1alpha1.StringValue("a")}}))
		Expect(acc.SampleResult("s1", def)).To(BeEmpty())
	})
})
