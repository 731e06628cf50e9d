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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/agreement"
	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

var _ = Describe("Cohen", func() {
	It("should compute kappa for two raters", func() {
		// 10 items: 4 agree on yes, 3 agree on no, 3 disagree.
		// po = 0.7; marginals give pe = 0.5; kappa = 0.4.
		rater1 := []string{"yes", "yes", "yes", "yes", "no", "no", "no", "yes", "yes", "no"}
		rater2 := []string{"yes", "yes", "yes", "yes", "no", "no", "no", "no", "no", "yes"}
		kappa, err := agreement.Cohen(rater1, rater2)
		Expect(err).ToNot(HaveOccurred())
		Expect(kappa).To(BeNumerically("~", 0.4, 1e-9))
	})
	It("should return 1 for complete observed agreement", func() {
		kappa, err := agreement.Cohen([]string{"a", "b", "a"}, []string{"a", "b", "a"})
		Expect(err).ToNot(HaveOccurred())
		Expect(kappa).To(Equal(1.0))
	})
	It("should return 1 even when both raters use a single category", func() {
		kappa, err := agreement.Cohen([]string{"a", "a"}, []string{"a", "a"})
		Expect(err).ToNot(HaveOccurred())
		Expect(kappa).To(Equal(1.0))
	})
	It("should reject mismatched sequence lengths", func() {
		_, err := agreement.Cohen([]string{"a"}, []string{"a", "b"})
		Expect(err).To(HaveOccurred())
	})
	It("should reject empty sequences", func() {
		_, err := agreement.Cohen(nil, nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Fleiss", func() {
	It("should compute kappa for three raters", func() {
		// P-bar = 2/3, Pe-bar = 1/2, kappa = 1/3.
		items := map[string][]string{
			"s1": {"a", "a", "a"},
			"s2": {"a", "a", "b"},
			"s3": {"b", "b", "b"},
			"s4": {"a", "b", "b"},
		}
		kappa, err := agreement.Fleiss(items)
		Expect(err).ToNot(HaveOccurred())
		Expect(kappa).To(BeNumerically("~", 1.0/3.0, 1e-9))
	})
	It("should return 1 for unanimous items", func() {
		kappa, err := agreement.Fleiss(map[string][]string{
			"s1": {"a", "a", "a"},
			"s2": {"b", "b", "b"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(kappa).To(Equal(1.0))
	})
	It("should reject items with differing rater counts", func() {
		_, err := agreement.Fleiss(map[string][]string{
			"s1": {"a", "a", "a"},
			"s2": {"a", "b"},
		})
		Expect(err).To(HaveOccurred())
	})
	It("should reject fewer than two raters", func() {
		_, err := agreement.Fleiss(map[string][]string{"s1": {"a"}})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("FleissItemAgreement", func() {
	It("should report the share of agreeing rater pairs", func() {
		Expect(agreement.FleissItemAgreement([]string{"a", "a", "a"})).To(Equal(1.0))
		Expect(agreement.FleissItemAgreement([]string{"a", "a", "b"})).To(BeNumerically("~", 1.0/3.0, 1e-9))
		Expect(agreement.FleissItemAgreement([]string{"a", "b"})).To(Equal(0.0))
		Expect(agreement.FleissItemAgreement([]string{"a"})).To(Equal(0.0))
	})
})

var _ = Describe("Krippendorff", func() {
	It("should compute nominal alpha with uneven units", func() {
		// Do = 2, De = 18/5; alpha = 1 - 2/3.6.
		alpha, err := agreement.Krippendorff(map[string][]string{
			"u1": {"a", "a"},
			"u2": {"a", "b"},
			"u3": {"b", "b"},
		}, agreement.LevelNominal)
		Expect(err).ToNot(HaveOccurred())
		Expect(alpha).To(BeNumerically("~", 1.0-2.0/3.6, 1e-9))
	})
	It("should compute interval alpha over numeric categories", func() {
		// Do = 8, De = 72/5; alpha = 1 - 8/14.4.
		alpha, err := agreement.Krippendorff(map[string][]string{
			"u1": {"1", "1"},
			"u2": {"3", "3"},
			"u3": {"1", "3"},
		}, agreement.LevelInterval)
		Expect(err).ToNot(HaveOccurred())
		Expect(alpha).To(BeNumerically("~", 1.0-8.0/14.4, 1e-9))
	})
	It("should ignore units with a single rating", func() {
		alpha, err := agreement.Krippendorff(map[string][]string{
			"u1": {"a", "a"},
			"u2": {"a"},
			"u3": {"a", "a"},
		}, agreement.LevelNominal)
		Expect(err).ToNot(HaveOccurred())
		Expect(alpha).To(Equal(1.0))
	})
	It("should reject non-numeric categories at the interval level", func() {
		_, err := agreement.Krippendorff(map[string][]string{
			"u1": {"low", "low"},
			"u2": {"low", "high"},
		}, agreement.LevelInterval)
		Expect(err).To(HaveOccurred())
	})
	It("should reject fewer than two pairable values", func() {
		_, err := agreement.Krippendorff(map[string][]string{"u1": {"a"}}, agreement.LevelNominal)
		Expect(err).To(HaveOccurred())
	})
	It("should weight ordinal disagreement by rank distance", func() {
		// Two raters over five units on a 1..3 scale. Value totals are
		// n(1)=3, n(2)=3, n(3)=4. Ordinal distances square the cumulative
		// totals between ranks: d(1,2)=9, d(2,3)=12.25, d(1,3)=42.25.
		// Observed disagreement sums to 109, expected to 1470/9, so
		// alpha = 1 - 981/1470 = 163/490.
		units := map[string][]string{
			"u1": {"1", "1"},
			"u2": {"2", "2"},
			"u3": {"3", "3"},
			"u4": {"1", "3"},
			"u5": {"2", "3"},
		}
		alpha, err := agreement.Krippendorff(units, agreement.LevelOrdinal)
		Expect(err).ToNot(HaveOccurred())
		Expect(alpha).To(BeNumerically("~", 163.0/490.0, 1e-9))
	})
	It("should separate the ordinal and interval levels on the same data", func() {
		// Adjacent ranks cost less than distant ones at the ordinal level,
		// so the two weightings land on different alphas.
		units := map[string][]string{
			"u1": {"1", "1"},
			"u2": {"2", "2"},
			"u3": {"3", "3"},
			"u4": {"1", "3"},
			"u5": {"2", "3"},
		}
		ordinal, err := agreement.Krippendorff(units, agreement.LevelOrdinal)
		Expect(err).ToNot(HaveOccurred())
		interval, err := agreement.Krippendorff(units, agreement.LevelInterval)
		Expect(err).ToNot(HaveOccurred())
		Expect(interval).To(BeNumerically("~", 8.0/23.0, 1e-9))
		Expect(ordinal).ToNot(BeNumerically("~", interval, 1e-9))
	})
	It("should return 1 at the ordinal level when every value agrees", func() {
		alpha, err := agreement.Krippendorff(map[string][]string{
			"u1": {"2026-01-01", "2026-01-01"},
			"u2": {"2026-01-01", "2026-01-01"},
		}, agreement.LevelOrdinal)
		Expect(err).ToNot(HaveOccurred())
		Expect(alpha).To(Equal(1.0))
	})
})

var _ = Describe("Band", func() {
	It("should map values to qualitative bands", func() {
		Expect(agreement.Band(-0.1)).To(Equal(v1alpha1.BandPoor))
		Expect(agreement.Band(0.0)).To(Equal(v1alpha1.BandSlight))
		Expect(agreement.Band(0.20)).To(Equal(v1alpha1.BandSlight))
		Expect(agreement.Band(0.21)).To(Equal(v1alpha1.BandFair))
		Expect(agreement.Band(0.40)).To(Equal(v1alpha1.BandFair))
		Expect(agreement.Band(0.55)).To(Equal(v1alpha1.BandModerate))
		Expect(agreement.Band(0.75)).To(Equal(v1alpha1.BandSubstantial))
		Expect(agreement.Band(0.95)).To(Equal(v1alpha1.BandNearPerfect))
	})
})
