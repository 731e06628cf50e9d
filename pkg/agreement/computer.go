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

// Package agreement measures inter-rater reliability over submitted labels.
// The selection rule per field: exactly two raters with complete data use
// Cohen's kappa; three or more with complete data use Fleiss' kappa; missing
// values or mixed rater counts fall to Krippendorff's alpha with a distance
// level chosen by field type; anything else falls back to flagged percent
// agreement.
package agreement

import (
	"sort"

	"github.com/samber/lo"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
)

// Result is the outcome of one per-field computation.
type Result struct {
	Metric v1alpha1.AgreementMetricKind
	Value  float64
	Band   v1alpha1.AgreementBand
	// Flagged marks the percent-agreement fallback.
	Flagged  bool
	NRaters  int
	NSamples int
	NLabels  int
	// PerSample is the observed agreement contributed by each sample with
	// at least two ratings.
	PerSample map[string]float64
}

// Band maps an agreement value to its qualitative interpretation.
func Band(value float64) v1alpha1.AgreementBand {
	switch {
	case value < 0:
		return v1alpha1.BandPoor
	case value <= 0.20:
		return v1alpha1.BandSlight
	case value <= 0.40:
		return v1alpha1.BandFair
	case value <= 0.60:
		return v1alpha1.BandModerate
	case value <= 0.80:
		return v1alpha1.BandSubstantial
	default:
		return v1alpha1.BandNearPerfect
	}
}

// FieldRatings is the reliability data for one schema field: per sample, the
// category value each labeler assigned, encoded canonically as strings.
type FieldRatings struct {
	Field v1alpha1.Field
	// BySample maps sample id to labeler id to category.
	BySample map[string]map[string]string
}

// BuildRatings groups labels into per-field reliability data. Values encode
// through their CSV rendering, which is canonical per value kind.
func BuildRatings(def v1alpha1.SchemaDefinition, labels []*v1alpha1.Label) map[string]*FieldRatings {
	out := map[string]*FieldRatings{}
	for _, name := range def.FieldNames() {
		out[name] = &FieldRatings{Field: def.Fields[name], BySample: map[string]map[string]string{}}
	}
	for _, l := range labels {
		if l.DeletedAt != nil {
			continue
		}
		for name, fr := range out {
			v, ok := l.Payload[name]
			if !ok {
				continue
			}
			if fr.BySample[l.SampleID] == nil {
				fr.BySample[l.SampleID] = map[string]string{}
			}
			fr.BySample[l.SampleID][l.LabelerID] = v.CSVString()
		}
	}
	return out
}

// levelFor maps a field type to the Krippendorff distance level.
func levelFor(t v1alpha1.FieldType) (Level, bool) {
	switch t {
	case v1alpha1.FieldTypeSelect, v1alpha1.FieldTypeBoolean, v1alpha1.FieldTypeMultiSelect:
		return LevelNominal, true
	case v1alpha1.FieldTypeRange, v1alpha1.FieldTypeNumber:
		return LevelInterval, true
	case v1alpha1.FieldTypeDate, v1alpha1.FieldTypeDateTime:
		return LevelOrdinal, true
	}
	return LevelNominal, false
}

// ComputeField applies the selection rule to one field's ratings. Samples
// with fewer than two ratings are excluded; if none remain the computation
// fails with insufficient_labels.
func ComputeField(fr *FieldRatings) (*Result, error) {
	usable := map[string]map[string]string{}
	raterSet := map[string]bool{}
	nLabels := 0
	for sample, byLabeler := range fr.BySample {
		if len(byLabeler) < 2 {
			continue
		}
		usable[sample] = byLabeler
		for labeler := range byLabeler {
			raterSet[labeler] = true
		}
		nLabels += len(byLabeler)
	}
	if len(usable) == 0 {
		return nil, errors.ErrInsufficientLabels
	}

	raters := lo.Keys(raterSet)
	sort.Strings(raters)

	perSample := map[string]float64{}
	for sample, byLabeler := range usable {
		perSample[sample] = FleissItemAgreement(lo.Values(byLabeler))
	}

	result := &Result{
		NRaters:   len(raters),
		NSamples:  len(usable),
		NLabels:   nLabels,
		PerSample: perSample,
	}

	complete := isComplete(usable, raters)
	switch {
	case complete && len(raters) == 2:
		seq1, seq2 := pairSequences(usable, raters[0], raters[1])
		v, err := Cohen(seq1, seq2)
		if err != nil {
			return fallbackPercent(result)
		}
		result.Metric, result.Value = v1alpha1.MetricCohen, v
	case complete && len(raters) >= 3:
		items := map[string][]string{}
		for sample, byLabeler := range usable {
			items[sample] = orderedValues(byLabeler, raters)
		}
		v, err := Fleiss(items)
		if err != nil {
			return fallbackPercent(result)
		}
		result.Metric, result.Value = v1alpha1.MetricFleiss, v
	default:
		level, ok := levelFor(fr.Field.Type)
		if !ok {
			return fallbackPercent(result)
		}
		units := map[string][]string{}
		for sample, byLabeler := range usable {
			units[sample] = lo.Values(byLabeler)
		}
		v, err := Krippendorff(units, level)
		if err != nil {
			return fallbackPercent(result)
		}
		result.Metric, result.Value = v1alpha1.MetricKrippendorff, v
	}
	result.Band = Band(result.Value)
	return result, nil
}

// fallbackPercent fills the result with flagged mean per-sample agreement.
func fallbackPercent(result *Result) (*Result, error) {
	sum := 0.0
	for _, v := range result.PerSample {
		sum += v
	}
	result.Metric = v1alpha1.MetricPercent
	result.Value = sum / float64(len(result.PerSample))
	result.Band = Band(result.Value)
	result.Flagged = true
	return result, nil
}

// isComplete reports whether every usable sample was rated by every rater.
func isComplete(usable map[string]map[string]string, raters []string) bool {
	for _, byLabeler := range usable {
		if len(byLabeler) != len(raters) {
			return false
		}
		for _, r := range raters {
			if _, ok := byLabeler[r]; !ok {
				return false
			}
		}
	}
	return true
}

func pairSequences(usable map[string]map[string]string, rater1, rater2 string) ([]string, []string) {
	samples := lo.Keys(usable)
	sort.Strings(samples)
	seq1 := make([]string, 0, len(samples))
	seq2 := make([]string, 0, len(samples))
	for _, s := range samples {
		seq1 = append(seq1, usable[s][rater1])
		seq2 = append(seq2, usable[s][rater2])
	}
	return seq1, seq2
}

func orderedValues(byLabeler map[string]string, raters []string) []string {
	out := make([]string, 0, len(byLabeler))
	for _, r := range raters {
		if v, ok := byLabeler[r]; ok {
			out = append(out, v)
		}
	}
	return out
}
