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

import "time"

// AgreementMetricKind names the chance-corrected agreement measure used.
type AgreementMetricKind string

const (
	MetricCohen        AgreementMetricKind = "cohen"
	MetricFleiss       AgreementMetricKind = "fleiss"
	MetricKrippendorff AgreementMetricKind = "krippendorff"
	MetricPercent      AgreementMetricKind = "percent"
)

// AgreementBand is the qualitative interpretation of an agreement value.
type AgreementBand string

const (
	BandPoor        AgreementBand = "poor"
	BandSlight      AgreementBand = "slight"
	BandFair        AgreementBand = "fair"
	BandModerate    AgreementBand = "moderate"
	BandSubstantial AgreementBand = "substantial"
	BandNearPerfect AgreementBand = "near_perfect"
)

// AgreementMetric is a rebuildable cache row derived from stored labels.
// Dimension is the schema field the metric was computed over; empty for the
// whole payload.
type AgreementMetric struct {
	Tenant          string              `json:"tenant" db:"tenant"`
	QueueID         string              `json:"queue_id" db:"queue_id"`
	SampleID        string              `json:"sample_id" db:"sample_id"`
	Dimension       string              `json:"dimension,omitempty" db:"dimension"`
	SchemaVersionID string              `json:"schema_version_id" db:"schema_version_id"`
	Metric          AgreementMetricKind `json:"metric" db:"metric"`
	Value           float64             `json:"value" db:"value"`
	Band            AgreementBand       `json:"band" db:"band"`
	// Flagged marks values produced by the percent-agreement fallback.
	Flagged    bool      `json:"flagged,omitempty" db:"flagged"`
	NRaters    int       `json:"n_raters" db:"n_raters"`
	NLabels    int       `json:"n_labels" db:"n_labels"`
	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}
