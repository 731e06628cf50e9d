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

package agreement

import (
	"sync"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

// Accumulator is the online per-sample tally updated on each label
// submission. It is best-effort, in-memory, and rebuildable from stored
// labels; the batch job overwrites whatever it derives.
type Accumulator struct {
	mu sync.RWMutex
	// ratings: sample id -> field name -> labeler id -> category.
	ratings map[string]map[string]map[string]string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{ratings: map[string]map[string]map[string]string{}}
}

// Observe folds one submitted label into the tally.
func (a *Accumulator) Observe(label *v1alpha1.Label) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bySample, ok := a.ratings[label.SampleID]
	if !ok {
		bySample = map[string]map[string]string{}
		a.ratings[label.SampleID] = bySample
	}
	for field, value := range label.Payload {
		byLabeler, ok := bySample[field]
		if !ok {
			byLabeler = map[string]string{}
			bySample[field] = byLabeler
		}
		byLabeler[label.LabelerID] = value.CSVString()
	}
}

// SampleResult recomputes the affected sample's per-field agreement from the
// tally. Fields with fewer than two raters on the sample are omitted.
func (a *Accumulator) SampleResult(sampleID string, def v1alpha1.SchemaDefinition) map[string]*Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bySample, ok := a.ratings[sampleID]
	if !ok {
		return nil
	}
	out := map[string]*Result{}
	for field, byLabeler := range bySample {
		f, known := def.Fields[field]
		if !known || len(byLabeler) < 2 {
			continue
		}
		fr := &FieldRatings{Field: f, BySample: map[string]map[string]string{sampleID: byLabeler}}
		if result, err := ComputeField(fr); err == nil {
			out[field] = result
		}
	}
	return out
}

// Reset discards the tally for a sample; the next batch recompute rebuilds
// it from storage.
func (a *Accumulator) Reset(sampleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.ratings, sampleID)
}
