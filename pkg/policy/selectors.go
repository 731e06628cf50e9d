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

package policy

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
)

// RoundRobin picks the oldest eligible sample by created_at, ties broken by
// sample id. The eligible set arrives in that order from storage, so the
// selection is its head.
type RoundRobin struct{}

func (RoundRobin) Select(ctx context.Context, labeler *v1alpha1.Labeler, eligible []*storage.EligibleSample) (*storage.EligibleSample, error) {
	if len(eligible) == 0 {
		return nil, errors.ErrNoAvailableWork
	}
	return eligible[0], nil
}

// Random picks uniformly over the eligible set using a seeded source so test
// runs reproduce.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Select(ctx context.Context, labeler *v1alpha1.Labeler, eligible []*storage.EligibleSample) (*storage.EligibleSample, error) {
	if len(eligible) == 0 {
		return nil, errors.ErrNoAvailableWork
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return eligible[r.rng.Intn(len(eligible))], nil
}

// WeightedExpertise restricts the eligible set to samples whose difficulty
// class the labeler's expertise permits, then picks randomly within the
// restriction, weighted by the labeler's expertise weight for the class.
// Selection runs for one labeler at a time, so the labeler's own in-progress
// count is the same for every candidate and cannot order them; instead the
// weights steer each labeler toward the difficulty tiers they are strongest
// in, and the per-labeler load cap bounds concurrent work independently of
// the selector.
type WeightedExpertise struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeightedExpertise(seed int64) *WeightedExpertise {
	return &WeightedExpertise{rng: rand.New(rand.NewSource(seed))}
}

func (w *WeightedExpertise) Select(ctx context.Context, labeler *v1alpha1.Labeler, eligible []*storage.EligibleSample) (*storage.EligibleSample, error) {
	permitted := lo.Filter(eligible, func(e *storage.EligibleSample, _ int) bool {
		return labeler.Permits(e.Ref.Difficulty())
	})
	if len(permitted) == 0 {
		return nil, errors.ErrNoAvailableWork
	}
	weights := make([]float64, len(permitted))
	total := 0.0
	for i, e := range permitted {
		weight := 1.0
		if len(labeler.ExpertiseWeights) > 0 {
			weight = labeler.ExpertiseWeights[e.Ref.Difficulty()]
		}
		weights[i] = weight
		total += weight
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	target := w.rng.Float64() * total
	for i, e := range permitted {
		target -= weights[i]
		if target < 0 {
			return e, nil
		}
	}
	return permitted[len(permitted)-1], nil
}

// Redundancy prefers under-sampled work: fewest existing labels first, ties
// broken by created_at then id. Storage has already excluded samples the
// labeler labeled when allow_same_labeler is false, so the selection here is
// a deterministic sort.
type Redundancy struct {
	AllowSameLabeler bool
}

func (r *Redundancy) Select(ctx context.Context, labeler *v1alpha1.Labeler, eligible []*storage.EligibleSample) (*storage.EligibleSample, error) {
	if len(eligible) == 0 {
		return nil, errors.ErrNoAvailableWork
	}
	sorted := append([]*storage.EligibleSample{}, eligible...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].LabelCount != sorted[j].LabelCount {
			return sorted[i].LabelCount < sorted[j].LabelCount
		}
		if !sorted[i].Ref.CreatedAt.Equal(sorted[j].Ref.CreatedAt) {
			return sorted[i].Ref.CreatedAt.Before(sorted[j].Ref.CreatedAt)
		}
		return sorted[i].Ref.ID < sorted[j].Ref.ID
	})
	return sorted[0], nil
}
