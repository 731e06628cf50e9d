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
	"fmt"
	"sort"
	"strconv"
)

// Level is the measurement level Krippendorff's alpha weighs disagreements
// at.
type Level string

const (
	LevelNominal  Level = "nominal"
	LevelInterval Level = "interval"
	LevelOrdinal  Level = "ordinal"
)

// Krippendorff computes Krippendorff's alpha over units with two or more
// ratings each; units with fewer contribute nothing and missing values are
// simply absent. units maps unit id to the category values assigned by its
// raters. For the interval level category strings must parse as numbers; for
// the ordinal level categories rank in lexicographic order unless they parse
// numerically, in which case numeric order applies.
func Krippendorff(units map[string][]string, level Level) (float64, error) {
	// Coincidence matrix over pairable values.
	coincidence := map[[2]string]float64{}
	totals := map[string]float64{}
	n := 0.0
	for _, values := range units {
		m := len(values)
		if m < 2 {
			continue
		}
		for i, v := range values {
			totals[v]++
			n++
			for j, w := range values {
				if i == j {
					continue
				}
				coincidence[[2]string{v, w}] += 1.0 / float64(m-1)
			}
		}
	}
	if n < 2 {
		return 0, fmt.Errorf("fewer than two pairable values")
	}

	dist, err := distanceFn(totals, level)
	if err != nil {
		return 0, err
	}

	observed := 0.0
	for pair, count := range coincidence {
		observed += count * dist(pair[0], pair[1])
	}
	expected := 0.0
	for c, nc := range totals {
		for k, nk := range totals {
			if c == k {
				continue
			}
			expected += nc * nk * dist(c, k)
		}
	}
	expected /= n - 1

	if expected == 0 {
		// No expected disagreement: every value identical.
		if observed == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - observed/expected, nil
}

// distanceFn builds the squared difference function for the level, closing
// over the coincidence marginals the ordinal metric needs.
func distanceFn(totals map[string]float64, level Level) (func(a, b string) float64, error) {
	switch level {
	case LevelNominal:
		return func(a, b string) float64 {
			if a == b {
				return 0
			}
			return 1
		}, nil
	case LevelInterval:
		parsed := map[string]float64{}
		for c := range totals {
			f, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return nil, fmt.Errorf("interval level requires numeric categories, got %q", c)
			}
			parsed[c] = f
		}
		return func(a, b string) float64 {
			d := parsed[a] - parsed[b]
			return d * d
		}, nil
	case LevelOrdinal:
		ranked := rankCategories(totals)
		index := map[string]int{}
		for i, c := range ranked {
			index[c] = i
		}
		return func(a, b string) float64 {
			ia, ib := index[a], index[b]
			if ia > ib {
				ia, ib = ib, ia
			}
			// Sum of the marginals of every category between a and b,
			// counting the endpoints at half weight.
			sum := 0.0
			for g := ia; g <= ib; g++ {
				sum += totals[ranked[g]]
			}
			sum -= (totals[a] + totals[b]) / 2
			return sum * sum
		}, nil
	}
	return nil, fmt.Errorf("unknown level %q", level)
}

// rankCategories orders the observed categories: numerically when every
// category parses as a number, lexicographically otherwise. Date and
// datetime values are ISO-8601, whose lexicographic order is chronological.
func rankCategories(totals map[string]float64) []string {
	cats := make([]string, 0, len(totals))
	for c := range totals {
		cats = append(cats, c)
	}
	numeric := map[string]float64{}
	allNumeric := true
	for _, c := range cats {
		f, err := strconv.ParseFloat(c, 64)
		if err != nil {
			allNumeric = false
			break
		}
		numeric[c] = f
	}
	if allNumeric {
		sort.Slice(cats, func(i, j int) bool { return numeric[cats[i]] < numeric[cats[j]] })
	} else {
		sort.Strings(cats)
	}
	return cats
}
