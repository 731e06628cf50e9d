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

import "fmt"

// Fleiss computes Fleiss' kappa for n raters over a set of items, each item
// rated by the same number of raters. items maps item id to the category
// each rater chose.
func Fleiss(items map[string][]string) (float64, error) {
	if len(items) == 0 {
		return 0, fmt.Errorf("no items to compare")
	}
	raters := -1
	for id, cats := range items {
		if raters == -1 {
			raters = len(cats)
		} else if len(cats) != raters {
			return 0, fmt.Errorf("item %q has %d ratings, expected %d", id, len(cats), raters)
		}
	}
	if raters < 2 {
		return 0, fmt.Errorf("need at least 2 raters, got %d", raters)
	}

	categoryTotals := map[string]int{}
	sumPi := 0.0
	for _, cats := range items {
		counts := map[string]int{}
		for _, c := range cats {
			counts[c]++
			categoryTotals[c]++
		}
		sum := 0
		for _, c := range counts {
			sum += c * c
		}
		sumPi += float64(sum-raters) / float64(raters*(raters-1))
	}
	pBar := sumPi / float64(len(items))

	total := float64(len(items) * raters)
	peBar := 0.0
	for _, c := range categoryTotals {
		p := float64(c) / total
		peBar += p * p
	}

	if pBar == 1 {
		return 1, nil
	}
	if peBar == 1 {
		return 0, nil
	}
	return (pBar - peBar) / (1 - peBar), nil
}

// FleissItemAgreement returns the per-item observed agreement P_i, the share
// of agreeing rater pairs on the item.
func FleissItemAgreement(cats []string) float64 {
	r := len(cats)
	if r < 2 {
		return 0
	}
	counts := map[string]int{}
	for _, c := range cats {
		counts[c]++
	}
	sum := 0
	for _, c := range counts {
		sum += c * c
	}
	return float64(sum-r) / float64(r*(r-1))
}
