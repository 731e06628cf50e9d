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

// Cohen computes Cohen's kappa for exactly two raters over parallel category
// sequences. Inputs must be equal-length with no missing values; any other
// shape is the caller's selection error.
func Cohen(rater1, rater2 []string) (float64, error) {
	if len(rater1) != len(rater2) {
		return 0, fmt.Errorf("rater sequences differ in length, %d vs %d", len(rater1), len(rater2))
	}
	n := len(rater1)
	if n == 0 {
		return 0, fmt.Errorf("no items to compare")
	}

	agree := 0
	marginal1 := map[string]int{}
	marginal2 := map[string]int{}
	for i := 0; i < n; i++ {
		if rater1[i] == rater2[i] {
			agree++
		}
		marginal1[rater1[i]]++
		marginal2[rater2[i]]++
	}
	po := float64(agree) / float64(n)

	pe := 0.0
	for cat, c1 := range marginal1 {
		pe += (float64(c1) / float64(n)) * (float64(marginal2[cat]) / float64(n))
	}

	// Complete observed agreement is perfect agreement regardless of the
	// chance term; this also covers the single-category degenerate case
	// where pe == 1.
	if po == 1 {
		return 1, nil
	}
	if pe == 1 {
		return 0, nil
	}
	return (po - pe) / (1 - pe), nil
}
