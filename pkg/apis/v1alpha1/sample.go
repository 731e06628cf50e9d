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

// SampleRef is Anvil's weak reference to an externally owned sample. Content
// is resolved through the sample provider; only the reference and the version
// tag observed at dispatch time are stored.
type SampleRef struct {
	ID         string            `json:"id" db:"id"`
	Tenant     string            `json:"tenant" db:"tenant"`
	QueueID    string            `json:"queue_id" db:"queue_id"`
	VersionTag string            `json:"version_tag" db:"version_tag"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// Difficulty returns the sample's difficulty class from metadata, defaulting
// to moderate.
func (s *SampleRef) Difficulty() DifficultyClass {
	if d, ok := s.Metadata["difficulty"]; ok {
		switch DifficultyClass(d) {
		case DifficultySimple, DifficultyModerate, DifficultyComplex:
			return DifficultyClass(d)
		}
	}
	return DifficultyModerate
}

// SampleDTO is the sample provider's resolved view of a sample.
type SampleDTO struct {
	ID        string            `json:"id"`
	Content   []byte            `json:"content"`
	Version   string            `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	AssetURLs []string          `json:"asset_urls,omitempty"`
}
