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

package redaction

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Pseudonymizer derives stable, tenant-scoped surrogates for labeler
// external ids. For a fixed secret the derivation is a pure function; the
// tenant participates in the MAC so the same external id yields different
// pseudonyms in different tenants. Rotating the secret regenerates every
// pseudonym and breaks prior export lineage; it is an explicit operator
// action.
type Pseudonymizer struct {
	secret []byte

	mu   sync.RWMutex
	memo map[string]string
}

func NewPseudonymizer(secret []byte) *Pseudonymizer {
	return &Pseudonymizer{secret: secret, memo: map[string]string{}}
}

// Pseudonym returns "labeler_" plus the first 16 hex characters of
// HMAC-SHA256(secret, tenant || ":" || externalID). The memo cache is
// best-effort; the derivation never changes for a fixed secret.
func (p *Pseudonymizer) Pseudonym(tenant, externalID string) string {
	key := tenant + ":" + externalID
	p.mu.RLock()
	cached, ok := p.memo[key]
	p.mu.RUnlock()
	if ok {
		return cached
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(key))
	pseudonym := "labeler_" + hex.EncodeToString(mac.Sum(nil))[:16]
	p.mu.Lock()
	p.memo[key] = pseudonym
	p.mu.Unlock()
	return pseudonym
}
