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

// Package sample resolves sample content through the sample provider port.
// The core calls it before creating an assignment (to pin the observed
// version tag) and during export enrichment; it is never called inside a
// state-changing transaction.
package sample

import (
	"context"
	"time"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/storage"
)

// DefaultFetchTimeout bounds each provider call.
const DefaultFetchTimeout = 5 * time.Second

// Provider fetches sample content by id.
type Provider interface {
	Fetch(ctx context.Context, tenant, id string) (*v1alpha1.SampleDTO, error)
	FetchBatch(ctx context.Context, tenant string, ids []string) ([]*v1alpha1.SampleDTO, error)
}

// Direct resolves samples from the same store that holds the references.
type Direct struct {
	store storage.Store
}

func NewDirect(store storage.Store) *Direct {
	return &Direct{store: store}
}

func (d *Direct) Fetch(ctx context.Context, tenant, id string) (*v1alpha1.SampleDTO, error) {
	ref, err := d.store.GetSampleRef(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	return dtoFromRef(ref), nil
}

func (d *Direct) FetchBatch(ctx context.Context, tenant string, ids []string) ([]*v1alpha1.SampleDTO, error) {
	refs, err := d.store.ListSampleRefs(ctx, tenant, storage.SampleRefFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	out := make([]*v1alpha1.SampleDTO, 0, len(refs))
	for _, ref := range refs {
		out = append(out, dtoFromRef(ref))
	}
	return out, nil
}

func dtoFromRef(ref *v1alpha1.SampleRef) *v1alpha1.SampleDTO {
	md := make(map[string]string, len(ref.Metadata))
	for k, v := range ref.Metadata {
		md[k] = v
	}
	return &v1alpha1.SampleDTO{ID: ref.ID, Version: ref.VersionTag, Metadata: md}
}
