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

package sample

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/metrics"
)

const (
	// DefaultCacheTTL bounds staleness of the caching proxy; external update
	// notifications invalidate eagerly.
	DefaultCacheTTL = 5 * time.Minute

	cacheSweepInterval = time.Minute
)

// Cached is a TTL caching proxy over another provider.
type Cached struct {
	inner Provider
	cache *cache.Cache
}

func NewCached(inner Provider, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{inner: inner, cache: cache.New(ttl, cacheSweepInterval)}
}

func (c *Cached) Fetch(ctx context.Context, tenant, id string) (*v1alpha1.SampleDTO, error) {
	if dto, found := c.cache.Get(cacheKey(tenant, id)); found {
		metrics.ProviderRequests.WithLabelValues("cached", "hit").Inc()
		return dto.(*v1alpha1.SampleDTO), nil
	}
	dto, err := c.inner.Fetch(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(cacheKey(tenant, id), dto)
	metrics.ProviderRequests.WithLabelValues("cached", "miss").Inc()
	return dto, nil
}

func (c *Cached) FetchBatch(ctx context.Context, tenant string, ids []string) ([]*v1alpha1.SampleDTO, error) {
	out := make([]*v1alpha1.SampleDTO, 0, len(ids))
	misses := []string{}
	for _, id := range ids {
		if dto, found := c.cache.Get(cacheKey(tenant, id)); found {
			out = append(out, dto.(*v1alpha1.SampleDTO))
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) > 0 {
		fetched, err := c.inner.FetchBatch(ctx, tenant, misses)
		if err != nil {
			return nil, err
		}
		for _, dto := range fetched {
			c.cache.SetDefault(cacheKey(tenant, dto.ID), dto)
			out = append(out, dto)
		}
	}
	return out, nil
}

// Invalidate drops a cached entry on an external update notification.
func (c *Cached) Invalidate(tenant, id string) {
	c.cache.Delete(cacheKey(tenant, id))
}
