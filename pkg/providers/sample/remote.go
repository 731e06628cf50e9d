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

	"github.com/avast/retry-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/metrics"
)

// Client is the network transport behind the remote adapter; implementations
// are expected to honor the context deadline.
type Client interface {
	Fetch(ctx context.Context, tenant, id string) (*v1alpha1.SampleDTO, error)
	FetchBatch(ctx context.Context, tenant string, ids []string) ([]*v1alpha1.SampleDTO, error)
}

// RemoteOptions tunes the breaker and the fallback cache.
type RemoteOptions struct {
	// Name labels the breaker in telemetry.
	Name string
	// FailureThreshold trips the breaker after this many failures within
	// Window.
	FailureThreshold int
	Window           time.Duration
	// OpenFor is how long the breaker stays open before probing.
	OpenFor time.Duration
	// FallbackSize bounds the LRU serving reads while the breaker is open.
	FallbackSize int
	FetchTimeout time.Duration
	// OnOpen is invoked once per breaker trip.
	OnOpen func(name string)
}

func (o *RemoteOptions) withDefaults() RemoteOptions {
	out := *o
	if out.Name == "" {
		out.Name = "sample-provider"
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.Window <= 0 {
		out.Window = time.Minute
	}
	if out.OpenFor <= 0 {
		out.OpenFor = 30 * time.Second
	}
	if out.FallbackSize <= 0 {
		out.FallbackSize = 1024
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = DefaultFetchTimeout
	}
	return out
}

// Remote wraps a network client with a circuit breaker and a bounded LRU
// fallback. While the breaker is open, reads serve from the fallback; a
// fallback miss surfaces provider_unavailable. A not-found answer passes
// through unchanged and never counts against the breaker.
type Remote struct {
	client   Client
	breaker  *gobreaker.CircuitBreaker
	fallback *lru.Cache[string, *v1alpha1.SampleDTO]
	opts     RemoteOptions
}

func NewRemote(client Client, opts RemoteOptions) (*Remote, error) {
	opts = opts.withDefaults()
	fallback, err := lru.New[string, *v1alpha1.SampleDTO](opts.FallbackSize)
	if err != nil {
		return nil, err
	}
	r := &Remote{client: client, fallback: fallback, opts: opts}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     opts.Name,
		Interval: opts.Window,
		Timeout:  opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= uint32(opts.FailureThreshold)
		},
		// A missing sample is a definitive upstream answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.BreakerState.WithLabelValues(name).Set(1)
				if opts.OnOpen != nil {
					opts.OnOpen(name)
				}
			} else {
				metrics.BreakerState.WithLabelValues(name).Set(0)
			}
		},
	})
	return r, nil
}

func (r *Remote) Fetch(ctx context.Context, tenant, id string) (*v1alpha1.SampleDTO, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.fetchWithRetry(ctx, tenant, id)
	})
	if err != nil {
		if errors.IsNotFound(err) {
			metrics.ProviderRequests.WithLabelValues("remote", "not_found").Inc()
			return nil, err
		}
		if dto, ok := r.fallback.Get(cacheKey(tenant, id)); ok {
			metrics.ProviderRequests.WithLabelValues("remote", "fallback").Inc()
			logging.FromContext(ctx).With("sample-id", id).Debugf("serving sample from breaker fallback")
			return dto, nil
		}
		metrics.ProviderRequests.WithLabelValues("remote", "unavailable").Inc()
		return nil, errors.ErrProviderUnavailable
	}
	dto := result.(*v1alpha1.SampleDTO)
	r.fallback.Add(cacheKey(tenant, id), dto)
	metrics.ProviderRequests.WithLabelValues("remote", "ok").Inc()
	return dto, nil
}

func (r *Remote) FetchBatch(ctx context.Context, tenant string, ids []string) ([]*v1alpha1.SampleDTO, error) {
	out := make([]*v1alpha1.SampleDTO, 0, len(ids))
	for _, id := range ids {
		dto, err := r.Fetch(ctx, tenant, id)
		if err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

// fetchWithRetry retries transient failures within the per-call deadline.
// Not-found is permanent and returns immediately.
func (r *Remote) fetchWithRetry(ctx context.Context, tenant, id string) (*v1alpha1.SampleDTO, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()
	var dto *v1alpha1.SampleDTO
	err := retry.Do(
		func() error {
			var err error
			dto, err = r.client.Fetch(ctx, tenant, id)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.IsNotFound(err) }),
	)
	if err != nil {
		return nil, err
	}
	return dto, nil
}

func cacheKey(tenant, id string) string {
	return tenant + "/" + id
}
