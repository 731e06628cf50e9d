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

// Package operator assembles the storage backend, the sample provider chain,
// the coordinator, the export engine, and the background controllers from
// parsed options, and runs them until the context is cancelled.
package operator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"

	"github.com/anvil-project/anvil/pkg/controllers"
	"github.com/anvil-project/anvil/pkg/controllers/agreement"
	"github.com/anvil-project/anvil/pkg/controllers/reclaim"
	"github.com/anvil-project/anvil/pkg/controllers/retention"
	"github.com/anvil-project/anvil/pkg/coordinator"
	"github.com/anvil-project/anvil/pkg/events"
	"github.com/anvil-project/anvil/pkg/export"
	"github.com/anvil-project/anvil/pkg/operator/options"
	"github.com/anvil-project/anvil/pkg/providers/sample"
	"github.com/anvil-project/anvil/pkg/redaction"
	"github.com/anvil-project/anvil/pkg/storage"
	"github.com/anvil-project/anvil/pkg/storage/inmemory"
	"github.com/anvil-project/anvil/pkg/storage/postgres"
)

type Operator struct {
	Options       *options.Options
	Store         storage.Store
	Provider      sample.Provider
	Recorder      events.Recorder
	Pseudonymizer *redaction.Pseudonymizer
	Coordinator   *coordinator.Coordinator
	Exporter      *export.Engine
	Runner        *controllers.Runner

	close func() error
}

// NewOperator wires every component; it fails fast on a bad storage
// connection rather than retrying.
func NewOperator(ctx context.Context, opts *options.Options) (*Operator, error) {
	op := &Operator{Options: opts, close: func() error { return nil }}

	switch opts.GetStorageBackend() {
	case options.BackendPostgres:
		store, err := postgres.Open(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store, %w", err)
		}
		op.Store = store
		op.close = store.Close
	default:
		op.Store = inmemory.NewStore()
	}

	op.Recorder = events.NewDedupeRecorder(events.NewRecorder())

	provider, err := op.buildProvider(ctx)
	if err != nil {
		return nil, err
	}
	op.Provider = provider

	clk := clock.RealClock{}
	op.Pseudonymizer = redaction.NewPseudonymizer([]byte(opts.PseudonymSecret))
	op.Coordinator = coordinator.NewCoordinator(op.Store, op.Provider, op.Recorder, op.Pseudonymizer, clk)
	op.Exporter = export.NewEngine(op.Store, op.Recorder, clk, []byte(opts.RedactionSalt))

	redactor := redaction.NewRedactor(redaction.ModeAutomatic, []byte(opts.RedactionSalt))
	op.Runner = controllers.NewRunner(clk,
		reclaim.NewController(op.Store, op.Recorder, clk, opts.ReclaimInterval, opts.ReclaimBatchSize),
		agreement.NewController(op.Store, op.Recorder, op.Coordinator.Accumulator(), clk, opts.AgreementInterval, opts.AgreementLowThreshold),
		retention.NewController(op.Store, op.Recorder, redactor, clk, opts.RetentionInterval, opts.AuditRetention),
	)
	return op, nil
}

// buildProvider assembles the configured sample provider chain. The direct
// adapter always anchors the chain; remote mode interposes the breaker, and
// cached/remote modes add the read-through cache on top.
func (op *Operator) buildProvider(ctx context.Context) (sample.Provider, error) {
	var provider sample.Provider = sample.NewDirect(op.Store)
	if op.Options.GetProviderMode() == options.ProviderRemote {
		remote, err := sample.NewRemote(provider, sample.RemoteOptions{
			OnOpen: func(name string) { op.Recorder.ProviderBreakerOpen(ctx, name) },
		})
		if err != nil {
			return nil, fmt.Errorf("building remote provider, %w", err)
		}
		provider = remote
	}
	if op.Options.GetProviderMode() != options.ProviderDirect {
		provider = sample.NewCached(provider, op.Options.ProviderCacheTTL)
	}
	return provider, nil
}

// Start serves the metrics endpoint and runs the background controllers until
// ctx is cancelled, then closes the store.
func (op *Operator) Start(ctx context.Context) error {
	defer func() {
		if err := op.close(); err != nil {
			logging.FromContext(ctx).Errorf("closing store, %s", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", op.Options.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logging.FromContext(ctx).With("port", op.Options.MetricsPort).Info("serving metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving metrics, %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return op.Runner.Start(ctx)
	})
	return group.Wait()
}
