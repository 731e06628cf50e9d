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

package options

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/anvil-project/anvil/pkg/utils/env"
)

type StorageBackend string

const (
	BackendInMemory StorageBackend = "inmemory"
	BackendPostgres StorageBackend = "postgres"
)

type ProviderMode string

const (
	ProviderDirect ProviderMode = "direct"
	ProviderCached ProviderMode = "cached"
	ProviderRemote ProviderMode = "remote"
)

// Options for running this binary
type Options struct {
	*flag.FlagSet
	MetricsPort int
	LogLevel    string

	StorageBackend string
	PostgresDSN    string

	ProviderMode     string
	ProviderCacheTTL time.Duration

	PseudonymSecret string
	RedactionSalt   string

	ReclaimInterval  time.Duration
	ReclaimBatchSize int

	AgreementInterval     time.Duration
	AgreementLowThreshold float64

	RetentionInterval time.Duration
	AuditRetention    time.Duration
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("anvil", flag.ContinueOnError)
	opts.FlagSet = f

	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to for operating metrics about the controller itself")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "The minimum log level, one of debug, info, warn, error")

	f.StringVar(&opts.StorageBackend, "storage-backend", env.WithDefaultString("STORAGE_BACKEND", string(BackendInMemory)), "The durable store implementation, one of inmemory or postgres")
	f.StringVar(&opts.PostgresDSN, "postgres-dsn", env.WithDefaultString("POSTGRES_DSN", ""), "The postgres connection string; required when the storage backend is postgres")

	f.StringVar(&opts.ProviderMode, "provider-mode", env.WithDefaultString("PROVIDER_MODE", string(ProviderCached)), "The sample provider chain, one of direct, cached, or remote")
	f.DurationVar(&opts.ProviderCacheTTL, "provider-cache-ttl", env.WithDefaultDuration("PROVIDER_CACHE_TTL", 5*time.Minute), "How long fetched sample content stays in the read-through cache")

	f.StringVar(&opts.PseudonymSecret, "pseudonym-secret", env.WithDefaultString("PSEUDONYM_SECRET", ""), "The HMAC secret used to derive stable labeler pseudonyms. Rotating it regenerates every pseudonym and breaks prior export lineage.")
	f.StringVar(&opts.RedactionSalt, "redaction-salt", env.WithDefaultString("REDACTION_SALT", ""), "The salt mixed into hashed redaction of sensitive label fields")

	f.DurationVar(&opts.ReclaimInterval, "reclaim-interval", env.WithDefaultDuration("RECLAIM_INTERVAL", 5*time.Minute), "How often the timeout sweeper scans for overdue reservations")
	f.IntVar(&opts.ReclaimBatchSize, "reclaim-batch-size", env.WithDefaultInt("RECLAIM_BATCH_SIZE", 100), "The maximum number of overdue reservations reclaimed per queue per pass")

	f.DurationVar(&opts.AgreementInterval, "agreement-interval", env.WithDefaultDuration("AGREEMENT_INTERVAL", 15*time.Minute), "How often inter-rater agreement is recomputed")
	f.Float64Var(&opts.AgreementLowThreshold, "agreement-low-threshold", env.WithDefaultFloat64("AGREEMENT_LOW_THRESHOLD", 0.4), "The per-sample observed agreement below which a low-score event is emitted")

	f.DurationVar(&opts.RetentionInterval, "retention-interval", env.WithDefaultDuration("RETENTION_INTERVAL", 24*time.Hour), "How often the retention sweeper runs")
	f.DurationVar(&opts.AuditRetention, "audit-retention", env.WithDefaultDuration("AUDIT_RETENTION", 2*365*24*time.Hour), "How long audit entries are kept before the retention sweeper deletes them")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	switch StorageBackend(o.StorageBackend) {
	case BackendInMemory:
	case BackendPostgres:
		if o.PostgresDSN == "" {
			err = multierr.Append(err, fmt.Errorf("POSTGRES_DSN is required when the storage backend is postgres"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("storage-backend may only be either inmemory or postgres"))
	}
	switch ProviderMode(o.ProviderMode) {
	case ProviderDirect, ProviderCached, ProviderRemote:
	default:
		err = multierr.Append(err, fmt.Errorf("provider-mode may only be one of direct, cached, or remote"))
	}
	if o.PseudonymSecret == "" {
		err = multierr.Append(err, fmt.Errorf("PSEUDONYM_SECRET is required"))
	}
	if o.RedactionSalt == "" {
		err = multierr.Append(err, fmt.Errorf("REDACTION_SALT is required"))
	}
	if o.AgreementLowThreshold < 0 || o.AgreementLowThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("agreement-low-threshold must be within [0, 1]"))
	}
	if o.ReclaimBatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("reclaim-batch-size must be positive"))
	}
	return err
}

func (o Options) GetStorageBackend() StorageBackend {
	return StorageBackend(o.StorageBackend)
}

func (o Options) GetProviderMode() ProviderMode {
	return ProviderMode(o.ProviderMode)
}
