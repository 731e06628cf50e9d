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

package main

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"knative.dev/pkg/logging"
	"knative.dev/pkg/signals"

	"github.com/anvil-project/anvil/pkg/operator"
	"github.com/anvil-project/anvil/pkg/operator/options"
)

func main() {
	opts := options.New().MustParse()

	logger, err := newLogger(opts.LogLevel)
	if err != nil {
		log.Fatalf("building logger, %s", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := logging.WithLogger(signals.NewContext(), logger.Sugar())

	op, err := operator.NewOperator(ctx, opts)
	if err != nil {
		logger.Sugar().Fatalf("initializing, %s", err)
	}
	if err := op.Start(ctx); err != nil {
		logger.Sugar().Fatalf("running, %s", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
