// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package harness runs the stages of a training run as a linear state machine.
package harness

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/gorse-io/rftrain/base"
	"github.com/gorse-io/rftrain/base/log"
	"github.com/gorse-io/rftrain/config"
	"github.com/gorse-io/rftrain/dataset"
	"github.com/gorse-io/rftrain/model"
	"github.com/gorse-io/rftrain/storage/blob"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Result describes a completed run.
type Result struct {
	RunId     string
	Config    *config.Config
	TrainSize int
	TestSize  int
	Model     model.Classifier
	Score     model.Score
	// Location is the store and file name of the saved model.
	Location  string
	Durations map[State]time.Duration
}

// Runner executes Idle → Configured → Loaded → Split → Trained → Evaluated →
// Persisted → Done. Any failure moves the run to Failed. A Runner is used once.
type Runner struct {
	Trainer model.ClassifierTrainer
	// OnTransition observes every state change.
	OnTransition func(from, to State)
	// Progress observes tree fitting.
	Progress func(done, total int)
	// Report receives the per class report of the test partition.
	Report io.Writer

	state  State
	logger *zap.Logger
	tracer trace.Tracer
}

func NewRunner(trainer model.ClassifierTrainer) *Runner {
	return &Runner{Trainer: trainer}
}

func (r *Runner) State() State {
	return r.state
}

func (r *Runner) transition(to State) {
	from := r.state
	r.state = to
	r.logger.Debug("transition", zap.Stringer("from", from), zap.Stringer("to", to))
	if r.OnTransition != nil {
		r.OnTransition(from, to)
	}
}

func (r *Runner) fail(kind Kind, err error) error {
	e := &Error{Kind: kind, State: r.state, Err: err}
	r.logger.Error("run failed", zap.Stringer("kind", kind), zap.Stringer("state", r.state), zap.Error(err))
	r.transition(Failed)
	return e
}

// stage runs fn inside a span and moves to next on success.
func (r *Runner) stage(ctx context.Context, result *Result, next State, kind Kind, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, next.String())
	defer span.End()
	start := time.Now()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(kind, err)
	}
	result.Durations[next] = time.Since(start)
	r.transition(next)
	return nil
}

// Run resolves the configuration and trains, evaluates and saves one model.
func (r *Runner) Run(ctx context.Context, resolve func() (*config.Config, error)) (*Result, error) {
	result := &Result{
		RunId:     uuid.New().String(),
		Durations: make(map[State]time.Duration),
	}
	r.state = Idle
	r.logger = log.RunLogger(result.RunId)

	// configure
	start := time.Now()
	cfg, err := resolve()
	if err != nil {
		return nil, r.fail(ConfigError, err)
	}
	tp, err := cfg.Tracing.NewTracerProvider(ctx)
	if err != nil {
		return nil, r.fail(ConfigError, err)
	}
	if p, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		defer func() {
			if err := p.Shutdown(context.Background()); err != nil {
				r.logger.Warn("failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}
	r.tracer = tp.Tracer("rftrain")
	result.Config = cfg
	r.dumpConfig(cfg)
	result.Durations[Configured] = time.Since(start)
	r.transition(Configured)

	ctx, span := r.tracer.Start(ctx, "Run", trace.WithAttributes(attribute.String("run_id", result.RunId)))
	defer span.End()

	// load
	var ds *dataset.Dataset
	if err = r.stage(ctx, result, Loaded, DataLoadError, func(ctx context.Context) error {
		store, err := blob.NewStore(ctx, cfg.Data.TrainDir, cfg.Storage)
		if err != nil {
			return errors.Trace(err)
		}
		ds, err = dataset.Load(ctx, store, cfg.Data.TrainFile)
		if err != nil {
			return errors.Trace(err)
		}
		r.logger.Info("load dataset",
			zap.String("location", store.String()),
			zap.String("file", cfg.Data.TrainFile),
			zap.Int("n_rows", ds.Count()),
			zap.Int("n_features", ds.NumFeatures()),
			zap.Any("class_counts", ds.ClassCounts()))
		return nil
	}); err != nil {
		return nil, err
	}

	// split
	var trainSet, testSet *dataset.Dataset
	if err = r.stage(ctx, result, Split, DataLoadError, func(ctx context.Context) error {
		trainSet, testSet = dataset.Split(ds, cfg.Data.TestSize, base.NewSeededGenerator(cfg.Data.Seed))
		result.TrainSize, result.TestSize = trainSet.Count(), testSet.Count()
		r.logger.Info("split dataset",
			zap.Float64("test_size", cfg.Data.TestSize),
			zap.Int("n_train", trainSet.Count()),
			zap.Int("n_test", testSet.Count()))
		return nil
	}); err != nil {
		return nil, err
	}

	// train
	if err = r.stage(ctx, result, Trained, TrainingError, func(ctx context.Context) error {
		params := HyperParameters(cfg)
		r.logger.Info("fit model", params.ZapFields()...)
		fitConfig := model.NewFitConfig().
			SetJobs(cfg.Model.NJobs).
			SetVerbose(cfg.Model.Verbose).
			SetProgress(r.Progress)
		result.Model, err = r.Trainer.Fit(ctx, trainSet, params, fitConfig)
		if err != nil {
			return errors.Trace(err)
		}
		if oob, ok := oobScore(result.Model); ok {
			r.logger.Info("fit model complete", zap.Float32("oob_score", oob))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// evaluate
	if err = r.stage(ctx, result, Evaluated, TrainingError, func(ctx context.Context) error {
		result.Score, err = model.Evaluate(ctx, result.Model, testSet, cfg.Model.NJobs)
		if err != nil {
			return errors.Trace(err)
		}
		r.logger.Info("evaluate model", result.Score.ZapFields()...)
		if r.Report != nil {
			if _, err := fmt.Fprintln(r.Report, result.Score.String()); err != nil {
				return errors.Trace(err)
			}
			return result.Score.WriteReport(r.Report)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// persist
	if err = r.stage(ctx, result, Persisted, PersistError, func(ctx context.Context) error {
		store, err := blob.NewStore(ctx, cfg.Data.ModelDir, cfg.Storage)
		if err != nil {
			return errors.Trace(err)
		}
		if err = store.Check(ctx); err != nil {
			return errors.Annotatef(err, "model directory %s", store)
		}
		if err = model.Save(ctx, store, cfg.Data.ModelFile, result.Model); err != nil {
			return errors.Trace(err)
		}
		result.Location = store.String() + "/" + cfg.Data.ModelFile
		r.logger.Info("save model", zap.String("location", result.Location))
		return nil
	}); err != nil {
		return nil, err
	}

	if cfg.Metrics.Pushgateway != "" {
		if err = pushMetrics(ctx, cfg.Metrics, result.RunId, result); err != nil {
			r.logger.Warn("failed to push metrics",
				zap.String("pushgateway", log.RedactURL(cfg.Metrics.Pushgateway)), zap.Error(err))
		}
	}
	r.transition(Done)
	return result, nil
}

func (r *Runner) dumpConfig(cfg *config.Config) {
	var values map[string]any
	if err := mapstructure.Decode(cfg.Redacted(), &values); err != nil {
		r.logger.Warn("failed to dump config", zap.Error(err))
		return
	}
	r.logger.Debug("resolved config", zap.Any("config", values))
}

// HyperParameters converts the model section of a config. Values are passed through unchecked.
func HyperParameters(cfg *config.Config) model.HyperParameters {
	return model.HyperParameters{
		NEstimators:           cfg.Model.NEstimators,
		MaxDepth:              cfg.Model.MaxDepth,
		MinSamplesLeaf:        cfg.Model.MinSamplesLeaf,
		MaxFeatures:           cfg.Model.MaxFeatures,
		MinWeightFractionLeaf: cfg.Model.MinWeightFractionLeaf,
		MinSamplesSplit:       cfg.Model.MinSamplesSplit,
		Criterion:             cfg.Model.Criterion,
		Bootstrap:             cfg.Model.Bootstrap,
		OOBScore:              cfg.Model.OOBScore,
		RandomState:           cfg.Data.Seed,
	}
}
