// Copyright 2020 gorse Project Authors
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

package model

import (
	"context"
	"io"

	"github.com/gorse-io/rftrain/dataset"
	"go.uber.org/zap"
)

// HyperParameters configure a forest. They are passed by value and never checked by callers.
type HyperParameters struct {
	NEstimators           int
	MaxDepth              int // 0 means unlimited
	MinSamplesLeaf        int
	MaxFeatures           string
	MinWeightFractionLeaf float64
	MinSamplesSplit       int
	Criterion             string
	Bootstrap             bool
	OOBScore              bool
	RandomState           int64 // negative means unseeded
}

func (params HyperParameters) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Int("n_estimators", params.NEstimators),
		zap.Int("max_depth", params.MaxDepth),
		zap.Int("min_samples_leaf", params.MinSamplesLeaf),
		zap.String("max_features", params.MaxFeatures),
		zap.Float64("min_weight_fraction_leaf", params.MinWeightFractionLeaf),
		zap.Int("min_samples_split", params.MinSamplesSplit),
		zap.String("criterion", params.Criterion),
		zap.Bool("bootstrap", params.Bootstrap),
		zap.Bool("oob_score", params.OOBScore),
		zap.Int64("random_state", params.RandomState),
	}
}

type FitConfig struct {
	Jobs    int
	Verbose int
	// Progress is called after each tree is fitted.
	Progress func(done, total int)
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetProgress(progress func(done, total int)) *FitConfig {
	config.Progress = progress
	return config
}

func (config *FitConfig) LoadDefaultIfNil() *FitConfig {
	if config == nil {
		return NewFitConfig()
	}
	return config
}

// Classifier is a fitted model. It is not mutated after fitting.
type Classifier interface {
	// Header names the codec of the model file.
	Header() string
	Classes() []string
	NumFeatures() int
	// PredictProba returns the probability of each class, ordered as Classes.
	PredictProba(x []float32) []float32
	Predict(ctx context.Context, x [][]float32, jobs int) ([]string, error)
	Marshal(w io.Writer) error
}

// ClassifierTrainer fits a classifier on a labeled dataset.
type ClassifierTrainer interface {
	Fit(ctx context.Context, trainSet *dataset.Dataset, params HyperParameters, config *FitConfig) (Classifier, error)
}
