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

// Package forest implements a random forest of CART classification trees.
package forest

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/rftrain/base"
	"github.com/gorse-io/rftrain/base/log"
	"github.com/gorse-io/rftrain/common/parallel"
	"github.com/gorse-io/rftrain/dataset"
	"github.com/gorse-io/rftrain/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const Header = "random_forest/v1"

// Forest is a fitted random forest. Class probabilities are averaged over trees.
type Forest struct {
	Params      model.HyperParameters
	classes     []string
	numFeatures int
	trees       []*Tree
	oobScore    float32
	hasOOB      bool
}

func (f *Forest) Header() string {
	return Header
}

func (f *Forest) Classes() []string {
	return f.classes
}

func (f *Forest) NumFeatures() int {
	return f.numFeatures
}

func (f *Forest) Trees() []*Tree {
	return f.trees
}

// OOBScore returns the out-of-bag accuracy if it was estimated during fitting.
func (f *Forest) OOBScore() (float32, bool) {
	return f.oobScore, f.hasOOB
}

func (f *Forest) PredictProba(x []float32) []float32 {
	proba := make([]float32, len(f.classes))
	for _, tree := range f.trees {
		for c, p := range tree.PredictProba(x) {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float32(len(f.trees))
	}
	return proba
}

// Predict returns the most probable class of each row. Ties go to the first class.
func (f *Forest) Predict(ctx context.Context, x [][]float32, jobs int) ([]string, error) {
	for i, row := range x {
		if len(row) != f.numFeatures {
			return nil, errors.NotValidf("row %d has %d features, model expects %d", i, len(row), f.numFeatures)
		}
	}
	predictions := make([]string, len(x))
	err := parallel.For(ctx, len(x), jobs, func(i int) {
		predictions[i] = f.classes[argmax(f.PredictProba(x[i]))]
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return predictions, nil
}

func argmax(a []float32) int {
	best := 0
	for i := range a {
		if a[i] > a[best] {
			best = i
		}
	}
	return best
}

// Trainer fits random forests.
type Trainer struct{}

func NewTrainer() *Trainer {
	return &Trainer{}
}

func (t *Trainer) Fit(ctx context.Context, trainSet *dataset.Dataset, params model.HyperParameters, config *model.FitConfig) (model.Classifier, error) {
	config = config.LoadDefaultIfNil()
	if err := validate(params); err != nil {
		return nil, err
	}
	if !trainSet.HasLabels() {
		return nil, errors.New("training set has no labels")
	}
	if trainSet.Count() == 0 {
		return nil, errors.New("training set is empty")
	}
	maxFeatures, err := ResolveMaxFeatures(params.MaxFeatures, trainSet.NumFeatures())
	if err != nil {
		return nil, err
	}

	// classes are sorted and indexed independently of dictionary ids
	dict := trainSet.Dict()
	classes := lo.Uniq(trainSet.Labels())
	dataset.SortLabels(classes)
	classIndex := make(map[int32]int32, len(classes))
	for i, label := range classes {
		classIndex[dict.NotCount(label)] = int32(i)
	}
	y := lo.Map(trainSet.LabelIds(), func(id int32, _ int) int32 {
		return classIndex[id]
	})

	f := &Forest{
		Params:      params,
		classes:     classes,
		numFeatures: trainSet.NumFeatures(),
		trees:       make([]*Tree, params.NEstimators),
	}
	n := trainSet.Count()
	seeds := base.NewSeededGenerator(params.RandomState).Seeds(params.NEstimators)
	var inBag []*bitset.BitSet
	if params.OOBScore {
		inBag = make([]*bitset.BitSet, params.NEstimators)
	}

	log.Logger().Info("fit random forest",
		zap.Int("n_samples", n),
		zap.Int("n_features", f.numFeatures),
		zap.Int("n_classes", len(classes)),
		zap.Int("max_features", maxFeatures),
		zap.Int("n_jobs", config.Jobs))
	var (
		progressLock sync.Mutex
		done         int
	)
	err = parallel.Parallel(ctx, params.NEstimators, config.Jobs, func(_, i int) error {
		rng := base.NewRandomGenerator(seeds[i])
		weight := base.RepeatFloat32s(n, 1)
		if params.Bootstrap {
			counts := rng.Bootstrap(n)
			for j, c := range counts {
				weight[j] = float32(c)
			}
			if inBag != nil {
				inBag[i] = bitset.New(uint(n))
				for j, c := range counts {
					if c > 0 {
						inBag[i].Set(uint(j))
					}
				}
			}
		}
		builder := &treeBuilder{
			x:               trainSet.Features(),
			y:               y,
			weight:          weight,
			numClasses:      len(classes),
			maxDepth:        params.MaxDepth,
			minSamplesSplit: params.MinSamplesSplit,
			minSamplesLeaf:  params.MinSamplesLeaf,
			minWeightLeaf:   float32(params.MinWeightFractionLeaf) * lo.Sum(weight),
			maxFeatures:     maxFeatures,
			impurity:        criteria[params.Criterion],
			rng:             rng,
		}
		f.trees[i] = builder.build()

		progressLock.Lock()
		defer progressLock.Unlock()
		done++
		if config.Progress != nil {
			config.Progress(done, params.NEstimators)
		}
		if config.Verbose > 0 && done%config.Verbose == 0 {
			log.Logger().Debug("fit random forest", zap.Int("n_trees", done), zap.Int("n_estimators", params.NEstimators))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	if params.OOBScore {
		f.oobScore, f.hasOOB = f.outOfBag(trainSet.Features(), y, inBag), true
		log.Logger().Info("estimate out-of-bag score", zap.Float32("oob_score", f.oobScore))
	}
	return f, nil
}

// outOfBag scores every sample with the trees that did not draw it. Samples drawn
// by every tree are skipped.
func (f *Forest) outOfBag(x [][]float32, y []int32, inBag []*bitset.BitSet) float32 {
	var correct, total int
	proba := make([]float32, len(f.classes))
	for i := range x {
		clear(proba)
		votes := 0
		for t, tree := range f.trees {
			if inBag[t].Test(uint(i)) {
				continue
			}
			votes++
			for c, p := range tree.PredictProba(x[i]) {
				proba[c] += p
			}
		}
		if votes == 0 {
			continue
		}
		total++
		if int32(argmax(proba)) == y[i] {
			correct++
		}
	}
	if total < len(x) {
		log.Logger().Warn("some samples have no out-of-bag trees",
			zap.Int("n_samples", len(x)), zap.Int("n_scored", total))
	}
	if total == 0 {
		return 0
	}
	return float32(correct) / float32(total)
}
