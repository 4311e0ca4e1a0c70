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

package forest

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/gorse-io/rftrain/base"
	"github.com/gorse-io/rftrain/dataset"
	"github.com/gorse-io/rftrain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBlobs generates three well separated clusters with four features.
func newBlobs(n int, seed int64) *dataset.Dataset {
	rng := base.NewRandomGenerator(seed)
	ds := dataset.NewDataset([]string{"x0", "x1", "x2", "x3", "label"}, dataset.NewFreqDict())
	for i := 0; i < n; i++ {
		c := i % 3
		row := make([]float32, 4)
		for j := range row {
			row[j] = float32(c)*10 + float32(rng.NormFloat64())
		}
		ds.Add(row, strconv.Itoa(c))
	}
	return ds
}

func defaultParams() model.HyperParameters {
	return model.HyperParameters{
		NEstimators:     10,
		MinSamplesLeaf:  1,
		MinSamplesSplit: 2,
		Criterion:       "gini",
		Bootstrap:       true,
		RandomState:     42,
	}
}

func fit(t *testing.T, ds *dataset.Dataset, params model.HyperParameters, jobs int) *Forest {
	m, err := NewTrainer().Fit(context.Background(), ds, params, model.NewFitConfig().SetJobs(jobs))
	require.NoError(t, err)
	return m.(*Forest)
}

func TestForest_Fit(t *testing.T) {
	ds := newBlobs(150, 0)
	for _, criterion := range []string{"gini", "entropy", "log_loss"} {
		t.Run(criterion, func(t *testing.T) {
			params := defaultParams()
			params.Criterion = criterion
			f := fit(t, ds, params, 2)
			assert.Equal(t, []string{"0", "1", "2"}, f.Classes())
			assert.Equal(t, 4, f.NumFeatures())
			assert.Len(t, f.Trees(), 10)

			predictions, err := f.Predict(context.Background(), ds.Features(), 2)
			assert.NoError(t, err)
			assert.Equal(t, ds.Labels(), predictions)

			proba := f.PredictProba(ds.Row(0))
			assert.Len(t, proba, 3)
			assert.InDelta(t, 1, proba[0]+proba[1]+proba[2], 1e-5)
		})
	}
}

func TestForest_ZeroGainSplit(t *testing.T) {
	// no single split of xor improves purity at the root
	ds := dataset.NewDataset([]string{"a", "b", "label"}, dataset.NewFreqDict())
	ds.Add([]float32{0, 0}, "even")
	ds.Add([]float32{1, 1}, "even")
	ds.Add([]float32{0, 1}, "odd")
	ds.Add([]float32{1, 0}, "odd")
	params := defaultParams()
	params.NEstimators = 1
	params.Bootstrap = false
	f := fit(t, ds, params, 1)
	predictions, err := f.Predict(context.Background(), ds.Features(), 1)
	assert.NoError(t, err)
	assert.Equal(t, ds.Labels(), predictions)
	assert.Equal(t, 7, f.Trees()[0].NumNodes())
}

func TestForest_ConstantFeatures(t *testing.T) {
	ds := dataset.NewDataset([]string{"a", "label"}, dataset.NewFreqDict())
	ds.Add([]float32{1}, "b")
	ds.Add([]float32{1}, "a")
	ds.Add([]float32{1}, "b")
	params := defaultParams()
	params.Bootstrap = false
	f := fit(t, ds, params, 1)
	for _, tree := range f.Trees() {
		assert.Equal(t, 1, tree.NumNodes())
	}
	predictions, err := f.Predict(context.Background(), [][]float32{{1}, {5}}, 1)
	assert.NoError(t, err)
	assert.Equal(t, []string{"b", "b"}, predictions)
}

func TestForest_MaxDepth(t *testing.T) {
	params := defaultParams()
	params.MaxDepth = 1
	f := fit(t, newBlobs(90, 1), params, 1)
	for _, tree := range f.Trees() {
		assert.LessOrEqual(t, tree.Depth(), 1)
		assert.LessOrEqual(t, tree.NumNodes(), 3)
	}
}

func TestForest_MinSamplesLeaf(t *testing.T) {
	ds := newBlobs(90, 2)
	params := defaultParams()
	params.Bootstrap = false
	params.MinSamplesLeaf = 10
	f := fit(t, ds, params, 1)
	for _, tree := range f.Trees() {
		counts := make(map[int32]int)
		for _, row := range ds.Features() {
			counts[tree.apply(row)]++
		}
		for node, count := range counts {
			assert.True(t, tree.IsLeaf(int(node)))
			assert.GreaterOrEqual(t, count, 10)
		}
	}
}

func TestForest_MinWeightFractionLeaf(t *testing.T) {
	params := defaultParams()
	params.MinWeightFractionLeaf = 0.5
	f := fit(t, newBlobs(60, 3), params, 1)
	for _, tree := range f.Trees() {
		assert.LessOrEqual(t, tree.NumNodes(), 3)
	}
}

func TestForest_Deterministic(t *testing.T) {
	ds := newBlobs(120, 4)
	params := defaultParams()
	params.MaxFeatures = "sqrt"
	a := fit(t, ds, params, 1)
	b := fit(t, ds, params, 4)
	assert.Equal(t, a.Trees(), b.Trees())

	params.RandomState = 7
	c := fit(t, ds, params, 1)
	assert.NotEqual(t, a.Trees(), c.Trees())

	// unseeded runs still fit
	params.RandomState = -1
	fit(t, ds, params, 2)
}

func TestForest_OOBScore(t *testing.T) {
	params := defaultParams()
	params.OOBScore = true
	params.NEstimators = 20
	f := fit(t, newBlobs(150, 5), params, 2)
	score, ok := f.OOBScore()
	assert.True(t, ok)
	assert.Greater(t, score, float32(0.9))
	assert.LessOrEqual(t, score, float32(1))

	_, ok = fit(t, newBlobs(30, 5), defaultParams(), 1).OOBScore()
	assert.False(t, ok)
}

func TestForest_Progress(t *testing.T) {
	var calls []int
	config := model.NewFitConfig().SetJobs(3).SetProgress(func(done, total int) {
		assert.Equal(t, 10, total)
		calls = append(calls, done)
	})
	_, err := NewTrainer().Fit(context.Background(), newBlobs(30, 6), defaultParams(), config)
	assert.NoError(t, err)
	assert.Equal(t, base.RangeInt(11)[1:], calls)
}

func TestForest_InvalidParameters(t *testing.T) {
	ds := newBlobs(30, 7)
	cases := map[string]func(*model.HyperParameters){
		"n_estimators":      func(p *model.HyperParameters) { p.NEstimators = 0 },
		"max_depth":         func(p *model.HyperParameters) { p.MaxDepth = -1 },
		"min_samples_leaf":  func(p *model.HyperParameters) { p.MinSamplesLeaf = 0 },
		"min_samples_split": func(p *model.HyperParameters) { p.MinSamplesSplit = 1 },
		"min_weight":        func(p *model.HyperParameters) { p.MinWeightFractionLeaf = 0.6 },
		"criterion":         func(p *model.HyperParameters) { p.Criterion = "mse" },
		"max_features":      func(p *model.HyperParameters) { p.MaxFeatures = "all-of-them" },
		"oob":               func(p *model.HyperParameters) { p.Bootstrap, p.OOBScore = false, true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := defaultParams()
			mutate(&params)
			_, err := NewTrainer().Fit(context.Background(), ds, params, nil)
			assert.Error(t, err)
		})
	}

	empty := dataset.NewDataset([]string{"x", "label"}, dataset.NewFreqDict())
	_, err := NewTrainer().Fit(context.Background(), empty, defaultParams(), nil)
	assert.ErrorContains(t, err, "empty")
}

func TestForest_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTrainer().Fit(ctx, newBlobs(30, 8), defaultParams(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForest_PredictWidth(t *testing.T) {
	f := fit(t, newBlobs(30, 9), defaultParams(), 1)
	_, err := f.Predict(context.Background(), [][]float32{{1, 2}}, 1)
	assert.ErrorContains(t, err, "model expects 4")
}

func TestForest_Marshal(t *testing.T) {
	ds := newBlobs(90, 10)
	params := defaultParams()
	params.OOBScore = true
	f := fit(t, ds, params, 2)

	buf := bytes.NewBuffer(nil)
	require.NoError(t, model.MarshalModel(buf, f))
	data := buf.Bytes()
	m, err := model.UnmarshalModel(bytes.NewReader(data))
	require.NoError(t, err)
	restored := m.(*Forest)
	assert.Equal(t, f.Params, restored.Params)
	assert.Equal(t, f.Classes(), restored.Classes())
	assert.Equal(t, f.Trees(), restored.Trees())
	score, ok := restored.OOBScore()
	assert.True(t, ok)
	expected, _ := f.OOBScore()
	assert.Equal(t, expected, score)
	for _, row := range ds.Features() {
		assert.Equal(t, f.PredictProba(row), restored.PredictProba(row))
	}

	// truncated files are rejected
	_, err = model.UnmarshalModel(bytes.NewReader(data[:len(data)-3]))
	assert.Error(t, err)
}

func TestTree_Check(t *testing.T) {
	tree := &Tree{
		Feature:    []int32{0, leaf, leaf},
		Threshold:  []float32{0.5, 0, 0},
		Left:       []int32{1, leaf, leaf},
		Right:      []int32{2, leaf, leaf},
		Value:      []float32{0.5, 0.5, 1, 0, 0, 1},
		numClasses: 2,
	}
	assert.NoError(t, tree.check(1))
	assert.Equal(t, []float32{1, 0}, tree.PredictProba([]float32{0}))
	assert.Equal(t, []float32{0, 1}, tree.PredictProba([]float32{1}))
	assert.Equal(t, 1, tree.Depth())
	assert.Error(t, tree.check(0))

	tree.Right[0] = 0
	assert.Error(t, tree.check(1))
	tree.Right[0] = 2
	tree.Value = tree.Value[:4]
	assert.Error(t, tree.check(1))
}

func TestCriteria(t *testing.T) {
	assert.InDelta(t, 0.5, gini([]float32{1, 1}, 2), 1e-6)
	assert.InDelta(t, 1, entropy([]float32{1, 1}, 2), 1e-6)
	assert.Zero(t, gini([]float32{3, 0}, 3))
	assert.Zero(t, entropy([]float32{3, 0}, 3))
	assert.Zero(t, gini(nil, 0))
	assert.Equal(t, 1, argmax([]float32{0.2, 0.4, 0.4}))
}
