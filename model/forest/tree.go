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
	"sort"

	"github.com/chewxy/math32"
	"github.com/gorse-io/rftrain/base"
)

const (
	leaf = -1
	// featureThreshold is the smallest gap between two values that can be split.
	featureThreshold = 1e-7
	// epsilon is the impurity below which a node is pure.
	epsilon = 1e-7
)

// Tree is a binary decision tree stored as parallel arrays indexed by node id.
// The root is node 0. Rows with x[Feature] <= Threshold go to Left.
type Tree struct {
	Feature   []int32
	Threshold []float32
	Left      []int32
	Right     []int32
	// Value holds the class distribution of every node, NumNodes × numClasses.
	Value      []float32
	numClasses int
}

func newTree(numClasses int) *Tree {
	return &Tree{numClasses: numClasses}
}

func (t *Tree) NumNodes() int {
	return len(t.Feature)
}

// Depth returns the length of the longest path from the root to a leaf.
func (t *Tree) Depth() int {
	var depth func(node int32) int
	depth = func(node int32) int {
		if t.Feature[node] == leaf {
			return 0
		}
		return 1 + max(depth(t.Left[node]), depth(t.Right[node]))
	}
	if t.NumNodes() == 0 {
		return 0
	}
	return depth(0)
}

// IsLeaf reports whether a node has no children.
func (t *Tree) IsLeaf(node int) bool {
	return t.Feature[node] == leaf
}

// apply returns the leaf reached by x.
func (t *Tree) apply(x []float32) int32 {
	node := int32(0)
	for t.Feature[node] != leaf {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return node
}

// PredictProba returns the class distribution of the leaf reached by x.
func (t *Tree) PredictProba(x []float32) []float32 {
	node := int(t.apply(x))
	return t.Value[node*t.numClasses : (node+1)*t.numClasses]
}

func (t *Tree) addNode(counts []float32, total float32) int32 {
	id := int32(len(t.Feature))
	t.Feature = append(t.Feature, leaf)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, leaf)
	t.Right = append(t.Right, leaf)
	for _, c := range counts {
		if total > 0 {
			t.Value = append(t.Value, c/total)
		} else {
			t.Value = append(t.Value, 0)
		}
	}
	return id
}

// criterion measures the impurity of weighted class counts.
type criterion func(counts []float32, total float32) float32

var criteria = map[string]criterion{
	"gini":     gini,
	"entropy":  entropy,
	"log_loss": entropy,
}

func gini(counts []float32, total float32) float32 {
	if total <= 0 {
		return 0
	}
	sum := float32(0)
	for _, c := range counts {
		p := c / total
		sum += p * p
	}
	return 1 - sum
}

func entropy(counts []float32, total float32) float32 {
	if total <= 0 {
		return 0
	}
	h := float32(0)
	for _, c := range counts {
		if c > 0 {
			p := c / total
			h -= p * math32.Log2(p)
		}
	}
	return h
}

type split struct {
	feature   int
	threshold float32
	score     float32
}

// treeBuilder grows a tree depth first. Sample weights come from bootstrap counts.
type treeBuilder struct {
	x               [][]float32
	y               []int32
	weight          []float32
	numClasses      int
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	minWeightLeaf   float32
	maxFeatures     int
	impurity        criterion
	rng             base.RandomGenerator

	tree     *Tree
	features []int
}

func (b *treeBuilder) build() *Tree {
	b.tree = newTree(b.numClasses)
	b.features = base.RangeInt(len(b.x[0]))
	var samples []int
	for i, w := range b.weight {
		if w > 0 {
			samples = append(samples, i)
		}
	}
	b.grow(samples, 0)
	return b.tree
}

func (b *treeBuilder) grow(samples []int, depth int) int32 {
	counts := make([]float32, b.numClasses)
	total := float32(0)
	for _, i := range samples {
		counts[b.y[i]] += b.weight[i]
		total += b.weight[i]
	}
	id := b.tree.addNode(counts, total)

	impurity := b.impurity(counts, total)
	if (b.maxDepth > 0 && depth >= b.maxDepth) ||
		len(samples) < b.minSamplesSplit ||
		len(samples) < 2*b.minSamplesLeaf ||
		total < 2*b.minWeightLeaf ||
		impurity <= epsilon {
		return id
	}
	best, found := b.findSplit(samples, counts, total, impurity)
	if !found {
		return id
	}

	var left, right []int
	for _, i := range samples {
		if b.x[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.tree.Feature[id] = int32(best.feature)
	b.tree.Threshold[id] = best.threshold
	leftId := b.grow(left, depth+1)
	rightId := b.grow(right, depth+1)
	b.tree.Left[id] = leftId
	b.tree.Right[id] = rightId
	return id
}

// findSplit visits features in random order. Constant features are skipped and not
// counted. The search stops once maxFeatures features were visited and a valid split exists.
func (b *treeBuilder) findSplit(samples []int, counts []float32, total, impurity float32) (split, bool) {
	b.rng.Shuffle(len(b.features), func(i, j int) {
		b.features[i], b.features[j] = b.features[j], b.features[i]
	})
	sorted := make([]int, len(samples))
	left := make([]float32, b.numClasses)
	right := make([]float32, b.numClasses)
	best := split{feature: leaf, score: -math32.MaxFloat32}
	visited := 0
	for _, f := range b.features {
		if visited >= b.maxFeatures && best.feature != leaf {
			break
		}
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool {
			return b.x[sorted[i]][f] < b.x[sorted[j]][f]
		})
		if b.x[sorted[len(sorted)-1]][f] <= b.x[sorted[0]][f]+featureThreshold {
			continue
		}
		visited++

		clear(left)
		leftWeight := float32(0)
		for i := 1; i < len(sorted); i++ {
			prev := sorted[i-1]
			left[b.y[prev]] += b.weight[prev]
			leftWeight += b.weight[prev]
			xPrev, xNext := b.x[prev][f], b.x[sorted[i]][f]
			if xNext <= xPrev+featureThreshold {
				continue
			}
			if i < b.minSamplesLeaf || len(sorted)-i < b.minSamplesLeaf {
				continue
			}
			rightWeight := total - leftWeight
			if leftWeight < b.minWeightLeaf || rightWeight < b.minWeightLeaf {
				continue
			}
			for c := range right {
				right[c] = counts[c] - left[c]
			}
			score := impurity -
				leftWeight/total*b.impurity(left, leftWeight) -
				rightWeight/total*b.impurity(right, rightWeight)
			if score > best.score {
				threshold := xPrev/2 + xNext/2
				if threshold >= xNext || math32.IsInf(threshold, 0) {
					threshold = xPrev
				}
				best = split{feature: f, threshold: threshold, score: score}
			}
		}
	}
	return best, best.feature != leaf
}
