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

package base

import (
	"math/rand"
	"time"
)

// RandomGenerator is the random generator for rftrain.
type RandomGenerator struct {
	*rand.Rand
}

// NewRandomGenerator creates a RandomGenerator.
func NewRandomGenerator(seed int64) RandomGenerator {
	return RandomGenerator{rand.New(rand.NewSource(seed))}
}

// NewSeededGenerator creates a RandomGenerator from a user supplied seed. A negative seed
// means unseeded: the generator is seeded from the clock and runs are not reproducible.
func NewSeededGenerator(seed int64) RandomGenerator {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return NewRandomGenerator(seed)
}

// Bootstrap draws n indices in [0, n) with replacement and returns how many times
// each index was drawn.
func (rng RandomGenerator) Bootstrap(n int) []int32 {
	counts := make([]int32, n)
	for i := 0; i < n; i++ {
		counts[rng.Intn(n)]++
	}
	return counts
}

// Seeds draws n seeds for child generators.
func (rng RandomGenerator) Seeds(n int) []int64 {
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}
	return seeds
}
