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
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gorse-io/rftrain/model"
	"github.com/juju/errors"
)

// ResolveMaxFeatures converts a max features setting into the number of features
// considered per split, given numFeatures columns.
//
//	auto, sqrt       max(1, floor(sqrt(p)))
//	log2             max(1, floor(log2(p)))
//	none, all, ""    p
//	integer k        k, with 1 <= k <= p
//	fraction f       max(1, floor(f*p)), with 0 < f <= 1
func ResolveMaxFeatures(maxFeatures string, numFeatures int) (int, error) {
	p := float32(numFeatures)
	switch s := strings.ToLower(strings.TrimSpace(maxFeatures)); s {
	case "auto", "sqrt":
		return max(1, int(math32.Sqrt(p))), nil
	case "log2":
		return max(1, int(math32.Log2(p))), nil
	case "none", "all", "":
		return numFeatures, nil
	default:
		if !strings.ContainsAny(s, ".eE") {
			k, err := strconv.Atoi(s)
			if err != nil {
				return 0, errors.Errorf("invalid max_features %q", maxFeatures)
			}
			if k < 1 || k > numFeatures {
				return 0, errors.Errorf("max_features %d out of range [1, %d]", k, numFeatures)
			}
			return k, nil
		}
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, errors.Errorf("invalid max_features %q", maxFeatures)
		}
		if f <= 0 || f > 1 {
			return 0, errors.Errorf("max_features %v out of range (0, 1]", f)
		}
		return max(1, int(float32(f)*p)), nil
	}
}

func validate(params model.HyperParameters) error {
	switch {
	case params.NEstimators < 1:
		return errors.Errorf("n_estimators must be at least 1, got %d", params.NEstimators)
	case params.MaxDepth < 0:
		return errors.Errorf("max_depth must be non-negative, got %d", params.MaxDepth)
	case params.MinSamplesLeaf < 1:
		return errors.Errorf("min_samples_leaf must be at least 1, got %d", params.MinSamplesLeaf)
	case params.MinSamplesSplit < 2:
		return errors.Errorf("min_samples_split must be at least 2, got %d", params.MinSamplesSplit)
	case params.MinWeightFractionLeaf < 0 || params.MinWeightFractionLeaf > 0.5:
		return errors.Errorf("min_weight_fraction_leaf must be in [0, 0.5], got %v", params.MinWeightFractionLeaf)
	case params.OOBScore && !params.Bootstrap:
		return errors.New("out-of-bag estimation requires bootstrap")
	}
	if _, ok := criteria[params.Criterion]; !ok {
		return errors.Errorf("unknown criterion %q", params.Criterion)
	}
	return nil
}
