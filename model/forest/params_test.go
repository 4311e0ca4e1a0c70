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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveMaxFeatures(t *testing.T) {
	cases := []struct {
		maxFeatures string
		expected    int
	}{
		{"auto", 8},
		{"sqrt", 8},
		{"SQRT", 8},
		{"log2", 6},
		{"none", 64},
		{"all", 64},
		{"", 64},
		{"1", 1},
		{"64", 64},
		{"0.5", 32},
		{"1.0", 64},
		{"0.001", 1},
	}
	for _, c := range cases {
		k, err := ResolveMaxFeatures(c.maxFeatures, 64)
		assert.NoError(t, err, c.maxFeatures)
		assert.Equal(t, c.expected, k, c.maxFeatures)
	}

	k, err := ResolveMaxFeatures("sqrt", 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, k)
	k, err = ResolveMaxFeatures("log2", 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, k)

	for _, invalid := range []string{"0", "65", "-3", "1.5", "0.0", "many", "1e"} {
		_, err = ResolveMaxFeatures(invalid, 64)
		assert.Error(t, err, invalid)
	}
}
