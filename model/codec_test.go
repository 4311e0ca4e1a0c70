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

package model

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/rftrain/common/encoding"
	"github.com/gorse-io/rftrain/storage/blob"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

const headerSign = "sign/v1"

// signClassifier predicts "pos" for positive inputs. Its threshold is the only state.
type signClassifier struct {
	threshold float32
}

func init() {
	Register(headerSign, func(r io.Reader) (Classifier, error) {
		var m signClassifier
		if err := encoding.ReadGob(r, &m.threshold); err != nil {
			return nil, err
		}
		return &m, nil
	})
}

func (m *signClassifier) Header() string {
	return headerSign
}

func (m *signClassifier) Classes() []string {
	return []string{"neg", "pos"}
}

func (m *signClassifier) NumFeatures() int {
	return 1
}

func (m *signClassifier) PredictProba(x []float32) []float32 {
	if x[0] > m.threshold {
		return []float32{0, 1}
	}
	return []float32{1, 0}
}

func (m *signClassifier) Predict(_ context.Context, x [][]float32, _ int) ([]string, error) {
	predictions := make([]string, len(x))
	for i := range x {
		if m.PredictProba(x[i])[1] > 0 {
			predictions[i] = "pos"
		} else {
			predictions[i] = "neg"
		}
	}
	return predictions, nil
}

func (m *signClassifier) Marshal(w io.Writer) error {
	return encoding.WriteGob(w, m.threshold)
}

func TestMarshalModel(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, MarshalModel(buf, &signClassifier{threshold: 0.5}))
	m, err := UnmarshalModel(buf)
	assert.NoError(t, err)
	assert.Equal(t, &signClassifier{threshold: 0.5}, m)

	// unknown header
	buf.Reset()
	assert.NoError(t, encoding.WriteString(buf, "unknown/v1"))
	_, err = UnmarshalModel(buf)
	assert.True(t, errors.Is(err, errors.NotSupported))

	assert.Panics(t, func() {
		Register(headerSign, nil)
	})
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := blob.NewPOSIX(dir)
	assert.NoError(t, Save(ctx, store, "model.forest", &signClassifier{threshold: 1}))
	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	m, err := Load(ctx, store, "model.forest")
	assert.NoError(t, err)
	predictions, err := m.Predict(ctx, [][]float32{{0.5}, {2}}, 1)
	assert.NoError(t, err)
	assert.Equal(t, []string{"neg", "pos"}, predictions)

	_, err = Load(ctx, store, "missing.forest")
	assert.True(t, errors.Is(err, errors.NotFound))
}

type failingClassifier struct {
	signClassifier
}

func (m *failingClassifier) Marshal(w io.Writer) error {
	if _, err := w.Write(bytes.Repeat([]byte{1}, 8192)); err != nil {
		return err
	}
	return errors.New("disk full")
}

func TestSaveFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := blob.NewPOSIX(dir)

	// a failed write leaves nothing behind
	err := Save(ctx, store, "model.forest", &failingClassifier{})
	assert.ErrorContains(t, err, "disk full")
	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Empty(t, entries)

	// a missing directory is reported
	err = Save(ctx, blob.NewPOSIX(filepath.Join(dir, "missing")), "model.forest", &signClassifier{})
	assert.True(t, errors.Is(err, errors.NotFound))
}
