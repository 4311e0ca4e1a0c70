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

package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"math"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gorse-io/rftrain/base"
	"github.com/gorse-io/rftrain/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Dataset is a table of numeric features. When labeled, the last column of the
// source file is the label and labels are interned in a dictionary shared by
// every subset of the dataset.
type Dataset struct {
	columns  []string
	features [][]float32
	labels   []int32
	dict     *FreqDict
}

// NewDataset creates an empty dataset. A nil dict creates an unlabeled dataset.
func NewDataset(columns []string, dict *FreqDict) *Dataset {
	return &Dataset{
		columns: columns,
		dict:    dict,
	}
}

func (d *Dataset) Count() int {
	return len(d.features)
}

func (d *Dataset) HasLabels() bool {
	return d.dict != nil
}

func (d *Dataset) NumFeatures() int {
	if d.HasLabels() {
		return len(d.columns) - 1
	}
	return len(d.columns)
}

func (d *Dataset) FeatureNames() []string {
	return d.columns[:d.NumFeatures()]
}

func (d *Dataset) LabelName() string {
	if !d.HasLabels() {
		return ""
	}
	return d.columns[len(d.columns)-1]
}

func (d *Dataset) Features() [][]float32 {
	return d.features
}

func (d *Dataset) Row(i int) []float32 {
	return d.features[i]
}

// LabelIds returns the dictionary id of each row label.
func (d *Dataset) LabelIds() []int32 {
	return d.labels
}

func (d *Dataset) Label(i int) string {
	s, _ := d.dict.String(d.labels[i])
	return s
}

func (d *Dataset) Labels() []string {
	return lo.Map(d.labels, func(id int32, _ int) string {
		s, _ := d.dict.String(id)
		return s
	})
}

func (d *Dataset) Dict() *FreqDict {
	return d.dict
}

// ClassCounts returns how often each label occurs in the dataset the dictionary was filled from.
func (d *Dataset) ClassCounts() map[string]int {
	if !d.HasLabels() {
		return nil
	}
	labels := d.dict.Strings()
	return lo.SliceToMap(lo.Range(len(labels)), func(id int) (string, int) {
		return labels[id], d.dict.Freq(int32(id))
	})
}

// Add appends a row. The label is ignored by unlabeled datasets.
func (d *Dataset) Add(features []float32, label string) {
	d.features = append(d.features, features)
	if d.HasLabels() {
		d.labels = append(d.labels, d.dict.Id(label))
	}
}

// Subset returns the rows at index. Rows are shared, not copied.
func (d *Dataset) Subset(index []int) *Dataset {
	subset := &Dataset{
		columns:  d.columns,
		features: make([][]float32, len(index)),
		dict:     d.dict,
	}
	if d.HasLabels() {
		subset.labels = make([]int32, len(index))
	}
	for i, j := range index {
		subset.features[i] = d.features[j]
		if d.HasLabels() {
			subset.labels[i] = d.labels[j]
		}
	}
	return subset
}

// Load reads a labeled CSV file from a directory.
func Load(ctx context.Context, store blob.Store, name string) (*Dataset, error) {
	r, err := store.Open(ctx, name)
	if errors.Is(err, errors.NotFound) {
		if names, listErr := store.List(ctx); listErr == nil && len(names) > 0 {
			return nil, errors.Annotatef(err, "failed to open %s in %s (found %s)", name, store, strings.Join(names, ", "))
		}
		return nil, errors.Annotatef(err, "failed to open %s in %s", name, store)
	} else if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s in %s", name, store)
	}
	defer r.Close()
	ds, err := Read(r, true)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", name)
	}
	return ds, nil
}

// Read parses comma separated rows with a header. With hasLabel the last column holds labels
// and every other column must hold finite numbers. A header without rows yields an empty dataset.
func Read(r io.Reader, hasLabel bool) (*Dataset, error) {
	reader := bufio.NewReader(r)
	if _, err := reader.Peek(1); err == io.EOF {
		return nil, errors.New("empty file: header row is missing")
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	// The header is loaded as the first row so that a file without rows still parses.
	df := dataframe.ReadCSV(reader,
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nil))
	if df.Err != nil {
		var parseError *csv.ParseError
		if errors.As(df.Err, &parseError) && errors.Is(parseError.Err, csv.ErrFieldCount) {
			return nil, errors.Errorf("row %d (line %d) has a different number of columns than the header",
				parseError.Line-1, parseError.Line)
		}
		return nil, errors.Annotate(df.Err, "failed to parse csv")
	}
	minColumns := 1
	if hasLabel {
		minColumns = 2
	}
	if df.Ncol() < minColumns {
		return nil, errors.Errorf("header has %d columns, at least %d expected", df.Ncol(), minColumns)
	}
	columns := make([]string, df.Ncol())
	for j := range columns {
		columns[j] = strings.TrimSpace(df.Elem(0, j).String())
	}

	var dict *FreqDict
	if hasLabel {
		dict = NewFreqDict()
	}
	ds := NewDataset(columns, dict)
	numFeatures, numRows := ds.NumFeatures(), df.Nrow()-1
	features := base.NewMatrix32(numRows, numFeatures)
	names := df.Names()
	for j := 0; j < numFeatures; j++ {
		cells := lo.Map(df.Col(names[j]).Records()[1:], func(s string, _ int) string {
			return strings.TrimSpace(s)
		})
		values := series.New(cells, series.Float, columns[j])
		for i := 0; i < numRows; i++ {
			elem := values.Elem(i)
			value := elem.Float()
			// NaN and values outside the float32 range, infinities included
			if elem.IsNA() || math.IsNaN(value) || math.Abs(value) > math.MaxFloat32 {
				return nil, errors.Errorf("row %d (line %d) column %d (%s): invalid number %q",
					i+1, i+2, j+1, columns[j], cells[i])
			}
			features[i][j] = float32(value)
		}
	}
	var labels []string
	if hasLabel {
		labels = df.Col(names[numFeatures]).Records()[1:]
	}
	for i := 0; i < numRows; i++ {
		var label string
		if hasLabel {
			label = strings.TrimSpace(labels[i])
		}
		ds.Add(features[i], label)
	}
	return ds, nil
}

// Split partitions a dataset into a training set and a test set. The test set holds
// ceil(testSize * n) rows drawn through a random permutation.
func Split(ds *Dataset, testSize float64, rng base.RandomGenerator) (train, test *Dataset) {
	n := ds.Count()
	numTest := int(math.Ceil(testSize * float64(n)))
	numTest = max(0, min(n, numTest))
	perm := rng.Perm(n)
	return ds.Subset(perm[numTest:]), ds.Subset(perm[:numTest])
}
