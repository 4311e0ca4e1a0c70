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
	"fmt"
	"io"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/rftrain/dataset"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Score is the weighted average of per class metrics, weighted by true support.
type Score struct {
	Precision float32
	Recall    float32
	F1        float32
	Accuracy  float32
	Support   int
	Classes   []ClassScore
}

type ClassScore struct {
	Label     string
	Precision float32
	Recall    float32
	F1        float32
	Support   int
}

func (score Score) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Float32("precision", score.Precision),
		zap.Float32("recall", score.Recall),
		zap.Float32("f1", score.F1),
		zap.Float32("accuracy", score.Accuracy),
		zap.Int("support", score.Support),
	}
}

func (score Score) String() string {
	return fmt.Sprintf("pre: %5.3f rec: %5.3f f1: %5.3g", score.Precision, score.Recall, score.F1)
}

// WriteReport renders the per class metrics as a table.
func (score Score) WriteReport(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("label", "precision", "recall", "f1-score", "support")
	rows := lo.Map(score.Classes, func(c ClassScore, _ int) []string {
		return []string{c.Label, formatMetric(c.Precision), formatMetric(c.Recall), formatMetric(c.F1), strconv.Itoa(c.Support)}
	})
	rows = append(rows, []string{"weighted avg", formatMetric(score.Precision), formatMetric(score.Recall),
		formatMetric(score.F1), strconv.Itoa(score.Support)})
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func formatMetric(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 3, 32)
}

// PrecisionRecallF1 computes metrics over the union of true and predicted labels.
// A zero denominator yields 0 and empty input yields a zero score.
func PrecisionRecallF1(yTrue, yPred []string) Score {
	if len(yTrue) != len(yPred) {
		panic(fmt.Sprintf("length mismatch: %d true labels, %d predictions", len(yTrue), len(yPred)))
	}
	labels := mapset.NewSet(yTrue...).Union(mapset.NewSet(yPred...)).ToSlice()
	dataset.SortLabels(labels)

	tp := make(map[string]int)
	fp := make(map[string]int)
	fn := make(map[string]int)
	var correct int
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			tp[yTrue[i]]++
			correct++
		} else {
			fp[yPred[i]]++
			fn[yTrue[i]]++
		}
	}

	score := Score{Support: len(yTrue)}
	for _, label := range labels {
		c := ClassScore{
			Label:     label,
			Precision: safeDivide(tp[label], tp[label]+fp[label]),
			Recall:    safeDivide(tp[label], tp[label]+fn[label]),
			Support:   tp[label] + fn[label],
		}
		if c.Precision+c.Recall > 0 {
			c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
		}
		score.Classes = append(score.Classes, c)
	}
	if score.Support == 0 {
		return score
	}
	total := float32(score.Support)
	for _, c := range score.Classes {
		weight := float32(c.Support) / total
		score.Precision += weight * c.Precision
		score.Recall += weight * c.Recall
		score.F1 += weight * c.F1
	}
	score.Accuracy = float32(correct) / total
	return score
}

func safeDivide(a, b int) float32 {
	if b == 0 {
		return 0
	}
	return float32(a) / float32(b)
}

// Evaluate predicts every row of a labeled test set and scores the predictions.
func Evaluate(ctx context.Context, m Classifier, testSet *dataset.Dataset, jobs int) (Score, error) {
	predictions, err := m.Predict(ctx, testSet.Features(), jobs)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	return PrecisionRecallF1(testSet.Labels(), predictions), nil
}
