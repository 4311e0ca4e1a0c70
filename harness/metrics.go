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

package harness

import (
	"context"
	"time"

	"github.com/gorse-io/rftrain/config"
	"github.com/gorse-io/rftrain/model"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "rftrain"

// pushMetrics sends the test score and stage durations of a run to a Pushgateway.
func pushMetrics(ctx context.Context, cfg config.MetricsConfig, runId string, result *Result) error {
	scores := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "test_score",
		Help:      "Weighted average metrics on the test partition.",
	}, []string{"metric"})
	durations := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each stage.",
	}, []string{"stage"})
	samples := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "samples",
		Help:      "Number of rows in each partition.",
	}, []string{"partition"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(scores, durations, samples)
	scores.WithLabelValues("precision").Set(float64(result.Score.Precision))
	scores.WithLabelValues("recall").Set(float64(result.Score.Recall))
	scores.WithLabelValues("f1").Set(float64(result.Score.F1))
	scores.WithLabelValues("accuracy").Set(float64(result.Score.Accuracy))
	if oob, ok := oobScore(result.Model); ok {
		scores.WithLabelValues("oob_accuracy").Set(float64(oob))
	}
	for state, d := range result.Durations {
		durations.WithLabelValues(state.String()).Set(d.Seconds())
	}
	samples.WithLabelValues("train").Set(float64(result.TrainSize))
	samples.WithLabelValues("test").Set(float64(result.TestSize))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := push.New(cfg.Pushgateway, cfg.Job).
		Gatherer(registry).
		Grouping("run_id", runId).
		PushContext(ctx)
	return errors.Trace(err)
}

func oobScore(m model.Classifier) (float32, bool) {
	if m, ok := m.(interface{ OOBScore() (float32, bool) }); ok {
		return m.OOBScore()
	}
	return 0, false
}
