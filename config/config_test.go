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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/rftrain/base/log"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// clearEnv hides variables of the host environment from a test.
func clearEnv(t *testing.T) {
	for _, b := range bindings {
		for _, env := range b.envs {
			t.Setenv(env, "")
		}
	}
}

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	assert.NoError(t, flagSet.Parse(args))
	return flagSet
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SM_CHANNEL_TRAIN", "/opt/ml/input/data/train")
	t.Setenv("SM_MODEL_DIR", "/opt/ml/model")

	config, err := LoadConfig("", newFlagSet(t))
	assert.NoError(t, err)
	expected := GetDefaultConfig()
	expected.Data.TrainDir = "/opt/ml/input/data/train"
	expected.Data.ModelDir = "/opt/ml/model"
	assert.Equal(t, expected, config)
}

func TestLoadConfigPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("SM_CHANNEL_TRAIN", "/env/train")
	t.Setenv("SM_MODEL_DIR", "/env/model")
	t.Setenv("RFTRAIN_N_ESTIMATORS", "7")
	t.Setenv("RFTRAIN_MAX_DEPTH", "3")
	t.Setenv("RFTRAIN_BOOTSTRAP", "false")

	flagSet := newFlagSet(t, "--train", "/flag/train", "--n-estimators", "5", "--max-features", "log2", "--verbose", "1")
	config, err := LoadConfig("", flagSet)
	assert.NoError(t, err)
	// explicit flags win
	assert.Equal(t, "/flag/train", config.Data.TrainDir)
	assert.Equal(t, 5, config.Model.NEstimators)
	assert.Equal(t, "log2", config.Model.MaxFeatures)
	assert.Equal(t, 1, config.Model.Verbose)
	// environment comes next
	assert.Equal(t, "/env/model", config.Data.ModelDir)
	assert.Equal(t, 3, config.Model.MaxDepth)
	assert.False(t, config.Model.Bootstrap)
	// unset flags fall back to defaults
	assert.Equal(t, DefaultMinSamplesLeaf, config.Model.MinSamplesLeaf)
	assert.Equal(t, DefaultMinWeightFractionLeaf, config.Model.MinWeightFractionLeaf)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SM_MODEL_DIR", "/env/model")
	t.Setenv("RFTRAIN_CRITERION", "log_loss")
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte(`
[data]
train_dir = "/file/train"
test_size = 0.3
seed = 42

[model]
criterion = "entropy"
n_jobs = 4

[metrics]
pushgateway = "http://localhost:9091"
`), 0644)
	assert.NoError(t, err)

	config, err := LoadConfig(path, newFlagSet(t))
	assert.NoError(t, err)
	assert.Equal(t, "/file/train", config.Data.TrainDir)
	assert.Equal(t, "/env/model", config.Data.ModelDir)
	assert.Equal(t, 0.3, config.Data.TestSize)
	assert.Equal(t, int64(42), config.Data.Seed)
	assert.Equal(t, "log_loss", config.Model.Criterion)
	assert.Equal(t, 4, config.Model.NJobs)
	assert.Equal(t, "http://localhost:9091", config.Metrics.Pushgateway)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.Error(t, err)
}

type environmentVariable struct {
	key   string
	value string
}

func TestBindEnv(t *testing.T) {
	clearEnv(t)
	variables := []environmentVariable{
		{"SM_CHANNEL_TRAIN", "s3://bucket/train"},
		{"SM_MODEL_DIR", "gs://bucket/model"},
		{"RFTRAIN_TRAIN_FILE", "iris.csv"},
		{"RFTRAIN_MODEL_FILE", "iris.forest"},
		{"RFTRAIN_TEST_SIZE", "0.25"},
		{"RFTRAIN_SEED", "2024"},
		{"RFTRAIN_MIN_SAMPLES_LEAF", "3"},
		{"RFTRAIN_MIN_WEIGHT_FRACTION_LEAF", "0.05"},
		{"RFTRAIN_MIN_SAMPLES_SPLIT", "4"},
		{"RFTRAIN_OOB_SCORE", "true"},
		{"RFTRAIN_VERBOSE", "25"},
		{"S3_ENDPOINT", "localhost:9000"},
		{"AWS_ACCESS_KEY_ID", "minioadmin"},
		{"AWS_SECRET_ACCESS_KEY", "miniosecret"},
		{"GCS_ENDPOINT", "http://localhost:4443/storage/v1/"},
		{"AZURE_STORAGE_ACCOUNT", "devstoreaccount1"},
		{"RFTRAIN_TRACING_ENABLE", "true"},
		{"RFTRAIN_TRACING_EXPORTER", "zipkin"},
		{"RFTRAIN_TRACING_SAMPLER", "ratio"},
		{"RFTRAIN_TRACING_RATIO", "0.5"},
		{"RFTRAIN_PUSH_JOB", "digits"},
	}
	for _, variable := range variables {
		t.Setenv(variable.key, variable.value)
	}

	config, err := LoadConfig("", nil)
	assert.NoError(t, err)
	assert.Equal(t, "s3://bucket/train", config.Data.TrainDir)
	assert.Equal(t, "gs://bucket/model", config.Data.ModelDir)
	assert.Equal(t, "iris.csv", config.Data.TrainFile)
	assert.Equal(t, "iris.forest", config.Data.ModelFile)
	assert.Equal(t, 0.25, config.Data.TestSize)
	assert.Equal(t, int64(2024), config.Data.Seed)
	assert.Equal(t, 3, config.Model.MinSamplesLeaf)
	assert.Equal(t, 0.05, config.Model.MinWeightFractionLeaf)
	assert.Equal(t, 4, config.Model.MinSamplesSplit)
	assert.True(t, config.Model.OOBScore)
	assert.Equal(t, 25, config.Model.Verbose)
	assert.Equal(t, "localhost:9000", config.Storage.S3.Endpoint)
	assert.Equal(t, "minioadmin", config.Storage.S3.AccessKeyID)
	assert.Equal(t, "miniosecret", config.Storage.S3.SecretAccessKey)
	assert.Equal(t, "http://localhost:4443/storage/v1/", config.Storage.GCS.Endpoint)
	assert.Equal(t, "devstoreaccount1", config.Storage.Azure.AccountName)
	assert.True(t, config.Tracing.EnableTracing)
	assert.Equal(t, "zipkin", config.Tracing.Exporter)
	assert.Equal(t, "ratio", config.Tracing.Sampler)
	assert.Equal(t, 0.5, config.Tracing.Ratio)
	assert.Equal(t, "digits", config.Metrics.Job)
}

func TestMissingLocations(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig("", newFlagSet(t, "--model-dir", "/opt/ml/model"))
	assert.ErrorContains(t, err, "SM_CHANNEL_TRAIN")

	_, err = LoadConfig("", newFlagSet(t, "--train", "/opt/ml/input/data/train"))
	assert.ErrorContains(t, err, "SM_MODEL_DIR")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	locations := []string{"--train", "/train", "--model-dir", "/model"}
	_, err := LoadConfig("", newFlagSet(t, append(locations, "--test-size", "1.5")...))
	assert.ErrorContains(t, err, "data.test_size")
	assert.ErrorContains(t, err, "must be less than 1")
	_, err = LoadConfig("", newFlagSet(t, append(locations, "--test-size", "0")...))
	assert.Error(t, err)
	_, err = LoadConfig("", newFlagSet(t, append(locations, "--pushgateway", "not a url")...))
	assert.Error(t, err)
	t.Setenv("RFTRAIN_TRACING_EXPORTER", "jaeger")
	_, err = LoadConfig("", newFlagSet(t, locations...))
	assert.Error(t, err)
}

func TestHyperParametersNotValidated(t *testing.T) {
	clearEnv(t)
	config, err := LoadConfig("", newFlagSet(t, "--train", "/train", "--model-dir", "/model",
		"--n-estimators", "-1", "--max-features", "bogus", "--min-weight-fraction-leaf", "0.9"))
	assert.NoError(t, err)
	assert.Equal(t, -1, config.Model.NEstimators)
	assert.Equal(t, "bogus", config.Model.MaxFeatures)
	assert.Equal(t, 0.9, config.Model.MinWeightFractionLeaf)
}

func TestRedacted(t *testing.T) {
	config := GetDefaultConfig()
	config.Storage.S3.SecretAccessKey = "secret"
	config.Storage.Azure.AccountKey = "key"
	redacted := config.Redacted()
	assert.Equal(t, "xxxxxx", redacted.Storage.S3.SecretAccessKey)
	assert.Equal(t, "xxxxxx", redacted.Storage.Azure.AccountKey)
	assert.Empty(t, redacted.Storage.Azure.ConnectionString)
	// the original is untouched
	assert.Equal(t, "secret", config.Storage.S3.SecretAccessKey)
}

func TestNewTracerProvider(t *testing.T) {
	ctx := context.Background()
	config := GetDefaultConfig().Tracing
	tp, err := config.NewTracerProvider(ctx)
	assert.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, tp)

	config.EnableTracing = true
	for _, exporter := range []string{"zipkin", "otlp", "otlphttp"} {
		config.Exporter = exporter
		config.CollectorEndpoint = "localhost:4317"
		if exporter == "zipkin" {
			config.CollectorEndpoint = "http://localhost:9411/api/v2/spans"
		}
		for _, sampler := range []string{"always", "never", "ratio"} {
			config.Sampler = sampler
			tp, err = config.NewTracerProvider(ctx)
			assert.NoError(t, err)
			assert.IsType(t, &tracesdk.TracerProvider{}, tp)
			assert.NoError(t, tp.(*tracesdk.TracerProvider).Shutdown(ctx))
		}
	}
	// exporter failures are logged
	assert.IsType(t, log.GetErrorHandler(), otel.GetErrorHandler())

	config.Exporter = "jaeger"
	_, err = config.NewTracerProvider(ctx)
	assert.Error(t, err)
	config.Exporter = "otlp"
	config.Sampler = "sometimes"
	_, err = config.NewTracerProvider(ctx)
	assert.Error(t, err)
}

func TestLoadStorageConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("AWS_ACCESS_KEY_ID", "minioadmin")
	t.Setenv("S3_USE_SSL", "false")
	// run settings are not required
	storage, err := LoadStorageConfig("")
	assert.NoError(t, err)
	assert.Equal(t, "localhost:9000", storage.S3.Endpoint)
	assert.Equal(t, "minioadmin", storage.S3.AccessKeyID)
	assert.False(t, storage.S3.UseSSL)

	_, err = LoadStorageConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
