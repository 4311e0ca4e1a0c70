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
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultTrainFile             = "digits.csv"
	DefaultModelFile             = "model.forest"
	DefaultTestSize              = 0.2
	DefaultSeed                  = -1
	DefaultNEstimators           = 100
	DefaultMaxDepth              = 10
	DefaultMinSamplesLeaf        = 1
	DefaultMaxFeatures           = "auto"
	DefaultMinWeightFractionLeaf = 0.01
	DefaultMinSamplesSplit       = 2
	DefaultCriterion             = "gini"
	DefaultVerbose               = 10
	DefaultS3Endpoint            = "s3.amazonaws.com"
	DefaultPushJob               = "rftrain"
)

// Config is the configuration of a training run.
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Model   ModelConfig   `mapstructure:"model"`
	Storage StorageConfig `mapstructure:"storage"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DataConfig locates the training data and the model output.
type DataConfig struct {
	TrainDir  string  `mapstructure:"train_dir" validate:"required"`
	ModelDir  string  `mapstructure:"model_dir" validate:"required"`
	TrainFile string  `mapstructure:"train_file" validate:"required"`
	ModelFile string  `mapstructure:"model_file" validate:"required"`
	TestSize  float64 `mapstructure:"test_size" validate:"gt=0,lt=1"`
	// Seed drives the splitter and the forest. A negative seed means unseeded.
	Seed int64 `mapstructure:"seed"`
}

// ModelConfig holds the forest hyperparameters. Values are not checked here.
type ModelConfig struct {
	NEstimators           int     `mapstructure:"n_estimators"`
	MaxDepth              int     `mapstructure:"max_depth"`
	MinSamplesLeaf        int     `mapstructure:"min_samples_leaf"`
	MaxFeatures           string  `mapstructure:"max_features"`
	MinWeightFractionLeaf float64 `mapstructure:"min_weight_fraction_leaf"`
	MinSamplesSplit       int     `mapstructure:"min_samples_split"`
	Criterion             string  `mapstructure:"criterion"`
	Bootstrap             bool    `mapstructure:"bootstrap"`
	OOBScore              bool    `mapstructure:"oob_score"`
	NJobs                 int     `mapstructure:"n_jobs"`
	// Verbose logs fitting progress every Verbose trees. Zero disables it.
	Verbose               int     `mapstructure:"verbose"`
}

type StorageConfig struct {
	S3    S3Config    `mapstructure:"s3"`
	GCS   GCSConfig   `mapstructure:"gcs"`
	Azure AzureConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
}

type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway" validate:"omitempty,url"`
	Job         string `mapstructure:"job" validate:"required"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			TrainFile: DefaultTrainFile,
			ModelFile: DefaultModelFile,
			TestSize:  DefaultTestSize,
			Seed:      DefaultSeed,
		},
		Model: ModelConfig{
			NEstimators:           DefaultNEstimators,
			MaxDepth:              DefaultMaxDepth,
			MinSamplesLeaf:        DefaultMinSamplesLeaf,
			MaxFeatures:           DefaultMaxFeatures,
			MinWeightFractionLeaf: DefaultMinWeightFractionLeaf,
			MinSamplesSplit:       DefaultMinSamplesSplit,
			Criterion:             DefaultCriterion,
			Bootstrap:             true,
			NJobs:                 1,
			Verbose:               DefaultVerbose,
		},
		Storage: StorageConfig{
			S3: S3Config{
				Endpoint: DefaultS3Endpoint,
				UseSSL:   true,
			},
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
		Metrics: MetricsConfig{
			Job: DefaultPushJob,
		},
	}
}

// binding connects a config key to its command line flag and environment variables.
type binding struct {
	key  string
	flag string
	envs []string
}

var bindings = []binding{
	{"data.train_dir", "train", []string{"SM_CHANNEL_TRAIN"}},
	{"data.model_dir", "model-dir", []string{"SM_MODEL_DIR"}},
	{"data.train_file", "train-file", []string{"RFTRAIN_TRAIN_FILE"}},
	{"data.model_file", "model-file", []string{"RFTRAIN_MODEL_FILE"}},
	{"data.test_size", "test-size", []string{"RFTRAIN_TEST_SIZE"}},
	{"data.seed", "seed", []string{"RFTRAIN_SEED"}},
	{"model.n_estimators", "n-estimators", []string{"RFTRAIN_N_ESTIMATORS"}},
	{"model.max_depth", "max-depth", []string{"RFTRAIN_MAX_DEPTH"}},
	{"model.min_samples_leaf", "min-samples-leaf", []string{"RFTRAIN_MIN_SAMPLES_LEAF"}},
	{"model.max_features", "max-features", []string{"RFTRAIN_MAX_FEATURES"}},
	{"model.min_weight_fraction_leaf", "min-weight-fraction-leaf", []string{"RFTRAIN_MIN_WEIGHT_FRACTION_LEAF"}},
	{"model.min_samples_split", "min-samples-split", []string{"RFTRAIN_MIN_SAMPLES_SPLIT"}},
	{"model.criterion", "criterion", []string{"RFTRAIN_CRITERION"}},
	{"model.bootstrap", "bootstrap", []string{"RFTRAIN_BOOTSTRAP"}},
	{"model.oob_score", "oob-score", []string{"RFTRAIN_OOB_SCORE"}},
	{"model.n_jobs", "n-jobs", []string{"RFTRAIN_N_JOBS"}},
	{"model.verbose", "verbose", []string{"RFTRAIN_VERBOSE"}},
	{"storage.s3.endpoint", "", []string{"S3_ENDPOINT"}},
	{"storage.s3.access_key_id", "", []string{"AWS_ACCESS_KEY_ID"}},
	{"storage.s3.secret_access_key", "", []string{"AWS_SECRET_ACCESS_KEY"}},
	{"storage.s3.region", "", []string{"AWS_REGION"}},
	{"storage.s3.use_ssl", "", []string{"S3_USE_SSL"}},
	{"storage.gcs.credentials_file", "", []string{"GOOGLE_APPLICATION_CREDENTIALS"}},
	{"storage.gcs.endpoint", "", []string{"GCS_ENDPOINT"}},
	{"storage.azure.connection_string", "", []string{"AZURE_STORAGE_CONNECTION_STRING"}},
	{"storage.azure.account_name", "", []string{"AZURE_STORAGE_ACCOUNT"}},
	{"storage.azure.account_key", "", []string{"AZURE_STORAGE_KEY"}},
	{"tracing.enable_tracing", "", []string{"RFTRAIN_TRACING_ENABLE"}},
	{"tracing.exporter", "", []string{"RFTRAIN_TRACING_EXPORTER"}},
	{"tracing.collector_endpoint", "", []string{"RFTRAIN_TRACING_COLLECTOR_ENDPOINT"}},
	{"tracing.sampler", "", []string{"RFTRAIN_TRACING_SAMPLER"}},
	{"tracing.ratio", "", []string{"RFTRAIN_TRACING_RATIO"}},
	{"metrics.pushgateway", "pushgateway", []string{"RFTRAIN_PUSHGATEWAY"}},
	{"metrics.job", "", []string{"RFTRAIN_PUSH_JOB"}},
}

// AddFlags registers the command line flags of the training run.
func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String("train", "", "directory of training data (default $SM_CHANNEL_TRAIN)")
	flagSet.String("model-dir", "", "directory to write the model to (default $SM_MODEL_DIR)")
	flagSet.String("train-file", DefaultTrainFile, "name of the training file inside the training directory")
	flagSet.String("model-file", DefaultModelFile, "name of the model file inside the model directory")
	flagSet.Float64("test-size", DefaultTestSize, "fraction of rows held out for evaluation")
	flagSet.Int64("seed", DefaultSeed, "random seed, negative for an unseeded run")
	flagSet.Int("n-estimators", DefaultNEstimators, "number of trees in the forest")
	flagSet.Int("max-depth", DefaultMaxDepth, "maximum depth of each tree, 0 for unlimited")
	flagSet.Int("min-samples-leaf", DefaultMinSamplesLeaf, "minimum number of samples in a leaf")
	flagSet.String("max-features", DefaultMaxFeatures, "features considered per split: auto, sqrt, log2, none, an integer or a fraction")
	flagSet.Float64("min-weight-fraction-leaf", DefaultMinWeightFractionLeaf, "minimum fraction of the total sample weight in a leaf")
	flagSet.Int("min-samples-split", DefaultMinSamplesSplit, "minimum number of samples to split a node")
	flagSet.String("criterion", DefaultCriterion, "split criterion: gini, entropy or log_loss")
	flagSet.Bool("bootstrap", true, "draw bootstrap samples for each tree")
	flagSet.Bool("oob-score", false, "estimate accuracy on out-of-bag samples")
	flagSet.Int("n-jobs", 1, "number of goroutines used to fit and predict")
	flagSet.Int("verbose", DefaultVerbose, "log fitting progress every n trees, 0 to disable")
	flagSet.String("pushgateway", "", "address of the Prometheus Pushgateway")
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [data]
	v.SetDefault("data.train_file", defaultConfig.Data.TrainFile)
	v.SetDefault("data.model_file", defaultConfig.Data.ModelFile)
	v.SetDefault("data.test_size", defaultConfig.Data.TestSize)
	v.SetDefault("data.seed", defaultConfig.Data.Seed)
	// [model]
	v.SetDefault("model.n_estimators", defaultConfig.Model.NEstimators)
	v.SetDefault("model.max_depth", defaultConfig.Model.MaxDepth)
	v.SetDefault("model.min_samples_leaf", defaultConfig.Model.MinSamplesLeaf)
	v.SetDefault("model.max_features", defaultConfig.Model.MaxFeatures)
	v.SetDefault("model.min_weight_fraction_leaf", defaultConfig.Model.MinWeightFractionLeaf)
	v.SetDefault("model.min_samples_split", defaultConfig.Model.MinSamplesSplit)
	v.SetDefault("model.criterion", defaultConfig.Model.Criterion)
	v.SetDefault("model.bootstrap", defaultConfig.Model.Bootstrap)
	v.SetDefault("model.oob_score", defaultConfig.Model.OOBScore)
	v.SetDefault("model.n_jobs", defaultConfig.Model.NJobs)
	v.SetDefault("model.verbose", defaultConfig.Model.Verbose)
	// [storage]
	v.SetDefault("storage.s3.endpoint", defaultConfig.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.use_ssl", defaultConfig.Storage.S3.UseSSL)
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
	// [metrics]
	v.SetDefault("metrics.job", defaultConfig.Metrics.Job)
}

// LoadConfig resolves the configuration. Explicitly set flags take precedence over
// environment variables, which take precedence over the config file and the defaults.
// An empty path skips the config file and a nil flag set skips the flags.
func LoadConfig(path string, flagSet *pflag.FlagSet) (*Config, error) {
	v, err := newViper(path, flagSet)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Annotate(err, "failed to parse config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}

// LoadStorageConfig resolves only the storage credentials, without validating the run settings.
func LoadStorageConfig(path string) (StorageConfig, error) {
	v, err := newViper(path, nil)
	if err != nil {
		return StorageConfig{}, errors.Trace(err)
	}
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return StorageConfig{}, errors.Annotate(err, "failed to parse config")
	}
	return config.Storage, nil
}

func newViper(path string, flagSet *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefault(v)
	for _, b := range bindings {
		if err := v.BindEnv(append([]string{b.key}, b.envs...)...); err != nil {
			return nil, errors.Trace(err)
		}
		if b.flag == "" || flagSet == nil {
			continue
		}
		if flag := flagSet.Lookup(b.flag); flag != nil {
			if err := v.BindPFlag(b.key, flag); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "failed to read config file %s", path)
		}
	}
	return v, nil
}

// Validate checks that required locations are present and that the run settings are in range.
func (config *Config) Validate() error {
	if config.Data.TrainDir == "" {
		return errors.New("training data location is missing: set --train or SM_CHANNEL_TRAIN")
	}
	if config.Data.ModelDir == "" {
		return errors.New("model output location is missing: set --model-dir or SM_MODEL_DIR")
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return field.Tag.Get("mapstructure")
	})
	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return errors.Trace(err)
	}
	if err := validate.Struct(config); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			messages := lo.Map(fieldErrors, func(e validator.FieldError, _ int) string {
				return e.Namespace() + ": " + e.Translate(trans)
			})
			return errors.Errorf("invalid config: %s", strings.Join(messages, "; "))
		}
		return errors.Annotate(err, "invalid config")
	}
	return nil
}

// Redacted returns a copy of the config with secrets masked.
func (config *Config) Redacted() *Config {
	c := *config
	if c.Storage.S3.SecretAccessKey != "" {
		c.Storage.S3.SecretAccessKey = "xxxxxx"
	}
	if c.Storage.Azure.AccountKey != "" {
		c.Storage.Azure.AccountKey = "xxxxxx"
	}
	if c.Storage.Azure.ConnectionString != "" {
		c.Storage.Azure.ConnectionString = "xxxxxx"
	}
	return &c
}
