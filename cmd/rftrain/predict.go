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

package main

import (
	"bufio"
	"io"
	"os"

	"github.com/gorse-io/rftrain/base/log"
	"github.com/gorse-io/rftrain/config"
	"github.com/gorse-io/rftrain/dataset"
	"github.com/gorse-io/rftrain/model"
	"github.com/gorse-io/rftrain/storage/blob"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPredictCommand() *cobra.Command {
	predictCommand := &cobra.Command{
		Use:   "predict",
		Short: "Predict labels of a CSV file with a saved model.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			log.SetLogger(cmd.Flags(), debug)
			modelDir, _ := cmd.Flags().GetString("model-dir")
			modelFile, _ := cmd.Flags().GetString("model-file")
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			hasLabel, _ := cmd.Flags().GetBool("has-label")
			jobs, _ := cmd.Flags().GetInt("n-jobs")
			configPath, _ := cmd.Flags().GetString("config")
			ctx := cmd.Context()

			storageConfig, err := config.LoadStorageConfig(configPath)
			if err != nil {
				return errors.Trace(err)
			}
			store, err := blob.NewStore(ctx, modelDir, storageConfig)
			if err != nil {
				return errors.Trace(err)
			}
			m, err := model.Load(ctx, store, modelFile)
			if err != nil {
				return errors.Trace(err)
			}

			f, err := os.Open(input)
			if err != nil {
				return errors.Trace(err)
			}
			defer f.Close()
			ds, err := dataset.Read(f, hasLabel)
			if err != nil {
				return errors.Annotatef(err, "failed to read %s", input)
			}
			predictions, err := m.Predict(ctx, ds.Features(), jobs)
			if err != nil {
				return errors.Trace(err)
			}
			log.Logger().Info("predict", zap.String("input", input), zap.Int("n_rows", ds.Count()))

			w := cmd.OutOrStdout()
			if output != "" {
				out, err := os.Create(output)
				if err != nil {
					return errors.Trace(err)
				}
				defer out.Close()
				w = out
			}
			if err = writeLines(w, predictions); err != nil {
				return errors.Trace(err)
			}
			if hasLabel {
				score := model.PrecisionRecallF1(ds.Labels(), predictions)
				log.Logger().Info("evaluate predictions", score.ZapFields()...)
				return score.WriteReport(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	flags := predictCommand.Flags()
	flags.StringP("config", "c", "", "configuration file path")
	flags.String("model-dir", "", "directory of the model")
	flags.String("model-file", config.DefaultModelFile, "name of the model file inside the model directory")
	flags.String("input", "", "CSV file to predict")
	flags.String("output", "", "file to write one label per line to (default stdout)")
	flags.Bool("has-label", false, "the last column of the input holds true labels")
	flags.Int("n-jobs", 1, "number of goroutines used to predict")
	_ = predictCommand.MarkFlagRequired("model-dir")
	_ = predictCommand.MarkFlagRequired("input")
	return predictCommand
}

func writeLines(w io.Writer, lines []string) error {
	buf := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := buf.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return buf.Flush()
}
