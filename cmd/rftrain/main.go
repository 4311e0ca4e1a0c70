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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorse-io/rftrain/base/log"
	"github.com/gorse-io/rftrain/cmd/version"
	"github.com/gorse-io/rftrain/config"
	"github.com/gorse-io/rftrain/harness"
	"github.com/gorse-io/rftrain/model/forest"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "rftrain",
		Short: "Train a random forest classifier on a CSV dataset.",
		// The managed platform passes hyperparameters this program does not know about.
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		Args:               cobra.ArbitraryArgs,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			log.SetLogger(cmd.Flags(), debug)
			configPath, _ := cmd.Flags().GetString("config")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := harness.NewRunner(forest.NewTrainer())
			runner.Report = cmd.OutOrStdout()
			var bar *progressbar.ProgressBar
			runner.Progress = func(done, total int) {
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetWriter(cmd.ErrOrStderr()),
						progressbar.OptionSetDescription("Fitting trees"),
						progressbar.OptionShowCount(),
						progressbar.OptionClearOnFinish())
				}
				_ = bar.Add(1)
			}
			result, err := runner.Run(ctx, func() (*config.Config, error) {
				log.Logger().Info("load config", zap.String("config", configPath))
				return config.LoadConfig(configPath, cmd.Flags())
			})
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}
			log.Logger().Info("training complete",
				zap.String("run_id", result.RunId),
				zap.String("model", result.Location),
				zap.Stringer("score", result.Score))
			return nil
		},
	}
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.Flags().StringP("config", "c", "", "configuration file path")
	config.AddFlags(rootCommand.Flags())
	rootCommand.AddCommand(newPredictCommand(), newVersionCommand())
	return rootCommand
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
		},
	}
}

func main() {
	err := newRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if kind, ok := harness.KindOf(err); ok {
			fields = append(fields, zap.Stringer("kind", kind))
		}
		log.Logger().Error("failed to execute", fields...)
	}
	log.CloseLogger()
	if err != nil {
		os.Exit(1)
	}
}
