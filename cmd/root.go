// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/googlecloudplatform/gcswrite/cfg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// UploadJob is what a single invocation uploads.
type UploadJob struct {
	Bucket string
	Object string
	// Empty means stdin.
	File string

	// Resume this upload session instead of starting a new one.
	UploadID    string
	ContentType string
	// Nil means unconditional.
	IfGenerationMatch *int64
}

// NewRootCmd returns the gcswrite command. run is invoked with the validated
// config once the arguments are parsed.
func NewRootCmd(run func(ctx context.Context, c *cfg.Config, job UploadJob) error) (*cobra.Command, error) {
	var (
		configFile        string
		job               UploadJob
		ifGenerationMatch int64
	)

	rootCmd := &cobra.Command{
		Use:   "gcswrite [flags] BUCKET OBJECT [FILE]",
		Short: "Stream a file or stdin into a Cloud Storage object",
		Long: `gcswrite uploads FILE, or stdin when FILE is omitted, to gs://BUCKET/OBJECT
over the gRPC WriteObject API. Resumable uploads are acknowledged at every
flush and retried from the last persisted offset; an interrupted upload can be
continued with --upload-id.`,
		Version:      getVersion(),
		Args:         cobra.RangeArgs(2, 3),
		SilenceUsage: true,
	}

	v, err := cfg.BindFlags(rootCmd.PersistentFlags())
	if err != nil {
		return nil, fmt.Errorf("error while binding flags: %w", err)
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "The path to the config file where all gcswrite related config needs to be specified. Flags take precedence over the file.")
	rootCmd.Flags().StringVar(&job.UploadID, "upload-id", "", "Resume this resumable upload session. The source is read from the offset the service persisted.")
	rootCmd.Flags().StringVar(&job.ContentType, "content-type", "", "Content type of the created object.")
	rootCmd.Flags().Int64Var(&ifGenerationMatch, "if-generation-match", -1, "Only create the object if its live generation matches. 0 means the object must not exist. -1 disables the check.")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(v, configFile)
		if err != nil {
			return err
		}
		job.Bucket, job.Object = args[0], args[1]
		if len(args) == 3 {
			job.File = args[2]
		}
		if ifGenerationMatch >= 0 {
			job.IfGenerationMatch = &ifGenerationMatch
		}
		return run(cmd.Context(), c, job)
	}
	return rootCmd, nil
}

func loadConfig(v *viper.Viper, configFile string) (*cfg.Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error while reading the config file: %w", err)
		}
	}

	var c cfg.Config
	err := v.Unmarshal(&c, viper.DecodeHook(cfg.DecodeHook()), func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.TagName = "yaml"
		decoderConfig.ErrorUnused = true
	})
	if err != nil {
		return nil, fmt.Errorf("error while unmarshaling the config: %w", err)
	}
	if err := cfg.ValidateConfig(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// Execute runs the gcswrite command on the process arguments.
func Execute() {
	rootCmd, err := NewRootCmd(Upload)
	if err == nil {
		err = rootCmd.ExecuteContext(context.Background())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
