package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/stingray/internal/activity"
	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/store"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Inspect, reset or export stored training datasets",
}

var datasetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the captures stored for an activity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDataset(cmd, func(env datasetEnv) error {
			ds, err := store.Open(cmd.Context(), env.store, env.activity, env.logger)
			if err != nil {
				return err
			}
			return printDataset(cmd.OutOrStdout(), ds)
		})
	},
}

var datasetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the stored dataset of an activity with an empty one",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDataset(cmd, func(env datasetEnv) error {
			ds, err := store.Reset(cmd.Context(), env.store, env.activity, env.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dataset for %s reset (%s)\n", env.activity, ds.ID())
			return nil
		})
	},
}

var exportOutput string

var datasetExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored dataset as training JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDataset(cmd, func(env datasetEnv) error {
			doc, err := env.store.Load(cmd.Context(), env.activity.String())
			if errors.Is(err, store.ErrNotFound) {
				spec, _ := env.activity.Spec()
				doc = dataset.New(spec.DatasetConfig(), env.logger).Document()
			} else if err != nil {
				return err
			}
			data, err := store.Export(doc)
			if err != nil {
				return err
			}
			if exportOutput == "" || exportOutput == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s dataset to %s\n", env.activity, exportOutput)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{datasetShowCmd, datasetResetCmd, datasetExportCmd} {
		c.Flags().StringP("activity", "a", "", "Activity (running, hiking, racket, cycling)")
		datasetCmd.AddCommand(c)
	}
	datasetExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
}

type datasetEnv struct {
	activity activity.Type
	store    store.Store
	logger   *logrus.Logger
}

// withDataset resolves the activity and opens the store around fn.
func withDataset(cmd *cobra.Command, fn func(env datasetEnv) error) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	t, err := selectedActivity(cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	st, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(datasetEnv{activity: t, store: st, logger: logger})
}
