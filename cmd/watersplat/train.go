package main

import (
	"fmt"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/loaders"
	"github.com/aquarend/go-water-splatting/pkg/trainer"
	"github.com/spf13/cobra"
)

func newTrainCmd() *cobra.Command {
	var (
		configPath     string
		dataDir        string
		plyPath        string
		checkpointPath string
		resume         bool
		logEvery       int
		saveEvery      int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Optimize a splat population and medium field against a capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := core.NewDefaultLogger()
			cfg := trainer.DefaultConfig()
			if configPath != "" {
				var err error
				cfg, err = trainer.LoadConfig(configPath)
				if err != nil {
					return err
				}
			}

			ds, err := trainer.OpenDirDataset(dataDir, logger)
			if err != nil {
				return err
			}

			model, err := buildModel(cfg, plyPath, logger)
			if err != nil {
				return err
			}

			startStep := 0
			if resume {
				startStep, err = model.LoadCheckpoint(checkpointPath)
				if err != nil {
					return fmt.Errorf("failed to resume: %w", err)
				}
			}

			var flows trainer.FlowEstimator
			if cfg.Loss.UseFlow {
				flows = ds
			}
			return trainer.Run(model, ds, ds, flows, trainer.RunOptions{
				StartStep:       startStep,
				LogEvery:        logEvery,
				CheckpointEvery: saveEvery,
				CheckpointPath:  checkpointPath,
			})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file (defaults apply when empty)")
	cmd.Flags().StringVar(&dataDir, "data", "", "dataset directory with cameras.yaml and frames")
	cmd.Flags().StringVar(&plyPath, "ply", "", "seed point cloud (PLY); random init when empty")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "model.ckpt", "checkpoint path")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the checkpoint")
	cmd.Flags().IntVar(&logEvery, "log-every", 100, "metrics log period in steps")
	cmd.Flags().IntVar(&saveEvery, "save-every", 5000, "checkpoint period in steps, 0 disables")
	cmd.MarkFlagRequired("data")
	return cmd
}

func buildModel(cfg trainer.Config, plyPath string, logger core.Logger) (*trainer.Model, error) {
	if plyPath == "" {
		return trainer.NewModel(cfg, logger)
	}
	cloud, err := loaders.LoadPointCloud(plyPath)
	if err != nil {
		return nil, err
	}
	logger.Printf("seeding from %s: %d points\n", plyPath, len(cloud.Points))
	return trainer.NewSeededModel(cfg, cloud.Points, cloud.Colors, logger)
}
