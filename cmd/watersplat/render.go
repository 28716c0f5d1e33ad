package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/trainer"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	var (
		configPath     string
		dataDir        string
		checkpointPath string
		outDir         string
		frameIdx       int
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render frames from a trained checkpoint",
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
			model, err := trainer.NewModel(cfg, logger)
			if err != nil {
				return err
			}
			if _, err := model.LoadCheckpoint(checkpointPath); err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			first, last := 0, ds.NumFrames()
			if frameIdx >= 0 {
				first, last = frameIdx, frameIdx+1
			}
			for i := first; i < last; i++ {
				if err := renderFrame(model, ds, cfg.MaxSteps, i, outDir); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&dataDir, "data", "", "dataset directory with cameras.yaml")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "model.ckpt", "checkpoint path")
	cmd.Flags().StringVar(&outDir, "out", "renders", "output directory")
	cmd.Flags().IntVar(&frameIdx, "frame", -1, "single frame index; all frames when negative")
	cmd.MarkFlagRequired("data")
	return cmd
}

// renderFrame writes the composited frame plus its decomposition: the
// medium-only and attenuated-object contributions.
func renderFrame(model *trainer.Model, cams trainer.CameraProvider, step, i int, outDir string) error {
	cam, err := cams.Camera(i)
	if err != nil {
		return err
	}
	res, err := model.GetOutputs(cam, step)
	if err != nil {
		return fmt.Errorf("frame %d: %w", i, err)
	}
	for suffix, img := range map[string]*core.Image{
		"rgb":    res.Out.RGB,
		"medium": res.Out.Medium,
		"object": res.Out.Object,
	} {
		path := filepath.Join(outDir, fmt.Sprintf("frame_%04d_%s.png", i, suffix))
		if err := saveImage(path, img); err != nil {
			return err
		}
	}
	return nil
}
