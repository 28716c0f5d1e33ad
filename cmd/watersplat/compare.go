package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/trainer"
	"github.com/spf13/cobra"
	xdraw "golang.org/x/image/draw"
)

func newCompareCmd() *cobra.Command {
	var (
		configPath     string
		dataDir        string
		checkpointPath string
		outDir         string
		panelWidth     int
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Write side-by-side sheets: ground truth, render, medium, object",
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

			for i := 0; i < ds.NumFrames(); i++ {
				if err := compareFrame(model, ds, cfg.MaxSteps, i, outDir, panelWidth); err != nil {
					return err
				}
			}
			logger.Printf("wrote %d comparison sheets to %s\n", ds.NumFrames(), outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&dataDir, "data", "", "dataset directory with cameras.yaml")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "model.ckpt", "checkpoint path")
	cmd.Flags().StringVar(&outDir, "out", "comparisons", "output directory")
	cmd.Flags().IntVar(&panelWidth, "panel-width", 480, "width of each sheet panel")
	cmd.MarkFlagRequired("data")
	return cmd
}

func compareFrame(model *trainer.Model, ds *trainer.DirDataset, step, i int, outDir string, panelWidth int) error {
	cam, err := ds.Camera(i)
	if err != nil {
		return err
	}
	gt, _, err := ds.Pair(i)
	if err != nil {
		return err
	}
	res, err := model.GetOutputs(cam, step)
	if err != nil {
		return fmt.Errorf("frame %d: %w", i, err)
	}

	panels := []*core.Image{gt, res.Out.RGB, res.Out.Medium, res.Out.Object}
	sheet := assembleSheet(panels, panelWidth)
	return saveRGBA(filepath.Join(outDir, fmt.Sprintf("compare_%04d.png", i)), sheet)
}

// assembleSheet scales each panel to a common width and lays them out in
// a horizontal strip.
func assembleSheet(panels []*core.Image, panelWidth int) *image.RGBA {
	panelHeight := panels[0].Height * panelWidth / panels[0].Width
	sheet := image.NewRGBA(image.Rect(0, 0, panelWidth*len(panels), panelHeight))
	for p, img := range panels {
		src := toRGBA(img)
		dst := image.Rect(p*panelWidth, 0, (p+1)*panelWidth, panelHeight)
		xdraw.CatmullRom.Scale(sheet, dst, src, src.Bounds(), xdraw.Src, nil)
	}
	return sheet
}

func toRGBA(im *core.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			c := im.At(x, y)
			j := out.PixOffset(x, y)
			out.Pix[j] = quantize(c.X)
			out.Pix[j+1] = quantize(c.Y)
			out.Pix[j+2] = quantize(c.Z)
			out.Pix[j+3] = 255
		}
	}
	return out
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
