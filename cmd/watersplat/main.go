// Command watersplat reconstructs underwater scenes from calibrated
// video: it optimizes a population of 3D Gaussian splats together with a
// learned participating-medium field, and renders or compares the result.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "watersplat",
		Short:         "Gaussian splatting reconstruction through a participating medium",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCmd(), newRenderCmd(), newCompareCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
