package trainer

import "fmt"

// RunOptions controls the outer training loop
type RunOptions struct {
	StartStep       int    // resume point; steps run in (StartStep, MaxSteps]
	LogEvery        int    // metrics log period, 0 disables
	CheckpointEvery int    // checkpoint period, 0 disables periodic saves
	CheckpointPath  string // final (and periodic) checkpoint destination
}

// Run drives the full optimization loop: frames cycle in order, one step
// each. Any step error is fatal; a reconstruction that lost optimizer
// sync or its flow supervision cannot limp on.
func Run(m *Model, cams CameraProvider, frames FramePairSource, flows FlowEstimator, opts RunOptions) error {
	if cams.NumFrames() == 0 {
		return fmt.Errorf("no training frames")
	}
	if m.cfg.Loss.UseFlow && flows == nil {
		return fmt.Errorf("flow supervision enabled but no flow estimator provided")
	}
	if !m.cfg.Loss.UseFlow {
		flows = nil
	}

	for step := opts.StartStep + 1; step <= m.cfg.MaxSteps; step++ {
		frame, err := LoadFrame(cams, frames, flows, (step-1)%cams.NumFrames())
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		metrics, err := m.TrainStep(step, frame)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		if opts.LogEvery > 0 && step%opts.LogEvery == 0 {
			m.logger.Printf("step %d: loss=%.5f recon=%.5f ssim=%.5f photo=%.5f psnr=%.2f gaussians=%d\n",
				step, metrics.Loss, metrics.Recon, metrics.SSIM, metrics.Photo,
				metrics.PSNR, metrics.NumGaussians)
		}
		if opts.CheckpointEvery > 0 && opts.CheckpointPath != "" && step%opts.CheckpointEvery == 0 {
			if err := m.SaveCheckpoint(opts.CheckpointPath, step); err != nil {
				return err
			}
		}
	}
	if opts.CheckpointPath != "" {
		return m.SaveCheckpoint(opts.CheckpointPath, m.cfg.MaxSteps)
	}
	return nil
}
