package trainer

import (
	"fmt"
	"math/rand"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/loss"
	"github.com/aquarend/go-water-splatting/pkg/medium"
	"github.com/aquarend/go-water-splatting/pkg/optim"
	"github.com/aquarend/go-water-splatting/pkg/refine"
	"github.com/aquarend/go-water-splatting/pkg/render"
	"github.com/aquarend/go-water-splatting/pkg/splat"
	"github.com/chewxy/math32"
)

// Model owns the optimizable state: the splat population, the medium
// field and the optimizer group shadowing both.
type Model struct {
	Store      *splat.Store
	Medium     *medium.Field
	Opts       *refine.Optimizers
	Controller *refine.Controller

	cfg       Config
	logger    core.Logger
	rng       *rand.Rand
	mode      render.Mode
	renderCfg render.Config
}

// NewModel builds a model with a random splat initialization
func NewModel(cfg Config, logger core.Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	store := splat.NewRandomStore(cfg.Model.NumRandomInit, cfg.Model.RandomExtent, cfg.Model.SHDegree, rng)
	return assemble(cfg, store, logger, rng)
}

// NewSeededModel builds a model seeded from a sparse point cloud, one
// primitive per point. colors may be nil.
func NewSeededModel(cfg Config, points, colors []core.Vec3, logger core.Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("seed point cloud is empty")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	store := splat.NewSeededStore(points, colors, cfg.Model.SHDegree, rng)
	return assemble(cfg, store, logger, rng)
}

func assemble(cfg Config, store *splat.Store, logger core.Logger, rng *rand.Rand) (*Model, error) {
	field := medium.NewField(cfg.Model.MediumLayers, cfg.Model.MediumHiddenDim,
		cfg.Model.MediumDensityBias, cfg.Model.ZeroMedium, rng)
	mode, err := render.ParseMode(cfg.Model.RasterizeMode)
	if err != nil {
		return nil, err
	}
	m := &Model{
		Store:      store,
		Medium:     field,
		Opts:       newOptimizers(cfg.Rates, store, field),
		Controller: refine.NewController(cfg.Refine, logger, rng),
		cfg:        cfg,
		logger:     logger,
		rng:        rng,
		mode:       mode,
		renderCfg: render.Config{
			DepthSentinel: cfg.Model.DepthSentinel,
			NumWorkers:    cfg.NumWorkers,
		},
	}
	logger.Printf("model: %d gaussians, SH degree %d, %s rasterization\n",
		store.Len(), cfg.Model.SHDegree, mode)
	return m, nil
}

func newOptimizers(rates LearningRates, store *splat.Store, field *medium.Field) *refine.Optimizers {
	n := store.Len()
	return &refine.Optimizers{
		Means:        optim.NewAdam(rates.Means, 3, n),
		LogScales:    optim.NewAdam(rates.LogScales, 3, n),
		Quats:        optim.NewAdam(rates.Quats, 4, n),
		FeaturesDC:   optim.NewAdam(rates.FeaturesDC, 3, n),
		FeaturesRest: optim.NewAdam(rates.FeaturesRest, 3*store.RestDim(), n),
		Opacities:    optim.NewAdam(rates.Opacities, 1, n),
		Medium:       optim.NewAdam(rates.Medium, 1, len(field.MLP.Weights)),
	}
}

// ActiveSHDegree returns the SH degree unlocked at a step: one degree per
// SHDegreeInterval steps, up to the configured maximum.
func (m *Model) ActiveSHDegree(step int) int {
	if m.cfg.Model.SHDegree == 0 {
		return 0
	}
	d := step / m.cfg.Model.SHDegreeInterval
	if d > m.cfg.Model.SHDegree {
		d = m.cfg.Model.SHDegree
	}
	return d
}

// DownscaleFactor returns the resolution divisor at a step: training
// starts at a reduced resolution and doubles it on a fixed schedule.
func (m *Model) DownscaleFactor(step int) int {
	if m.cfg.Model.NumDownscales <= 0 {
		return 1
	}
	f := m.cfg.Model.NumDownscales - step/m.cfg.Model.ResolutionSchedule
	if f < 0 {
		f = 0
	}
	return 1 << f
}

// RenderResult holds one rendered frame plus the activation caches the
// backward pass needs.
type RenderResult struct {
	Camera         *core.Camera
	Proj           *render.Projection
	Med            *medium.Outputs
	Out            *render.Outputs
	ActiveSHDegree int

	colors    []core.Vec3 // post-clamp splat colors
	preClamp  []core.Vec3 // pre-clamp values, for gradient gating
	sigm      []float32   // sigmoid opacity before compensation
	opacities []float32   // sigm * comp, as composited
	viewDirs  []core.Vec3 // unit directions from camera to each mean
}

// GetOutputs renders the scene for one camera at one step: medium
// evaluation, projection, SH color decode and compositing. An empty
// projection yields a medium-only frame.
func (m *Model) GetOutputs(cam *core.Camera, step int) (*RenderResult, error) {
	rcam := cam.Rescale(m.DownscaleFactor(step))
	med := m.Medium.EvalImage(rcam)
	proj, err := render.Project(m.Store, rcam, m.mode, m.cfg.Model.ClipThresh)
	if err != nil {
		return nil, err
	}

	n := m.Store.Len()
	res := &RenderResult{
		Camera:         rcam,
		Proj:           proj,
		Med:            med,
		ActiveSHDegree: m.ActiveSHDegree(step),
		colors:         make([]core.Vec3, n),
		preClamp:       make([]core.Vec3, n),
		sigm:           make([]float32, n),
		opacities:      make([]float32, n),
		viewDirs:       make([]core.Vec3, n),
	}
	camPos := rcam.Translation
	for i := 0; i < n; i++ {
		if proj.Radii[i] == 0 {
			continue
		}
		var c core.Vec3
		if m.cfg.Model.SHDegree > 0 {
			dir := m.Store.MeanAt(i).Subtract(camPos).Normalize()
			res.viewDirs[i] = dir
			raw := splat.EvalSH(res.ActiveSHDegree, dir, m.Store.SHCoeffsAt(i)).
				Add(core.NewVec3(0.5, 0.5, 0.5))
			res.preClamp[i] = raw
			c = raw.Clamp(0, math32.MaxFloat32)
		} else {
			dc := m.Store.FeatureDCAt(i)
			c = core.Vec3{X: core.Sigmoid(dc.X), Y: core.Sigmoid(dc.Y), Z: core.Sigmoid(dc.Z)}
		}
		res.colors[i] = c
		s := m.Store.OpacityAt(i)
		res.sigm[i] = s
		res.opacities[i] = s * proj.Comp[i]
	}
	res.Out = render.Rasterize(proj, res.colors, res.opacities, med.RGB, med.BS, med.Attn, m.renderCfg)
	return res, nil
}

// TrainStep runs one optimization step on one frame: render, loss,
// analytic backward through every stage, per-group Adam updates and, on
// refinement boundaries, one population refinement cycle.
func (m *Model) TrainStep(step int, frame *Frame) (*Metrics, error) {
	res, err := m.GetOutputs(frame.Camera, step)
	if err != nil {
		return nil, err
	}
	gt := DownscaleImage(frame.Image, res.Camera.Width, res.Camera.Height)
	var gtNext *core.Image
	if frame.Next != nil {
		gtNext = DownscaleImage(frame.Next, res.Camera.Width, res.Camera.Height)
	}
	var mask *core.ScalarField
	if frame.Mask != nil {
		mask = DownscaleMask(frame.Mask, res.Camera.Width, res.Camera.Height)
	}

	lossRes, err := loss.Compute(m.cfg.Loss, res.Out.RGB, gt, gtNext, frame.Flow, mask)
	if err != nil {
		return nil, err
	}

	bp := res.Out.Backward(lossRes.DPred)
	m.Medium.Backward(res.Med, bp.DMediumRGB, bp.DMediumBS, bp.DMediumAttn)

	grads := splat.NewGrads(m.Store)
	dComp := m.splatBackward(res, bp, grads)
	res.Proj.Backward(m.Store, bp.DXY, bp.DDepth, bp.DConic, dComp, grads)

	if err := m.applyGradients(grads); err != nil {
		return nil, err
	}

	m.Controller.AfterStep(res.Proj, bp)
	if step%m.cfg.Refine.RefineEvery == 0 {
		if err := m.Controller.RefineAt(step, m.Store, m.Opts); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		Step:         step,
		Loss:         lossRes.Total,
		Recon:        lossRes.Recon,
		SSIM:         lossRes.SSIM,
		Photo:        lossRes.Photo,
		PSNR:         PSNR(res.Out.RGB, gt),
		NumGaussians: m.Store.Len(),
		MediumMean:   MediumMean(res.Med),
	}, nil
}

// splatBackward chains the compositor's color and opacity gradients back
// to SH coefficients and opacity logits, and returns the antialiasing
// compensation gradient for the projection backward pass.
func (m *Model) splatBackward(res *RenderResult, bp *render.Backprop, grads *splat.Grads) []float32 {
	n := m.Store.Len()
	dComp := make([]float32, n)
	var coeffGrads []core.Vec3
	if m.cfg.Model.SHDegree > 0 {
		coeffGrads = make([]core.Vec3, 1+m.Store.RestDim())
	}
	for i := 0; i < n; i++ {
		if res.Proj.Radii[i] == 0 {
			continue
		}
		dc := bp.DColors[i]
		if m.cfg.Model.SHDegree > 0 {
			// channels clamped at zero pass no gradient
			pre := res.preClamp[i]
			if pre.X < 0 {
				dc.X = 0
			}
			if pre.Y < 0 {
				dc.Y = 0
			}
			if pre.Z < 0 {
				dc.Z = 0
			}
			for k := range coeffGrads {
				coeffGrads[k] = core.Vec3{}
			}
			splat.EvalSHBackward(res.ActiveSHDegree, res.viewDirs[i], dc, coeffGrads)
			grads.FeaturesDC[i*3] += coeffGrads[0].X
			grads.FeaturesDC[i*3+1] += coeffGrads[0].Y
			grads.FeaturesDC[i*3+2] += coeffGrads[0].Z
			for k := 1; k < len(coeffGrads); k++ {
				j := (i*m.Store.RestDim() + k - 1) * 3
				grads.FeaturesRest[j] += coeffGrads[k].X
				grads.FeaturesRest[j+1] += coeffGrads[k].Y
				grads.FeaturesRest[j+2] += coeffGrads[k].Z
			}
		} else {
			c := res.colors[i]
			grads.FeaturesDC[i*3] += dc.X * c.X * (1 - c.X)
			grads.FeaturesDC[i*3+1] += dc.Y * c.Y * (1 - c.Y)
			grads.FeaturesDC[i*3+2] += dc.Z * c.Z * (1 - c.Z)
		}

		s := res.sigm[i]
		dOp := bp.DOpacities[i]
		grads.Opacities[i] += dOp * res.Proj.Comp[i] * s * (1 - s)
		dComp[i] = dOp * s
	}
	return dComp
}

// applyGradients runs one Adam step per parameter group and clears the
// medium gradient accumulator.
func (m *Model) applyGradients(grads *splat.Grads) error {
	steps := []struct {
		opt    *optim.Adam
		params []float32
		grads  []float32
	}{
		{m.Opts.Means, m.Store.Means, grads.Means},
		{m.Opts.LogScales, m.Store.LogScales, grads.LogScales},
		{m.Opts.Quats, m.Store.Quats, grads.Quats},
		{m.Opts.FeaturesDC, m.Store.FeaturesDC, grads.FeaturesDC},
		{m.Opts.FeaturesRest, m.Store.FeaturesRest, grads.FeaturesRest},
		{m.Opts.Opacities, m.Store.Opacities, grads.Opacities},
		{m.Opts.Medium, m.Medium.MLP.Weights, m.Medium.MLP.Grad},
	}
	for _, s := range steps {
		if err := s.opt.Step(s.params, s.grads); err != nil {
			return err
		}
	}
	m.Medium.MLP.ZeroGrad()
	return nil
}
