// Package refine implements the splat population controller: the
// periodic cull/split/duplicate state machine and the optimizer-state
// surgery that must stay in lockstep with it.
package refine

import (
	"fmt"
	"math/rand"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/optim"
	"github.com/aquarend/go-water-splatting/pkg/render"
	"github.com/aquarend/go-water-splatting/pkg/splat"
	"github.com/chewxy/math32"
)

const splitShrinkFactor = 1.6

// Config holds the refinement schedule and thresholds
type Config struct {
	WarmupLength int `yaml:"warmup_length"` // steps before refinement starts
	RefineEvery  int `yaml:"refine_every"`  // refinement cycle period

	ResetAlphaEvery  int     `yaml:"reset_alpha_every"`  // opacity reset period, in refine cycles
	ResetAlphaThresh float32 `yaml:"reset_alpha_thresh"` // opacity ceiling applied at reset
	PauseAfterReset  int     `yaml:"pause_after_reset"`  // steps to skip densification after a reset

	DensifyGradThresh float32 `yaml:"densify_grad_thresh"` // positional gradient norm threshold
	DensifySizeThresh float32 `yaml:"densify_size_thresh"` // world-size boundary between dup and split
	NSplitSamples     int     `yaml:"n_split_samples"`     // primitives produced per split
	StopSplitAt       int     `yaml:"stop_split_at"`       // densification stops at this step

	CullAlphaThresh     float32 `yaml:"cull_alpha_thresh"`      // opacity floor before StopSplitAt
	CullAlphaThreshPost float32 `yaml:"cull_alpha_thresh_post"` // opacity floor after StopSplitAt
	CullScaleThresh     float32 `yaml:"cull_scale_thresh"`      // world-size ceiling
	CullScreenSize      float32 `yaml:"cull_screen_size"`       // screen-size ceiling (fraction of frame)
	SplitScreenSize     float32 `yaml:"split_screen_size"`      // screen-size split trigger
	StopScreenSizeAt    int     `yaml:"stop_screen_size_at"`    // screen-size rules apply before this step

	AbsGradDensification          bool `yaml:"abs_grad_densification"`
	ContinueCullPostDensification bool `yaml:"continue_cull_post_densification"`
}

// DefaultConfig mirrors the trainer defaults for underwater scenes
func DefaultConfig() Config {
	return Config{
		WarmupLength:                  500,
		RefineEvery:                   100,
		ResetAlphaEvery:               5,
		ResetAlphaThresh:              0.5,
		PauseAfterReset:               0,
		DensifyGradThresh:             0.0008,
		DensifySizeThresh:             0.001,
		NSplitSamples:                 2,
		StopSplitAt:                   10000,
		CullAlphaThresh:               0.5,
		CullAlphaThreshPost:           0.1,
		CullScaleThresh:               10,
		CullScreenSize:                0.15,
		SplitScreenSize:               0.05,
		StopScreenSizeAt:              0,
		AbsGradDensification:          true,
		ContinueCullPostDensification: true,
	}
}

// Optimizers groups the per-attribute splat optimizers plus the medium
// optimizer, whose moments are reset whenever primitives are deleted.
type Optimizers struct {
	Means        *optim.Adam
	LogScales    *optim.Adam
	Quats        *optim.Adam
	FeaturesDC   *optim.Adam
	FeaturesRest *optim.Adam
	Opacities    *optim.Adam
	Medium       *optim.Adam
}

// perAttribute returns the optimizers shadowing store attributes,
// in store attribute order.
func (o *Optimizers) perAttribute() []*optim.Adam {
	return []*optim.Adam{o.Means, o.LogScales, o.Quats, o.FeaturesDC, o.FeaturesRest, o.Opacities}
}

// CheckSync verifies every shadow state matches the store's population
func (o *Optimizers) CheckSync(s *splat.Store) error {
	lens := []int{len(s.Means), len(s.LogScales), len(s.Quats), len(s.FeaturesDC), len(s.FeaturesRest), len(s.Opacities)}
	for i, opt := range o.perAttribute() {
		if err := opt.Check(lens[i]); err != nil {
			return err
		}
	}
	return nil
}

// Controller drives the refinement state machine. The training step is
// explicit input to every call; the controller keeps no ambient step.
type Controller struct {
	cfg    Config
	stats  Stats
	logger core.Logger
	rng    *rand.Rand
}

// NewController creates a population controller
func NewController(cfg Config, logger core.Logger, rng *rand.Rand) *Controller {
	return &Controller{cfg: cfg, logger: logger, rng: rng}
}

// Stats exposes the transient statistics for inspection
func (c *Controller) Stats() *Stats {
	return &c.stats
}

// AfterStep folds one rendered step's gradients and visibility into the
// transient statistics; see Stats.Observe.
func (c *Controller) AfterStep(proj *render.Projection, bp *render.Backprop) {
	c.stats.Observe(proj, bp, c.cfg.AbsGradDensification)
}

// RefineAt runs one refinement cycle at the given step. The store and
// every optimizer shadow state mutate as one atomic unit; any detected
// desync is returned as a fatal invariant violation. Statistics clear
// unconditionally before returning.
func (c *Controller) RefineAt(step int, store *splat.Store, opts *Optimizers) error {
	defer c.stats.Reset()
	if step <= c.cfg.WarmupLength {
		return nil
	}

	resetInterval := c.cfg.ResetAlphaEvery * c.cfg.RefineEvery
	doDensify := step < c.cfg.StopSplitAt &&
		step%resetInterval > c.cfg.PauseAfterReset+c.cfg.RefineEvery &&
		c.stats.Populated()

	var removed []bool
	if doDensify {
		var err error
		removed, err = c.densify(step, store, opts)
		if err != nil {
			return err
		}
	} else if step >= c.cfg.StopSplitAt && c.cfg.ContinueCullPostDensification {
		var err error
		removed, err = c.cull(step, store, nil)
		if err != nil {
			return err
		}
	}

	if removed != nil {
		for _, opt := range opts.perAttribute() {
			if err := opt.Compact(removed); err != nil {
				return err
			}
		}
		// deleting primitives shifts the medium's job; stale momentum
		// there fights the new population
		opts.Medium.ZeroMoments()
	}

	if step < c.cfg.StopSplitAt && step%resetInterval == c.cfg.RefineEvery {
		c.resetOpacities(store, opts)
	}

	if err := opts.CheckSync(store); err != nil {
		return fmt.Errorf("refinement left optimizer state desynced: %w", err)
	}
	return store.CheckConsistent()
}

// densify splits large high-gradient primitives, duplicates small ones,
// and folds the split originals into the cull pass. Returns the removal
// mask over the post-concatenation population.
func (c *Controller) densify(step int, store *splat.Store, opts *Optimizers) ([]bool, error) {
	n := store.Len()
	avgGrads := c.stats.AverageGradNorms()
	if len(avgGrads) != n {
		// population changed since stats were gathered; skip this cycle
		return c.cull(step, store, nil)
	}

	splits := make([]bool, n)
	dups := make([]bool, n)
	numSplits, numDups := 0, 0
	for i := 0; i < n; i++ {
		if avgGrads[i] <= c.cfg.DensifyGradThresh {
			continue
		}
		big := store.MaxScaleAt(i) > c.cfg.DensifySizeThresh
		if !big && step < c.cfg.StopScreenSizeAt && c.stats.Max2DSize[i] > c.cfg.SplitScreenSize {
			big = true
		}
		if big {
			splits[i] = true
			numSplits++
		} else {
			dups[i] = true
			numDups++
		}
	}

	splitStore := c.splitGaussians(store, splits, numSplits)
	dupStore := store.Select(dups)
	if err := store.Append(splitStore); err != nil {
		return nil, err
	}
	if err := store.Append(dupStore); err != nil {
		return nil, err
	}
	added := splitStore.Len() + dupStore.Len()
	for _, opt := range opts.perAttribute() {
		opt.Extend(added)
	}
	c.stats.ExtendMax2DSize(added)

	c.logger.Printf("densify @ step %d: %d splits (%d samples each), %d dups, %d total\n",
		step, numSplits, c.cfg.NSplitSamples, numDups, store.Len())

	// split originals are replaced, never kept: union them into the same
	// cull mask so one removal pass handles both
	extra := make([]bool, store.Len())
	copy(extra, splits)
	return c.cull(step, store, extra)
}

// splitGaussians samples NSplitSamples replacements for each masked
// primitive, perturbing position inside the primitive's own footprint
// and shrinking both the originals and the copies.
func (c *Controller) splitGaussians(store *splat.Store, mask []bool, count int) *splat.Store {
	samps := c.cfg.NSplitSamples
	out := splat.NewStore(count*samps, store.SHDegree)
	shrink := math32.Log(splitShrinkFactor)
	j := 0
	for i, m := range mask {
		if !m {
			continue
		}
		scale := store.ScaleAt(i)
		rot := store.QuatAt(i).Normalize().RotationMatrix()
		mean := store.MeanAt(i)
		logScale := store.LogScaleAt(i)
		newLogScale := logScale.Subtract(core.NewVec3(shrink, shrink, shrink))
		for s := 0; s < samps; s++ {
			noise := core.Vec3{
				X: float32(c.rng.NormFloat64()) * scale.X,
				Y: float32(c.rng.NormFloat64()) * scale.Y,
				Z: float32(c.rng.NormFloat64()) * scale.Z,
			}
			out.SetMean(j, mean.Add(rot.MulVec(noise)))
			out.SetLogScale(j, newLogScale)
			out.SetQuat(j, store.QuatAt(i))
			out.SetFeatureDC(j, store.FeatureDCAt(i))
			for k := 0; k < store.RestDim(); k++ {
				out.SetFeatureRest(j, k, store.FeatureRestAt(i, k))
			}
			out.Opacities[j] = store.Opacities[i]
			j++
		}
		// shrink the original too; it is culled this same cycle
		store.SetLogScale(i, newLogScale)
	}
	return out
}

// cull removes primitives below the opacity floor, plus oversized ones
// once enough reset cycles have elapsed, plus any extra mask entries
// (split originals). Returns the removal mask, or nil when nothing was
// removed.
func (c *Controller) cull(step int, store *splat.Store, extra []bool) ([]bool, error) {
	n := store.Len()
	alphaThresh := c.cfg.CullAlphaThresh
	if step >= c.cfg.StopSplitAt {
		alphaThresh = c.cfg.CullAlphaThreshPost
	}

	remove := make([]bool, n)
	belowAlpha, tooBig := 0, 0
	for i := 0; i < n; i++ {
		if store.OpacityAt(i) < alphaThresh {
			remove[i] = true
			belowAlpha++
		}
	}
	if extra != nil {
		for i, m := range extra {
			if m {
				remove[i] = true
			}
		}
	}
	if step > c.cfg.RefineEvery*c.cfg.ResetAlphaEvery {
		for i := 0; i < n; i++ {
			big := store.MaxScaleAt(i) > c.cfg.CullScaleThresh
			if !big && step < c.cfg.StopScreenSizeAt &&
				c.stats.Max2DSize != nil && i < len(c.stats.Max2DSize) &&
				c.stats.Max2DSize[i] > c.cfg.CullScreenSize {
				big = true
			}
			if big {
				if !remove[i] {
					tooBig++
				}
				remove[i] = true
			}
		}
	}

	total := 0
	for _, rm := range remove {
		if rm {
			total++
		}
	}
	if total == 0 {
		return nil, nil
	}
	if err := store.Compact(remove); err != nil {
		return nil, err
	}
	c.logger.Printf("culled %d gaussians (%d below alpha, %d too big, %d remaining)\n",
		total, belowAlpha, tooBig, store.Len())
	return remove, nil
}

// resetOpacities clamps every opacity to the reset ceiling (in logit
// space) and zeros the opacity optimizer moments so momentum does not
// immediately undo the reset.
func (c *Controller) resetOpacities(store *splat.Store, opts *Optimizers) {
	ceiling := core.Logit(c.cfg.ResetAlphaThresh)
	for i := range store.Opacities {
		if store.Opacities[i] > ceiling {
			store.Opacities[i] = ceiling
		}
	}
	opts.Opacities.ZeroMoments()
	c.logger.Printf("opacity reset: ceiling %.3f\n", c.cfg.ResetAlphaThresh)
}
