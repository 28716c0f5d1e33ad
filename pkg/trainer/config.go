// Package trainer assembles the full reconstruction model and drives the
// optimization loop: render, loss, analytic backward, optimizer step and
// periodic population refinement.
package trainer

import (
	"fmt"
	"os"

	"github.com/aquarend/go-water-splatting/pkg/loss"
	"github.com/aquarend/go-water-splatting/pkg/refine"
	"github.com/aquarend/go-water-splatting/pkg/render"
	"gopkg.in/yaml.v3"
)

// ModelConfig controls model topology and rendering behavior
type ModelConfig struct {
	NumRandomInit int     `yaml:"num_random_init"` // random seeds when no point cloud is given
	RandomExtent  float32 `yaml:"random_extent"`   // side of the random init cube

	SHDegree         int `yaml:"sh_degree"`          // max SH degree, 0..3
	SHDegreeInterval int `yaml:"sh_degree_interval"` // steps per degree unlock

	RasterizeMode string  `yaml:"rasterize_mode"` // classic | antialiased
	ClipThresh    float32 `yaml:"clip_thresh"`    // near-plane cull distance
	DepthSentinel float32 `yaml:"depth_sentinel"` // depth reported at zero alpha

	NumDownscales      int `yaml:"num_downscales"`      // initial resolution halvings
	ResolutionSchedule int `yaml:"resolution_schedule"` // steps per halving undone

	MediumLayers      int     `yaml:"medium_layers"` // linear layers in the medium MLP
	MediumHiddenDim   int     `yaml:"medium_hidden_dim"`
	MediumDensityBias float32 `yaml:"medium_density_bias"`
	ZeroMedium        bool    `yaml:"zero_medium"` // ablation: no medium at all
}

// LearningRates holds the per-parameter-group Adam learning rates
type LearningRates struct {
	Means        float32 `yaml:"means"`
	LogScales    float32 `yaml:"log_scales"`
	Quats        float32 `yaml:"quats"`
	FeaturesDC   float32 `yaml:"features_dc"`
	FeaturesRest float32 `yaml:"features_rest"`
	Opacities    float32 `yaml:"opacities"`
	Medium       float32 `yaml:"medium"`
}

// Config is the complete training configuration
type Config struct {
	Seed       int64 `yaml:"seed"`
	MaxSteps   int   `yaml:"max_steps"`
	NumWorkers int   `yaml:"num_workers"` // tile parallelism; 0 = CPU count

	Model  ModelConfig   `yaml:"model"`
	Rates  LearningRates `yaml:"rates"`
	Refine refine.Config `yaml:"refine"`
	Loss   loss.Config   `yaml:"loss"`
}

// DefaultConfig returns the standard underwater-scene configuration
func DefaultConfig() Config {
	return Config{
		Seed:     42,
		MaxSteps: 30000,
		Model: ModelConfig{
			NumRandomInit:      30000,
			RandomExtent:       10,
			SHDegree:           3,
			SHDegreeInterval:   1000,
			RasterizeMode:      string(render.ModeAntialiased),
			ClipThresh:         0.01,
			DepthSentinel:      10,
			NumDownscales:      2,
			ResolutionSchedule: 3000,
			MediumLayers:       3,
			MediumHiddenDim:    128,
			MediumDensityBias:  0,
			ZeroMedium:         false,
		},
		Rates: LearningRates{
			Means:        1.6e-4,
			LogScales:    5e-3,
			Quats:        1e-3,
			FeaturesDC:   2.5e-3,
			FeaturesRest: 1.25e-4,
			Opacities:    5e-2,
			Medium:       1e-3,
		},
		Refine: refine.DefaultConfig(),
		Loss:   loss.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults and validates it
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects invalid configurations once, up front. The same
// invariants are also enforced at point of use.
func (c *Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if _, err := render.ParseMode(c.Model.RasterizeMode); err != nil {
		return err
	}
	if c.Model.SHDegree < 0 || c.Model.SHDegree > 3 {
		return fmt.Errorf("sh_degree must be in 0..3, got %d", c.Model.SHDegree)
	}
	if c.Model.SHDegree > 0 && c.Model.SHDegreeInterval <= 0 {
		return fmt.Errorf("sh_degree_interval must be positive, got %d", c.Model.SHDegreeInterval)
	}
	if c.Model.NumDownscales < 0 {
		return fmt.Errorf("num_downscales must be non-negative, got %d", c.Model.NumDownscales)
	}
	if c.Model.NumDownscales > 0 && c.Model.ResolutionSchedule <= 0 {
		return fmt.Errorf("resolution_schedule must be positive, got %d", c.Model.ResolutionSchedule)
	}
	if c.Model.MediumLayers < 2 && !c.Model.ZeroMedium {
		return fmt.Errorf("medium_layers must be at least 2, got %d", c.Model.MediumLayers)
	}
	if c.Refine.RefineEvery <= 0 {
		return fmt.Errorf("refine_every must be positive, got %d", c.Refine.RefineEvery)
	}
	if c.Refine.ResetAlphaEvery <= 0 {
		return fmt.Errorf("reset_alpha_every must be positive, got %d", c.Refine.ResetAlphaEvery)
	}
	if c.Refine.NSplitSamples < 1 {
		return fmt.Errorf("n_split_samples must be at least 1, got %d", c.Refine.NSplitSamples)
	}
	for name, lr := range map[string]float32{
		"means": c.Rates.Means, "log_scales": c.Rates.LogScales,
		"quats": c.Rates.Quats, "features_dc": c.Rates.FeaturesDC,
		"features_rest": c.Rates.FeaturesRest, "opacities": c.Rates.Opacities,
		"medium": c.Rates.Medium,
	} {
		if lr <= 0 {
			return fmt.Errorf("learning rate %s must be positive, got %g", name, lr)
		}
	}
	return c.Loss.Validate()
}
