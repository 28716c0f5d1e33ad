package trainer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max_steps", func(c *Config) { c.MaxSteps = 0 }},
		{"bad rasterize mode", func(c *Config) { c.Model.RasterizeMode = "cubist" }},
		{"sh degree too high", func(c *Config) { c.Model.SHDegree = 4 }},
		{"negative sh degree", func(c *Config) { c.Model.SHDegree = -1 }},
		{"zero sh interval", func(c *Config) { c.Model.SHDegreeInterval = 0 }},
		{"negative downscales", func(c *Config) { c.Model.NumDownscales = -1 }},
		{"zero resolution schedule", func(c *Config) { c.Model.ResolutionSchedule = 0 }},
		{"single medium layer", func(c *Config) { c.Model.MediumLayers = 1 }},
		{"zero refine_every", func(c *Config) { c.Refine.RefineEvery = 0 }},
		{"zero split samples", func(c *Config) { c.Refine.NSplitSamples = 0 }},
		{"zero learning rate", func(c *Config) { c.Rates.Opacities = 0 }},
		{"bad loss", func(c *Config) { c.Loss.ReconType = "huber" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSingleMediumLayerAllowedWhenZeroed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.MediumLayers = 0
	cfg.Model.ZeroMedium = true
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	text := `
max_steps: 123
model:
  sh_degree: 2
  rasterize_mode: classic
rates:
  means: 0.01
loss:
  use_flow: true
`
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 123, cfg.MaxSteps)
	assert.Equal(t, 2, cfg.Model.SHDegree)
	assert.Equal(t, "classic", cfg.Model.RasterizeMode)
	assert.InDelta(t, 0.01, cfg.Rates.Means, 1e-7)
	assert.True(t, cfg.Loss.UseFlow)

	// untouched fields keep their defaults
	def := DefaultConfig()
	assert.Equal(t, def.Model.MediumHiddenDim, cfg.Model.MediumHiddenDim)
	assert.Equal(t, def.Refine.RefineEvery, cfg.Refine.RefineEvery)
	assert.InDelta(t, def.Rates.Opacities, cfg.Rates.Opacities, 1e-7)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_steps: -5\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
