package trainer

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallConfig shrinks the model enough that a training step runs in
// microseconds while still exercising every stage.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.NumWorkers = 1
	cfg.Model.NumRandomInit = 24
	cfg.Model.RandomExtent = 2
	cfg.Model.SHDegree = 1
	cfg.Model.SHDegreeInterval = 10
	cfg.Model.NumDownscales = 1
	cfg.Model.ResolutionSchedule = 10
	cfg.Model.MediumHiddenDim = 8
	return cfg
}

// testFrameCamera looks down the world -Z axis from z=3, so splats near
// the origin land in front of it.
func testFrameCamera() *core.Camera {
	return &core.Camera{
		Fx: 20, Fy: 20, Cx: 8, Cy: 8,
		Width: 16, Height: 16,
		Rotation:    core.IdentityMat3(),
		Translation: core.Vec3{Z: 3},
	}
}

func randomFrame(cam *core.Camera, seed int64) *Frame {
	rng := rand.New(rand.NewSource(seed))
	img := core.NewImage(cam.Width, cam.Height)
	for i := range img.Pix {
		img.Pix[i] = rng.Float32()
	}
	return &Frame{Camera: cam, Image: img}
}

func TestActiveSHDegreeRamp(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.SHDegree = 3
	m, err := NewModel(cfg, &core.SilentLogger{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.ActiveSHDegree(5))
	assert.Equal(t, 1, m.ActiveSHDegree(10))
	assert.Equal(t, 2, m.ActiveSHDegree(25))
	assert.Equal(t, 3, m.ActiveSHDegree(35))
	assert.Equal(t, 3, m.ActiveSHDegree(10000), "ramp caps at the configured maximum")
}

func TestDownscaleFactorSchedule(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.NumDownscales = 2
	m, err := NewModel(cfg, &core.SilentLogger{})
	require.NoError(t, err)
	assert.Equal(t, 4, m.DownscaleFactor(0))
	assert.Equal(t, 2, m.DownscaleFactor(10))
	assert.Equal(t, 1, m.DownscaleFactor(20))
	assert.Equal(t, 1, m.DownscaleFactor(100))
}

func TestMediumOnlyFrameWhenNothingVisible(t *testing.T) {
	cfg := smallConfig()
	// every seed point sits behind the camera
	points := []core.Vec3{{Z: 5}, {X: 1, Z: 6}, {Y: -1, Z: 7}}
	m, err := NewSeededModel(cfg, points, nil, &core.SilentLogger{})
	require.NoError(t, err)

	res, err := m.GetOutputs(testFrameCamera(), 100)
	require.NoError(t, err)
	w := res.Camera.Width
	for y := 0; y < res.Camera.Height; y++ {
		for x := 0; x < w; x++ {
			med := res.Med.RGB[y*w+x]
			got := res.Out.RGB.At(x, y)
			assert.Equal(t, med.X, got.X)
			assert.Equal(t, med.Y, got.Y)
			assert.Equal(t, med.Z, got.Z)
		}
	}
}

func TestTrainStepRunsAndStaysConsistent(t *testing.T) {
	cfg := smallConfig()
	m, err := NewModel(cfg, &core.SilentLogger{})
	require.NoError(t, err)
	frame := randomFrame(testFrameCamera(), 71)

	var last float32
	for step := 1; step <= 3; step++ {
		metrics, err := m.TrainStep(step, frame)
		require.NoError(t, err)
		require.False(t, math32.IsNaN(metrics.Loss), "loss must stay finite")
		require.False(t, math32.IsInf(metrics.Loss, 0))
		assert.Equal(t, step, metrics.Step)
		assert.Equal(t, m.Store.Len(), metrics.NumGaussians)
		last = metrics.Loss
	}
	assert.Greater(t, last, float32(0))
	require.NoError(t, m.Store.CheckConsistent())
	require.NoError(t, m.Opts.CheckSync(m.Store))
}

func TestTrainStepDegreeZeroPath(t *testing.T) {
	cfg := smallConfig()
	cfg.Model.SHDegree = 0
	m, err := NewModel(cfg, &core.SilentLogger{})
	require.NoError(t, err)
	require.Equal(t, 0, m.Store.RestDim())

	_, err = m.TrainStep(1, randomFrame(testFrameCamera(), 72))
	require.NoError(t, err)
	require.NoError(t, m.Opts.CheckSync(m.Store))
}

func TestSeededModelPopulation(t *testing.T) {
	cfg := smallConfig()
	points := []core.Vec3{{X: 0.1}, {Y: 0.2}, {Z: -0.3}, {X: -0.1, Y: 0.1}}
	colors := []core.Vec3{{X: 1}, {Y: 1}, {Z: 1}, {X: 0.5, Y: 0.5, Z: 0.5}}
	m, err := NewSeededModel(cfg, points, colors, &core.SilentLogger{})
	require.NoError(t, err)
	assert.Equal(t, len(points), m.Store.Len())

	_, err = NewSeededModel(cfg, nil, nil, &core.SilentLogger{})
	assert.Error(t, err, "empty point cloud must be rejected")
}

func TestCheckpointRoundtripResizesOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	cfg := smallConfig()
	a, err := NewModel(cfg, &core.SilentLogger{})
	require.NoError(t, err)
	_, err = a.TrainStep(1, randomFrame(testFrameCamera(), 73))
	require.NoError(t, err)
	require.NoError(t, a.SaveCheckpoint(path, 1))

	// b starts with a different population size; the stored shape wins
	cfgB := cfg
	cfgB.Model.NumRandomInit = 5
	b, err := NewModel(cfgB, &core.SilentLogger{})
	require.NoError(t, err)
	require.NotEqual(t, a.Store.Len(), b.Store.Len())

	step, err := b.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 1, step)
	assert.Equal(t, a.Store.Len(), b.Store.Len())
	assert.Equal(t, a.Store.Means, b.Store.Means)
	assert.Equal(t, a.Medium.MLP.Weights, b.Medium.MLP.Weights)
	require.NoError(t, b.Opts.CheckSync(b.Store))

	// resumed training proceeds from the restored population
	_, err = b.TrainStep(step+1, randomFrame(testFrameCamera(), 74))
	require.NoError(t, err)
}

func TestLoadCheckpointRejectsTopologyMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	cfg := smallConfig()
	a, err := NewModel(cfg, &core.SilentLogger{})
	require.NoError(t, err)
	require.NoError(t, a.SaveCheckpoint(path, 0))

	cfgDeg := cfg
	cfgDeg.Model.SHDegree = 2
	c, err := NewModel(cfgDeg, &core.SilentLogger{})
	require.NoError(t, err)
	_, err = c.LoadCheckpoint(path)
	assert.Error(t, err, "SH degree mismatch must be rejected")

	cfgMed := cfg
	cfgMed.Model.MediumHiddenDim = 16
	d, err := NewModel(cfgMed, &core.SilentLogger{})
	require.NoError(t, err)
	_, err = d.LoadCheckpoint(path)
	assert.Error(t, err, "medium topology mismatch must be rejected")
}

func TestPSNR(t *testing.T) {
	a := core.NewImage(4, 4)
	a.Fill(core.Vec3{X: 0.5, Y: 0.5, Z: 0.5})
	assert.True(t, math32.IsInf(PSNR(a, a.Clone()), 1))

	b := a.Clone()
	for i := range b.Pix {
		b.Pix[i] += 0.1
	}
	// uniform error of 0.1 gives mse 0.01, so 20 dB
	assert.InDelta(t, 20, PSNR(a, b), 1e-3)
}
