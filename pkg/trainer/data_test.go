package trainer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/loaders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeDataset lays out a two-frame capture in a temp directory
func writeDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	meta := `
fx: 10
fy: 10
cx: 2
cy: 2
width: 4
height: 4
frames:
  - file: frame0.png
    rotation: [1, 0, 0, 0, 1, 0, 0, 0, 1]
    translation: [0, 0, 0]
  - file: frame1.png
    rotation: [1, 0, 0, 0, 1, 0, 0, 0, 1]
    translation: [0, 0, 1]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cameras.yaml"), []byte(meta), 0o644))

	for i, shade := range []float32{0.25, 0.75} {
		img := core.NewImage(4, 4)
		img.Fill(core.Vec3{X: shade, Y: shade, Z: shade})
		name := filepath.Join(dir, "frame"+string(rune('0'+i))+".png")
		require.NoError(t, loaders.SaveImage(name, img))
	}
	return dir
}

func TestOpenDirDataset(t *testing.T) {
	dir := writeDataset(t)
	ds, err := OpenDirDataset(dir, &core.SilentLogger{})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.NumFrames())

	cam, err := ds.Camera(1)
	require.NoError(t, err)
	assert.Equal(t, float32(10), cam.Fx)
	assert.Equal(t, 4, cam.Width)
	assert.Equal(t, float32(1), cam.Translation.Z)

	_, err = ds.Camera(2)
	assert.Error(t, err)
}

func TestOpenDirDatasetRejectsBadMetadata(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenDirDataset(dir, &core.SilentLogger{})
	assert.Error(t, err, "missing cameras.yaml")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cameras.yaml"),
		[]byte("fx: 10\nfy: 10\nwidth: 4\nheight: 4\nframes: []\n"), 0o644))
	_, err = OpenDirDataset(dir, &core.SilentLogger{})
	assert.Error(t, err, "empty frame list")
}

func TestPairBoundaryFallback(t *testing.T) {
	dir := writeDataset(t)
	ds, err := OpenDirDataset(dir, &core.SilentLogger{})
	require.NoError(t, err)

	cur, next, err := ds.Pair(0)
	require.NoError(t, err)
	// 8-bit quantization allows half an ulp of drift
	assert.InDelta(t, 0.25, cur.At(1, 1).X, 1.0/255)
	assert.InDelta(t, 0.75, next.At(1, 1).X, 1.0/255)

	cur, next, err = ds.Pair(1)
	require.NoError(t, err)
	assert.Same(t, cur, next, "the last frame pairs with itself")
}

func TestMaskIsNilWhenAbsent(t *testing.T) {
	dir := writeDataset(t)
	ds, err := OpenDirDataset(dir, &core.SilentLogger{})
	require.NoError(t, err)
	mask, err := ds.Mask(0)
	require.NoError(t, err)
	assert.Nil(t, mask)
}

func TestMissingFlowFileIsAnError(t *testing.T) {
	dir := writeDataset(t)
	ds, err := OpenDirDataset(dir, &core.SilentLogger{})
	require.NoError(t, err)
	_, err = ds.Flow(0)
	assert.Error(t, err)
}

func TestLoadFrameAssemblesSources(t *testing.T) {
	dir := writeDataset(t)
	ds, err := OpenDirDataset(dir, &core.SilentLogger{})
	require.NoError(t, err)

	f, err := LoadFrame(ds, ds, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index)
	assert.NotNil(t, f.Camera)
	assert.NotNil(t, f.Image)
	assert.NotNil(t, f.Next)
	assert.Nil(t, f.Flow)
	assert.Nil(t, f.Mask)
}

func TestDownscaleImageBoxFilter(t *testing.T) {
	img := core.NewImage(4, 4)
	// top-left quad averages to 0.25: one lit pixel out of four
	img.Set(0, 0, core.Vec3{X: 1, Y: 1, Z: 1})
	out := DownscaleImage(img, 2, 2)
	assert.InDelta(t, 0.25, out.At(0, 0).X, 1e-6)
	assert.InDelta(t, 0, out.At(1, 0).X, 1e-6)
	assert.InDelta(t, 0, out.At(1, 1).X, 1e-6)

	assert.Same(t, img, DownscaleImage(img, 4, 4), "no-op at matching size")
}

func TestDownscaleMaskBoxFilter(t *testing.T) {
	mask := core.NewScalarField(4, 2)
	mask.Set(0, 0, 1)
	mask.Set(1, 0, 1)
	mask.Set(0, 1, 1)
	mask.Set(1, 1, 1)
	out := DownscaleMask(mask, 2, 1)
	assert.InDelta(t, 1, out.At(0, 0), 1e-6)
	assert.InDelta(t, 0, out.At(1, 0), 1e-6)
}
