package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/loaders"
	"gopkg.in/yaml.v3"
)

// CameraProvider supplies calibrated poses for each training frame
type CameraProvider interface {
	NumFrames() int
	Camera(i int) (*core.Camera, error)
}

// FramePairSource supplies ground-truth frames in temporal order. Pair
// returns frame i and its successor; at the sequence boundary the last
// frame stands in for its own successor.
type FramePairSource interface {
	Pair(i int) (cur, next *core.Image, err error)
	Mask(i int) (*core.ScalarField, error) // nil when no mask exists
}

// FlowEstimator supplies precomputed optical flow from frame i to i+1.
// Flow networks stay frozen during reconstruction, so flow enters as
// data, not as part of the model.
type FlowEstimator interface {
	Flow(i int) (*core.FlowField, error)
}

// Frame bundles everything one training step consumes
type Frame struct {
	Index  int
	Camera *core.Camera
	Image  *core.Image
	Next   *core.Image
	Flow   *core.FlowField
	Mask   *core.ScalarField
}

// LoadFrame assembles a training frame from the data sources. flows may
// be nil when flow supervision is off; a flow load failure with flows
// set is returned, not swallowed.
func LoadFrame(cams CameraProvider, frames FramePairSource, flows FlowEstimator, i int) (*Frame, error) {
	cam, err := cams.Camera(i)
	if err != nil {
		return nil, err
	}
	cur, next, err := frames.Pair(i)
	if err != nil {
		return nil, err
	}
	mask, err := frames.Mask(i)
	if err != nil {
		return nil, err
	}
	f := &Frame{Index: i, Camera: cam, Image: cur, Next: next, Mask: mask}
	if flows != nil {
		flow, err := flows.Flow(i)
		if err != nil {
			return nil, err
		}
		f.Flow = flow
	}
	return f, nil
}

// datasetFile is the on-disk layout of cameras.yaml
type datasetFile struct {
	Fx     float32 `yaml:"fx"`
	Fy     float32 `yaml:"fy"`
	Cx     float32 `yaml:"cx"`
	Cy     float32 `yaml:"cy"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Frames []struct {
		File        string     `yaml:"file"`
		Rotation    [9]float32 `yaml:"rotation"`
		Translation [3]float32 `yaml:"translation"`
	} `yaml:"frames"`
}

// DirDataset reads a capture from a directory: cameras.yaml with shared
// intrinsics and per-frame poses, frame images next to it, optional
// masks/ and flow/ subdirectories keyed by frame file stem.
type DirDataset struct {
	root   string
	meta   datasetFile
	logger core.Logger
	cache  map[int]*core.Image // frames are revisited every epoch
}

// OpenDirDataset parses a dataset directory's cameras.yaml
func OpenDirDataset(root string, logger core.Logger) (*DirDataset, error) {
	data, err := os.ReadFile(filepath.Join(root, "cameras.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset metadata: %w", err)
	}
	ds := &DirDataset{root: root, logger: logger, cache: make(map[int]*core.Image)}
	if err := yaml.Unmarshal(data, &ds.meta); err != nil {
		return nil, fmt.Errorf("failed to parse cameras.yaml: %w", err)
	}
	if len(ds.meta.Frames) == 0 {
		return nil, fmt.Errorf("dataset %s lists no frames", root)
	}
	if ds.meta.Width <= 0 || ds.meta.Height <= 0 || ds.meta.Fx <= 0 || ds.meta.Fy <= 0 {
		return nil, fmt.Errorf("dataset %s has invalid intrinsics", root)
	}
	logger.Printf("dataset %s: %d frames at %dx%d\n", root, len(ds.meta.Frames), ds.meta.Width, ds.meta.Height)
	return ds, nil
}

// NumFrames returns the number of frames in the capture
func (d *DirDataset) NumFrames() int {
	return len(d.meta.Frames)
}

// Camera returns the calibrated camera of frame i
func (d *DirDataset) Camera(i int) (*core.Camera, error) {
	if i < 0 || i >= len(d.meta.Frames) {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", i, len(d.meta.Frames))
	}
	fr := d.meta.Frames[i]
	return &core.Camera{
		Fx: d.meta.Fx, Fy: d.meta.Fy,
		Cx: d.meta.Cx, Cy: d.meta.Cy,
		Width:       d.meta.Width,
		Height:      d.meta.Height,
		Rotation:    core.Mat3(fr.Rotation),
		Translation: core.Vec3{X: fr.Translation[0], Y: fr.Translation[1], Z: fr.Translation[2]},
	}, nil
}

// Pair returns frame i and its temporal successor; the final frame is
// paired with itself.
func (d *DirDataset) Pair(i int) (*core.Image, *core.Image, error) {
	cur, err := d.loadFrame(i)
	if err != nil {
		return nil, nil, err
	}
	if i+1 >= len(d.meta.Frames) {
		return cur, cur, nil
	}
	next, err := d.loadFrame(i + 1)
	if err != nil {
		return nil, nil, err
	}
	return cur, next, nil
}

// Mask returns the foreground mask of frame i, or nil when absent
func (d *DirDataset) Mask(i int) (*core.ScalarField, error) {
	if i < 0 || i >= len(d.meta.Frames) {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", i, len(d.meta.Frames))
	}
	path := filepath.Join(d.root, "masks", d.meta.Frames[i].File)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return loaders.LoadMask(path)
}

// Flow returns the precomputed flow from frame i to i+1. A missing flow
// file is an error: flow supervision must not silently degrade.
func (d *DirDataset) Flow(i int) (*core.FlowField, error) {
	if i < 0 || i >= len(d.meta.Frames) {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", i, len(d.meta.Frames))
	}
	stem := strings.TrimSuffix(d.meta.Frames[i].File, filepath.Ext(d.meta.Frames[i].File))
	return loaders.LoadFlow(filepath.Join(d.root, "flow", stem+".flo"))
}

func (d *DirDataset) loadFrame(i int) (*core.Image, error) {
	if i < 0 || i >= len(d.meta.Frames) {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", i, len(d.meta.Frames))
	}
	if img, ok := d.cache[i]; ok {
		return img, nil
	}
	img, err := loaders.LoadImage(filepath.Join(d.root, d.meta.Frames[i].File))
	if err != nil {
		return nil, err
	}
	d.cache[i] = img
	return img, nil
}

// DownscaleImage box-filters an image down to the target resolution. The
// source must be an integer multiple of the target; the render pipeline
// guarantees that by halving resolutions only.
func DownscaleImage(img *core.Image, width, height int) *core.Image {
	if img.Width == width && img.Height == height {
		return img
	}
	fx, fy := img.Width/width, img.Height/height
	out := core.NewImage(width, height)
	norm := 1 / float32(fx*fy)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum core.Vec3
			for dy := 0; dy < fy; dy++ {
				for dx := 0; dx < fx; dx++ {
					sum = sum.Add(img.At(x*fx+dx, y*fy+dy))
				}
			}
			out.Set(x, y, sum.Multiply(norm))
		}
	}
	return out
}

// DownscaleMask box-filters a scalar mask down to the target resolution
func DownscaleMask(mask *core.ScalarField, width, height int) *core.ScalarField {
	if mask.Width == width && mask.Height == height {
		return mask
	}
	fx, fy := mask.Width/width, mask.Height/height
	out := core.NewScalarField(width, height)
	norm := 1 / float32(fx*fy)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum float32
			for dy := 0; dy < fy; dy++ {
				for dx := 0; dx < fx; dx++ {
					sum += mask.At(x*fx+dx, y*fy+dy)
				}
			}
			out.Set(x, y, sum*norm)
		}
	}
	return out
}
