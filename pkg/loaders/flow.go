package loaders

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/aquarend/go-water-splatting/pkg/core"
)

// flowMagic is the Middlebury .flo sanity-check constant
const flowMagic = 202021.25

// LoadFlow reads a Middlebury .flo optical flow file: the magic float,
// int32 width and height, then interleaved (dx, dy) float32 pairs in
// row-major order. Displacements are in pixels of the stored resolution.
func LoadFlow(filename string) (*core.FlowField, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open flow file: %w", err)
	}
	defer file.Close()

	var magic float32
	if err := binary.Read(file, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read flow header: %w", err)
	}
	if magic != flowMagic {
		return nil, fmt.Errorf("bad flow magic %v in %s", magic, filename)
	}
	var width, height int32
	if err := binary.Read(file, binary.LittleEndian, &width); err != nil {
		return nil, fmt.Errorf("failed to read flow width: %w", err)
	}
	if err := binary.Read(file, binary.LittleEndian, &height); err != nil {
		return nil, fmt.Errorf("failed to read flow height: %w", err)
	}
	if width <= 0 || height <= 0 || width > 1<<15 || height > 1<<15 {
		return nil, fmt.Errorf("implausible flow dimensions %dx%d in %s", width, height, filename)
	}

	out := core.NewFlowField(int(width), int(height))
	buf := make([]byte, len(out.Data)*4)
	if _, err := io.ReadFull(file, buf); err != nil {
		return nil, fmt.Errorf("truncated flow data in %s: %w", filename, err)
	}
	for i := range out.Data {
		out.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
