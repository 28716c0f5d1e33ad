package loaders

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFlo(t *testing.T, magic float32, w, h int32, data []float32) string {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, magic)
	binary.Write(&buf, binary.LittleEndian, w)
	binary.Write(&buf, binary.LittleEndian, h)
	for _, v := range data {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	path := filepath.Join(t.TempDir(), "flow.flo")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestLoadFlow(t *testing.T) {
	// 2x2 field, interleaved (dx, dy) pairs row-major
	data := []float32{
		1.0, -1.0, 2.0, -2.0,
		3.0, -3.0, 4.0, -4.0,
	}
	path := writeFlo(t, flowMagic, 2, 2, data)

	flow, err := LoadFlow(path)
	require.NoError(t, err)
	assert.Equal(t, 2, flow.Width)
	assert.Equal(t, 2, flow.Height)
	assert.InDelta(t, 1.0, flow.At(0, 0).X, 1e-6)
	assert.InDelta(t, -1.0, flow.At(0, 0).Y, 1e-6)
	assert.InDelta(t, 4.0, flow.At(1, 1).X, 1e-6)
	assert.InDelta(t, -4.0, flow.At(1, 1).Y, 1e-6)
}

func TestLoadFlowRejectsBadMagic(t *testing.T) {
	path := writeFlo(t, 1234.5, 2, 2, make([]float32, 8))
	_, err := LoadFlow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestLoadFlowRejectsImplausibleDimensions(t *testing.T) {
	path := writeFlo(t, flowMagic, -1, 2, nil)
	_, err := LoadFlow(path)
	assert.Error(t, err)
}

func TestLoadFlowRejectsTruncatedData(t *testing.T) {
	// header says 4x4 but only one pair follows
	path := writeFlo(t, flowMagic, 4, 4, []float32{1, 2})
	_, err := LoadFlow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}
