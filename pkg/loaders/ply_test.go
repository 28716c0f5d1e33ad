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

func TestLoadPointCloudASCII(t *testing.T) {
	content := `ply
format ascii 1.0
element vertex 3
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
end_header
0.5 1.0 -2.0 255 0 0
-1.0 0.0 3.5 0 255 0
2.0 -0.5 0.0 0 0 255
`
	path := filepath.Join(t.TempDir(), "cloud.ply")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pc, err := LoadPointCloud(path)
	require.NoError(t, err)
	require.Len(t, pc.Points, 3)
	require.Len(t, pc.Colors, 3)
	assert.InDelta(t, 0.5, pc.Points[0].X, 1e-6)
	assert.InDelta(t, -2.0, pc.Points[0].Z, 1e-6)
	assert.InDelta(t, 1.0, pc.Colors[0].X, 1e-6)
	assert.InDelta(t, 1.0, pc.Colors[1].Y, 1e-6)
	assert.InDelta(t, 0.0, pc.Colors[2].X, 1e-6)
}

func TestLoadPointCloudASCIIWithoutColors(t *testing.T) {
	content := `ply
format ascii 1.0
element vertex 1
property float x
property float y
property float z
end_header
1.0 2.0 3.0
`
	path := filepath.Join(t.TempDir(), "cloud.ply")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pc, err := LoadPointCloud(path)
	require.NoError(t, err)
	require.Len(t, pc.Points, 1)
	assert.Empty(t, pc.Colors)
}

func TestLoadPointCloudBinary(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\n")
	buf.WriteString("format binary_little_endian 1.0\n")
	buf.WriteString("element vertex 2\n")
	buf.WriteString("property float x\n")
	buf.WriteString("property float y\n")
	buf.WriteString("property float z\n")
	buf.WriteString("property uchar red\n")
	buf.WriteString("property uchar green\n")
	buf.WriteString("property uchar blue\n")
	buf.WriteString("end_header\n")
	for _, v := range []struct {
		x, y, z float32
		r, g, b uint8
	}{
		{1, 2, 3, 128, 64, 32},
		{-1, -2, -3, 0, 255, 0},
	} {
		binary.Write(&buf, binary.LittleEndian, v.x)
		binary.Write(&buf, binary.LittleEndian, v.y)
		binary.Write(&buf, binary.LittleEndian, v.z)
		buf.WriteByte(v.r)
		buf.WriteByte(v.g)
		buf.WriteByte(v.b)
	}
	path := filepath.Join(t.TempDir(), "cloud.ply")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	pc, err := LoadPointCloud(path)
	require.NoError(t, err)
	require.Len(t, pc.Points, 2)
	assert.InDelta(t, 1, pc.Points[0].X, 1e-6)
	assert.InDelta(t, -3, pc.Points[1].Z, 1e-6)
	assert.InDelta(t, 128.0/255, pc.Colors[0].X, 1e-6)
	assert.InDelta(t, 1.0, pc.Colors[1].Y, 1e-6)
}

func TestLoadPointCloudRejectsGarbage(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "not.ply")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))
	_, err := LoadPointCloud(path)
	assert.Error(t, err)

	// a header without vertices
	path = filepath.Join(dir, "empty.ply")
	require.NoError(t, os.WriteFile(path,
		[]byte("ply\nformat ascii 1.0\nend_header\n"), 0o644))
	_, err = LoadPointCloud(path)
	assert.Error(t, err)

	// truncated vertex data
	path = filepath.Join(dir, "short.ply")
	require.NoError(t, os.WriteFile(path,
		[]byte("ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n"), 0o644))
	_, err = LoadPointCloud(path)
	assert.Error(t, err)
}
