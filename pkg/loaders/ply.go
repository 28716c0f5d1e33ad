package loaders

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aquarend/go-water-splatting/pkg/core"
)

// PointCloud holds the vertex positions and optional colors of a sparse
// reconstruction, typically a COLMAP export used to seed the splat
// population.
type PointCloud struct {
	Points []core.Vec3
	Colors []core.Vec3 // normalized to [0,1]; empty when the file has none
}

type plyProperty struct {
	name string
	typ  string
}

type plyHeader struct {
	format      string
	vertexCount int
	props       []plyProperty
}

// LoadPointCloud reads vertex positions (and colors, when present) from
// an ASCII or binary little-endian PLY file. Faces and any non-vertex
// elements are ignored.
func LoadPointCloud(filename string) (*PointCloud, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open point cloud: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	header, err := parseHeader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PLY header in %s: %w", filename, err)
	}

	switch header.format {
	case "ascii":
		return readASCIIVertices(reader, header)
	case "binary_little_endian":
		return readBinaryVertices(reader, header)
	default:
		return nil, fmt.Errorf("unsupported PLY format %q", header.format)
	}
}

func parseHeader(r *bufio.Reader) (*plyHeader, error) {
	magic, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return nil, fmt.Errorf("not a PLY file")
	}
	h := &plyHeader{}
	inVertex := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("truncated header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("malformed format line")
			}
			h.format = fields[1]
		case "element":
			inVertex = len(fields) >= 3 && fields[1] == "vertex"
			if inVertex {
				n, err := strconv.Atoi(fields[2])
				if err != nil {
					return nil, fmt.Errorf("bad vertex count: %w", err)
				}
				h.vertexCount = n
			}
		case "property":
			if inVertex && len(fields) >= 3 && fields[1] != "list" {
				h.props = append(h.props, plyProperty{name: fields[2], typ: fields[1]})
			}
		case "end_header":
			if h.vertexCount == 0 {
				return nil, fmt.Errorf("no vertex element")
			}
			return h, nil
		}
	}
}

func (h *plyHeader) indexOf(name string) int {
	for i, p := range h.props {
		if p.name == name {
			return i
		}
	}
	return -1
}

func (h *plyHeader) colorIndices() (r, g, b int, ok bool) {
	r, g, b = h.indexOf("red"), h.indexOf("green"), h.indexOf("blue")
	return r, g, b, r >= 0 && g >= 0 && b >= 0
}

func buildCloud(h *plyHeader, rows [][]float32) (*PointCloud, error) {
	xi, yi, zi := h.indexOf("x"), h.indexOf("y"), h.indexOf("z")
	if xi < 0 || yi < 0 || zi < 0 {
		return nil, fmt.Errorf("vertex element lacks x/y/z properties")
	}
	ri, gi, bi, hasColor := h.colorIndices()

	pc := &PointCloud{Points: make([]core.Vec3, len(rows))}
	if hasColor {
		pc.Colors = make([]core.Vec3, len(rows))
	}
	for i, row := range rows {
		pc.Points[i] = core.Vec3{X: row[xi], Y: row[yi], Z: row[zi]}
		if hasColor {
			pc.Colors[i] = core.Vec3{X: row[ri] / 255, Y: row[gi] / 255, Z: row[bi] / 255}
		}
	}
	return pc, nil
}

func readASCIIVertices(r *bufio.Reader, h *plyHeader) (*PointCloud, error) {
	rows := make([][]float32, 0, h.vertexCount)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() && len(rows) < h.vertexCount {
		fields := strings.Fields(scanner.Text())
		if len(fields) < len(h.props) {
			return nil, fmt.Errorf("vertex %d has %d values, want %d", len(rows), len(fields), len(h.props))
		}
		row := make([]float32, len(h.props))
		for i := range h.props {
			v, err := strconv.ParseFloat(fields[i], 32)
			if err != nil {
				return nil, fmt.Errorf("vertex %d: %w", len(rows), err)
			}
			row[i] = float32(v)
		}
		rows = append(rows, row)
	}
	if len(rows) < h.vertexCount {
		return nil, fmt.Errorf("expected %d vertices, got %d", h.vertexCount, len(rows))
	}
	return buildCloud(h, rows)
}

func readBinaryVertices(r *bufio.Reader, h *plyHeader) (*PointCloud, error) {
	rows := make([][]float32, h.vertexCount)
	for v := range rows {
		row := make([]float32, len(h.props))
		for i, p := range h.props {
			val, err := readBinaryValue(r, p.typ)
			if err != nil {
				return nil, fmt.Errorf("vertex %d property %s: %w", v, p.name, err)
			}
			row[i] = val
		}
		rows[v] = row
	}
	return buildCloud(h, rows)
}

func readBinaryValue(r io.Reader, typ string) (float32, error) {
	switch typ {
	case "float", "float32":
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return math.Float32frombits(v), nil
	case "double", "float64":
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return float32(v), nil
	case "uchar", "uint8":
		var v uint8
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return float32(v), nil
	case "char", "int8":
		var v int8
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return float32(v), nil
	case "ushort", "uint16":
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return float32(v), nil
	case "short", "int16":
		var v int16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return float32(v), nil
	case "int", "int32":
		var v int32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return float32(v), nil
	case "uint", "uint32":
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return float32(v), nil
	default:
		return 0, fmt.Errorf("unsupported property type %q", typ)
	}
}
