package core

// Image is a dense H x W RGB float32 buffer, row-major, three floats per
// pixel. All render outputs and ground-truth frames use this layout.
type Image struct {
	Width  int
	Height int
	Pix    []float32 // len = Width * Height * 3
}

// NewImage allocates a zeroed image
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*3),
	}
}

// At returns the pixel color at (x, y)
func (im *Image) At(x, y int) Vec3 {
	i := (y*im.Width + x) * 3
	return Vec3{im.Pix[i], im.Pix[i+1], im.Pix[i+2]}
}

// Set writes the pixel color at (x, y)
func (im *Image) Set(x, y int, c Vec3) {
	i := (y*im.Width + x) * 3
	im.Pix[i], im.Pix[i+1], im.Pix[i+2] = c.X, c.Y, c.Z
}

// AddAt accumulates into the pixel at (x, y)
func (im *Image) AddAt(x, y int, c Vec3) {
	i := (y*im.Width + x) * 3
	im.Pix[i] += c.X
	im.Pix[i+1] += c.Y
	im.Pix[i+2] += c.Z
}

// Clone returns a deep copy
func (im *Image) Clone() *Image {
	out := NewImage(im.Width, im.Height)
	copy(out.Pix, im.Pix)
	return out
}

// Fill sets every pixel to c
func (im *Image) Fill(c Vec3) {
	for i := 0; i < len(im.Pix); i += 3 {
		im.Pix[i], im.Pix[i+1], im.Pix[i+2] = c.X, c.Y, c.Z
	}
}

// ScalarField is a dense H x W float32 buffer (depth, alpha)
type ScalarField struct {
	Width  int
	Height int
	Data   []float32
}

// NewScalarField allocates a zeroed field
func NewScalarField(width, height int) *ScalarField {
	return &ScalarField{Width: width, Height: height, Data: make([]float32, width*height)}
}

// At returns the value at (x, y)
func (f *ScalarField) At(x, y int) float32 {
	return f.Data[y*f.Width+x]
}

// Set writes the value at (x, y)
func (f *ScalarField) Set(x, y int, v float32) {
	f.Data[y*f.Width+x] = v
}

// FlowField is a dense H x W 2-channel pixel-displacement buffer, as
// produced by an external optical-flow estimator.
type FlowField struct {
	Width  int
	Height int
	Data   []float32 // len = Width * Height * 2, (dx, dy) per pixel
}

// NewFlowField allocates a zeroed flow field
func NewFlowField(width, height int) *FlowField {
	return &FlowField{Width: width, Height: height, Data: make([]float32, width*height*2)}
}

// At returns the displacement at (x, y)
func (f *FlowField) At(x, y int) Vec2 {
	i := (y*f.Width + x) * 2
	return Vec2{f.Data[i], f.Data[i+1]}
}

// Set writes the displacement at (x, y)
func (f *FlowField) Set(x, y int, v Vec2) {
	i := (y*f.Width + x) * 2
	f.Data[i], f.Data[i+1] = v.X, v.Y
}
