package synthetic

import (
	"image"
	"image/color"
)

// bgraImage adapts a BGRA8 pixel buffer to draw.Image.
type bgraImage struct {
	pix    []byte
	stride int
	rect   image.Rectangle
}

func newBGRAImage(pix []byte, width, height int) *bgraImage {
	return &bgraImage{pix: pix, stride: width * 4, rect: image.Rect(0, 0, width, height)}
}

func (m *bgraImage) ColorModel() color.Model { return color.RGBAModel }

func (m *bgraImage) Bounds() image.Rectangle { return m.rect }

func (m *bgraImage) offset(x, y int) int {
	return y*m.stride + x*4
}

func (m *bgraImage) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(m.rect)) {
		return color.RGBA{}
	}
	i := m.offset(x, y)
	return color.RGBA{R: m.pix[i+2], G: m.pix[i+1], B: m.pix[i], A: m.pix[i+3]}
}

func (m *bgraImage) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(m.rect)) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := m.offset(x, y)
	m.pix[i+0] = rgba.B
	m.pix[i+1] = rgba.G
	m.pix[i+2] = rgba.R
	m.pix[i+3] = rgba.A
}

// fill paints every pixel with c.
func (m *bgraImage) fill(c color.RGBA) {
	if len(m.pix) < 4 {
		return
	}
	m.pix[0], m.pix[1], m.pix[2], m.pix[3] = c.B, c.G, c.R, c.A
	for filled := 4; filled < len(m.pix); filled *= 2 {
		copy(m.pix[filled:], m.pix[:filled])
	}
}
