package synthetic

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var captionFace = basicfont.Face7x13

// drawCaption renders lines centred on dst, each line centred horizontally.
// Text is rasterised at the font's native size and scaled up with nearest
// neighbour sampling so glyphs stay sharp.
func drawCaption(dst draw.Image, lines []string, textColor color.Color, scale int) {
	if len(lines) == 0 {
		return
	}

	lineHeight := captionFace.Metrics().Height.Ceil()
	ascent := captionFace.Metrics().Ascent.Ceil()

	widths := make([]int, len(lines))
	textWidth := 0
	for i, line := range lines {
		widths[i] = font.MeasureString(captionFace, line).Ceil()
		textWidth = max(textWidth, widths[i])
	}
	if textWidth == 0 {
		return
	}
	textHeight := lineHeight * len(lines)

	canvas := image.NewRGBA(image.Rect(0, 0, textWidth, textHeight))
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(textColor),
		Face: captionFace,
	}
	for i, line := range lines {
		d.Dot = fixed.P((textWidth-widths[i])/2, ascent+i*lineHeight)
		d.DrawString(line)
	}

	bounds := dst.Bounds()
	scale = fitScale(scale, textWidth, textHeight, bounds.Dx(), bounds.Dy())
	w, h := textWidth*scale, textHeight*scale
	origin := image.Pt(bounds.Min.X+(bounds.Dx()-w)/2, bounds.Min.Y+(bounds.Dy()-h)/2)
	target := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w, h))}

	draw.NearestNeighbor.Scale(dst, target, canvas, canvas.Bounds(), draw.Over, nil)
}

// fitScale shrinks scale until the text fits, never below 1.
func fitScale(scale, textWidth, textHeight, width, height int) int {
	for scale > 1 && (textWidth*scale > width || textHeight*scale > height) {
		scale--
	}
	return max(scale, 1)
}
