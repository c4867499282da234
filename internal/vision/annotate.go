package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	acceptedColor = color.RGBA{R: 0, G: 220, B: 90, A: 255}
	rejectedColor = color.RGBA{R: 240, G: 70, B: 50, A: 255}
	labelBG       = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Annotation marks one match result on a frame.
type Annotation struct {
	Result   MatchResult
	Label    string
	Accepted bool
}

// Annotate returns a copy of frame with a box and label drawn for each
// found result. The source frame is not modified.
func Annotate(frame *image.RGBA, annotations []Annotation) *image.RGBA {
	out := image.NewRGBA(frame.Bounds())
	draw.Draw(out, out.Bounds(), frame, frame.Bounds().Min, draw.Src)

	for _, a := range annotations {
		if !a.Result.Found {
			continue
		}
		col := rejectedColor
		if a.Accepted {
			col = acceptedColor
		}
		drawOutline(out, a.Result.Bounds, col, 2)

		label := a.Label
		if label == "" {
			label = fmt.Sprintf("%.3f @%.1fx", a.Result.Confidence, a.Result.Scale)
		}
		drawLabel(out, label, a.Result.Bounds.Min.X, a.Result.Bounds.Min.Y-17, col)
	}
	return out
}

// drawOutline draws a rectangle border of the given thickness
func drawOutline(dst *image.RGBA, r image.Rectangle, col color.RGBA, thickness int) {
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel renders text on a translucent background with its top-left at (x, y)
func drawLabel(dst *image.RGBA, text string, x, y int, col color.RGBA) {
	const padding = 2
	face := basicfont.Face7x13
	height := face.Metrics().Height.Ceil()

	measure := &font.Drawer{Face: face}
	width := measure.MeasureString(text).Ceil()

	if y < dst.Bounds().Min.Y {
		y = dst.Bounds().Min.Y
	}

	bg := image.Rect(x, y, x+width+padding*2, y+height+padding*2)
	blend(dst, bg, labelBG, 0.6)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x+padding, y+padding+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

// blend mixes col into dst over r with the given opacity
func blend(dst *image.RGBA, r image.Rectangle, col color.RGBA, opacity float64) {
	r = r.Intersect(dst.Bounds())
	a := opacity
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := dst.PixOffset(x, y)
			dst.Pix[i] = uint8(float64(col.R)*a + float64(dst.Pix[i])*(1-a))
			dst.Pix[i+1] = uint8(float64(col.G)*a + float64(dst.Pix[i+1])*(1-a))
			dst.Pix[i+2] = uint8(float64(col.B)*a + float64(dst.Pix[i+2])*(1-a))
			dst.Pix[i+3] = 255
		}
	}
}
