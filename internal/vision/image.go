package vision

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ToRGBA returns img as *image.RGBA, converting only when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}

// Grayscale converts img to luma using the BT.601 weights.
func Grayscale(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	w := b.Dx()

	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x := 0; x < w; x++ {
			r := int(src[x*4])
			g := int(src[x*4+1])
			bl := int(src[x*4+2])
			dst[x] = uint8((r*299 + g*587 + bl*114) / 1000)
		}
	}
	return gray
}

// SobelEdges returns a binary edge map: 255 where the Sobel gradient
// magnitude exceeds threshold, 0 elsewhere. Border pixels are 0.
func SobelEdges(gray *image.Gray, threshold uint8) *image.Gray {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	edges := image.NewGray(b)

	at := func(x, y int) int {
		return int(gray.Pix[y*gray.Stride+x])
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			if math.Sqrt(float64(gx*gx+gy*gy)) > float64(threshold) {
				edges.Pix[y*edges.Stride+x] = 255
			}
		}
	}
	return edges
}

// EdgeDensity is the fraction of edge pixels in an edge map.
func EdgeDensity(edges *image.Gray) float64 {
	b := edges.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	n := 0
	for y := 0; y < b.Dy(); y++ {
		for _, v := range edges.Pix[y*edges.Stride : y*edges.Stride+b.Dx()] {
			if v != 0 {
				n++
			}
		}
	}
	return float64(n) / float64(total)
}

// resizeGray scales src to w×h. Kernel scalers widen their support when
// shrinking, so downscaled images are properly low-passed.
func resizeGray(src *image.Gray, w, h int, kernel *xdraw.Kernel) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	kernel.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
