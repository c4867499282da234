package vision

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"
)

// checkerTemplate builds a w×h template of cell×cell blocks with distinct
// intensities.
func checkerTemplate(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i, j := x/cell, y/cell
			v := uint8(30 + ((i*37+j*91)%7)*30)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// syntheticFrame returns a w×h frame with a gradient background and random
// flat rectangles as distractors.
func syntheticFrame(w, h int, seed int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(60 + x*80/w + y*40/h)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	rng := rand.New(rand.NewSource(seed))
	for n := 0; n < 30; n++ {
		rw, rh := 10+rng.Intn(70), 10+rng.Intn(70)
		x, y := rng.Intn(w-rw), rng.Intn(h-rh)
		v := uint8(rng.Intn(256))
		for yy := y; yy < y+rh; yy++ {
			for xx := x; xx < x+rw; xx++ {
				img.SetRGBA(xx, yy, color.RGBA{R: v, G: 255 - v, B: v / 2, A: 255})
			}
		}
	}
	return img
}

func paste(dst *image.RGBA, src image.Image, at image.Point) {
	xdraw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(src.Bounds().Size())}, src, src.Bounds().Min, xdraw.Src)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestMatchFindsTemplateAtNativeScale(t *testing.T) {
	tplImg := checkerTemplate(48, 32, 8)
	frame := syntheticFrame(1000, 700, 1)
	// center at (800, 600)
	paste(frame, tplImg, image.Pt(800-24, 600-16))

	tpl := NewTemplate("dd.png", tplImg, "")
	m := NewMatcher(nil, 0)
	res := m.Match(NewScene(frame), tpl)

	require.True(t, res.Found)
	assert.GreaterOrEqual(t, res.Confidence, 0.99)
	assert.InDelta(t, 800, res.Center.X, 2)
	assert.InDelta(t, 600, res.Center.Y, 2)
	assert.Equal(t, 1.0, res.Scale)
	assert.Equal(t, "dd.png", res.Template)
	assert.True(t, res.Accepted(0.95))
}

func TestMultiScaleNotWorseThanSingleScale(t *testing.T) {
	tplImg := checkerTemplate(40, 24, 8)
	frame := syntheticFrame(640, 480, 2)
	paste(frame, tplImg, image.Pt(312, 200))
	scene := NewScene(frame)
	tpl := NewTemplate("t.png", tplImg, "")

	single := NewMatcher([]float64{1.0}, 0).Match(scene, tpl)
	multi := NewMatcher(DefaultScales, 0).Match(scene, tpl)

	require.True(t, single.Found)
	require.True(t, multi.Found)
	assert.GreaterOrEqual(t, multi.Confidence, single.Confidence)
}

func TestMatchFindsUpscaledInstance(t *testing.T) {
	tplImg := checkerTemplate(48, 32, 8)
	tpl := NewTemplate("t.png", tplImg, "")

	// 48*1.2 = 57.6 -> 58, 32*1.2 = 38.4 -> 38
	scaled := resizeGray(tpl.Gray, 58, 38, xdraw.CatmullRom)
	frame := syntheticFrame(800, 600, 3)
	origin := image.Pt(420, 300)
	paste(frame, scaled, origin)

	res := NewMatcher(nil, 0).Match(NewScene(frame), tpl)
	require.True(t, res.Found)
	assert.Equal(t, 1.2, res.Scale)
	assert.GreaterOrEqual(t, res.Confidence, 0.99)
	assert.Equal(t, origin.Add(image.Pt(29, 19)), res.Center)
}

func TestMatchSkipsUndersizedScales(t *testing.T) {
	tplImg := checkerTemplate(9, 9, 3)
	frame := syntheticFrame(200, 150, 4)
	paste(frame, tplImg, image.Pt(50, 60))
	scene := NewScene(frame)
	tpl := NewTemplate("small.png", tplImg, "")

	// 0.8 -> 7px and 0.9 -> 8px fall below the floor
	res := NewMatcher(DefaultScales, 9).Match(scene, tpl)
	require.True(t, res.Found)
	assert.GreaterOrEqual(t, res.Scale, 1.0)

	none := NewMatcher(DefaultScales, 20).Match(scene, tpl)
	assert.False(t, none.Found)
	assert.Zero(t, none.Confidence)
	assert.False(t, none.Accepted(0))
}

func TestMatchTemplateLargerThanFrame(t *testing.T) {
	tpl := NewTemplate("big.png", checkerTemplate(120, 120, 10), "")
	frame := syntheticFrame(100, 100, 5)
	res := NewMatcher(nil, 0).Match(NewScene(frame), tpl)
	assert.False(t, res.Found)
	assert.Zero(t, res.Confidence)
}

func TestMatchFlatTemplate(t *testing.T) {
	flat := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for i := range flat.Pix {
		flat.Pix[i] = 200
	}
	res := NewMatcher(nil, 0).Match(NewScene(syntheticFrame(100, 100, 6)), NewTemplate("flat.png", flat, ""))
	assert.False(t, res.Found)
	assert.Zero(t, res.Confidence)
}

func TestPyramidFactor(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{48, 32, 4},
		{100, 24, 4},
		{20, 20, 2},
		{12, 40, 2},
		{9, 9, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pyramidFactor(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}

func TestInsertCandidateSuppressesNeighbours(t *testing.T) {
	var top []candidate
	top = insertCandidate(top, candidate{x: 10, y: 10, score: 0.5}, 3, 1)
	top = insertCandidate(top, candidate{x: 11, y: 10, score: 0.7}, 3, 1)
	top = insertCandidate(top, candidate{x: 50, y: 50, score: 0.6}, 3, 1)
	top = insertCandidate(top, candidate{x: 10, y: 11, score: 0.4}, 3, 1)

	require.Len(t, top, 2)
	assert.Equal(t, candidate{x: 11, y: 10, score: 0.7}, top[0])
	assert.Equal(t, candidate{x: 50, y: 50, score: 0.6}, top[1])
}

func TestMatchPrefersExactCopyAmongLookalikes(t *testing.T) {
	button := checkerTemplate(48, 32, 8)
	frame := image.NewRGBA(image.Rect(0, 0, 1000, 700))
	for i := range frame.Pix {
		frame.Pix[i] = 128
	}

	// Twenty copies, each with one 2×2 patch changed.
	for i := 0; i < 20; i++ {
		lookalike := image.NewRGBA(button.Bounds())
		copy(lookalike.Pix, button.Pix)
		px, py := 4+(i*7)%40, 4+(i*5)%24
		for y := py; y < py+2; y++ {
			for x := px; x < px+2; x++ {
				lookalike.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
		paste(frame, lookalike, image.Pt(20+(i%10)*92, 40+(i/10)*80))
	}
	paste(frame, button, image.Pt(778, 586))

	res := NewMatcher([]float64{1.0}, 0).Match(NewScene(frame), NewTemplate("button.png", button, ""))
	require.True(t, res.Found)
	assert.GreaterOrEqual(t, res.Confidence, 0.999)
	assert.Equal(t, image.Pt(802, 602), res.Center)
}

func TestScaleTieKeepsSmallerScale(t *testing.T) {
	found := MatchResult{Found: true, Confidence: 0.9, Scale: 0.8}

	tests := []struct {
		name       string
		best       MatchResult
		confidence float64
		want       bool
	}{
		{"first scale", MatchResult{}, 0, true},
		{"higher", found, 0.95, true},
		{"equal", found, 0.9, false},
		{"lower", found, 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, improves(tt.best, tt.confidence))
		})
	}
}

func TestCandidateBeats(t *testing.T) {
	c := candidate{x: 5, y: 5, score: 0.8}
	assert.True(t, candidate{x: 9, y: 9, score: 0.9}.beats(c))
	assert.False(t, candidate{x: 0, y: 0, score: 0.7}.beats(c))
	assert.True(t, candidate{x: 9, y: 4, score: 0.8}.beats(c))
	assert.True(t, candidate{x: 4, y: 5, score: 0.8}.beats(c))
	assert.False(t, candidate{x: 6, y: 5, score: 0.8}.beats(c))
	assert.False(t, c.beats(c))
}

func TestGrayscaleAndEdges(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if x >= 5 {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			}
		}
	}
	gray := Grayscale(img)
	assert.Equal(t, uint8(76), gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), gray.GrayAt(9, 9).Y)

	edges := SobelEdges(gray, DefaultEdgeThreshold)
	assert.Equal(t, uint8(255), edges.GrayAt(5, 5).Y)
	assert.Equal(t, uint8(0), edges.GrayAt(1, 5).Y)
	assert.Greater(t, EdgeDensity(edges), 0.0)
}

func TestStoreLoadCachesByPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dd.png")
	writePNG(t, path, checkerTemplate(16, 16, 4))

	s := NewStore()
	first, err := s.Load(path)
	require.NoError(t, err)
	second, err := s.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, first.Hash, 64)
	assert.Equal(t, image.Pt(16, 16), first.Size())
	assert.NotNil(t, first.Edges)

	stats := s.Stats()
	assert.EqualValues(t, 1, stats.Loads)
	assert.EqualValues(t, 1, stats.Hits)

	s.Clear()
	assert.Zero(t, s.Len())
	third, err := s.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.Hash, third.Hash)
}

func TestStoreErrors(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	_, err := s.Load(filepath.Join(dir, "missing.png"))
	assert.True(t, errors.Is(err, ErrTemplateNotFound))

	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))
	_, err = s.Load(garbage)
	assert.True(t, errors.Is(err, ErrTemplateUnreadable))

	assert.Zero(t, s.Len())
	assert.EqualValues(t, 2, s.Stats().Failures)
}

func TestAnnotateDoesNotModifyFrame(t *testing.T) {
	frame := syntheticFrame(200, 100, 7)
	orig := append([]byte(nil), frame.Pix...)

	res := MatchResult{Found: true, Confidence: 0.97, Scale: 1, Bounds: image.Rect(50, 40, 90, 70)}
	out := Annotate(frame, []Annotation{{Result: res, Accepted: true}})

	assert.Equal(t, orig, frame.Pix)
	assert.Equal(t, acceptedColor, out.RGBAAt(50, 55))
	assert.NotEqual(t, frame.Pix, out.Pix)
}
