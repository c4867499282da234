package vision

import (
	"image"
	"math"
	"sort"

	xdraw "golang.org/x/image/draw"
)

// DefaultScales is the scale set searched when none is configured.
var DefaultScales = []float64{0.8, 0.9, 1.0, 1.1, 1.2}

const (
	// DefaultMinTemplateSize is the smallest scaled template edge, in pixels,
	// that is still searched.
	DefaultMinTemplateSize = 8

	// coarseMinSize is the smallest template edge allowed on a pyramid level.
	coarseMinSize = 6

	// coarseCandidates is how many coarse hits are refined at full resolution.
	coarseCandidates = 6

	// exactScore is the refined score below which the coarse pass is not
	// trusted and the whole frame is scanned at full resolution.
	exactScore = 0.999
)

// MatchResult is the best location of a template in a frame.
type MatchResult struct {
	Template   string          `json:"template"`
	Center     image.Point     `json:"center"`
	Bounds     image.Rectangle `json:"bounds"`
	Confidence float64         `json:"confidence"`
	Scale      float64         `json:"scale"`
	Found      bool            `json:"found"`
}

// Accepted reports whether the match clears threshold.
func (r MatchResult) Accepted(threshold float64) bool {
	return r.Found && r.Confidence >= threshold
}

// Matcher runs zero-mean normalized cross-correlation over a set of
// template scales.
type Matcher struct {
	scales  []float64
	minSize int
}

// NewMatcher returns a matcher for the given scales. Empty scales select
// DefaultScales; minSize < 1 selects DefaultMinTemplateSize.
func NewMatcher(scales []float64, minSize int) *Matcher {
	if len(scales) == 0 {
		scales = DefaultScales
	}
	if minSize < 1 {
		minSize = DefaultMinTemplateSize
	}
	sorted := append([]float64(nil), scales...)
	sort.Float64s(sorted)
	return &Matcher{scales: sorted, minSize: minSize}
}

// Scales returns the scales in search order.
func (m *Matcher) Scales() []float64 {
	return append([]float64(nil), m.scales...)
}

// Match finds the best location of t in the scene across all scales. Scales
// are searched in ascending order and a later scale replaces the best only
// with a strictly higher confidence. Scales whose template would be smaller
// than the minimum size, or larger than the frame, are skipped, as are scales
// where the template has no variance. If every scale is skipped the result
// has Found=false and zero confidence. Negative
// correlation is reported as zero confidence.
func (m *Matcher) Match(scene *Scene, t *Template) MatchResult {
	result := MatchResult{Template: t.Path}
	size := t.Size()
	fw, fh := scene.Bounds.Dx(), scene.Bounds.Dy()

	for _, scale := range m.scales {
		sw := int(math.Round(float64(size.X) * scale))
		sh := int(math.Round(float64(size.Y) * scale))
		if sw < m.minSize || sh < m.minSize || sw > fw || sh > fh {
			continue
		}

		gray := t.Gray
		if sw != size.X || sh != size.Y {
			gray = resizeGray(t.Gray, sw, sh, xdraw.CatmullRom)
		}
		k := newKernel(gray)
		if k.flat() {
			continue
		}

		best := m.search(scene, gray, k)
		if best.x < 0 {
			continue
		}

		confidence := math.Max(best.score, 0)
		if improves(result, confidence) {
			origin := scene.Bounds.Min.Add(image.Pt(best.x, best.y))
			result.Found = true
			result.Confidence = confidence
			result.Scale = scale
			result.Bounds = image.Rectangle{Min: origin, Max: origin.Add(image.Pt(sw, sh))}
			result.Center = origin.Add(image.Pt(sw/2, sh/2))
		}
	}

	if !result.Found {
		result.Confidence = 0
	}
	return result
}

// improves reports whether a scale scoring confidence replaces best. Ties keep
// the earlier, smaller scale.
func improves(best MatchResult, confidence float64) bool {
	return !best.Found || confidence > best.Confidence
}

// search locates k in the scene, using a pyramid level for a coarse pass
// when the template is large enough and refining at full resolution.
func (m *Matcher) search(scene *Scene, gray *image.Gray, k *kernel) candidate {
	base := scene.level(1)
	factor := pyramidFactor(k.w, k.h)
	if factor == 1 {
		return scan(base.plane, base.in, k, 0, 0, base.plane.w, base.plane.h)
	}

	coarse := scene.level(factor)
	cw := int(math.Round(float64(k.w) / float64(factor)))
	ch := int(math.Round(float64(k.h) / float64(factor)))
	if cw > coarse.plane.w || ch > coarse.plane.h {
		return scan(base.plane, base.in, k, 0, 0, base.plane.w, base.plane.h)
	}
	ck := newKernel(resizeGray(gray, cw, ch, xdraw.BiLinear))
	if ck.flat() {
		return scan(base.plane, base.in, k, 0, 0, base.plane.w, base.plane.h)
	}

	best := candidate{x: -1, y: -1, score: math.Inf(-1)}
	radius := factor + 1
	for _, c := range topCandidates(coarse.plane, coarse.in, ck, coarseCandidates, 1) {
		x, y := c.x*factor, c.y*factor
		refined := scan(base.plane, base.in, k, x-radius, y-radius, x+radius, y+radius)
		if refined.beats(best) {
			best = refined
		}
	}

	// Look-alikes can crowd the true hit out of the coarse shortlist.
	if best.score < exactScore {
		if full := scan(base.plane, base.in, k, 0, 0, base.plane.w, base.plane.h); full.beats(best) {
			best = full
		}
	}
	return best
}

// pyramidFactor picks the largest downscale that keeps the coarse template
// at least coarseMinSize on each edge.
func pyramidFactor(w, h int) int {
	edge := min(w, h)
	for _, f := range []int{4, 2} {
		if edge/f >= coarseMinSize {
			return f
		}
	}
	return 1
}
