package vision

import (
	"image"
	"math"
	"sort"
)

// plane is a grayscale image as float64 samples, row-major.
type plane struct {
	w, h int
	pix  []float64
}

func newPlane(g *image.Gray) *plane {
	b := g.Bounds()
	p := &plane{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+p.w]
		for x, v := range row {
			p.pix[y*p.w+x] = float64(v)
		}
	}
	return p
}

// integral holds summed-area tables of a plane and its squares, so window
// statistics cost O(1) per position.
type integral struct {
	w, h   int // of the source plane
	sum    []float64
	sqsum  []float64
	stride int
}

func newIntegral(p *plane) *integral {
	stride := p.w + 1
	in := &integral{
		w:      p.w,
		h:      p.h,
		stride: stride,
		sum:    make([]float64, stride*(p.h+1)),
		sqsum:  make([]float64, stride*(p.h+1)),
	}
	for y := 0; y < p.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < p.w; x++ {
			v := p.pix[y*p.w+x]
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			in.sum[i] = in.sum[i-stride] + rowSum
			in.sqsum[i] = in.sqsum[i-stride] + rowSq
		}
	}
	return in
}

// window returns the sum and sum of squares of the w×h block at (x, y).
func (in *integral) window(x, y, w, h int) (float64, float64) {
	a := y*in.stride + x
	b := a + w
	c := (y+h)*in.stride + x
	d := c + w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a],
		in.sqsum[d] - in.sqsum[b] - in.sqsum[c] + in.sqsum[a]
}

// kernel is a zero-mean template with its L2 norm.
type kernel struct {
	w, h int
	zero []float64
	norm float64
}

func newKernel(g *image.Gray) *kernel {
	p := newPlane(g)
	n := float64(len(p.pix))
	var mean float64
	for _, v := range p.pix {
		mean += v
	}
	mean /= n

	k := &kernel{w: p.w, h: p.h, zero: make([]float64, len(p.pix))}
	var sq float64
	for i, v := range p.pix {
		z := v - mean
		k.zero[i] = z
		sq += z * z
	}
	k.norm = math.Sqrt(sq)
	return k
}

// flat reports whether the kernel has no variance; such a template cannot
// be correlated.
func (k *kernel) flat() bool {
	return k.norm < 1e-6
}

// varianceFloor avoids dividing by near-zero window variance in flat regions.
const varianceFloor = 1e-6

// nccAt computes the zero-mean normalized cross-correlation of k against
// the window of f whose top-left corner is (x, y). The result is in [-1, 1].
func nccAt(f *plane, in *integral, k *kernel, x, y int) float64 {
	n := float64(k.w * k.h)
	s, s2 := in.window(x, y, k.w, k.h)
	variance := s2 - s*s/n
	if variance <= varianceFloor*n {
		return 0
	}

	var num float64
	for j := 0; j < k.h; j++ {
		row := f.pix[(y+j)*f.w+x : (y+j)*f.w+x+k.w]
		krow := k.zero[j*k.w : (j+1)*k.w]
		for i, kv := range krow {
			num += kv * row[i]
		}
	}

	score := num / (k.norm * math.Sqrt(variance))
	switch {
	case score > 1:
		return 1
	case score < -1:
		return -1
	}
	return score
}

// candidate is a scored top-left position.
type candidate struct {
	x, y  int
	score float64
}

// beats reports whether c outranks o: higher score first, then the earlier
// position in row-major order.
func (c candidate) beats(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.y < o.y || (c.y == o.y && c.x < o.x)
}

// scan evaluates every top-left position in [x0,x1]×[y0,y1] (inclusive,
// clipped to valid positions) and returns the best one. Ties keep the first
// position in row-major order.
func scan(f *plane, in *integral, k *kernel, x0, y0, x1, y1 int) candidate {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, f.w-k.w), min(y1, f.h-k.h)

	best := candidate{x: -1, y: -1, score: math.Inf(-1)}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if s := nccAt(f, in, k, x, y); s > best.score {
				best = candidate{x: x, y: y, score: s}
			}
		}
	}
	return best
}

// topCandidates scans every position and keeps up to n of the best,
// suppressing positions within radius of a better candidate.
func topCandidates(f *plane, in *integral, k *kernel, n, radius int) []candidate {
	var top []candidate
	for y := 0; y <= f.h-k.h; y++ {
		for x := 0; x <= f.w-k.w; x++ {
			s := nccAt(f, in, k, x, y)
			if len(top) == n && s <= top[n-1].score {
				continue
			}
			top = insertCandidate(top, candidate{x: x, y: y, score: s}, n, radius)
		}
	}
	return top
}

func insertCandidate(top []candidate, c candidate, n, radius int) []candidate {
	for i, t := range top {
		if abs(t.x-c.x) <= radius && abs(t.y-c.y) <= radius {
			if c.score <= t.score {
				return top
			}
			top = append(top[:i], top[i+1:]...)
			break
		}
	}
	i := sort.Search(len(top), func(i int) bool { return top[i].score < c.score })
	top = append(top, candidate{})
	copy(top[i+1:], top[i:])
	top[i] = c
	if len(top) > n {
		top = top[:n]
	}
	return top
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
