package vision

import (
	"image"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// Scene is a captured frame prepared for matching. Grayscale conversion,
// integral images and pyramid levels are computed once and shared by every
// template matched against the same frame.
type Scene struct {
	Bounds image.Rectangle
	Gray   *image.Gray

	base *level

	mu     sync.Mutex
	levels map[int]*level
}

type level struct {
	plane *plane
	in    *integral
}

// NewScene prepares img for matching.
func NewScene(img *image.RGBA) *Scene {
	return NewSceneGray(Grayscale(img))
}

// NewSceneGray prepares an already grayscale frame.
func NewSceneGray(gray *image.Gray) *Scene {
	p := newPlane(gray)
	return &Scene{
		Bounds: gray.Bounds(),
		Gray:   gray,
		base:   &level{plane: p, in: newIntegral(p)},
		levels: make(map[int]*level),
	}
}

// level returns the frame downscaled by factor, computing it on first use.
func (s *Scene) level(factor int) *level {
	if factor <= 1 {
		return s.base
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.levels[factor]; ok {
		return l
	}
	w, h := s.Bounds.Dx()/factor, s.Bounds.Dy()/factor
	small := resizeGray(s.Gray, w, h, xdraw.BiLinear)
	p := newPlane(small)
	l := &level{plane: p, in: newIntegral(p)}
	s.levels[factor] = l
	return l
}
