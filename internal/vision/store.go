package vision

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/logger"
)

var (
	// ErrTemplateNotFound is returned when a template file does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateUnreadable is returned when a template file cannot be read or decoded.
	ErrTemplateUnreadable = errors.New("template unreadable")
)

// DefaultEdgeThreshold is the Sobel magnitude above which a pixel counts as an edge.
const DefaultEdgeThreshold = 64

// Template is a reference image and its derived forms. It is immutable once
// loaded.
type Template struct {
	Path     string
	Image    *image.RGBA
	Gray     *image.Gray
	Edges    *image.Gray
	Hash     string
	LoadedAt time.Time
}

// Size returns the template dimensions.
func (t *Template) Size() image.Point {
	return t.Gray.Bounds().Size()
}

// NewTemplate derives grayscale and edge images from img. It is used by the
// Store and by callers that build templates in memory.
func NewTemplate(path string, img image.Image, hash string) *Template {
	rgba := ToRGBA(img)
	gray := Grayscale(rgba)
	return &Template{
		Path:     path,
		Image:    rgba,
		Gray:     gray,
		Edges:    SobelEdges(gray, DefaultEdgeThreshold),
		Hash:     hash,
		LoadedAt: time.Now(),
	}
}

// StoreStats tracks cache performance
type StoreStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Loads    int64 `json:"loads"`
	Failures int64 `json:"failures"`
	Clears   int64 `json:"clears"`
}

// Store loads templates by path and keeps them until Clear.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Template
	stats StoreStats
}

// NewStore creates an empty template store
func NewStore() *Store {
	return &Store{items: make(map[string]*Template)}
}

// Load returns the cached template for path, loading it on first use.
// Failures are never cached, so a template that appears later is picked up.
func (s *Store) Load(path string) (*Template, error) {
	s.mu.RLock()
	t, ok := s.items[path]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		s.stats.Hits++
		s.mu.Unlock()
		return t, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if t, ok := s.items[path]; ok {
		s.stats.Hits++
		return t, nil
	}
	s.stats.Misses++

	t, err := loadTemplate(path)
	if err != nil {
		s.stats.Failures++
		return nil, err
	}
	s.items[path] = t
	s.stats.Loads++

	size := t.Size()
	logger.WithComponent("templates").Debug().
		Str("path", path).
		Int("width", size.X).
		Int("height", size.Y).
		Str("hash", t.Hash[:12]).
		Msg("Template loaded")
	return t, nil
}

func loadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateUnreadable, path, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateUnreadable, path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s: empty image", ErrTemplateUnreadable, path)
	}

	sum := sha256.Sum256(data)
	return NewTemplate(path, img, hex.EncodeToString(sum[:])), nil
}

// Clear drops every cached template.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*Template)
	s.stats.Clears++
}

// Len returns the number of cached templates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Stats returns a copy of the cache statistics.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
