package monitor

import (
	"context"
	"fmt"
	"image"

	"github.com/bryanchriswhite/Nudger/internal/capture"
	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/vision"
)

// edgeThreshold is the Sobel magnitude counted as an edge by Probe.
const edgeThreshold = 64

// ProbeResult is one passive detection pass: a capture matched against
// every configured template with no window or input side effects.
type ProbeResult struct {
	Frame     *image.RGBA
	Threshold float64
	// Idle is nil when the idle template could not be loaded.
	Idle *vision.MatchResult
	Busy []vision.MatchResult
	// Missing lists templates that could not be loaded.
	Missing []string
	// EdgeDensity is the fraction of edge pixels in the frame. Near-zero
	// values usually mean a blank or locked screen.
	EdgeDensity float64
}

// Probe captures the screen and matches the idle and busy templates at the
// configured initial threshold.
func Probe(ctx context.Context, cfgMgr *config.Manager, capturer capture.Capturer) (*ProbeResult, error) {
	cfg := cfgMgr.Get()
	frame, err := capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	scene := vision.NewScene(frame)
	matcher := vision.NewMatcher(cfg.Detection.Scales, cfg.Detection.MinTemplateSize)
	store := vision.NewStore()

	p := &ProbeResult{
		Frame:       frame,
		Threshold:   cfg.Detection.Threshold.Initial,
		EdgeDensity: vision.EdgeDensity(vision.SobelEdges(vision.Grayscale(frame), edgeThreshold)),
	}

	match := func(path string) (vision.MatchResult, bool) {
		t, err := store.Load(cfgMgr.ResolvePath(path))
		if err != nil {
			p.Missing = append(p.Missing, path)
			return vision.MatchResult{}, false
		}
		res := matcher.Match(scene, t)
		res.Template = path
		return res, true
	}

	if cfg.Detection.IdleTemplate != "" {
		if res, ok := match(cfg.Detection.IdleTemplate); ok {
			p.Idle = &res
		}
	}
	for _, path := range cfg.Detection.BusyTemplates {
		if res, ok := match(path); ok {
			p.Busy = append(p.Busy, res)
		}
	}
	return p, nil
}

// Results returns the idle result, if any, followed by the busy results.
func (p *ProbeResult) Results() []vision.MatchResult {
	out := make([]vision.MatchResult, 0, len(p.Busy)+1)
	if p.Idle != nil {
		out = append(out, *p.Idle)
	}
	return append(out, p.Busy...)
}

// Annotated draws every found result on a copy of the frame.
func (p *ProbeResult) Annotated() *image.RGBA {
	results := p.Results()
	annotations := make([]vision.Annotation, 0, len(results))
	for _, r := range results {
		annotations = append(annotations, vision.Annotation{Result: r, Accepted: r.Accepted(p.Threshold)})
	}
	return vision.Annotate(p.Frame, annotations)
}
