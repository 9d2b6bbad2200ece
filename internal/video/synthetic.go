// SPDX-License-Identifier: MIT

package video

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/ManuGH/maskd/internal/core"
)

// SyntheticSource fabricates deterministic gradient frames without touching
// ffmpeg or the filesystem. It backs the "sim" frame source and the test
// suite. References containing "missing" or "corrupt" fail the probe, so
// unreadable-input paths stay testable end to end.
type SyntheticSource struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

// NewSyntheticSource returns a source producing count frames of w x h.
func NewSyntheticSource(w, h, count int, fps float64) *SyntheticSource {
	return &SyntheticSource{Width: w, Height: h, FPS: fps, TotalFrames: count}
}

func (s *SyntheticSource) meta() Meta {
	return Meta{Width: s.Width, Height: s.Height, FPS: s.FPS, TotalFrames: s.TotalFrames}
}

// Probe validates the reference and returns the fixed metadata.
func (s *SyntheticSource) Probe(ctx context.Context, ref string) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	if ref == "" {
		return Meta{}, fmt.Errorf("%w: empty video reference", core.ErrVideoUnreadable)
	}
	if strings.Contains(ref, "missing") || strings.Contains(ref, "corrupt") {
		return Meta{}, fmt.Errorf("%w: %s", core.ErrVideoUnreadable, ref)
	}
	return s.meta(), nil
}

// Decode returns up to limit fabricated frames. Each frame carries a
// per-frame gradient so consecutive frames differ deterministically.
func (s *SyntheticSource) Decode(ctx context.Context, ref string, limit int) ([]*image.RGBA, Meta, error) {
	meta, err := s.Probe(ctx, ref)
	if err != nil {
		return nil, Meta{}, err
	}

	n := s.TotalFrames
	if limit > 0 && limit < n {
		n = limit
	}
	frames := make([]*image.RGBA, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, Meta{}, err
		}
		frames[i] = syntheticFrame(s.Width, s.Height, i)
	}
	return frames, meta, nil
}

func syntheticFrame(w, h, idx int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*255/max(w-1, 1) + idx) % 256), // #nosec G115
				G: uint8(y * 255 / max(h-1, 1)),           // #nosec G115
				B: uint8(idx % 256),                       // #nosec G115
				A: 255,
			})
		}
	}
	return img
}
