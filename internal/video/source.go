// SPDX-License-Identifier: MIT

// Package video provides frame acquisition for annotation sessions: probing
// and decoding video references, aspect-preserving downscale to working
// dimensions, and the on-disk frame store the segmenter reads from.
package video

import (
	"context"
	"image"

	"github.com/nfnt/resize"
)

// Meta describes a probed video.
type Meta struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

// FrameSource yields decoded RGB frames for a video reference.
type FrameSource interface {
	// Probe reads metadata without decoding frames.
	Probe(ctx context.Context, ref string) (Meta, error)

	// Decode returns up to limit decoded frames plus the source metadata.
	// Meta.TotalFrames reports the count in the source, which may exceed
	// the number of returned frames when the limit truncates.
	Decode(ctx context.Context, ref string, limit int) ([]*image.RGBA, Meta, error)
}

// WorkingDims returns the session working dimensions for a source of
// (w, h): unchanged when both sides fit within maxDim, otherwise scaled
// down uniformly so the longer side equals maxDim.
func WorkingDims(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, scaleSide(h, w, maxDim)
	}
	return scaleSide(w, h, maxDim), maxDim
}

func scaleSide(short, long, maxDim int) int {
	s := (short*maxDim + long/2) / long
	if s < 1 {
		s = 1
	}
	return s
}

// Downscale resizes every frame to (w, h). Frames already at the target
// dimensions are returned as-is.
func Downscale(frames []*image.RGBA, w, h int) []*image.RGBA {
	out := make([]*image.RGBA, len(frames))
	for i, f := range frames {
		b := f.Bounds()
		if b.Dx() == w && b.Dy() == h {
			out[i] = f
			continue
		}
		resized := resize.Resize(uint(w), uint(h), f, resize.Bilinear)
		out[i] = toRGBA(resized)
	}
	return out
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
