// SPDX-License-Identifier: MIT

package video

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/maskd/internal/core"
)

func TestWorkingDims(t *testing.T) {
	tests := []struct {
		name      string
		w, h, max int
		wantW     int
		wantH     int
	}{
		{"fits untouched", 1280, 720, 1920, 1280, 720},
		{"exact limit", 1920, 1080, 1920, 1920, 1080},
		{"landscape scaled", 3840, 2160, 1920, 1920, 1080},
		{"portrait scaled", 1080, 2400, 1920, 864, 1920},
		{"square scaled", 4000, 4000, 1920, 1920, 1920},
		{"extreme aspect clamps to 1", 10000, 2, 1920, 1920, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := WorkingDims(tt.w, tt.h, tt.max)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestDownscale(t *testing.T) {
	src := NewSyntheticSource(64, 48, 3, 25)
	frames, _, err := src.Decode(context.Background(), "clip.mp4", 0)
	require.NoError(t, err)

	out := Downscale(frames, 32, 24)
	require.Len(t, out, 3)
	for _, f := range out {
		assert.Equal(t, 32, f.Bounds().Dx())
		assert.Equal(t, 24, f.Bounds().Dy())
	}

	// frames already at target dims pass through untouched
	same := Downscale(frames, 64, 48)
	assert.Same(t, frames[0], same[0])
}

func TestSyntheticSourceDeterministic(t *testing.T) {
	src := NewSyntheticSource(16, 16, 5, 30)

	a, metaA, err := src.Decode(context.Background(), "a.mp4", 0)
	require.NoError(t, err)
	b, _, err := src.Decode(context.Background(), "a.mp4", 0)
	require.NoError(t, err)

	assert.Equal(t, 5, metaA.TotalFrames)
	require.Len(t, a, 5)
	assert.Equal(t, a[0].Pix, b[0].Pix)
	assert.NotEqual(t, a[0].Pix, a[1].Pix, "consecutive frames must differ")
}

func TestSyntheticSourceTruncates(t *testing.T) {
	src := NewSyntheticSource(8, 8, 10, 30)
	frames, meta, err := src.Decode(context.Background(), "long.mp4", 4)
	require.NoError(t, err)
	assert.Len(t, frames, 4)
	assert.Equal(t, 10, meta.TotalFrames, "meta reports the full source length")
}

func TestSyntheticSourceUnreadable(t *testing.T) {
	src := NewSyntheticSource(8, 8, 10, 30)

	_, err := src.Probe(context.Background(), "missing.mp4")
	require.ErrorIs(t, err, core.ErrVideoUnreadable)

	_, _, err = src.Decode(context.Background(), "corrupt-clip.mp4", 0)
	require.ErrorIs(t, err, core.ErrVideoUnreadable)

	_, err = src.Probe(context.Background(), "")
	require.ErrorIs(t, err, core.ErrVideoUnreadable)
}

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 25.0, parseRate("25/1"), 1e-9)
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 1e-2)
	assert.InDelta(t, 30.0, parseRate("30"), 1e-9)
	assert.Zero(t, parseRate("bogus"))
	assert.Zero(t, parseRate("1/0"))
}
