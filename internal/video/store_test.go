// SPDX-License-Identifier: MIT

package video

import (
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameStoreWriteAndRemove(t *testing.T) {
	store := NewFrameStore(t.TempDir(), 95)

	src := NewSyntheticSource(32, 24, 3, 25)
	frames, _, err := src.Decode(context.Background(), "clip.mp4", 0)
	require.NoError(t, err)

	require.NoError(t, store.Write("sess-1", frames, 32, 24, 25))

	for i := 0; i < 3; i++ {
		path := store.FramePath("sess-1", i)
		f, err := os.Open(path) // #nosec G304
		require.NoError(t, err, "frame %d must exist", i)
		img, err := jpeg.Decode(f)
		require.NoError(t, f.Close())
		require.NoError(t, err)
		assert.Equal(t, 32, img.Bounds().Dx())
		assert.Equal(t, 24, img.Bounds().Dy())
	}

	m, err := store.ReadManifest("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", m.SessionID)
	assert.Equal(t, 3, m.FrameCount)
	assert.Equal(t, 95, m.Quality)
	assert.Equal(t, 32, m.Width)
	assert.Equal(t, 24, m.Height)
	assert.InDelta(t, 25.0, m.FPS, 1e-9)
	assert.False(t, m.WrittenAt.IsZero())

	require.NoError(t, store.Remove("sess-1"))
	_, err = os.Stat(store.Dir("sess-1"))
	assert.True(t, os.IsNotExist(err))

	// removing an already removed session is a no-op
	require.NoError(t, store.Remove("sess-1"))
}

func TestFrameStoreSequentialNames(t *testing.T) {
	store := NewFrameStore(t.TempDir(), 90)
	assert.Equal(t, filepath.Join(store.Dir("s"), "000000.jpg"), store.FramePath("s", 0))
	assert.Equal(t, filepath.Join(store.Dir("s"), "000123.jpg"), store.FramePath("s", 123))
}

func TestFrameStoreManifestMissing(t *testing.T) {
	store := NewFrameStore(t.TempDir(), 90)
	_, err := store.ReadManifest("nope")
	require.Error(t, err)
}

func TestFrameStoreRejectsTraversalIDs(t *testing.T) {
	store := NewFrameStore(t.TempDir(), 90)
	frames := []*image.RGBA{image.NewRGBA(image.Rect(0, 0, 4, 4))}

	for _, id := range []string{"..", "../outside", "/abs", "a\\b"} {
		assert.Error(t, store.Write(id, frames, 4, 4, 25), "id %q", id)
		assert.Error(t, store.Remove(id), "id %q", id)
	}
}
