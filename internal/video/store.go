// SPDX-License-Identifier: MIT

package video

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/maskd/internal/fsutil"
	"github.com/ManuGH/maskd/internal/log"
)

// FrameStore materializes decoded frames as sequentially numbered JPEG
// files, one directory per session. The segmenter reads frames back by
// index; the manifest records what was written so a stray directory can
// be told apart from a live session's frames.
type FrameStore struct {
	root    string
	quality int
}

// Manifest describes a materialized frame directory.
type Manifest struct {
	SessionID  string    `yaml:"session_id"`
	Width      int       `yaml:"width"`
	Height     int       `yaml:"height"`
	FrameCount int       `yaml:"frame_count"`
	FPS        float64   `yaml:"fps"`
	Quality    int       `yaml:"quality"`
	WrittenAt  time.Time `yaml:"written_at"`
}

// NewFrameStore returns a store rooted at dir, writing JPEGs at the given
// quality. The root is created on first use.
func NewFrameStore(dir string, quality int) *FrameStore {
	return &FrameStore{root: dir, quality: quality}
}

// Dir returns the frame directory for a session.
func (s *FrameStore) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// FramePath returns the on-disk path of frame idx for a session.
func (s *FrameStore) FramePath(sessionID string, idx int) string {
	return filepath.Join(s.Dir(sessionID), fmt.Sprintf("%06d.jpg", idx))
}

// Write materializes all frames for a session and writes the manifest
// atomically as the final step. A partially written directory therefore
// never carries a manifest.
func (s *FrameStore) Write(sessionID string, frames []*image.RGBA, width, height int, fps float64) error {
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return fmt.Errorf("create store root: %w", err)
	}
	dir, err := fsutil.ConfineRelPath(s.root, sessionID)
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, frame := range frames {
		i, frame := i, frame
		g.Go(func() error {
			return s.writeFrame(sessionID, i, frame)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	manifest := Manifest{
		SessionID:  sessionID,
		Width:      width,
		Height:     height,
		FrameCount: len(frames),
		FPS:        fps,
		Quality:    s.quality,
		WrittenAt:  time.Now().UTC(),
	}
	if err := s.writeManifest(dir, manifest); err != nil {
		return err
	}

	logger := log.WithComponent("video")
	logger.Debug().
		Str(log.FieldEvent, "frames.materialized").
		Str(log.FieldSessionID, sessionID).
		Int(log.FieldTotalFrames, len(frames)).
		Str(log.FieldResolution, fmt.Sprintf("%dx%d", width, height)).
		Dur("elapsed", time.Since(start)).
		Msg("frame directory materialized")
	return nil
}

func (s *FrameStore) writeFrame(sessionID string, idx int, frame *image.RGBA) error {
	path := s.FramePath(sessionID, idx)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640) // #nosec G304
	if err != nil {
		return fmt.Errorf("create frame %06d: %w", idx, err)
	}
	if err := jpeg.Encode(f, frame, &jpeg.Options{Quality: s.quality}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode frame %06d: %w", idx, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close frame %06d: %w", idx, err)
	}
	return nil
}

func (s *FrameStore) writeManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, "manifest.yaml")
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of a materialized session directory.
func (s *FrameStore) ReadManifest(sessionID string) (Manifest, error) {
	return LoadManifest(s.Dir(sessionID))
}

// LoadManifest reads a manifest directly from a frame directory. Segmenter
// implementations use this to learn the working dimensions of a prepared
// directory without holding a store reference.
func LoadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, "manifest.yaml")
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Remove deletes a session's frame directory. The id is confined under
// the store root before anything is deleted.
func (s *FrameStore) Remove(sessionID string) error {
	dir, err := fsutil.ConfineRelPath(s.root, sessionID)
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove frame dir: %w", err)
	}
	return nil
}
