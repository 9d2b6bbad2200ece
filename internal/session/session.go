// SPDX-License-Identifier: MIT

// Package session implements the annotation session lifecycle: admission
// and eviction, the tracked-object state machine, and the propagation
// runner that streams masks out of the segmenter.
package session

import (
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/maskd/internal/segment"
)

// Session binds one opened video to prepared segmenter state and an
// object catalog. All mutable state below mu is guarded by it; lastAccess
// is atomic so Touch works without the lock (the propagation stream holds
// mu for its whole run).
type Session struct {
	ID        string
	VideoPath string
	FramesDir string

	Frames      []*image.RGBA
	Width       int // working dimensions, stable for the session lifetime
	Height      int
	TotalFrames int
	FPS         float64

	CreatedAt time.Time

	mu         sync.Mutex
	modelState segment.State
	objects    map[int]*TrackedObject
	addedCount int // palette cursor, never decremented

	lastAccess atomic.Int64 // unix nanos
	closed     atomic.Bool
}

// Touch refreshes the last-access timestamp.
func (s *Session) Touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

// LastAccessed returns the last-access timestamp.
func (s *Session) LastAccessed() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

// IdleTime returns how long the session has gone without access.
func (s *Session) IdleTime() time.Duration {
	return time.Since(s.LastAccessed())
}

// Closed reports whether Close has begun for this session. The
// propagation loop checks it between frames.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// ObjectSummary is the lock-free snapshot of one object used by status
// responses.
type ObjectSummary struct {
	ID              int      `json:"id"`
	Name            string   `json:"name"`
	Category        string   `json:"category,omitempty"`
	Color           [3]uint8 `json:"color"`
	FramesWithMasks int      `json:"frames_with_masks"`
}

// Summarize returns per-object summaries sorted by object id.
func (s *Session) Summarize() []ObjectSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ObjectSummary, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, ObjectSummary{
			ID:              o.ID,
			Name:            o.Name,
			Category:        o.Category,
			Color:           o.Color,
			FramesWithMasks: o.FramesWithMasks(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ObjectCount returns the number of tracked objects.
func (s *Session) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
