// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/metrics"
	"github.com/ManuGH/maskd/internal/segment"
	"github.com/ManuGH/maskd/internal/video"
)

// Options bounds the manager's resource usage.
type Options struct {
	MaxConcurrent int
	MaxFrames     int
	MaxDimension  int
	Timeout       time.Duration

	// Propagation cadences, in frames.
	TouchEvery    int
	ProgressEvery int
}

// Manager owns the session table. Heavy admission work (decode,
// materialize, prepare) runs outside the table lock; a reservation
// counter keeps the cap airtight while it is in flight.
type Manager struct {
	opts   Options
	source video.FrameSource
	store  *video.FrameStore
	seg    segment.Segmenter

	mu       sync.Mutex
	sessions map[string]*Session
	reserved int
}

// NewManager wires a session manager.
func NewManager(opts Options, source video.FrameSource, store *video.FrameStore, seg segment.Segmenter) *Manager {
	return &Manager{
		opts:     opts,
		source:   source,
		store:    store,
		seg:      seg,
		sessions: make(map[string]*Session),
	}
}

// Open admits a new session for a video reference. Oversized videos are
// downscaled to working dimensions and over-long ones truncated with a
// warning; admission past the concurrency cap sweeps idle sessions first
// and only then rejects.
func (m *Manager) Open(ctx context.Context, videoRef string) (*Session, error) {
	start := time.Now()
	if err := m.reserve(); err != nil {
		return nil, err
	}
	release := func() {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
	}

	frames, meta, err := m.source.Decode(ctx, videoRef, m.opts.MaxFrames)
	if err != nil {
		release()
		metrics.RecordReject("video_unreadable")
		return nil, err
	}
	if len(frames) == 0 {
		release()
		metrics.RecordReject("video_unreadable")
		return nil, fmt.Errorf("%w: %s decoded zero frames", core.ErrVideoUnreadable, videoRef)
	}

	id := uuid.NewString()
	logger := log.WithComponent("session")

	if meta.TotalFrames > len(frames) {
		logger.Warn().
			Str(log.FieldEvent, "session.frames_truncated").
			Str(log.FieldSessionID, id).
			Str(log.FieldVideoPath, videoRef).
			Int("source_frames", meta.TotalFrames).
			Int(log.FieldTotalFrames, len(frames)).
			Msgf("video exceeds %d frames, dropping trailing frames", m.opts.MaxFrames)
	}

	// Downscale policy: anything up to 8x the working cap is scaled;
	// beyond that the input is refused outright.
	if limit := m.opts.MaxDimension * 8; limit > 0 && (meta.Width > limit || meta.Height > limit) {
		release()
		metrics.RecordReject("video_too_large")
		return nil, fmt.Errorf("%w: %dx%d exceeds the %dpx downscale policy",
			core.ErrVideoTooLarge, meta.Width, meta.Height, limit)
	}

	w, h := video.WorkingDims(meta.Width, meta.Height, m.opts.MaxDimension)
	if w != meta.Width || h != meta.Height {
		logger.Info().
			Str(log.FieldEvent, "session.downscaled").
			Str(log.FieldSessionID, id).
			Str("source_resolution", fmt.Sprintf("%dx%d", meta.Width, meta.Height)).
			Str(log.FieldResolution, fmt.Sprintf("%dx%d", w, h)).
			Msg("downscaling to working dimensions")
		frames = video.Downscale(frames, w, h)
	}

	if err := m.store.Write(id, frames, w, h, meta.FPS); err != nil {
		release()
		m.cleanupFrames(id)
		return nil, fmt.Errorf("materialize frames: %w", err)
	}

	state, err := m.seg.PrepareVideoState(ctx, m.store.Dir(id))
	if err != nil {
		release()
		m.cleanupFrames(id)
		metrics.RecordSegmenterCall("prepare", err)
		return nil, core.SegmenterFailed("prepare video state", err)
	}
	metrics.RecordSegmenterCall("prepare", nil)

	sess := &Session{
		ID:          id,
		VideoPath:   videoRef,
		FramesDir:   m.store.Dir(id),
		Frames:      frames,
		Width:       w,
		Height:      h,
		TotalFrames: len(frames),
		FPS:         meta.FPS,
		CreatedAt:   time.Now().UTC(),
		modelState:  state,
		objects:     make(map[int]*TrackedObject),
	}
	sess.Touch()

	m.mu.Lock()
	m.reserved--
	m.sessions[id] = sess
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsOpenedTotal.Inc()
	metrics.ActiveSessions.Set(float64(active))
	metrics.SessionOpenDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Str(log.FieldEvent, "session.opened").
		Str(log.FieldSessionID, id).
		Str(log.FieldVideoPath, videoRef).
		Int(log.FieldTotalFrames, sess.TotalFrames).
		Str(log.FieldResolution, fmt.Sprintf("%dx%d", w, h)).
		Float64(log.FieldFPS, meta.FPS).
		Msg("session opened")

	if limit := m.opts.MaxConcurrent; limit > 0 && active*5 >= limit*4 {
		logger.Warn().
			Str(log.FieldEvent, "session.near_capacity").
			Int("active", active).
			Int("limit", limit).
			Msg("session table above 80% of capacity")
	}
	return sess, nil
}

// reserve claims an admission slot, sweeping idle sessions once before
// giving up.
func (m *Manager) reserve() error {
	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		if m.opts.MaxConcurrent <= 0 || len(m.sessions)+m.reserved < m.opts.MaxConcurrent {
			m.reserved++
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		if attempt > 0 || m.SweepExpired() == 0 {
			metrics.RecordReject("capacity")
			return fmt.Errorf("%w: session limit %d reached, close a session and retry",
				core.ErrCapacityExceeded, m.opts.MaxConcurrent)
		}
	}
}

// Get returns a session by id, refreshing its last-access timestamp, or
// nil when unknown.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	sess := m.sessions[sessionID]
	m.mu.Unlock()
	if sess != nil {
		sess.Touch()
	}
	return sess
}

// Close tears a session down: segmenter state reset, frame directory
// removed, table entry dropped. Closing an unknown id is a no-op.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	active := len(m.sessions)
	m.mu.Unlock()
	if sess == nil {
		return nil
	}

	// Mark first so an in-flight propagation bails at its next frame,
	// then wait for the session lock to ensure exclusive teardown.
	sess.closed.Store(true)
	sess.mu.Lock()
	state := sess.modelState
	sess.modelState = nil
	sess.objects = make(map[int]*TrackedObject)
	sess.mu.Unlock()

	logger := log.WithComponent("session")
	if state != nil {
		if err := m.seg.Reset(ctx, state); err != nil {
			logger.Warn().
				Err(err).
				Str(log.FieldEvent, "session.reset_failed").
				Str(log.FieldSessionID, sessionID).
				Msg("segmenter state reset failed")
		}
	}
	m.cleanupFrames(sessionID)

	metrics.ActiveSessions.Set(float64(active))
	logger.Info().
		Str(log.FieldEvent, "session.closed").
		Str(log.FieldSessionID, sessionID).
		Msg("session closed")
	return nil
}

// SweepExpired closes every session idle for longer than the timeout and
// returns how many it closed.
func (m *Manager) SweepExpired() int {
	if m.opts.Timeout <= 0 {
		return 0
	}
	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.IdleTime() > m.opts.Timeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	logger := log.WithComponent("session")
	for _, id := range expired {
		logger.Info().
			Str(log.FieldEvent, "session.evicted").
			Str(log.FieldSessionID, id).
			Dur("timeout", m.opts.Timeout).
			Msg("evicting idle session")
		if err := m.Close(context.Background(), id); err != nil {
			logger.Warn().
				Err(err).
				Str(log.FieldSessionID, id).
				Msg("eviction close failed")
		}
		metrics.SessionsEvictedTotal.Inc()
	}
	return len(expired)
}

// CloseAll closes every open session; used at shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	logger := log.WithComponent("session")
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			logger.Warn().
				Err(err).
				Str(log.FieldSessionID, id).
				Msg("shutdown close failed")
		}
	}
}

// ActiveCount returns the number of open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) cleanupFrames(sessionID string) {
	if err := m.store.Remove(sessionID); err != nil {
		logger := log.WithComponent("session")
		logger.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Msg("frame directory cleanup failed")
	}
}
