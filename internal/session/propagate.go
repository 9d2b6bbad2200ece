// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sort"
	"time"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/metrics"
	"github.com/ManuGH/maskd/internal/segment"
)

// PropagateRequest asks for masks across a frame range. EndFrame < 0
// means "last frame"; an empty Direction defaults to both.
type PropagateRequest struct {
	SessionID  string
	StartFrame int
	EndFrame   int
	Direction  segment.Direction
}

// PropagationSummary is the sanitized job result: metadata only, no
// pixel data. Masks are read back per frame through GetFrameMasks.
type PropagationSummary struct {
	SessionID     string `json:"session_id"`
	TotalFrames   int    `json:"total_frames"`
	FramesCovered int    `json:"frames_covered"`
	FirstFrame    int    `json:"first_frame"`
	LastFrame     int    `json:"last_frame"`
	ObjectCount   int    `json:"object_count"`
}

// Propagate streams per-frame masks from the segmenter into the session
// under the session lock, so no interactive call can mutate model state
// mid-stream. The progress callback receives percentages in [0, 100];
// access is touched every TouchEvery frames so the sweeper never evicts a
// session with a live propagation.
func (m *Manager) Propagate(ctx context.Context, req PropagateRequest, progress func(pct int)) (*PropagationSummary, error) {
	sess, err := m.resolve(req.SessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Closed() {
		return nil, core.ErrSessionGone
	}
	if len(sess.objects) == 0 {
		return nil, core.ErrNothingToPropagate
	}

	start, end, dir := req.StartFrame, req.EndFrame, req.Direction
	if end < 0 {
		end = sess.TotalFrames - 1
	}
	if dir == "" {
		dir = segment.DirectionBoth
	}
	if !dir.Valid() {
		return nil, core.InvalidArgumentf("direction %q, want forward, backward or both", req.Direction)
	}
	if start < 0 || end >= sess.TotalFrames || start > end {
		return nil, core.InvalidArgumentf("frame range [%d, %d] out of [0, %d)", start, end, sess.TotalFrames)
	}

	logger := log.WithComponent("session")
	logger.Info().
		Str(log.FieldEvent, "propagation.started").
		Str(log.FieldSessionID, sess.ID).
		Int("start_frame", start).
		Int("end_frame", end).
		Str("direction", string(dir)).
		Int("objects", len(sess.objects)).
		Msg("propagation started")

	began := time.Now()
	span := end - start + 1
	var covered []int

	streamErr := m.seg.StreamPropagation(ctx, sess.modelState, segment.PropagationOptions{
		StartFrame: start,
		EndFrame:   end,
		Direction:  dir,
	}, func(fr segment.FrameResult) error {
		if sess.Closed() {
			return core.ErrSessionGone
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, om := range fr.Objects {
			obj, ok := sess.objects[om.ObjectID]
			if !ok {
				// stream and catalog must agree on the object set
				return core.SegmenterFailed("stream propagation",
					core.NotFoundf("streamed object %d", om.ObjectID))
			}
			if err := om.Mask.Validate(); err != nil {
				return core.SegmenterFailed("stream propagation", err)
			}
			if om.Mask.Width != sess.Width || om.Mask.Height != sess.Height {
				return core.SegmenterFailed("stream propagation",
					core.InvalidArgumentf("mask is %dx%d, session is %dx%d",
						om.Mask.Width, om.Mask.Height, sess.Width, sess.Height))
			}
			obj.Masks[fr.FrameIdx] = om.Mask.Clone()
		}
		covered = append(covered, fr.FrameIdx)
		metrics.PropagationFramesTotal.Inc()

		n := len(covered)
		if m.opts.TouchEvery > 0 && n%m.opts.TouchEvery == 0 {
			sess.Touch()
		}
		if m.opts.ProgressEvery > 0 && n%m.opts.ProgressEvery == 0 {
			pct := pctOf(n, span)
			if progress != nil {
				progress(pct)
			}
			logger.Info().
				Str(log.FieldEvent, "propagation.progress").
				Str(log.FieldSessionID, sess.ID).
				Int(log.FieldFrameIdx, fr.FrameIdx).
				Int("frames_done", n).
				Int("progress_pct", pct).
				Msg("propagation progress")
		}
		return nil
	})
	metrics.RecordSegmenterCall("propagate", streamErr)
	if streamErr != nil {
		// masks written so far stay in the session; a re-run is idempotent
		logger.Error().
			Err(streamErr).
			Str(log.FieldEvent, "propagation.failed").
			Str(log.FieldSessionID, sess.ID).
			Int("frames_done", len(covered)).
			Msg("propagation failed")
		return nil, streamErr
	}

	sess.Touch()
	if progress != nil {
		progress(100)
	}

	sort.Ints(covered)
	summary := &PropagationSummary{
		SessionID:     sess.ID,
		TotalFrames:   sess.TotalFrames,
		FramesCovered: len(covered),
		ObjectCount:   len(sess.objects),
	}
	if len(covered) > 0 {
		summary.FirstFrame = covered[0]
		summary.LastFrame = covered[len(covered)-1]
	}

	logger.Info().
		Str(log.FieldEvent, "propagation.completed").
		Str(log.FieldSessionID, sess.ID).
		Int("frames_covered", summary.FramesCovered).
		Dur("elapsed", time.Since(began)).
		Msg("propagation completed")
	return summary, nil
}

func pctOf(done, total int) int {
	if total <= 0 {
		return 100
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}
