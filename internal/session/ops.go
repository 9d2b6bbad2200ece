// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"image"
	"time"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/mask"
	"github.com/ManuGH/maskd/internal/metrics"
	"github.com/ManuGH/maskd/internal/segment"
)

// AddObjectRequest creates a tracked object from point prompts.
type AddObjectRequest struct {
	SessionID string
	FrameIdx  int
	ObjectID  int
	Points    []segment.Point
	Labels    []int
	Name      string
	Category  string
}

// AddBoxRequest creates a tracked object from a box prompt.
type AddBoxRequest struct {
	SessionID string
	FrameIdx  int
	ObjectID  int
	Box       segment.Box
	Name      string
	Category  string
}

// ObjectResult is the outcome of an interactive object operation.
type ObjectResult struct {
	Object   *TrackedObject
	FrameIdx int
	Mask     *mask.Mask
}

// AddObject registers a new tracked object seeded by point prompts and
// returns its initial mask.
func (m *Manager) AddObject(ctx context.Context, req AddObjectRequest) (*ObjectResult, error) {
	sess, err := m.resolve(req.SessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Closed() {
		return nil, core.ErrSessionGone
	}

	if err := validatePoints(sess, req.FrameIdx, req.Points, req.Labels); err != nil {
		return nil, err
	}
	if _, exists := sess.objects[req.ObjectID]; exists {
		return nil, core.InvalidArgumentf("object %d already exists, use refine", req.ObjectID)
	}

	result, err := m.applyPrompt(ctx, sess, segment.Prompt{
		FrameIdx: req.FrameIdx,
		ObjectID: req.ObjectID,
		Points:   req.Points,
		Labels:   req.Labels,
	})
	if err != nil {
		return nil, err
	}

	obj := newTrackedObject(req.ObjectID, req.Name, req.Category, sess.addedCount)
	sess.addedCount++
	obj.Prompts = append(obj.Prompts, PromptRecord{
		Kind:     PromptInitialPoints,
		FrameIdx: req.FrameIdx,
		Points:   req.Points,
		Labels:   req.Labels,
		At:       time.Now().UTC(),
	})
	obj.Masks[req.FrameIdx] = result
	sess.objects[req.ObjectID] = obj

	logObjectOp(sess.ID, obj.ID, req.FrameIdx, "object.added")
	return &ObjectResult{Object: obj, FrameIdx: req.FrameIdx, Mask: result.Clone()}, nil
}

// AddObjectWithBox registers a new tracked object seeded by a box prompt.
func (m *Manager) AddObjectWithBox(ctx context.Context, req AddBoxRequest) (*ObjectResult, error) {
	sess, err := m.resolve(req.SessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Closed() {
		return nil, core.ErrSessionGone
	}

	if err := validateFrame(sess, req.FrameIdx); err != nil {
		return nil, err
	}
	if _, exists := sess.objects[req.ObjectID]; exists {
		return nil, core.InvalidArgumentf("object %d already exists, use refine", req.ObjectID)
	}
	if err := validateBox(sess, req.Box); err != nil {
		return nil, err
	}

	box := req.Box
	result, err := m.applyPrompt(ctx, sess, segment.Prompt{
		FrameIdx: req.FrameIdx,
		ObjectID: req.ObjectID,
		Box:      &box,
	})
	if err != nil {
		return nil, err
	}

	obj := newTrackedObject(req.ObjectID, req.Name, req.Category, sess.addedCount)
	sess.addedCount++
	obj.Prompts = append(obj.Prompts, PromptRecord{
		Kind:     PromptInitialBox,
		FrameIdx: req.FrameIdx,
		Box:      &box,
		At:       time.Now().UTC(),
	})
	obj.Masks[req.FrameIdx] = result
	sess.objects[req.ObjectID] = obj

	logObjectOp(sess.ID, obj.ID, req.FrameIdx, "object.added")
	return &ObjectResult{Object: obj, FrameIdx: req.FrameIdx, Mask: result.Clone()}, nil
}

// Refine adds point prompts to an existing object at a frame; the new
// mask replaces the one stored there. Other frames are untouched until
// the next propagation.
func (m *Manager) Refine(ctx context.Context, req AddObjectRequest) (*ObjectResult, error) {
	sess, err := m.resolve(req.SessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Closed() {
		return nil, core.ErrSessionGone
	}

	if err := validatePoints(sess, req.FrameIdx, req.Points, req.Labels); err != nil {
		return nil, err
	}
	obj, ok := sess.objects[req.ObjectID]
	if !ok {
		return nil, core.NotFoundf("object %d", req.ObjectID)
	}

	result, err := m.applyPrompt(ctx, sess, segment.Prompt{
		FrameIdx: req.FrameIdx,
		ObjectID: req.ObjectID,
		Points:   req.Points,
		Labels:   req.Labels,
	})
	if err != nil {
		return nil, err
	}

	obj.Prompts = append(obj.Prompts, PromptRecord{
		Kind:     PromptRefinementPoints,
		FrameIdx: req.FrameIdx,
		Points:   req.Points,
		Labels:   req.Labels,
		At:       time.Now().UTC(),
	})
	obj.Masks[req.FrameIdx] = result

	logObjectOp(sess.ID, obj.ID, req.FrameIdx, "object.refined")
	return &ObjectResult{Object: obj, FrameIdx: req.FrameIdx, Mask: result.Clone()}, nil
}

// OverrideMask installs a user-edited mask for (object, frame): the image
// is normalized to working dimensions and {0, 255}, stored locally, and
// injected into the segmenter so future propagations seed from it. When
// injection fails the local store is rolled back so the two never diverge.
func (m *Manager) OverrideMask(ctx context.Context, sessionID string, frameIdx int, objectID int, img image.Image) (*ObjectResult, error) {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Closed() {
		return nil, core.ErrSessionGone
	}

	if err := validateFrame(sess, frameIdx); err != nil {
		return nil, err
	}
	obj, ok := sess.objects[objectID]
	if !ok {
		return nil, core.NotFoundf("object %d", objectID)
	}

	normalized, err := mask.NormalizeUpload(img, sess.Width, sess.Height)
	if err != nil {
		return nil, core.InvalidArgumentf("override mask: %v", err)
	}

	prev, hadPrev := obj.Masks[frameIdx]
	obj.Masks[frameIdx] = normalized

	err = m.seg.InjectMask(ctx, sess.modelState, frameIdx, objectID, normalized)
	metrics.RecordSegmenterCall("inject", err)
	if err != nil {
		if hadPrev {
			obj.Masks[frameIdx] = prev
		} else {
			delete(obj.Masks, frameIdx)
		}
		return nil, core.SegmenterFailed("inject mask", err)
	}

	obj.Prompts = append(obj.Prompts, PromptRecord{
		Kind:     PromptOverrideMask,
		FrameIdx: frameIdx,
		At:       time.Now().UTC(),
	})

	logObjectOp(sess.ID, objectID, frameIdx, "object.mask_overridden")
	return &ObjectResult{Object: obj, FrameIdx: frameIdx, Mask: normalized.Clone()}, nil
}

// GetFrameMasks returns the known masks at a frame, keyed by object id.
// Objects without a mask at that frame are absent.
func (m *Manager) GetFrameMasks(sessionID string, frameIdx int) (map[int]*mask.Mask, error) {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Closed() {
		return nil, core.ErrSessionGone
	}
	if err := validateFrame(sess, frameIdx); err != nil {
		return nil, err
	}

	out := make(map[int]*mask.Mask)
	for id, obj := range sess.objects {
		if msk, ok := obj.Masks[frameIdx]; ok {
			out[id] = msk.Clone()
		}
	}
	return out, nil
}

// applyPrompt calls the segmenter and validates the returned mask against
// the session's working dimensions. Callers hold the session lock.
func (m *Manager) applyPrompt(ctx context.Context, sess *Session, p segment.Prompt) (*mask.Mask, error) {
	result, err := m.seg.AddPrompts(ctx, sess.modelState, p)
	metrics.RecordSegmenterCall("add_prompts", err)
	if err != nil {
		return nil, core.SegmenterFailed("add prompts", err)
	}
	if err := result.Validate(); err != nil {
		return nil, core.SegmenterFailed("add prompts", err)
	}
	if result.Width != sess.Width || result.Height != sess.Height {
		return nil, core.SegmenterFailed("add prompts",
			core.InvalidArgumentf("mask is %dx%d, session is %dx%d",
				result.Width, result.Height, sess.Width, sess.Height))
	}
	return result, nil
}

func (m *Manager) resolve(sessionID string) (*Session, error) {
	sess := m.Get(sessionID)
	if sess == nil {
		return nil, core.NotFoundf("session %q", sessionID)
	}
	return sess, nil
}

func validateFrame(sess *Session, frameIdx int) error {
	if frameIdx < 0 || frameIdx >= sess.TotalFrames {
		return core.InvalidArgumentf("frame_idx %d out of range [0, %d)", frameIdx, sess.TotalFrames)
	}
	return nil
}

func validatePoints(sess *Session, frameIdx int, points []segment.Point, labels []int) error {
	if err := validateFrame(sess, frameIdx); err != nil {
		return err
	}
	if len(points) == 0 {
		return core.InvalidArgumentf("at least one point is required")
	}
	if len(points) != len(labels) {
		return core.InvalidArgumentf("points/labels length mismatch: %d vs %d", len(points), len(labels))
	}
	for i, l := range labels {
		if l != 0 && l != 1 {
			return core.InvalidArgumentf("labels[%d] = %d, want 0 or 1", i, l)
		}
	}
	return nil
}

func validateBox(sess *Session, b segment.Box) error {
	if b.X0 >= b.X1 || b.Y0 >= b.Y1 {
		return core.InvalidArgumentf("box corners out of order: [%g, %g, %g, %g]", b.X0, b.Y0, b.X1, b.Y1)
	}
	if b.X0 < 0 || b.Y0 < 0 || b.X1 > float64(sess.Width) || b.Y1 > float64(sess.Height) {
		return core.InvalidArgumentf("box [%g, %g, %g, %g] outside working frame %dx%d",
			b.X0, b.Y0, b.X1, b.Y1, sess.Width, sess.Height)
	}
	return nil
}

func logObjectOp(sessionID string, objectID int, frameIdx int, event string) {
	logger := log.WithComponent("session")
	logger.Info().
		Str(log.FieldEvent, event).
		Str(log.FieldSessionID, sessionID).
		Int(log.FieldObjectID, objectID).
		Int(log.FieldFrameIdx, frameIdx).
		Msg("object operation applied")
}
