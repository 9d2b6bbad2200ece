// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/mask"
	"github.com/ManuGH/maskd/internal/segment"
	"github.com/ManuGH/maskd/internal/session"
)

// maxBodyBytes bounds request bodies; override masks dominate and a
// full-HD binary PNG stays far below this.
const maxBodyBytes = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Version:        s.cfg.Version,
		Segmenter:      s.cfg.SegmenterMode,
		ActiveSessions: s.sessions.ActiveCount(),
	})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VideoPath == "" {
		writeDomainError(w, r, core.InvalidArgumentf("video_path must not be empty"))
		return
	}

	sess, err := s.sessions.Open(r.Context(), req.VideoPath)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, openSessionResponse{
		SessionID:   sess.ID,
		TotalFrames: sess.TotalFrames,
		FrameWidth:  sess.Width,
		FrameHeight: sess.Height,
		FPS:         sess.FPS,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if sess == nil {
		writeDomainError(w, r, core.NotFoundf("session %q", chi.URLParam(r, "sessionID")))
		return
	}
	writeJSON(w, http.StatusOK, sessionStatusResponse{
		SessionID:    sess.ID,
		VideoPath:    sess.VideoPath,
		TotalFrames:  sess.TotalFrames,
		FrameWidth:   sess.Width,
		FrameHeight:  sess.Height,
		FPS:          sess.FPS,
		Objects:      sess.Summarize(),
		CreatedAt:    sess.CreatedAt,
		LastAccessed: sess.LastAccessed(),
		IdleSeconds:  sess.IdleTime().Seconds(),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.Close(r.Context(), sessionID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closeSessionResponse{SessionID: sessionID})
}

func (s *Server) handleAddObject(w http.ResponseWriter, r *http.Request) {
	var req addObjectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.sessions.AddObject(r.Context(), session.AddObjectRequest{
		SessionID: chi.URLParam(r, "sessionID"),
		FrameIdx:  req.FrameIdx,
		ObjectID:  req.ObjectID,
		Points:    toPoints(req.Points),
		Labels:    req.Labels,
		Name:      req.Name,
		Category:  req.Category,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeObjectResponse(w, r, res)
}

func (s *Server) handleAddObjectWithBox(w http.ResponseWriter, r *http.Request) {
	var req addBoxRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.sessions.AddObjectWithBox(r.Context(), session.AddBoxRequest{
		SessionID: chi.URLParam(r, "sessionID"),
		FrameIdx:  req.FrameIdx,
		ObjectID:  req.ObjectID,
		Box:       segment.Box{X0: req.Box[0], Y0: req.Box[1], X1: req.Box[2], Y1: req.Box[3]},
		Name:      req.Name,
		Category:  req.Category,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeObjectResponse(w, r, res)
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	objectID, err := objectIDParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.sessions.Refine(r.Context(), session.AddObjectRequest{
		SessionID: chi.URLParam(r, "sessionID"),
		FrameIdx:  req.FrameIdx,
		ObjectID:  objectID,
		Points:    toPoints(req.Points),
		Labels:    req.Labels,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMaskResponse(w, r, res)
}

func (s *Server) handleOverrideMask(w http.ResponseWriter, r *http.Request) {
	var req overrideMaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.Mask)
	if err != nil {
		writeDomainError(w, r, core.InvalidArgumentf("mask is not valid base64: %v", err))
		return
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		writeDomainError(w, r, core.InvalidArgumentf("mask is not a PNG: %v", err))
		return
	}

	objectID, err := objectIDParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.sessions.OverrideMask(r.Context(),
		chi.URLParam(r, "sessionID"), req.FrameIdx, objectID, img)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMaskResponse(w, r, res)
}

func (s *Server) handleGetFrameMasks(w http.ResponseWriter, r *http.Request) {
	frameIdx, err := strconv.Atoi(chi.URLParam(r, "frameIdx"))
	if err != nil {
		writeDomainError(w, r, core.InvalidArgumentf("frame index %q is not a number", chi.URLParam(r, "frameIdx")))
		return
	}

	masks, err := s.sessions.GetFrameMasks(chi.URLParam(r, "sessionID"), frameIdx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	encoded := make(map[string]string, len(masks))
	for objectID, m := range masks {
		b64, err := mask.EncodePNG(m)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		encoded[strconv.Itoa(objectID)] = b64
	}
	writeJSON(w, http.StatusOK, frameMasksResponse{FrameIdx: frameIdx, Masks: encoded})
}

func (s *Server) handlePropagate(w http.ResponseWriter, r *http.Request) {
	var req propagateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	sess := s.sessions.Get(sessionID)
	if sess == nil {
		writeDomainError(w, r, core.NotFoundf("session %q", sessionID))
		return
	}
	if sess.ObjectCount() == 0 {
		writeDomainError(w, r, core.ErrNothingToPropagate)
		return
	}

	pr := session.PropagateRequest{
		SessionID:  sessionID,
		StartFrame: 0,
		EndFrame:   -1,
		Direction:  segment.Direction(req.Direction),
	}
	if req.StartFrame != nil {
		pr.StartFrame = *req.StartFrame
	}
	if req.EndFrame != nil {
		pr.EndFrame = *req.EndFrame
	}
	if pr.Direction != "" && !pr.Direction.Valid() {
		writeDomainError(w, r, core.InvalidArgumentf("direction %q, want forward, backward or both", req.Direction))
		return
	}

	jobID := s.jobs.Submit("propagate_masks", func(ctx context.Context, update func(int)) (any, error) {
		return s.sessions.Propagate(ctx, pr, update)
	})

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "propagation.submitted").
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldJobID, jobID).
		Msg("propagation job submitted")
	writeJSON(w, http.StatusAccepted, propagateResponse{JobID: jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.jobs.Get(jobID)
	if !ok {
		writeDomainError(w, r, core.NotFoundf("job %q", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.jobs.Cancel(jobID)
	if !ok {
		writeDomainError(w, r, core.NotFoundf("job %q", jobID))
		return
	}
	writeJSON(w, http.StatusOK, cancelJobResponse{JobID: job.ID, Status: string(job.Status)})
}

// handleCleanup forces an immediate sweep of idle sessions and old
// terminal jobs, useful for operators reclaiming accelerator memory.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removedSessions := s.sessions.SweepExpired()
	removedJobs := s.jobs.Sweep(s.cfg.JobRetention)
	writeJSON(w, http.StatusOK, cleanupResponse{
		RemovedSessions: removedSessions,
		RemovedJobs:     removedJobs,
	})
}

func writeObjectResponse(w http.ResponseWriter, r *http.Request, res *session.ObjectResult) {
	b64, err := mask.EncodePNG(res.Mask)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addObjectResponse{
		ObjectID: res.Object.ID,
		Name:     res.Object.Name,
		Category: res.Object.Category,
		Color:    res.Object.Color,
		FrameIdx: res.FrameIdx,
		Mask:     b64,
	})
}

func writeMaskResponse(w http.ResponseWriter, r *http.Request, res *session.ObjectResult) {
	b64, err := mask.EncodePNG(res.Mask)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskResponse{
		ObjectID: res.Object.ID,
		FrameIdx: res.FrameIdx,
		Mask:     b64,
	})
}

// decodeBody parses a JSON request body, tolerating an empty body for
// requests whose fields are all optional.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeDomainError(w, r, core.InvalidArgumentf("malformed request body: %v", err))
		return false
	}
	return true
}

// objectIDParam parses the integer object id out of the route.
func objectIDParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "objectID")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.InvalidArgumentf("object id %q is not a number", raw)
	}
	return id, nil
}

func toPoints(pairs [][2]float64) []segment.Point {
	points := make([]segment.Point, len(pairs))
	for i, p := range pairs {
		points[i] = segment.Point{X: p[0], Y: p[1]}
	}
	return points
}
