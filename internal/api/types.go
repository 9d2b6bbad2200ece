// SPDX-License-Identifier: MIT

package api

import (
	"time"

	"github.com/ManuGH/maskd/internal/session"
)

// openSessionRequest opens an annotation session on a video reference.
type openSessionRequest struct {
	VideoPath string `json:"video_path"`
}

type openSessionResponse struct {
	SessionID   string  `json:"session_id"`
	TotalFrames int     `json:"total_frames"`
	FrameWidth  int     `json:"frame_width"`
	FrameHeight int     `json:"frame_height"`
	FPS         float64 `json:"fps"`
}

type sessionStatusResponse struct {
	SessionID    string                  `json:"session_id"`
	VideoPath    string                  `json:"video_path"`
	TotalFrames  int                     `json:"total_frames"`
	FrameWidth   int                     `json:"frame_width"`
	FrameHeight  int                     `json:"frame_height"`
	FPS          float64                 `json:"fps"`
	Objects      []session.ObjectSummary `json:"objects"`
	CreatedAt    time.Time               `json:"created_at"`
	LastAccessed time.Time               `json:"last_accessed"`
	IdleSeconds  float64                 `json:"idle_time"`
}

type closeSessionResponse struct {
	SessionID string `json:"session_id"`
}

// addObjectRequest seeds a new object with point prompts. Points are
// [x, y] pairs in working-dimension pixels; labels are parallel, 1 for
// foreground and 0 for background.
type addObjectRequest struct {
	FrameIdx int          `json:"frame_idx"`
	ObjectID int          `json:"object_id"`
	Points   [][2]float64 `json:"points"`
	Labels   []int        `json:"labels"`
	Name     string       `json:"name,omitempty"`
	Category string       `json:"category,omitempty"`
}

// addBoxRequest seeds a new object with a box prompt, [x1, y1, x2, y2].
type addBoxRequest struct {
	FrameIdx int        `json:"frame_idx"`
	ObjectID int        `json:"object_id"`
	Box      [4]float64 `json:"box"`
	Name     string     `json:"name,omitempty"`
	Category string     `json:"category,omitempty"`
}

type addObjectResponse struct {
	ObjectID int      `json:"object_id"`
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Color    [3]uint8 `json:"color"`
	FrameIdx int      `json:"frame_idx"`
	Mask     string   `json:"mask"`
}

type refineRequest struct {
	FrameIdx int          `json:"frame_idx"`
	Points   [][2]float64 `json:"points"`
	Labels   []int        `json:"labels"`
}

type maskResponse struct {
	ObjectID int    `json:"object_id"`
	FrameIdx int    `json:"frame_idx"`
	Mask     string `json:"mask"`
}

// overrideMaskRequest replaces the mask at one (object, frame) with a
// user-edited one, base64 PNG on the wire.
type overrideMaskRequest struct {
	FrameIdx int    `json:"frame_idx"`
	Mask     string `json:"mask"`
}

type frameMasksResponse struct {
	FrameIdx int               `json:"frame_idx"`
	Masks    map[string]string `json:"masks"`
}

type propagateRequest struct {
	StartFrame *int   `json:"start_frame,omitempty"`
	EndFrame   *int   `json:"end_frame,omitempty"`
	Direction  string `json:"direction,omitempty"`
}

type propagateResponse struct {
	JobID string `json:"job_id"`
}

type cancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type cleanupResponse struct {
	RemovedSessions int `json:"removed_sessions"`
	RemovedJobs     int `json:"removed_jobs"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Segmenter      string `json:"segmenter"`
	ActiveSessions int    `json:"active_sessions"`
}
