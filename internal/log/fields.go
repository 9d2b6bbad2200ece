// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldObjectID  = "object_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldJobType   = "job_type"

	// Media fields
	FieldFrameIdx    = "frame_idx"
	FieldTotalFrames = "total_frames"
	FieldResolution  = "resolution"
	FieldFPS         = "fps"

	// Path fields
	FieldPath      = "path"
	FieldFramesDir = "frames_dir"
	FieldVideoPath = "video_path"
)
