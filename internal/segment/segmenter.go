// SPDX-License-Identifier: MIT

// Package segment defines the capability the orchestrator consumes to turn
// prompts into masks. The core sequences calls against an opaque per-video
// State and never inspects model internals.
package segment

import (
	"context"

	"github.com/ManuGH/maskd/internal/mask"
)

// State is the opaque per-video handle a Segmenter prepares against a
// frame directory.
type State any

// Point is a sparse prompt coordinate in working-dimension pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned prompt rectangle, inclusive of (X0, Y0) and
// exclusive of (X1, Y1), in working-dimension pixel space.
type Box struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Prompt carries one interactive annotation for an object at a frame.
// Either Points/Labels or Box is set, never both.
type Prompt struct {
	FrameIdx int
	ObjectID int
	Points   []Point
	Labels   []int // 1 = foreground, 0 = background, parallel to Points
	Box      *Box
}

// ObjectMask pairs an object with its mask on one frame.
type ObjectMask struct {
	ObjectID int
	Mask     *mask.Mask
}

// FrameResult is one streamed propagation item.
type FrameResult struct {
	FrameIdx int
	Objects  []ObjectMask
}

// Direction selects how propagation covers the frame range.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionBoth     Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionForward, DirectionBackward, DirectionBoth:
		return true
	}
	return false
}

// PropagationOptions bounds a propagation run. StartFrame and EndFrame are
// inclusive and already validated by the caller.
type PropagationOptions struct {
	StartFrame int
	EndFrame   int
	Direction  Direction
}

// Segmenter is the model capability. Callers serialize all calls against a
// given State; implementations need not lock internally.
type Segmenter interface {
	// PrepareVideoState binds per-video model state to a materialized
	// frame directory.
	PrepareVideoState(ctx context.Context, framesDir string) (State, error)

	// AddPrompts applies a prompt and returns the resulting mask for
	// (object, frame). Repeated calls for the same pair refine it.
	AddPrompts(ctx context.Context, st State, p Prompt) (*mask.Mask, error)

	// InjectMask replaces the model's belief for (object, frame) with a
	// user-supplied mask; later propagations treat it as ground truth.
	InjectMask(ctx context.Context, st State, frameIdx int, objectID int, m *mask.Mask) error

	// StreamPropagation yields per-frame results through emit, in
	// ascending frame order. It stops early when emit returns an error
	// or ctx is cancelled, returning that error.
	StreamPropagation(ctx context.Context, st State, opts PropagationOptions, emit func(FrameResult) error) error

	// Reset releases all per-video state.
	Reset(ctx context.Context, st State) error
}
