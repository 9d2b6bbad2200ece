// SPDX-License-Identifier: MIT

package session

import (
	"fmt"
	"time"

	"github.com/ManuGH/maskd/internal/mask"
	"github.com/ManuGH/maskd/internal/segment"
)

// PromptKind names the annotation that produced a prompt record.
type PromptKind string

const (
	PromptInitialPoints    PromptKind = "initial_points"
	PromptInitialBox       PromptKind = "initial_box"
	PromptRefinementPoints PromptKind = "refinement_points"
	PromptOverrideMask     PromptKind = "override_mask"
)

// PromptRecord is one entry of an object's append-only prompt history.
type PromptRecord struct {
	Kind     PromptKind
	FrameIdx int
	Points   []segment.Point
	Labels   []int
	Box      *segment.Box
	At       time.Time
}

// TrackedObject is one annotated object inside a session. All frame
// indices live in [0, session.TotalFrames).
type TrackedObject struct {
	ID       int
	Name     string
	Category string
	Color    [3]uint8

	Prompts []PromptRecord
	Masks   map[int]*mask.Mask
}

// FramesWithMasks reports how many frames currently carry a mask for
// this object.
func (o *TrackedObject) FramesWithMasks() int {
	return len(o.Masks)
}

// palette is the fixed round-robin object color cycle: red, green, blue,
// yellow, magenta, cyan, orange, purple.
var palette = [][3]uint8{
	{255, 0, 0},
	{0, 255, 0},
	{0, 0, 255},
	{255, 255, 0},
	{255, 0, 255},
	{0, 255, 255},
	{255, 165, 0},
	{128, 0, 128},
}

// colorFor returns the palette color for the n-th object added to a
// session.
func colorFor(n int) [3]uint8 {
	return palette[n%len(palette)]
}

// defaultObjectName is used when the client supplies no name.
func defaultObjectName(objectID int) string {
	return fmt.Sprintf("Object %d", objectID)
}

func newTrackedObject(objectID int, name, category string, ordinal int) *TrackedObject {
	if name == "" {
		name = defaultObjectName(objectID)
	}
	return &TrackedObject{
		ID:       objectID,
		Name:     name,
		Category: category,
		Color:    colorFor(ordinal),
		Masks:    make(map[int]*mask.Mask),
	}
}
