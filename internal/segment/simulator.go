// SPDX-License-Identifier: MIT

package segment

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/mask"
	"github.com/ManuGH/maskd/internal/video"
)

// Simulator is a deterministic, accelerator-free Segmenter. Positive point
// prompts paint a disc, negative points carve one out, boxes fill their
// rectangle, and propagation warps the nearest seeded mask horizontally by
// a fixed offset per frame. Identical inputs always yield identical masks,
// which the test suite and the no-GPU mode rely on.
type Simulator struct{}

// NewSimulator returns a ready simulator.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// warpPixelsPerFrame is the horizontal drift applied per frame of distance
// from the nearest seed during propagation.
const warpPixelsPerFrame = 2

type seedKey struct {
	objectID int
	frame    int
}

type simState struct {
	framesDir   string
	width       int
	height      int
	totalFrames int

	objects []int // insertion order, for stable streaming
	seeds   map[seedKey]*mask.Mask
}

// PrepareVideoState binds state to a materialized frame directory, reading
// the working dimensions from its manifest.
func (s *Simulator) PrepareVideoState(ctx context.Context, framesDir string) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := video.LoadManifest(framesDir)
	if err != nil {
		return nil, fmt.Errorf("prepare state for %s: %w", framesDir, err)
	}
	if m.Width <= 0 || m.Height <= 0 || m.FrameCount <= 0 {
		return nil, fmt.Errorf("prepare state for %s: degenerate manifest %dx%d/%d frames",
			framesDir, m.Width, m.Height, m.FrameCount)
	}
	logger := log.WithComponent("segment")
	logger.Debug().
		Str(log.FieldEvent, "simulator.prepared").
		Str(log.FieldFramesDir, framesDir).
		Int(log.FieldTotalFrames, m.FrameCount).
		Str(log.FieldResolution, fmt.Sprintf("%dx%d", m.Width, m.Height)).
		Msg("simulator state prepared")
	return &simState{
		framesDir:   framesDir,
		width:       m.Width,
		height:      m.Height,
		totalFrames: m.FrameCount,
		seeds:       make(map[seedKey]*mask.Mask),
	}, nil
}

// AddPrompts applies points or a box at a frame and returns the resulting
// mask. A prompt on a frame that already carries a seed refines that seed
// in place with a smaller brush.
func (s *Simulator) AddPrompts(ctx context.Context, st State, p Prompt) (*mask.Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sim, err := asSimState(st)
	if err != nil {
		return nil, err
	}
	if p.FrameIdx < 0 || p.FrameIdx >= sim.totalFrames {
		return nil, core.InvalidArgumentf("frame_idx %d out of range [0, %d)", p.FrameIdx, sim.totalFrames)
	}
	if p.Box == nil && len(p.Points) == 0 {
		return nil, core.InvalidArgumentf("prompt carries neither points nor box")
	}
	if len(p.Points) != len(p.Labels) {
		return nil, core.InvalidArgumentf("points/labels length mismatch: %d vs %d", len(p.Points), len(p.Labels))
	}

	key := seedKey{objectID: p.ObjectID, frame: p.FrameIdx}
	var m *mask.Mask
	switch {
	case p.Box != nil:
		m = mask.New(sim.width, sim.height)
		fillRect(m, *p.Box)
	default:
		short := sim.width
		if sim.height < short {
			short = sim.height
		}
		radius := short / 10
		if existing, ok := sim.seeds[key]; ok {
			m = existing.Clone()
			radius = short / 15
		} else {
			m = mask.New(sim.width, sim.height)
		}
		if radius < 1 {
			radius = 1
		}
		for i, pt := range p.Points {
			val := mask.Off
			if p.Labels[i] == 1 {
				val = mask.On
			}
			paintDisc(m, pt, radius, val)
		}
	}

	sim.seeds[key] = m
	sim.recordObject(p.ObjectID)
	return m.Clone(), nil
}

// InjectMask installs a user-supplied mask as the authoritative seed for
// (object, frame).
func (s *Simulator) InjectMask(ctx context.Context, st State, frameIdx int, objectID int, m *mask.Mask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sim, err := asSimState(st)
	if err != nil {
		return err
	}
	if frameIdx < 0 || frameIdx >= sim.totalFrames {
		return core.InvalidArgumentf("frame_idx %d out of range [0, %d)", frameIdx, sim.totalFrames)
	}
	if err := m.Validate(); err != nil {
		return core.InvalidArgumentf("injected mask: %v", err)
	}
	if m.Width != sim.width || m.Height != sim.height {
		return core.InvalidArgumentf("injected mask is %dx%d, state is %dx%d",
			m.Width, m.Height, sim.width, sim.height)
	}

	sim.seeds[seedKey{objectID: objectID, frame: frameIdx}] = m.Clone()
	sim.recordObject(objectID)
	return nil
}

// StreamPropagation emits one FrameResult per covered frame in ascending
// order. Seeded frames are returned verbatim; elsewhere the nearest seed
// is warped horizontally by warpPixelsPerFrame per frame of distance.
func (s *Simulator) StreamPropagation(ctx context.Context, st State, opts PropagationOptions, emit func(FrameResult) error) error {
	sim, err := asSimState(st)
	if err != nil {
		return err
	}
	if len(sim.objects) == 0 {
		return core.ErrNothingToPropagate
	}
	if !opts.Direction.Valid() {
		return core.InvalidArgumentf("unknown direction %q", opts.Direction)
	}

	lo, hi, err := sim.coveredRange(opts)
	if err != nil {
		return err
	}
	for frame := lo; frame <= hi; frame++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := FrameResult{FrameIdx: frame, Objects: make([]ObjectMask, 0, len(sim.objects))}
		for _, objID := range sim.objects {
			m := sim.maskAt(objID, frame)
			if m == nil {
				continue
			}
			result.Objects = append(result.Objects, ObjectMask{ObjectID: objID, Mask: m})
		}
		if err := emit(result); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops all per-video state.
func (s *Simulator) Reset(ctx context.Context, st State) error {
	sim, err := asSimState(st)
	if err != nil {
		return err
	}
	sim.objects = nil
	sim.seeds = make(map[seedKey]*mask.Mask)
	return nil
}

func (st *simState) recordObject(objectID int) {
	for _, id := range st.objects {
		if id == objectID {
			return
		}
	}
	st.objects = append(st.objects, objectID)
}

// coveredRange applies the direction semantics: forward runs from the
// lowest seeded frame to EndFrame, backward from StartFrame to the highest
// seeded frame, both covers [StartFrame, EndFrame].
func (st *simState) coveredRange(opts PropagationOptions) (int, int, error) {
	start, end := opts.StartFrame, opts.EndFrame
	if start < 0 || end >= st.totalFrames || start > end {
		return 0, 0, core.InvalidArgumentf("frame range [%d, %d] out of [0, %d)", start, end, st.totalFrames)
	}

	lowest, highest := st.totalFrames, -1
	for key := range st.seeds {
		if key.frame < lowest {
			lowest = key.frame
		}
		if key.frame > highest {
			highest = key.frame
		}
	}

	switch opts.Direction {
	case DirectionForward:
		if lowest > start {
			start = lowest
		}
	case DirectionBackward:
		if highest < end {
			end = highest
		}
	}
	if start > end {
		return 0, 0, core.ErrNothingToPropagate
	}
	return start, end, nil
}

// maskAt returns the propagated mask for an object at a frame, or nil when
// the object has no seed at all.
func (st *simState) maskAt(objectID int, frame int) *mask.Mask {
	if seed, ok := st.seeds[seedKey{objectID: objectID, frame: frame}]; ok {
		return seed.Clone()
	}

	frames := st.seedFrames(objectID)
	if len(frames) == 0 {
		return nil
	}
	nearest := frames[0]
	for _, f := range frames[1:] {
		if abs(f-frame) < abs(nearest-frame) {
			nearest = f
		}
	}
	seed := st.seeds[seedKey{objectID: objectID, frame: nearest}]
	return seed.Shifted(warpPixelsPerFrame*(frame-nearest), 0)
}

func (st *simState) seedFrames(objectID int) []int {
	var frames []int
	for key := range st.seeds {
		if key.objectID == objectID {
			frames = append(frames, key.frame)
		}
	}
	sort.Ints(frames)
	return frames
}

func asSimState(st State) (*simState, error) {
	sim, ok := st.(*simState)
	if !ok || sim == nil {
		return nil, core.InvalidArgumentf("state %T was not prepared by this segmenter", st)
	}
	return sim, nil
}

func paintDisc(m *mask.Mask, center Point, radius int, val uint8) {
	cx, cy := int(math.Round(center.X)), int(math.Round(center.Y))
	r2 := radius * radius
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r2 {
				m.Set(x, y, val)
			}
		}
	}
}

func fillRect(m *mask.Mask, b Box) {
	x0, y0 := int(math.Round(b.X0)), int(math.Round(b.Y0))
	x1, y1 := int(math.Round(b.X1)), int(math.Round(b.Y1))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Set(x, y, mask.On)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
