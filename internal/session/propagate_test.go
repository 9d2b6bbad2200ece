// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/segment"
	"github.com/ManuGH/maskd/internal/video"
)

func propagateAll(sessionID string) PropagateRequest {
	return PropagateRequest{SessionID: sessionID, StartFrame: 0, EndFrame: -1}
}

func TestPropagateFillsAllFrames(t *testing.T) {
	m := newTestManager(t, testOptions(), video.NewSyntheticSource(64, 48, 20, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 0, 1))
	require.NoError(t, err)

	summary, err := m.Propagate(ctx, propagateAll(sess.ID), nil)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, summary.SessionID)
	assert.Equal(t, 20, summary.TotalFrames)
	assert.Equal(t, 20, summary.FramesCovered)
	assert.Equal(t, 0, summary.FirstFrame)
	assert.Equal(t, 19, summary.LastFrame)
	assert.Equal(t, 1, summary.ObjectCount)

	for f := 0; f < 20; f++ {
		masks, err := m.GetFrameMasks(sess.ID, f)
		require.NoError(t, err)
		require.Contains(t, masks, 1, "frame %d", f)
		assert.Equal(t, 64, masks[1].Width)
		assert.Equal(t, 48, masks[1].Height)
		require.NoError(t, masks[1].Validate())
	}
}

func TestPropagateHonorsOverride(t *testing.T) {
	m := newTestManager(t, testOptions(), video.NewSyntheticSource(64, 48, 20, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 0, 1))
	require.NoError(t, err)
	_, err = m.Propagate(ctx, propagateAll(sess.ID), nil)
	require.NoError(t, err)

	// blank out frame 10 and re-propagate: the override is a seed, not
	// something propagation may overwrite
	_, err = m.OverrideMask(ctx, sess.ID, 10, 1, grayUpload(64, 48, false))
	require.NoError(t, err)
	_, err = m.Propagate(ctx, propagateAll(sess.ID), nil)
	require.NoError(t, err)

	masks, err := m.GetFrameMasks(sess.ID, 10)
	require.NoError(t, err)
	require.Contains(t, masks, 1)
	assert.True(t, masks[1].Empty(), "overridden frame must stay all-zeros")
}

func TestPropagateIsIdempotent(t *testing.T) {
	m := newTestManager(t, testOptions(), video.NewSyntheticSource(48, 48, 12, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 5, 1))
	require.NoError(t, err)

	snapshot := func() map[int][]uint8 {
		out := make(map[int][]uint8)
		for f := 0; f < 12; f++ {
			masks, err := m.GetFrameMasks(sess.ID, f)
			require.NoError(t, err)
			if msk, ok := masks[1]; ok {
				out[f] = msk.Pix
			}
		}
		return out
	}

	_, err = m.Propagate(ctx, propagateAll(sess.ID), nil)
	require.NoError(t, err)
	first := snapshot()

	_, err = m.Propagate(ctx, propagateAll(sess.ID), nil)
	require.NoError(t, err)
	if diff := cmp.Diff(first, snapshot()); diff != "" {
		t.Fatalf("re-run changed masks (-want +got):\n%s", diff)
	}
}

func TestPropagateNothingToPropagate(t *testing.T) {
	m := newTestManager(t, testOptions(), video.NewSyntheticSource(32, 32, 6, 30))
	sess := openTestSession(t, m)

	_, err := m.Propagate(context.Background(), propagateAll(sess.ID), nil)
	require.ErrorIs(t, err, core.ErrNothingToPropagate)
}

func TestPropagateValidation(t *testing.T) {
	m := newTestManager(t, testOptions(), video.NewSyntheticSource(32, 32, 6, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 0, 1))
	require.NoError(t, err)

	_, err = m.Propagate(ctx, PropagateRequest{SessionID: sess.ID, StartFrame: -1, EndFrame: -1}, nil)
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = m.Propagate(ctx, PropagateRequest{SessionID: sess.ID, StartFrame: 0, EndFrame: 6}, nil)
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = m.Propagate(ctx, PropagateRequest{SessionID: sess.ID, StartFrame: 0, EndFrame: -1, Direction: "sideways"}, nil)
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = m.Propagate(ctx, propagateAll("ghost"), nil)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestPropagateDirectionSubrange(t *testing.T) {
	m := newTestManager(t, testOptions(), video.NewSyntheticSource(32, 32, 10, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 4, 1))
	require.NoError(t, err)

	summary, err := m.Propagate(ctx, PropagateRequest{
		SessionID: sess.ID, StartFrame: 0, EndFrame: -1,
		Direction: segment.DirectionForward,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.FirstFrame, "forward starts at the lowest seeded frame")
	assert.Equal(t, 9, summary.LastFrame)

	masks, err := m.GetFrameMasks(sess.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, masks, "frames before the seed stay untouched on forward")
}

func TestPropagateReportsProgress(t *testing.T) {
	opts := testOptions()
	opts.ProgressEvery = 5
	m := newTestManager(t, opts, video.NewSyntheticSource(32, 32, 20, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 0, 1))
	require.NoError(t, err)

	var reports []int
	_, err = m.Propagate(ctx, propagateAll(sess.ID), func(pct int) {
		reports = append(reports, pct)
	})
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.Equal(t, 100, reports[len(reports)-1])
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1], "progress must be monotone")
	}
}

func TestPropagateTouchKeepsSessionAlive(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 40 * time.Millisecond
	opts.TouchEvery = 2
	m := newTestManager(t, opts, video.NewSyntheticSource(32, 32, 30, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 0, 1))
	require.NoError(t, err)

	// slow segmenter: each frame takes long enough that the run as a
	// whole far exceeds the idle timeout
	slow := &slowSegmenter{Simulator: segment.NewSimulator(), delay: 5 * time.Millisecond}
	m.seg = slow

	done := make(chan error, 1)
	go func() {
		_, err := m.Propagate(ctx, propagateAll(sess.ID), nil)
		done <- err
	}()

	// sweep repeatedly while the propagation runs; the touch cadence
	// must keep the session off the expiry list
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.NotNil(t, m.Get(sess.ID), "session must survive the whole run")
			return
		case <-deadline:
			t.Fatal("propagation did not finish")
		case <-time.After(10 * time.Millisecond):
			assert.Equal(t, 0, m.SweepExpired(), "no eviction while propagation is live")
		}
	}
}

func TestPropagateStopsWhenSessionCloses(t *testing.T) {
	opts := testOptions()
	m := newTestManager(t, opts, video.NewSyntheticSource(32, 32, 50, 30))
	sess := openTestSession(t, m)
	ctx := context.Background()

	_, err := m.AddObject(ctx, pointsRequest(sess.ID, 0, 1))
	require.NoError(t, err)

	slow := &slowSegmenter{Simulator: segment.NewSimulator(), delay: 3 * time.Millisecond}
	m.seg = slow

	done := make(chan error, 1)
	go func() {
		_, err := m.Propagate(ctx, propagateAll(sess.ID), nil)
		done <- err
	}()

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, m.Close(ctx, sess.ID))

	select {
	case err := <-done:
		require.ErrorIs(t, err, core.ErrSessionGone)
	case <-time.After(2 * time.Second):
		t.Fatal("propagation did not observe the close")
	}
}

func TestPropagateCancelledContext(t *testing.T) {
	m := newTestManager(t, testOptions(), video.NewSyntheticSource(32, 32, 50, 30))
	sess := openTestSession(t, m)

	_, err := m.AddObject(context.Background(), pointsRequest(sess.ID, 0, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Propagate(ctx, propagateAll(sess.ID), nil)
	require.ErrorIs(t, err, context.Canceled)
}

// slowSegmenter delays each streamed frame to make propagation runs span
// multiple sweep intervals in tests.
type slowSegmenter struct {
	*segment.Simulator
	delay time.Duration
}

func (s *slowSegmenter) StreamPropagation(ctx context.Context, st segment.State, opts segment.PropagationOptions, emit func(segment.FrameResult) error) error {
	return s.Simulator.StreamPropagation(ctx, st, opts, func(fr segment.FrameResult) error {
		time.Sleep(s.delay)
		return emit(fr)
	})
}
