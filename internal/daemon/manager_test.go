// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/maskd/internal/api"
	"github.com/ManuGH/maskd/internal/jobs"
	"github.com/ManuGH/maskd/internal/segment"
	"github.com/ManuGH/maskd/internal/session"
	"github.com/ManuGH/maskd/internal/video"
)

func newTestDaemon(t *testing.T, opts Options) (*Manager, *session.Manager) {
	t.Helper()
	store := video.NewFrameStore(t.TempDir(), 95)
	src := video.NewSyntheticSource(16, 16, 4, 25)
	sessions := session.NewManager(session.Options{
		MaxConcurrent: 2,
		MaxFrames:     10,
		MaxDimension:  64,
		Timeout:       time.Minute,
		TouchEvery:    2,
		ProgressEvery: 2,
	}, src, store, segment.NewSimulator())
	jobManager := jobs.NewManager(1)

	srv := api.New(api.Config{Version: "test", SegmenterMode: "sim", JobRetention: time.Hour}, sessions, jobManager)
	return NewManager(opts, srv.Router(), sessions, jobManager), sessions
}

func TestStartStopsOnContextCancel(t *testing.T) {
	m, _ := newTestDaemon(t, Options{
		ListenAddr:      "127.0.0.1:0",
		SweepInterval:   10 * time.Millisecond,
		JobRetention:    time.Hour,
		ShutdownTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop on context cancel")
	}
}

func TestShutdownClosesSessionsAndRunsHooksLIFO(t *testing.T) {
	m, sessions := newTestDaemon(t, Options{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: 5 * time.Second,
	})

	var order []string
	m.RegisterShutdownHook("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.RegisterShutdownHook("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	_, err := sessions.Open(context.Background(), "clip.mp4")
	require.NoError(t, err)
	require.Equal(t, 1, sessions.ActiveCount())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 0, sessions.ActiveCount(), "shutdown closes all sessions")
	assert.Equal(t, []string{"second", "first"}, order, "hooks run in reverse registration order")
}

func TestStartTwiceFails(t *testing.T) {
	m, _ := newTestDaemon(t, Options{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)

	require.Error(t, m.Start(ctx))

	cancel()
	require.NoError(t, <-done)
}
