// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/metrics"
)

// Task is a job body. It reports progress through update (percent,
// clamped to [0, 100]) and must return promptly once ctx is cancelled;
// cancellation is cooperative and takes effect at the task's own
// checkpoints.
type Task func(ctx context.Context, update func(pct int)) (any, error)

type jobEntry struct {
	job    Job
	task   Task
	cancel context.CancelFunc
	ctx    context.Context
}

// Manager is a fixed-size worker pool over an unbounded pending queue.
type Manager struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*jobEntry
	queue   []string // pending job ids, FIFO
	closing bool

	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewManager starts workers goroutines that run submitted tasks until
// Shutdown.
func NewManager(workers int) *Manager {
	if workers < 1 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		entries: make(map[string]*jobEntry),
		baseCtx: ctx,
		stop:    stop,
	}
	m.cond = sync.NewCond(&m.mu)

	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	return m
}

// Submit enqueues a task and returns its job id immediately. The job is
// pending until a worker picks it up.
func (m *Manager) Submit(jobType string, task Task) string {
	id := uuid.NewString()
	jobCtx, cancel := context.WithCancel(m.baseCtx)

	m.mu.Lock()
	entry := &jobEntry{
		job: Job{
			ID:        id,
			Type:      jobType,
			Status:    StatusPending,
			CreatedAt: time.Now().UTC(),
		},
		task:   task,
		ctx:    jobCtx,
		cancel: cancel,
	}
	m.entries[id] = entry
	if m.closing {
		m.finishLocked(entry, nil, core.ErrCancelled)
		m.mu.Unlock()
		return id
	}
	m.queue = append(m.queue, id)
	metrics.JobsPending.Set(float64(len(m.queue)))
	m.cond.Signal()
	m.mu.Unlock()

	logger := log.WithComponent("jobs")
	logger.Info().
		Str(log.FieldEvent, "job.submitted").
		Str(log.FieldJobID, id).
		Str(log.FieldJobType, jobType).
		Msg("job submitted")
	return id
}

// Get returns a snapshot of a job record.
func (m *Manager) Get(jobID string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[jobID]
	if !ok {
		return Job{}, false
	}
	return entry.job, true
}

// UpdateProgress sets a running job's progress, clamped to [0, 100].
// Terminal jobs are immutable.
func (m *Manager) UpdateProgress(jobID string, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[jobID]
	if !ok || entry.job.Status.Terminal() {
		return
	}
	entry.job.Progress = pct
}

// Cancel requests cooperative cancellation. A pending job fails right
// away; a running one fails when its task observes the cancelled context.
// Cancelling a terminal or unknown job is a no-op; the current record is
// returned either way.
func (m *Manager) Cancel(jobID string) (Job, bool) {
	m.mu.Lock()
	entry, ok := m.entries[jobID]
	if !ok {
		m.mu.Unlock()
		return Job{}, false
	}
	if entry.job.Status.Terminal() {
		job := entry.job
		m.mu.Unlock()
		return job, true
	}
	entry.cancel()
	if entry.job.Status == StatusPending {
		m.finishLocked(entry, nil, core.ErrCancelled)
	}
	job := entry.job
	m.mu.Unlock()

	logger := log.WithComponent("jobs")
	logger.Info().
		Str(log.FieldEvent, "job.cancel_requested").
		Str(log.FieldJobID, jobID).
		Msg("job cancellation requested")
	return job, true
}

// Sweep drops terminal jobs whose completion is older than maxAge and
// returns how many were removed.
func (m *Manager) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, entry := range m.entries {
		if entry.job.Status.Terminal() && entry.job.CompletedAt != nil && entry.job.CompletedAt.Before(cutoff) {
			delete(m.entries, id)
			removed++
		}
	}
	if removed > 0 {
		logger := log.WithComponent("jobs")
		logger.Debug().
			Str(log.FieldEvent, "job.swept").
			Int("removed", removed).
			Msg("terminal jobs reaped")
	}
	return removed
}

// Shutdown stops accepting new work and waits for in-flight tasks to
// finish, or until ctx expires. Pending jobs that never started fail
// with a cancellation error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, id := range m.queue {
		if entry := m.entries[id]; entry != nil && entry.job.Status == StatusPending {
			entry.cancel()
			m.finishLocked(entry, nil, core.ErrCancelled)
		}
	}
	m.queue = nil
	metrics.JobsPending.Set(0)
	m.cond.Broadcast()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.stop()
		return nil
	case <-ctx.Done():
		// give up waiting; cancel everything still running
		m.stop()
		return ctx.Err()
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closing {
			m.cond.Wait()
		}
		if m.closing && len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		id := m.queue[0]
		m.queue = m.queue[1:]
		metrics.JobsPending.Set(float64(len(m.queue)))

		entry := m.entries[id]
		if entry == nil || entry.job.Status != StatusPending {
			// cancelled while queued
			m.mu.Unlock()
			continue
		}
		now := time.Now().UTC()
		entry.job.Status = StatusRunning
		entry.job.StartedAt = &now
		m.mu.Unlock()

		m.run(entry)
	}
}

func (m *Manager) run(entry *jobEntry) {
	metrics.JobsInflight.Inc()
	defer metrics.JobsInflight.Dec()

	id := entry.job.ID
	logger := log.WithComponent("jobs")
	logger.Info().
		Str(log.FieldEvent, "job.started").
		Str(log.FieldJobID, id).
		Str(log.FieldJobType, entry.job.Type).
		Msg("job started")

	result, err := entry.task(entry.ctx, func(pct int) {
		m.UpdateProgress(id, pct)
	})
	if err == nil && entry.ctx.Err() != nil {
		// task returned cleanly but the job was cancelled under it
		err = core.ErrCancelled
	}

	m.mu.Lock()
	m.finishLocked(entry, result, err)
	job := entry.job
	m.mu.Unlock()

	evt := logger.Info()
	if job.Status == StatusFailed {
		// bad input and cancellations are routine; everything else is ours
		if core.IsTerminalUserError(err) || errors.Is(err, core.ErrCancelled) || errors.Is(err, context.Canceled) {
			evt = logger.Warn().Str("error", job.Error)
		} else {
			evt = logger.Error().Str("error", job.Error)
		}
	}
	evt.
		Str(log.FieldEvent, "job.finished").
		Str(log.FieldJobID, id).
		Str(log.FieldJobType, job.Type).
		Str("status", string(job.Status)).
		Msg("job finished")
}

// finishLocked transitions a job to its terminal state. Callers hold mu.
func (m *Manager) finishLocked(entry *jobEntry, result any, err error) {
	if entry.job.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	if entry.job.StartedAt == nil {
		entry.job.StartedAt = &now
	}
	entry.job.CompletedAt = &now
	entry.cancel()

	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		entry.job.Error = errorMessage(err)
	} else {
		entry.job.Progress = 100
		entry.job.Result = result
	}
	entry.job.Status = status

	var duration time.Duration
	if entry.job.StartedAt != nil {
		duration = now.Sub(*entry.job.StartedAt)
	}
	metrics.ObserveJob(entry.job.Type, string(status), duration.Seconds())
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrCancelled),
		errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
