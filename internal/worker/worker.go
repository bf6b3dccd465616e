package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned by Start while a previous run has not finished
var ErrAlreadyRunning = errors.New("worker already running")

// Body is one iteration of the worker loop. It should return promptly once
// ctx is cancelled.
type Body func(ctx context.Context)

// Worker owns a goroutine that repeatedly invokes a Body
type Worker struct {
	name     string
	body     Body
	interval func() time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running       atomic.Bool
	stopRequested atomic.Bool
	cycles        atomic.Uint64
}

// New creates a stopped worker. interval is consulted after every cycle; a
// nil func or a non-positive duration runs the next cycle immediately.
func New(name string, body Body, interval func() time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		name:     name,
		body:     body,
		interval: interval,
		logger:   logger.With(slog.String("worker", name)),
	}
}

// Start launches the loop goroutine
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w.cancel = cancel
	w.done = done
	w.stopRequested.Store(false)
	w.running.Store(true)

	go w.run(ctx, done)

	w.logger.Debug("Worker started")
	return nil
}

// Stop asks the loop to exit after the current cycle. It does not wait.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopRequested.Store(true)
	if w.cancel != nil {
		w.cancel()
	}
}

// Wait blocks until the loop has exited or timeout elapses. It returns true
// if the loop is not running.
func (w *Worker) Wait(timeout time.Duration) bool {
	done := w.doneChan()
	if done == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Join blocks until the loop has exited
func (w *Worker) Join() {
	if done := w.doneChan(); done != nil {
		<-done
	}
}

// Running reports whether the loop goroutine is alive
func (w *Worker) Running() bool {
	return w.running.Load()
}

// StopRequested reports whether Stop has been called since the last Start
func (w *Worker) StopRequested() bool {
	return w.stopRequested.Load()
}

// Cycles returns the number of completed loop iterations since creation
func (w *Worker) Cycles() uint64 {
	return w.cycles.Load()
}

// Name returns the worker name
func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) doneChan() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer func() {
		w.running.Store(false)
		close(done)
		w.logger.Debug("Worker stopped", slog.Uint64("cycles", w.cycles.Load()))
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for ctx.Err() == nil {
		w.body(ctx)
		w.cycles.Add(1)

		var d time.Duration
		if w.interval != nil {
			d = w.interval()
		}
		if d <= 0 {
			continue
		}

		timer.Reset(d)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
