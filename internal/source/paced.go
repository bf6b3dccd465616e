package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eenness/Mix2Go/internal/worker"
)

// errAlreadyStarted is returned by Start on a running paced source
var errAlreadyStarted = errors.New("source already started")

// pacer calls next once per block period on a worker goroutine and hands
// the block to the handler. next returns false when the source is exhausted.
type pacer struct {
	period time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	worker *worker.Worker
	ticker *time.Ticker
}

func (p *pacer) start(ctx context.Context, name string, next func() ([]float32, bool), channels int, handler BlockHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.worker != nil && p.worker.Running() {
		return errAlreadyStarted
	}

	ticker := time.NewTicker(p.period)

	var w *worker.Worker
	w = worker.New(name, func(wctx context.Context) {
		select {
		case <-wctx.Done():
			return
		case <-ctx.Done():
			w.Stop()
			return
		case <-ticker.C:
		}

		block, ok := next()
		if len(block) > 0 {
			handler(block, channels)
		}
		if !ok {
			p.logger.Info("Audio source exhausted", slog.String("source", name))
			w.Stop()
		}
	}, nil, p.logger)

	if err := w.Start(); err != nil {
		ticker.Stop()
		return err
	}

	p.worker = w
	p.ticker = ticker
	return nil
}

func (p *pacer) halt() {
	p.mu.Lock()
	w, ticker := p.worker, p.ticker
	p.mu.Unlock()

	if w == nil {
		return
	}
	w.Stop()
	w.Join()
	ticker.Stop()
}

func (p *pacer) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.worker != nil && p.worker.Running()
}

// blockPeriod returns the real-time duration of blockSize frames
func blockPeriod(sampleRate float64, blockSize int) time.Duration {
	if sampleRate <= 0 || blockSize <= 0 {
		return time.Millisecond
	}
	return time.Duration(float64(blockSize) / sampleRate * float64(time.Second))
}
