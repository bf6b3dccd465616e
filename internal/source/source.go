package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eenness/Mix2Go/internal/config"
)

// ErrNotSupported is returned when a source kind is unavailable in this build
var ErrNotSupported = errors.New("audio source not supported")

// BlockHandler receives one block of interleaved samples. The slice is
// reused after the handler returns and must not be retained.
type BlockHandler func(samples []float32, channels int)

// Source produces audio blocks. Start returns once delivery has begun;
// blocks are delivered on a goroutine owned by the source until Stop is
// called or ctx is cancelled.
type Source interface {
	Start(ctx context.Context, handler BlockHandler) error
	Stop() error
	SampleRate() float64
	Channels() int
	BlockSize() int
	Name() string
}

// New creates the source selected by cfg.Source
func New(cfg config.AudioConfig, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Source {
	case config.SourcePortAudio:
		return NewPortAudio(float64(cfg.SampleRate), cfg.Channels, cfg.BlockSize, cfg.Device, logger), nil
	case config.SourceWAV:
		return NewWAVFile(cfg.WAVPath, cfg.BlockSize, cfg.Loop, logger)
	case config.SourceTone:
		return NewTone(float64(cfg.SampleRate), cfg.Channels, cfg.BlockSize, cfg.ToneFrequency, cfg.ToneAmplitude, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotSupported, cfg.Source)
	}
}
