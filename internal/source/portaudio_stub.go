//go:build !portaudio

package source

import (
	"context"
	"fmt"
	"log/slog"
)

// PortAudio is unavailable without the portaudio build tag
type PortAudio struct {
	sampleRate float64
	channels   int
	blockSize  int
}

// NewPortAudio returns a source whose Start always fails
func NewPortAudio(sampleRate float64, channels, blockSize int, device string, logger *slog.Logger) Source {
	return &PortAudio{sampleRate: sampleRate, channels: channels, blockSize: blockSize}
}

func (p *PortAudio) Start(ctx context.Context, handler BlockHandler) error {
	return fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", ErrNotSupported)
}

func (p *PortAudio) Stop() error          { return nil }
func (p *PortAudio) SampleRate() float64 { return p.sampleRate }
func (p *PortAudio) Channels() int       { return p.channels }
func (p *PortAudio) BlockSize() int      { return p.blockSize }
func (p *PortAudio) Name() string        { return "portaudio" }
