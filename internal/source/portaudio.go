//go:build portaudio

package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio captures from an input device. Blocks are delivered on the
// PortAudio callback thread.
type PortAudio struct {
	sampleRate float64
	channels   int
	blockSize  int
	device     string
	logger     *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	cancel context.CancelFunc
}

// NewPortAudio creates a capture source. An empty device selects the
// default input.
func NewPortAudio(sampleRate float64, channels, blockSize int, device string, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudio{
		sampleRate: sampleRate,
		channels:   channels,
		blockSize:  blockSize,
		device:     device,
		logger:     logger.With(slog.String("source", "portaudio")),
	}
}

// Start opens and starts the input stream
func (p *PortAudio) Start(ctx context.Context, handler BlockHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return errAlreadyStarted
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	channels := p.channels
	callback := func(in []float32) {
		handler(in, channels)
	}

	stream, err := p.open(callback)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.stream = stream
	p.cancel = cancel
	p.logger.Info("Audio capture started",
		slog.String("device", p.deviceLabel()),
		slog.Float64("sample_rate", p.sampleRate),
		slog.Int("channels", p.channels),
		slog.Int("block_size", p.blockSize))

	go func() {
		<-watchCtx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.stream == stream {
			p.closeLocked()
		}
	}()

	return nil
}

func (p *PortAudio) open(callback func(in []float32)) (*portaudio.Stream, error) {
	if p.device == "" {
		stream, err := portaudio.OpenDefaultStream(p.channels, 0, p.sampleRate, p.blockSize, callback)
		if err != nil {
			return nil, fmt.Errorf("failed to open input stream: %w", err)
		}
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}

	for _, dev := range devices {
		if dev.Name != p.device || dev.MaxInputChannels < p.channels {
			continue
		}

		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: p.channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      p.sampleRate,
			FramesPerBuffer: p.blockSize,
		}

		stream, err := portaudio.OpenStream(params, callback)
		if err != nil {
			return nil, fmt.Errorf("failed to open input stream on %q: %w", p.device, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("input device %q not found or has fewer than %d channels", p.device, p.channels)
}

// Stop stops and closes the stream. It is safe to call more than once.
func (p *PortAudio) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	return p.closeLocked()
}

func (p *PortAudio) closeLocked() error {
	p.cancel()

	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	p.stream = nil
	termErr := portaudio.Terminate()

	p.logger.Info("Audio capture stopped")

	if stopErr != nil {
		return fmt.Errorf("failed to stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close input stream: %w", closeErr)
	}
	return termErr
}

func (p *PortAudio) deviceLabel() string {
	if p.device == "" {
		return "default"
	}
	return p.device
}

func (p *PortAudio) SampleRate() float64 { return p.sampleRate }
func (p *PortAudio) Channels() int       { return p.channels }
func (p *PortAudio) BlockSize() int      { return p.blockSize }
func (p *PortAudio) Name() string        { return "portaudio:" + p.deviceLabel() }
