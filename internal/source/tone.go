package source

import (
	"context"
	"log/slog"
	"math"
)

// Tone is a sine generator paced at real time. The same value is written to
// every channel.
type Tone struct {
	sampleRate float64
	channels   int
	blockSize  int
	frequency  float64
	amplitude  float64

	phase float64
	block []float32
	pacer pacer
}

// NewTone creates a tone source
func NewTone(sampleRate float64, channels, blockSize int, frequency, amplitude float64, logger *slog.Logger) *Tone {
	if logger == nil {
		logger = slog.Default()
	}

	return &Tone{
		sampleRate: sampleRate,
		channels:   channels,
		blockSize:  blockSize,
		frequency:  frequency,
		amplitude:  amplitude,
		block:      make([]float32, blockSize*channels),
		pacer: pacer{
			period: blockPeriod(sampleRate, blockSize),
			logger: logger.With(slog.String("source", "tone")),
		},
	}
}

// Generate fills dst with the next frames of the tone. The phase carries
// over between calls so consecutive blocks are continuous.
func (t *Tone) Generate(dst []float32) {
	if t.channels <= 0 || t.sampleRate <= 0 {
		return
	}

	step := 2 * math.Pi * t.frequency / t.sampleRate
	frames := len(dst) / t.channels

	for f := 0; f < frames; f++ {
		v := float32(t.amplitude * math.Sin(t.phase))
		for ch := 0; ch < t.channels; ch++ {
			dst[f*t.channels+ch] = v
		}

		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
}

// Start begins delivering blocks
func (t *Tone) Start(ctx context.Context, handler BlockHandler) error {
	return t.pacer.start(ctx, "tone", func() ([]float32, bool) {
		t.Generate(t.block)
		return t.block, true
	}, t.channels, handler)
}

// Stop halts delivery and waits for the generator goroutine to exit
func (t *Tone) Stop() error {
	t.pacer.halt()
	return nil
}

func (t *Tone) SampleRate() float64 { return t.sampleRate }
func (t *Tone) Channels() int       { return t.channels }
func (t *Tone) BlockSize() int      { return t.blockSize }
func (t *Tone) Name() string        { return "tone" }
