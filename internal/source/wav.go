package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-audio/wav"
)

// WAVFile plays a decoded WAV file block by block at real time
type WAVFile struct {
	path       string
	sampleRate float64
	channels   int
	blockSize  int
	loop       bool

	samples  []float32 // interleaved, normalized to [-1, 1)
	position int       // next frame to deliver
	block    []float32
	pacer    pacer
}

// NewWAVFile decodes path into memory
func NewWAVFile(path string, blockSize int, loop bool, logger *slog.Logger) (*WAVFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	samples, sampleRate, channels, err := decodeWAV(path)
	if err != nil {
		return nil, err
	}

	logger = logger.With(slog.String("source", "wav"))
	logger.Info("WAV file loaded",
		slog.String("path", path),
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels),
		slog.Int("frames", len(samples)/channels))

	return &WAVFile{
		path:       path,
		sampleRate: float64(sampleRate),
		channels:   channels,
		blockSize:  blockSize,
		loop:       loop,
		samples:    samples,
		block:      make([]float32, blockSize*channels),
		pacer: pacer{
			period: blockPeriod(float64(sampleRate), blockSize),
			logger: logger,
		},
	}, nil
}

func decodeWAV(path string) ([]float32, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, 0, errors.New("invalid WAV file format")
	}

	divisor, err := audioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, 0, err
	}

	channels := int(decoder.NumChans)
	if channels <= 0 {
		return nil, 0, 0, fmt.Errorf("unsupported number of channels: %d", channels)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode WAV data: %w", err)
	}

	// Drop a trailing partial frame
	frames := len(buf.Data) / channels
	samples := make([]float32, frames*channels)
	for i := range samples {
		samples[i] = float32(buf.Data[i]) / divisor
	}

	return samples, int(decoder.SampleRate), channels, nil
}

func audioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16, 24, 32:
		return float32(int64(1) << (bitDepth - 1)), nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// next copies the following block into w.block. At the end of the data it
// either wraps or returns the final partial block zero padded with false.
func (w *WAVFile) next() ([]float32, bool) {
	totalFrames := len(w.samples) / w.channels
	if totalFrames == 0 {
		return nil, false
	}

	filled := 0
	for filled < w.blockSize {
		if w.position >= totalFrames {
			if !w.loop {
				clear(w.block[filled*w.channels:])
				return w.block, filled == w.blockSize
			}
			w.position = 0
		}

		n := min(w.blockSize-filled, totalFrames-w.position)
		copy(w.block[filled*w.channels:], w.samples[w.position*w.channels:(w.position+n)*w.channels])
		filled += n
		w.position += n
	}

	return w.block, w.loop || w.position < totalFrames
}

// Start begins playback from the beginning of the file
func (w *WAVFile) Start(ctx context.Context, handler BlockHandler) error {
	if w.pacer.running() {
		return errAlreadyStarted
	}
	w.position = 0
	return w.pacer.start(ctx, "wav", w.next, w.channels, handler)
}

// Stop halts playback
func (w *WAVFile) Stop() error {
	w.pacer.halt()
	return nil
}

// Finished reports whether a non-looping file has been fully delivered
func (w *WAVFile) Finished() bool {
	return !w.loop && !w.pacer.running() && w.position >= len(w.samples)/w.channels
}

func (w *WAVFile) SampleRate() float64 { return w.sampleRate }
func (w *WAVFile) Channels() int       { return w.channels }
func (w *WAVFile) BlockSize() int      { return w.blockSize }
func (w *WAVFile) Name() string        { return "wav:" + w.path }
