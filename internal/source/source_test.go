package source

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eenness/Mix2Go/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector records delivered blocks
type collector struct {
	mu       sync.Mutex
	blocks   [][]float32
	channels int
}

func (c *collector) handle(samples []float32, channels int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, append([]float32(nil), samples...))
	c.channels = channels
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

func (c *collector) samples() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []float32
	for _, b := range c.blocks {
		out = append(out, b...)
	}
	return out
}

// writeWAV writes a 16-bit file whose sample i has value i*step
func writeWAV(t *testing.T, sampleRate, channels, frames, step int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	data := make([]int, frames*channels)
	for i := range data {
		data[i] = i * step
	}

	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func TestToneGenerate(t *testing.T) {
	tone := NewTone(48000, 2, 480, 1000, 0.5, nil)

	first := make([]float32, 480*2)
	tone.Generate(first)

	var peak float32
	for f := 0; f < 480; f++ {
		assert.Equal(t, first[f*2], first[f*2+1], "channels should carry the same value")
		peak = max(peak, float32(math.Abs(float64(first[f*2]))))
	}
	assert.InDelta(t, 0.5, peak, 0.001)
	assert.Equal(t, float32(0), first[0])

	// Phase continues across calls: 480 frames of 1 kHz at 48 kHz is 10 whole cycles
	second := make([]float32, 2)
	tone.Generate(second)
	assert.InDelta(t, 0, second[0], 1e-6)
}

func TestToneStartStop(t *testing.T) {
	tone := NewTone(48000, 1, 48, 440, 0.25, nil)
	c := &collector{}

	require.NoError(t, tone.Start(context.Background(), c.handle))
	assert.ErrorIs(t, tone.Start(context.Background(), c.handle), errAlreadyStarted)

	require.Eventually(t, func() bool { return c.count() >= 5 }, 2*time.Second, time.Millisecond)
	require.NoError(t, tone.Stop())

	n := c.count()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, c.count(), "no blocks after Stop")
	assert.Equal(t, 1, c.channels)
	assert.Len(t, c.blocks[0], 48)

	assert.Equal(t, float64(48000), tone.SampleRate())
	assert.Equal(t, 48, tone.BlockSize())
	assert.Equal(t, "tone", tone.Name())
}

func TestToneStopsWithContext(t *testing.T) {
	tone := NewTone(48000, 1, 48, 440, 0.25, nil)
	c := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tone.Start(ctx, c.handle))
	require.Eventually(t, func() bool { return c.count() >= 1 }, 2*time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !tone.pacer.running() }, 2*time.Second, time.Millisecond)
	require.NoError(t, tone.Stop())
}

func TestBlockPeriod(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, blockPeriod(48000, 480))
	assert.Equal(t, time.Millisecond, blockPeriod(0, 480))
}

func TestWAVDecode(t *testing.T) {
	path := writeWAV(t, 22050, 2, 100, 10)

	src, err := NewWAVFile(path, 32, false, nil)
	require.NoError(t, err)

	assert.Equal(t, float64(22050), src.SampleRate())
	assert.Equal(t, 2, src.Channels())
	require.Len(t, src.samples, 200)
	assert.InDelta(t, 10.0/32768, src.samples[1], 1e-9)
	assert.InDelta(t, 1990.0/32768, src.samples[199], 1e-9)
}

func TestWAVPlaybackWithoutLoop(t *testing.T) {
	path := writeWAV(t, 48000, 1, 100, 1)

	src, err := NewWAVFile(path, 48, false, nil)
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, src.Start(context.Background(), c.handle))
	require.Eventually(t, src.Finished, 2*time.Second, time.Millisecond)
	require.NoError(t, src.Stop())

	// 100 frames in 48-frame blocks: two full blocks and one padded
	require.Equal(t, 3, c.count())
	got := c.samples()
	require.Len(t, got, 144)
	for i := 0; i < 100; i++ {
		assert.InDelta(t, float64(i)/32768, got[i], 1e-9)
	}
	for i := 100; i < 144; i++ {
		assert.Zero(t, got[i])
	}
}

func TestWAVPlaybackLoops(t *testing.T) {
	path := writeWAV(t, 48000, 1, 10, 1)

	src, err := NewWAVFile(path, 8, true, nil)
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, src.Start(context.Background(), c.handle))
	require.Eventually(t, func() bool { return c.count() >= 4 }, 2*time.Second, time.Millisecond)
	require.NoError(t, src.Stop())
	assert.False(t, src.Finished())

	got := c.samples()
	for i := 0; i < 32; i++ {
		assert.InDelta(t, float64(i%10)/32768, got[i], 1e-9, "sample %d", i)
	}
}

func TestWAVErrors(t *testing.T) {
	_, err := NewWAVFile(filepath.Join(t.TempDir(), "missing.wav"), 64, false, nil)
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.wav")
	require.NoError(t, os.WriteFile(garbage, []byte("not a wav file at all"), 0o644))
	_, err = NewWAVFile(garbage, 64, false, nil)
	assert.Error(t, err)

	_, err = NewWAVFile(writeWAV(t, 8000, 1, 10, 1), 0, false, nil)
	assert.Error(t, err)

	_, err = audioDivisor(8)
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default().Audio

	cfg.Source = config.SourceTone
	src, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "tone", src.Name())
	assert.Equal(t, cfg.Channels, src.Channels())

	cfg.Source = config.SourceWAV
	cfg.WAVPath = writeWAV(t, 16000, 1, 16, 1)
	src, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(16000), src.SampleRate())

	cfg.Source = "microphone"
	_, err = New(cfg, nil)
	assert.True(t, errors.Is(err, ErrNotSupported))
}
