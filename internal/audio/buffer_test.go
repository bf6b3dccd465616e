package audio

import (
	"sync"
	"testing"
)

// interleaved builds frames*channels samples where sample = frame*10 + channel + offset
func interleaved(frames, channels int, offset float32) []float32 {
	data := make([]float32, frames*channels)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			data[f*channels+ch] = float32(f*10+ch) + offset
		}
	}
	return data
}

func checkInvariant(t *testing.T, rb *RingBuffer) {
	t.Helper()
	if rb.Ready()+rb.Free() != rb.Capacity() {
		t.Fatalf("Expected ready+free == capacity, got %d+%d != %d", rb.Ready(), rb.Free(), rb.Capacity())
	}
}

func TestNewRingBuffer(t *testing.T) {
	rb := NewRingBuffer(2, 2000)

	if rb.Channels() != 2 {
		t.Errorf("Expected 2 channels, got %d", rb.Channels())
	}
	if rb.Capacity() != 2000 {
		t.Errorf("Expected capacity 2000, got %d", rb.Capacity())
	}
	if rb.Ready() != 0 {
		t.Errorf("Expected empty buffer, got %d ready", rb.Ready())
	}
	if rb.Free() != 2000 {
		t.Errorf("Expected 2000 free, got %d", rb.Free())
	}
	checkInvariant(t, rb)
}

func TestPushOverrunScenario(t *testing.T) {
	rb := NewRingBuffer(2, 2000)

	if !rb.Push(interleaved(1000, 2, 0), 2) {
		t.Fatal("Expected first push of 1000 samples to succeed")
	}
	if rb.Ready() != 1000 {
		t.Errorf("Expected 1000 ready, got %d", rb.Ready())
	}
	checkInvariant(t, rb)

	if rb.Push(interleaved(1200, 2, 0), 2) {
		t.Fatal("Expected push of 1200 samples into 1000 free to be rejected")
	}
	if rb.Overruns() != 1 {
		t.Errorf("Expected 1 overrun, got %d", rb.Overruns())
	}
	if rb.Ready() != 1000 {
		t.Errorf("Expected ready to stay at 1000 after rejection, got %d", rb.Ready())
	}
	checkInvariant(t, rb)
}

func TestPopUnderrun(t *testing.T) {
	rb := NewRingBuffer(2, 100)
	rb.Push(interleaved(10, 2, 0), 2)

	dst := make([]float32, 2*20)
	if rb.Pop(dst, 2, 20) {
		t.Fatal("Expected pop of 20 with only 10 ready to be rejected")
	}
	if rb.Underruns() != 1 {
		t.Errorf("Expected 1 underrun, got %d", rb.Underruns())
	}
	if rb.Ready() != 10 {
		t.Errorf("Expected nothing consumed, got %d ready", rb.Ready())
	}
	checkInvariant(t, rb)
}

func TestFIFOOrder(t *testing.T) {
	rb := NewRingBuffer(2, 64)

	rb.Push(interleaved(5, 2, 0), 2)
	rb.Push(interleaved(5, 2, 1000), 2)

	dst := make([]float32, 2*10)
	if !rb.Pop(dst, 2, 10) {
		t.Fatal("Expected pop to succeed")
	}

	expected := append(interleaved(5, 2, 0), interleaved(5, 2, 1000)...)
	for i := range expected {
		if dst[i] != expected[i] {
			t.Fatalf("Sample %d: expected %f, got %f", i, expected[i], dst[i])
		}
	}
}

func TestWrapAround(t *testing.T) {
	rb := NewRingBuffer(2, 10)
	dst := make([]float32, 2*10)

	// Advance cursors to 7 so the next 6 frames straddle the end
	rb.Push(interleaved(7, 2, 0), 2)
	if !rb.Pop(dst, 2, 7) {
		t.Fatal("Expected pop to succeed")
	}

	input := interleaved(6, 2, 500)
	if !rb.Push(input, 2) {
		t.Fatal("Expected wrapping push to succeed")
	}
	checkInvariant(t, rb)

	if !rb.Pop(dst, 2, 6) {
		t.Fatal("Expected wrapping pop to succeed")
	}
	for i := range input {
		if dst[i] != input[i] {
			t.Fatalf("Sample %d: expected %f, got %f", i, input[i], dst[i])
		}
	}

	// Fill to exactly capacity after wrapping
	if !rb.Push(interleaved(10, 2, 0), 2) {
		t.Fatal("Expected full-capacity push to succeed")
	}
	if rb.Free() != 0 {
		t.Errorf("Expected no free space, got %d", rb.Free())
	}
	checkInvariant(t, rb)
}

func TestChannelClamping(t *testing.T) {
	tests := []struct {
		name           string
		bufferChannels int
		inputChannels  int
		outputChannels int
	}{
		{name: "mono input into stereo buffer", bufferChannels: 2, inputChannels: 1, outputChannels: 2},
		{name: "quad input into stereo buffer", bufferChannels: 2, inputChannels: 4, outputChannels: 2},
		{name: "stereo buffer popped as quad", bufferChannels: 2, inputChannels: 2, outputChannels: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewRingBuffer(tt.bufferChannels, 32)
			input := interleaved(4, tt.inputChannels, 1)

			if !rb.Push(input, tt.inputChannels) {
				t.Fatal("Expected push to succeed")
			}
			if rb.Ready() != 4 {
				t.Fatalf("Expected 4 frames ready, got %d", rb.Ready())
			}

			dst := make([]float32, 4*tt.outputChannels)
			for i := range dst {
				dst[i] = -1
			}
			if !rb.Pop(dst, tt.outputChannels, 4) {
				t.Fatal("Expected pop to succeed")
			}

			stored := min(tt.inputChannels, tt.bufferChannels)
			readable := min(stored, tt.outputChannels)
			for f := 0; f < 4; f++ {
				for ch := 0; ch < tt.outputChannels; ch++ {
					got := dst[f*tt.outputChannels+ch]
					var want float32
					if ch < readable {
						want = float32(f*10+ch) + 1
					}
					if got != want {
						t.Errorf("frame %d channel %d: expected %f, got %f", f, ch, want, got)
					}
				}
			}
		})
	}
}

func TestReset(t *testing.T) {
	rb := NewRingBuffer(1, 8)
	rb.Push(interleaved(8, 1, 1), 1)
	rb.Push(interleaved(1, 1, 1), 1)
	rb.Pop(make([]float32, 100), 1, 100)

	if rb.Overruns() != 1 || rb.Underruns() != 1 {
		t.Fatalf("Expected 1 overrun and 1 underrun, got %d and %d", rb.Overruns(), rb.Underruns())
	}

	rb.Reset()

	if rb.Ready() != 0 || rb.Free() != 8 {
		t.Errorf("Expected empty buffer after reset, got ready=%d free=%d", rb.Ready(), rb.Free())
	}
	if rb.Overruns() != 0 || rb.Underruns() != 0 {
		t.Errorf("Expected counters cleared, got %d and %d", rb.Overruns(), rb.Underruns())
	}
	for i, v := range rb.data {
		if v != 0 {
			t.Fatalf("Expected zeroed storage, sample %d is %f", i, v)
		}
	}
}

func TestPrepareResizes(t *testing.T) {
	rb := NewRingBuffer(2, 16)
	rb.Push(interleaved(8, 2, 0), 2)

	rb.Prepare(4, 100)

	if rb.Channels() != 4 || rb.Capacity() != 100 {
		t.Errorf("Expected 4x100 after prepare, got %dx%d", rb.Channels(), rb.Capacity())
	}
	if rb.Ready() != 0 {
		t.Errorf("Expected prepare to empty the buffer, got %d ready", rb.Ready())
	}
	checkInvariant(t, rb)
}

func TestInvalidArguments(t *testing.T) {
	rb := NewRingBuffer(2, 16)

	if rb.Push([]float32{1, 2}, 0) {
		t.Error("Expected push with zero channels to fail")
	}
	if rb.Pop(make([]float32, 2), 2, 4) {
		t.Error("Expected pop into a short destination to fail")
	}
	if !rb.Push(nil, 2) {
		t.Error("Expected empty push to succeed trivially")
	}
	if rb.Overruns() != 0 || rb.Underruns() != 0 {
		t.Error("Expected argument errors not to count as overrun or underrun")
	}
}

func TestPushPopDoNotAllocate(t *testing.T) {
	rb := NewRingBuffer(2, 4096)
	input := interleaved(256, 2, 0)
	dst := make([]float32, len(input))

	allocs := testing.AllocsPerRun(200, func() {
		rb.Push(input, 2)
		rb.Pop(dst, 2, 256)
	})
	if allocs != 0 {
		t.Errorf("Expected zero allocations, got %.1f", allocs)
	}
}

func TestStats(t *testing.T) {
	rb := NewRingBuffer(2, 50)
	rb.Push(interleaved(20, 2, 0), 2)

	stats := rb.Stats()
	if stats.Ready != 20 || stats.Free != 30 || stats.Capacity != 50 || stats.Channels != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const (
		channels = 2
		block    = 64
		blocks   = 2000
	)

	rb := NewRingBuffer(channels, 512)
	var wg sync.WaitGroup

	// Producer writes a ramp so the consumer can verify ordering
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]float32, block*channels)
		next := 0
		for b := 0; b < blocks; {
			for f := 0; f < block; f++ {
				for ch := 0; ch < channels; ch++ {
					buf[f*channels+ch] = float32(next + f)
				}
			}
			if rb.Push(buf, channels) {
				next += block
				b++
			}
		}
	}()

	dst := make([]float32, block*channels)
	expected := 0
	for expected < block*blocks {
		if !rb.Pop(dst, channels, block) {
			continue
		}
		for f := 0; f < block; f++ {
			for ch := 0; ch < channels; ch++ {
				if dst[f*channels+ch] != float32(expected+f) {
					t.Fatalf("Out of order sample: expected %d, got %f", expected+f, dst[f*channels+ch])
				}
			}
		}
		expected += block

		if rb.Ready()+rb.Free() != rb.Capacity() {
			t.Fatalf("Invariant violated under concurrency")
		}
	}

	wg.Wait()
}
