package audio

import (
	"sync/atomic"
)

// RingBuffer is a single-producer/single-consumer FIFO of multi-channel
// float samples. Storage is planar: each channel owns a contiguous column of
// capacity samples. One goroutine may Push while another Pops; neither side
// blocks or allocates. Cursors advance monotonically and are reduced modulo
// capacity when indexing.
type RingBuffer struct {
	data []float32 // channels * capacity, column-major

	channels atomic.Int64
	capacity atomic.Int64

	writePos atomic.Uint64 // total frames ever written
	readPos  atomic.Uint64 // total frames ever read

	overruns  atomic.Uint64
	underruns atomic.Uint64
}

// RingStats is a point-in-time view of the buffer for monitoring
type RingStats struct {
	Channels  int    `json:"channels"`
	Capacity  int    `json:"capacity_samples"`
	Ready     int    `json:"ready_samples"`
	Free      int    `json:"free_samples"`
	Overruns  uint64 `json:"overruns"`
	Underruns uint64 `json:"underruns"`
}

// NewRingBuffer creates a ring buffer holding capacity samples per channel
func NewRingBuffer(channels, capacity int) *RingBuffer {
	rb := &RingBuffer{}
	rb.Prepare(channels, capacity)
	return rb
}

// Prepare (re)allocates storage and empties the buffer. It must not run
// concurrently with Push or Pop.
func (rb *RingBuffer) Prepare(channels, capacity int) {
	if channels < 0 {
		channels = 0
	}
	if capacity < 0 {
		capacity = 0
	}

	rb.data = make([]float32, channels*capacity)
	rb.channels.Store(int64(channels))
	rb.capacity.Store(int64(capacity))
	rb.writePos.Store(0)
	rb.readPos.Store(0)
	rb.overruns.Store(0)
	rb.underruns.Store(0)
}

// Push copies interleaved samples with the given channel count into the
// buffer. Only min(channels, Channels()) channels are stored. If there is not
// room for every frame nothing is written, the overrun counter is
// incremented and false is returned.
func (rb *RingBuffer) Push(samples []float32, channels int) bool {
	if channels <= 0 {
		return false
	}

	frames := len(samples) / channels
	if frames == 0 {
		return true
	}

	capacity := int(rb.capacity.Load())
	write := rb.writePos.Load()
	read := rb.readPos.Load()

	if capacity-int(write-read) < frames {
		rb.overruns.Add(1)
		return false
	}

	copyChannels := min(channels, int(rb.channels.Load()))
	start1, size1, start2, size2 := regions(write, frames, capacity)

	for ch := 0; ch < copyChannels; ch++ {
		column := rb.data[ch*capacity : (ch+1)*capacity]

		for i := 0; i < size1; i++ {
			column[start1+i] = samples[i*channels+ch]
		}
		for i := 0; i < size2; i++ {
			column[start2+i] = samples[(size1+i)*channels+ch]
		}
	}

	rb.writePos.Store(write + uint64(frames))
	return true
}

// Pop moves frames samples per channel out of the buffer into dst as
// interleaved data with the given channel count. Destination channels beyond
// Channels() are zero filled. If fewer than frames are ready nothing is
// consumed, the underrun counter is incremented and false is returned.
func (rb *RingBuffer) Pop(dst []float32, channels, frames int) bool {
	if channels <= 0 || frames < 0 || len(dst) < frames*channels {
		return false
	}
	if frames == 0 {
		return true
	}

	capacity := int(rb.capacity.Load())
	read := rb.readPos.Load()
	write := rb.writePos.Load()

	if int(write-read) < frames {
		rb.underruns.Add(1)
		return false
	}

	copyChannels := min(channels, int(rb.channels.Load()))
	start1, size1, start2, size2 := regions(read, frames, capacity)

	for ch := 0; ch < copyChannels; ch++ {
		column := rb.data[ch*capacity : (ch+1)*capacity]

		for i := 0; i < size1; i++ {
			dst[i*channels+ch] = column[start1+i]
		}
		for i := 0; i < size2; i++ {
			dst[(size1+i)*channels+ch] = column[start2+i]
		}
	}

	for ch := copyChannels; ch < channels; ch++ {
		for i := 0; i < frames; i++ {
			dst[i*channels+ch] = 0
		}
	}

	rb.readPos.Store(read + uint64(frames))
	return true
}

// regions splits count frames starting at cursor into the contiguous block up
// to the end of storage and the block that wraps to the start.
func regions(cursor uint64, count, capacity int) (start1, size1, start2, size2 int) {
	start1 = int(cursor % uint64(capacity))
	size1 = min(count, capacity-start1)
	size2 = count - size1
	return start1, size1, 0, size2
}

// Reset empties the buffer, zeroes its contents and clears the counters.
// Producer and consumer must both be idle.
func (rb *RingBuffer) Reset() {
	clear(rb.data)
	rb.writePos.Store(0)
	rb.readPos.Store(0)
	rb.overruns.Store(0)
	rb.underruns.Store(0)
}

// Ready returns the number of samples per channel available to Pop
func (rb *RingBuffer) Ready() int {
	read := rb.readPos.Load()
	write := rb.writePos.Load()

	// read may be stale relative to write when observed from a third goroutine
	return min(int(write-read), rb.Capacity())
}

// Free returns the number of samples per channel that can be pushed
func (rb *RingBuffer) Free() int {
	return rb.Capacity() - rb.Ready()
}

// Capacity returns the size of the buffer in samples per channel
func (rb *RingBuffer) Capacity() int {
	return int(rb.capacity.Load())
}

// Channels returns the number of channels stored
func (rb *RingBuffer) Channels() int {
	return int(rb.channels.Load())
}

// Overruns returns the number of rejected pushes since the last reset
func (rb *RingBuffer) Overruns() uint64 {
	return rb.overruns.Load()
}

// Underruns returns the number of rejected pops since the last reset
func (rb *RingBuffer) Underruns() uint64 {
	return rb.underruns.Load()
}

// Stats returns current buffer statistics
func (rb *RingBuffer) Stats() RingStats {
	ready := rb.Ready()
	capacity := rb.Capacity()

	return RingStats{
		Channels:  rb.Channels(),
		Capacity:  capacity,
		Ready:     ready,
		Free:      capacity - ready,
		Overruns:  rb.Overruns(),
		Underruns: rb.Underruns(),
	}
}
