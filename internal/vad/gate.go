package vad

import (
	"fmt"
	"math"
	"sync/atomic"
)

const (
	// DefaultThreshold is the peak amplitude below which a block counts as silent (about -60 dBFS)
	DefaultThreshold = 0.001

	// DefaultHoldBlocks is how many consecutive silent blocks keep the signal flag raised
	DefaultHoldBlocks = 10

	// SilenceFloorDBFS is returned by ToDBFS for zero or negative amplitudes
	SilenceFloorDBFS = -120.0
)

// Gate classifies audio blocks as signal or silence by peak amplitude.
// Process is called from the real-time audio goroutine; every other method may
// be called from any goroutine. No locks are taken.
type Gate struct {
	threshold  atomic.Uint32 // float32 bits
	holdBlocks int64

	silentBlocks atomic.Int64
	lastPeak     atomic.Uint32 // float32 bits

	totalBlocks atomic.Uint64
	silentTotal atomic.Uint64
}

// GateStats represents silence gate statistics
type GateStats struct {
	Threshold     float32 `json:"threshold"`
	HoldBlocks    int     `json:"hold_blocks"`
	SilentBlocks  int64   `json:"silent_blocks"`
	LastPeak      float32 `json:"last_peak"`
	LastPeakDBFS  float64 `json:"last_peak_dbfs"`
	HasSignal     bool    `json:"has_signal"`
	TotalBlocks   uint64  `json:"total_blocks"`
	SilentPercent float64 `json:"silent_percentage"`
}

// NewGate creates a silence gate
func NewGate(threshold float32, holdBlocks int) (*Gate, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if holdBlocks <= 0 {
		return nil, fmt.Errorf("hold blocks must be positive, got %d", holdBlocks)
	}

	g := &Gate{holdBlocks: int64(holdBlocks)}
	g.threshold.Store(math.Float32bits(threshold))
	return g, nil
}

// NewDefaultGate creates a gate with DefaultThreshold and DefaultHoldBlocks
func NewDefaultGate() *Gate {
	g, _ := NewGate(DefaultThreshold, DefaultHoldBlocks)
	return g
}

// Peak returns the largest absolute sample value in samples
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// ToDBFS converts a linear amplitude to dBFS
func ToDBFS(amplitude float32) float64 {
	if amplitude <= 0 {
		return SilenceFloorDBFS
	}
	return math.Max(20*math.Log10(float64(amplitude)), SilenceFloorDBFS)
}

// Process measures one block and reports whether it carries signal. A block
// at or above the threshold resets the silent counter; anything quieter
// increments it.
func (g *Gate) Process(samples []float32) bool {
	peak := Peak(samples)
	g.lastPeak.Store(math.Float32bits(peak))
	g.totalBlocks.Add(1)

	if peak >= g.Threshold() {
		g.silentBlocks.Store(0)
		return true
	}

	g.silentBlocks.Add(1)
	g.silentTotal.Add(1)
	return false
}

// HasSignal reports whether fewer than HoldBlocks silent blocks have been
// seen since the last block with signal
func (g *Gate) HasSignal() bool {
	return g.silentBlocks.Load() < g.holdBlocks
}

// SilentBlocks returns the number of consecutive silent blocks
func (g *Gate) SilentBlocks() int64 {
	return g.silentBlocks.Load()
}

// LastPeak returns the peak of the most recently processed block
func (g *Gate) LastPeak() float32 {
	return math.Float32frombits(g.lastPeak.Load())
}

// Threshold returns the current silence threshold
func (g *Gate) Threshold() float32 {
	return math.Float32frombits(g.threshold.Load())
}

// HoldBlocks returns the configured hold length
func (g *Gate) HoldBlocks() int {
	return int(g.holdBlocks)
}

// UpdateThreshold updates the silence threshold
func (g *Gate) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	g.threshold.Store(math.Float32bits(threshold))
	return nil
}

// Reset clears the silent counter and statistics
func (g *Gate) Reset() {
	g.silentBlocks.Store(0)
	g.lastPeak.Store(0)
	g.totalBlocks.Store(0)
	g.silentTotal.Store(0)
}

// Stats returns current gate statistics
func (g *Gate) Stats() GateStats {
	peak := g.LastPeak()
	total := g.totalBlocks.Load()

	silentPercent := float64(0)
	if total > 0 {
		silentPercent = float64(g.silentTotal.Load()) / float64(total) * 100
	}

	return GateStats{
		Threshold:     g.Threshold(),
		HoldBlocks:    g.HoldBlocks(),
		SilentBlocks:  g.SilentBlocks(),
		LastPeak:      peak,
		LastPeakDBFS:  ToDBFS(peak),
		HasSignal:     g.HasSignal(),
		TotalBlocks:   total,
		SilentPercent: silentPercent,
	}
}
