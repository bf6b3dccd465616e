package vad

import (
	"math"
	"sync"
	"testing"
)

func constantBlock(frames, channels int, amplitude float32) []float32 {
	block := make([]float32, frames*channels)
	for i := range block {
		block[i] = amplitude
	}
	return block
}

func TestNewGateValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		holdBlocks int
		expectErr  bool
	}{
		{name: "valid parameters", threshold: 0.001, holdBlocks: 10, expectErr: false},
		{name: "threshold too low", threshold: -0.1, holdBlocks: 10, expectErr: true},
		{name: "threshold too high", threshold: 1.1, holdBlocks: 10, expectErr: true},
		{name: "zero hold", threshold: 0.001, holdBlocks: 0, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, err := NewGate(tt.threshold, tt.holdBlocks)
			if tt.expectErr {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if gate.Threshold() != tt.threshold || gate.HoldBlocks() != tt.holdBlocks {
				t.Errorf("Unexpected gate configuration: %+v", gate.Stats())
			}
		})
	}
}

func TestPeak(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float32
	}{
		{name: "empty", samples: nil, expected: 0},
		{name: "positive peak", samples: []float32{0.1, 0.7, -0.2}, expected: 0.7},
		{name: "negative peak", samples: []float32{0.1, -0.9, 0.2}, expected: 0.9},
		{name: "peak in second channel", samples: []float32{0, 0.001, 0, 0.3}, expected: 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Peak(tt.samples); got != tt.expected {
				t.Errorf("Expected peak %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestToDBFS(t *testing.T) {
	if got := ToDBFS(1); got != 0 {
		t.Errorf("Expected 0 dBFS at full scale, got %f", got)
	}
	if got := ToDBFS(0.001); math.Abs(got+60) > 1e-3 {
		t.Errorf("Expected -60 dBFS at 0.001, got %f", got)
	}
	if got := ToDBFS(0); got != SilenceFloorDBFS {
		t.Errorf("Expected floor at zero amplitude, got %f", got)
	}
	if got := ToDBFS(1e-9); got != SilenceFloorDBFS {
		t.Errorf("Expected floor for tiny amplitude, got %f", got)
	}
}

func TestSilenceGating(t *testing.T) {
	gate := NewDefaultGate()

	if !gate.HasSignal() {
		t.Fatal("Expected fresh gate to report signal")
	}

	quiet := constantBlock(512, 2, 0.0005)
	for i := 0; i < DefaultHoldBlocks; i++ {
		if gate.Process(quiet) {
			t.Fatalf("Block %d: expected quiet block to be gated", i)
		}
		expectSignal := i+1 < DefaultHoldBlocks
		if gate.HasSignal() != expectSignal {
			t.Fatalf("Block %d: expected HasSignal %v", i, expectSignal)
		}
	}

	if gate.SilentBlocks() != DefaultHoldBlocks {
		t.Errorf("Expected %d silent blocks, got %d", DefaultHoldBlocks, gate.SilentBlocks())
	}

	loud := constantBlock(512, 2, 0.5)
	if !gate.Process(loud) {
		t.Fatal("Expected loud block to pass")
	}
	if !gate.HasSignal() {
		t.Error("Expected a single loud block to restore the signal flag")
	}
	if gate.SilentBlocks() != 0 {
		t.Errorf("Expected silent counter reset, got %d", gate.SilentBlocks())
	}
	if gate.LastPeak() != 0.5 {
		t.Errorf("Expected last peak 0.5, got %f", gate.LastPeak())
	}
}

func TestThresholdBoundary(t *testing.T) {
	gate := NewDefaultGate()

	if !gate.Process([]float32{DefaultThreshold}) {
		t.Error("Expected a block exactly at the threshold to pass")
	}
	if gate.Process([]float32{DefaultThreshold * 0.99}) {
		t.Error("Expected a block just below the threshold to be gated")
	}
}

func TestUpdateThreshold(t *testing.T) {
	gate := NewDefaultGate()

	if err := gate.UpdateThreshold(0.5); err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if gate.Process([]float32{0.4}) {
		t.Error("Expected 0.4 to be gated at threshold 0.5")
	}
	if err := gate.UpdateThreshold(2); err == nil {
		t.Error("Expected error for threshold above 1")
	}
	if gate.Threshold() != 0.5 {
		t.Errorf("Expected threshold to stay 0.5, got %f", gate.Threshold())
	}
}

func TestGateReset(t *testing.T) {
	gate := NewDefaultGate()
	quiet := constantBlock(64, 1, 0)
	for i := 0; i < 20; i++ {
		gate.Process(quiet)
	}
	if gate.HasSignal() {
		t.Fatal("Expected no signal after 20 silent blocks")
	}

	gate.Reset()

	stats := gate.Stats()
	if !stats.HasSignal || stats.SilentBlocks != 0 || stats.TotalBlocks != 0 {
		t.Errorf("Unexpected stats after reset: %+v", stats)
	}
}

func TestGateStats(t *testing.T) {
	gate := NewDefaultGate()
	gate.Process([]float32{0.5})
	gate.Process([]float32{0})
	gate.Process([]float32{0})
	gate.Process([]float32{0})

	stats := gate.Stats()
	if stats.TotalBlocks != 4 {
		t.Errorf("Expected 4 blocks, got %d", stats.TotalBlocks)
	}
	if stats.SilentPercent != 75 {
		t.Errorf("Expected 75%% silent, got %f", stats.SilentPercent)
	}
	if stats.LastPeakDBFS != SilenceFloorDBFS {
		t.Errorf("Expected floor dBFS for silent last block, got %f", stats.LastPeakDBFS)
	}
}

func TestProcessDoesNotAllocate(t *testing.T) {
	gate := NewDefaultGate()
	block := constantBlock(512, 2, 0.25)

	allocs := testing.AllocsPerRun(100, func() {
		gate.Process(block)
	})
	if allocs != 0 {
		t.Errorf("Expected zero allocations, got %.1f", allocs)
	}
}

func TestConcurrentReaders(t *testing.T) {
	gate := NewDefaultGate()
	block := constantBlock(128, 2, 0.01)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = gate.Stats()
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		gate.Process(block)
	}
	close(stop)
	wg.Wait()

	if gate.Stats().TotalBlocks != 1000 {
		t.Errorf("Expected 1000 blocks, got %d", gate.Stats().TotalBlocks)
	}
}
