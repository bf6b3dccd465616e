package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eenness/Mix2Go/internal/audio"
	"github.com/eenness/Mix2Go/internal/protocol"
	"github.com/eenness/Mix2Go/internal/sender"
	"github.com/eenness/Mix2Go/internal/vad"
	"github.com/eenness/Mix2Go/internal/worker"
)

const (
	// BufferSeconds is how much audio the FIFO holds
	BufferSeconds = 2

	// PacketDuration is the amount of audio carried by one packet
	PacketDuration = 10 * time.Millisecond

	DefaultStatsInterval = 500 * time.Millisecond
)

var (
	// ErrNotPrepared is returned by StartStreaming before a successful Prepare
	ErrNotPrepared = errors.New("stream not prepared")

	// ErrStreaming is returned by Prepare while a stream is running
	ErrStreaming = errors.New("stream is active")

	// ErrInvalidFormat is returned by Prepare for non-positive or oversized formats
	ErrInvalidFormat = errors.New("invalid audio format")
)

// Config contains stream manager configuration
type Config struct {
	Sender            sender.Config
	StatsInterval     time.Duration
	SilenceThreshold  float32
	SilenceHoldBlocks int
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		Sender:            sender.DefaultConfig(),
		StatsInterval:     DefaultStatsInterval,
		SilenceThreshold:  vad.DefaultThreshold,
		SilenceHoldBlocks: vad.DefaultHoldBlocks,
	}
}

// format is fixed by Prepare and read by the audio and network goroutines
type format struct {
	sampleRate    float64
	blockSize     int
	channels      int
	packetSamples int
	scratch       []float32 // owned by the network goroutine
}

// session is created by every StartStreaming
type session struct {
	id        string
	startTime time.Time
}

// Manager runs the capture-to-network pipeline: audio blocks pushed from the
// real-time goroutine pass the silence gate into a lock-free FIFO, and the
// sender goroutine drains the FIFO in fixed-size packets.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	fifo     *audio.RingBuffer
	gate     *vad.Gate
	sender   *sender.Sender
	reporter *worker.Worker

	// control serializes Prepare, StartStreaming and StopStreaming
	control sync.Mutex

	state     atomic.Int32
	streaming atomic.Bool
	format    atomic.Pointer[format]
	session   atomic.Pointer[session]
	sequence  atomic.Uint32

	listenersMu sync.Mutex
	listeners   []Listener
}

// Stats is a snapshot of stream statistics
type Stats struct {
	State         string  `json:"state"`
	SessionID     string  `json:"session_id,omitempty"`
	Target        string  `json:"target"`
	LocalAddr     string  `json:"local_addr,omitempty"`
	SampleRate    float64 `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BlockSize     int     `json:"block_size"`
	PacketSamples int     `json:"packet_samples"`
	PacketsSent   uint64  `json:"packets_sent"`
	BytesSent     uint64  `json:"bytes_sent"`
	SendErrors    uint64  `json:"send_errors"`
	FIFOOverruns  uint64  `json:"fifo_overruns"`
	FIFOUnderruns uint64  `json:"fifo_underruns"`
	FIFOLevel     int     `json:"fifo_level"`
	FIFOCapacity  int     `json:"fifo_capacity"`
	NextSequence  uint32  `json:"next_sequence"`
	HasSignal     bool    `json:"has_signal"`
	PeakDBFS      float64 `json:"peak_dbfs"`
	LastError     string  `json:"last_error,omitempty"`
	Duration      float64 `json:"duration_seconds"`
}

// NewManager creates a stream manager in the Disconnected state
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gate, err := vad.NewGate(cfg.SilenceThreshold, cfg.SilenceHoldBlocks)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence gate: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		fifo:   audio.NewRingBuffer(0, 0),
		gate:   gate,
	}
	m.sender = sender.New(cfg.Sender, sender.SupplierFunc(m.fillPacket), logger)
	m.reporter = worker.New("stats-reporter", m.reportStats, func() time.Duration {
		return m.cfg.StatsInterval
	}, logger)

	return m, nil
}

// Prepare sizes the FIFO for BufferSeconds of audio and the packets for
// PacketDuration of audio. It must be called before StartStreaming and is
// rejected while streaming.
func (m *Manager) Prepare(sampleRate float64, blockSize, channels int) error {
	m.control.Lock()
	defer m.control.Unlock()

	if m.streaming.Load() {
		return ErrStreaming
	}

	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) || blockSize <= 0 || channels <= 0 {
		return fmt.Errorf("%w: sample rate %v, block size %d, channels %d", ErrInvalidFormat, sampleRate, blockSize, channels)
	}

	packetSamples := max(1, int(math.Round(sampleRate*PacketDuration.Seconds())))
	packetSize := protocol.HeaderSize + 4*channels*packetSamples
	if channels > math.MaxUint16 || packetSize > protocol.MaxPacketSize {
		return fmt.Errorf("%w: %d byte packets exceed the %d byte datagram limit", ErrInvalidFormat, packetSize, protocol.MaxPacketSize)
	}

	m.fifo.Prepare(channels, int(sampleRate*BufferSeconds))
	m.format.Store(&format{
		sampleRate:    sampleRate,
		blockSize:     blockSize,
		channels:      channels,
		packetSamples: packetSamples,
		scratch:       make([]float32, channels*packetSamples),
	})

	m.logger.Info("Stream prepared",
		slog.Float64("sample_rate", sampleRate),
		slog.Int("block_size", blockSize),
		slog.Int("channels", channels),
		slog.Int("packet_samples", packetSamples),
		slog.Int("packet_bytes", packetSize),
		slog.Int("fifo_capacity", m.fifo.Capacity()),
	)

	return nil
}

// SetTarget changes the destination; it does not start or stop streaming
func (m *Manager) SetTarget(address string, port int) error {
	if err := m.sender.SetTarget(address, port); err != nil {
		return err
	}

	m.logger.Info("Stream target set",
		slog.String("target", net.JoinHostPort(address, strconv.Itoa(port))),
	)
	return nil
}

// Target returns the destination address and port
func (m *Manager) Target() (string, int) {
	return m.sender.Target()
}

// StartStreaming opens the socket and begins sending. It is a no-op if the
// stream is already running. A bind failure moves the stream to StateError.
func (m *Manager) StartStreaming() error {
	m.control.Lock()
	defer m.control.Unlock()

	if m.State() == StateStreaming {
		return nil
	}

	if m.format.Load() == nil {
		return ErrNotPrepared
	}

	sess := &session{id: uuid.NewString(), startTime: time.Now()}
	m.session.Store(sess)
	m.setState(StateConnecting)

	m.fifo.Reset()
	m.gate.Reset()
	m.sequence.Store(0)

	if err := m.sender.Start(); err != nil {
		m.logger.Error("Failed to start streaming",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
		m.setState(StateError)
		return fmt.Errorf("failed to start network sender: %w", err)
	}

	m.streaming.Store(true)
	m.setState(StateStreaming)

	if m.cfg.StatsInterval > 0 {
		if err := m.reporter.Start(); err != nil {
			m.logger.Warn("Failed to start stats reporter", slog.String("error", err.Error()))
		}
	}

	address, port := m.sender.Target()
	m.logger.Info("Started streaming",
		slog.String("session_id", sess.id),
		slog.String("target", net.JoinHostPort(address, strconv.Itoa(port))),
	)

	return nil
}

// StopStreaming stops sending, empties the FIFO and moves to
// StateDisconnected. It is safe to call in any state.
func (m *Manager) StopStreaming() {
	m.control.Lock()
	defer m.control.Unlock()

	m.streaming.Store(false)

	m.reporter.Stop()
	m.reporter.Join()

	m.sender.Stop()
	m.fifo.Reset()

	if m.State() != StateDisconnected {
		var sessionID string
		if sess := m.session.Load(); sess != nil {
			sessionID = sess.id
		}
		m.logger.Info("Stopped streaming",
			slog.String("session_id", sessionID),
			slog.Uint64("packets_sent", m.sender.PacketsSent()),
			slog.Uint64("bytes_sent", m.sender.BytesSent()),
		)
	}

	m.setState(StateDisconnected)
}

// PushAudio is the real-time entry point for interleaved audio with the
// given channel count. Silent blocks are dropped. It never blocks or
// allocates and does nothing unless streaming.
func (m *Manager) PushAudio(samples []float32, channels int) {
	if !m.streaming.Load() {
		return
	}

	if !m.gate.Process(samples) {
		return
	}

	m.fifo.Push(samples, channels)
}

// fillPacket supplies the sender with exactly one packet of audio. It runs on
// the sender goroutine and fails without sending when the FIFO is short.
func (m *Manager) fillPacket(packet *protocol.AudioPacket) bool {
	f := m.format.Load()
	sess := m.session.Load()
	if f == nil || sess == nil {
		return false
	}

	if !m.fifo.Pop(f.scratch, f.channels, f.packetSamples) {
		return false
	}

	packet.Magic = protocol.Magic
	packet.SampleRate = uint32(f.sampleRate)
	packet.NumChannels = uint16(f.channels)
	packet.NumSamples = uint32(f.packetSamples)
	packet.AudioData = f.scratch
	packet.Timestamp = uint64(time.Since(sess.startTime).Microseconds())
	packet.SequenceNumber = m.sequence.Add(1) - 1

	return true
}

// reportStats runs on the stats reporter goroutine
func (m *Manager) reportStats(_ context.Context) {
	if m.State() != StateStreaming {
		return
	}

	packets, bytes := m.sender.PacketsSent(), m.sender.BytesSent()
	for _, l := range m.snapshotListeners() {
		l.OnStatsUpdated(packets, bytes)
	}
}

// setState notifies listeners when the state changes. Callers hold control.
func (m *Manager) setState(state State) {
	previous := State(m.state.Swap(int32(state)))
	if previous == state {
		return
	}

	m.logger.Debug("Stream state changed",
		slog.String("from", previous.String()),
		slog.String("to", state.String()),
	)

	for _, l := range m.snapshotListeners() {
		l.OnStateChanged(state)
	}
}

// AddListener registers l. Adding the same listener twice has no effect.
func (m *Manager) AddListener(l Listener) {
	if l == nil {
		return
	}

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	if slices.Contains(m.listeners, l) {
		return
	}
	m.listeners = append(m.listeners, l)
}

// RemoveListener unregisters l if present
func (m *Manager) RemoveListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	if i := slices.Index(m.listeners, l); i >= 0 {
		m.listeners = slices.Delete(slices.Clone(m.listeners), i, i+1)
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	return slices.Clone(m.listeners)
}

// State returns the current connection state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsStreaming reports whether audio is being accepted for sending
func (m *Manager) IsStreaming() bool {
	return m.streaming.Load()
}

// HasAudioSignal reports whether recent blocks carried audio above the
// silence threshold
func (m *Manager) HasAudioSignal() bool {
	return m.gate.HasSignal()
}

// PeakDBFS returns the level of the most recent block seen while streaming
func (m *Manager) PeakDBFS() float64 {
	return vad.ToDBFS(m.gate.LastPeak())
}

// PacketsSent returns the number of packets sent in the current or last session
func (m *Manager) PacketsSent() uint64 { return m.sender.PacketsSent() }

// BytesSent returns the number of bytes sent in the current or last session
func (m *Manager) BytesSent() uint64 { return m.sender.BytesSent() }

// SendErrors returns the number of failed sends in the current or last session
func (m *Manager) SendErrors() uint64 { return m.sender.SendErrors() }

// FIFOOverruns returns the number of audio blocks dropped because the FIFO was full
func (m *Manager) FIFOOverruns() uint64 { return m.fifo.Overruns() }

// FIFOUnderruns returns the number of packet cycles skipped because the FIFO was short
func (m *Manager) FIFOUnderruns() uint64 { return m.fifo.Underruns() }

// FIFOLevel returns the samples per channel waiting to be sent
func (m *Manager) FIFOLevel() int { return m.fifo.Ready() }

// FIFOCapacity returns the FIFO size in samples per channel
func (m *Manager) FIFOCapacity() int { return m.fifo.Capacity() }

// PacketSamples returns the samples per channel in each packet, or 0 before Prepare
func (m *Manager) PacketSamples() int {
	if f := m.format.Load(); f != nil {
		return f.packetSamples
	}
	return 0
}

// PacketSize returns the size in bytes of each packet, or 0 before Prepare
func (m *Manager) PacketSize() int {
	if f := m.format.Load(); f != nil {
		return protocol.HeaderSize + 4*f.channels*f.packetSamples
	}
	return 0
}

// SessionID returns the id of the current or last session
func (m *Manager) SessionID() string {
	if sess := m.session.Load(); sess != nil {
		return sess.id
	}
	return ""
}

// LastError returns the most recent sender diagnostic
func (m *Manager) LastError() string {
	return m.sender.LastError()
}

// Stats returns a snapshot of stream statistics
func (m *Manager) Stats() Stats {
	address, port := m.sender.Target()
	state := m.State()

	stats := Stats{
		State:         state.String(),
		SessionID:     m.SessionID(),
		Target:        net.JoinHostPort(address, strconv.Itoa(port)),
		PacketsSent:   m.sender.PacketsSent(),
		BytesSent:     m.sender.BytesSent(),
		SendErrors:    m.sender.SendErrors(),
		FIFOOverruns:  m.fifo.Overruns(),
		FIFOUnderruns: m.fifo.Underruns(),
		FIFOLevel:     m.fifo.Ready(),
		FIFOCapacity:  m.fifo.Capacity(),
		NextSequence:  m.sequence.Load(),
		HasSignal:     m.gate.HasSignal(),
		PeakDBFS:      m.PeakDBFS(),
		LastError:     m.sender.LastError(),
	}

	if addr := m.sender.LocalAddr(); addr != nil {
		stats.LocalAddr = addr.String()
	}

	if f := m.format.Load(); f != nil {
		stats.SampleRate = f.sampleRate
		stats.Channels = f.channels
		stats.BlockSize = f.blockSize
		stats.PacketSamples = f.packetSamples
	}

	if sess := m.session.Load(); sess != nil && state == StateStreaming {
		stats.Duration = time.Since(sess.startTime).Seconds()
	}

	return stats
}

// StatsSummary returns a one-line status such as "Packets: 12 | Bytes: 41 KB | FIFO: 300"
func (m *Manager) StatsSummary() string {
	return fmt.Sprintf("Packets: %d | Bytes: %d KB | FIFO: %d",
		m.sender.PacketsSent(), m.sender.BytesSent()/1024, m.fifo.Ready())
}
