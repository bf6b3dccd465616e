package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eenness/Mix2Go/internal/protocol"
	"github.com/eenness/Mix2Go/internal/worker"
)

const (
	// DefaultTargetAddress and DefaultTargetPort are used until SetTarget is called
	DefaultTargetAddress = "127.0.0.1"
	DefaultTargetPort    = 12345

	DefaultSendInterval = 10 * time.Millisecond
	DefaultWriteTimeout = 250 * time.Millisecond
	DefaultJoinTimeout  = 2 * time.Second
)

// ErrInvalidTarget is returned by SetTarget for an empty address or a port outside 1..65535
var ErrInvalidTarget = errors.New("invalid target address or port")

// PacketSupplier fills a packet with the next chunk of audio. It returns
// false when no packet is available this cycle.
type PacketSupplier interface {
	FillPacket(packet *protocol.AudioPacket) bool
}

// SupplierFunc adapts a function to PacketSupplier
type SupplierFunc func(packet *protocol.AudioPacket) bool

// FillPacket calls f(packet)
func (f SupplierFunc) FillPacket(packet *protocol.AudioPacket) bool {
	return f(packet)
}

// Config contains sender socket and pacing settings
type Config struct {
	BindAddress      string
	LocalPort        int
	SendInterval     time.Duration
	WriteTimeout     time.Duration
	JoinTimeout      time.Duration
	SocketBufferSize int
}

// DefaultConfig binds an ephemeral port on all interfaces and sends at most
// one packet every 10ms
func DefaultConfig() Config {
	return Config{
		BindAddress:  "",
		LocalPort:    0,
		SendInterval: DefaultSendInterval,
		WriteTimeout: DefaultWriteTimeout,
		JoinTimeout:  DefaultJoinTimeout,
	}
}

// Sender owns one UDP socket and the worker goroutine that writes to it
type Sender struct {
	cfg    Config
	logger *slog.Logger
	worker *worker.Worker

	// control serializes Start and Stop
	control sync.Mutex
	conn    *net.UDPConn

	// settings guards target, supplier and lastError
	settings      sync.Mutex
	targetAddress string
	targetPort    int
	targetVersion uint64
	supplier      PacketSupplier
	lastError     string

	sendInterval atomic.Int64

	// owned by the worker goroutine
	packet        protocol.AudioPacket
	buf           []byte
	resolved      *net.UDPAddr
	resolvedFor   uint64
	lastLoggedErr string

	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64
	sendErrors  atomic.Uint64
}

// New creates a stopped sender
func New(cfg Config, supplier PacketSupplier, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.SendInterval < 0 {
		cfg.SendInterval = 0
	}

	s := &Sender{
		cfg:           cfg,
		logger:        logger,
		targetAddress: DefaultTargetAddress,
		targetPort:    DefaultTargetPort,
		targetVersion: 1,
		supplier:      supplier,
		buf:           make([]byte, 0, protocol.MaxPacketSize),
	}
	s.sendInterval.Store(int64(cfg.SendInterval))
	s.worker = worker.New("network-sender", s.cycle, s.SendInterval, logger)

	return s
}

// Start binds the UDP socket and launches the send loop. If the socket cannot
// be bound nothing is started, LastError is set and the bind error is
// returned. Starting an active sender is a no-op.
func (s *Sender) Start() error {
	s.control.Lock()
	defer s.control.Unlock()

	if s.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.LocalPort)))
	if err != nil {
		s.setLastError("Failed to resolve bind address")
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		s.setLastError("Failed to bind socket")
		return fmt.Errorf("failed to bind UDP socket: %w", err)
	}

	if s.cfg.SocketBufferSize > 0 {
		if err := conn.SetWriteBuffer(s.cfg.SocketBufferSize); err != nil {
			s.logger.Warn("Failed to set UDP write buffer size",
				slog.Int("buffer_size", s.cfg.SocketBufferSize),
				slog.String("error", err.Error()),
			)
		}
	}

	s.conn = conn
	s.packetsSent.Store(0)
	s.bytesSent.Store(0)
	s.sendErrors.Store(0)
	s.lastLoggedErr = ""
	s.setLastError("")

	if err := s.worker.Start(); err != nil {
		s.conn = nil
		conn.Close()
		return fmt.Errorf("failed to start send loop: %w", err)
	}

	address, port := s.Target()
	s.logger.Info("Network sender started",
		slog.String("local_addr", conn.LocalAddr().String()),
		slog.String("target", net.JoinHostPort(address, strconv.Itoa(port))),
		slog.Duration("send_interval", s.SendInterval()),
	)

	return nil
}

// Stop ends the send loop and releases the socket. It waits up to
// JoinTimeout for the loop to notice; if the loop is still blocked in a
// socket call, the socket is closed to unblock it and Stop waits for the
// loop to exit before returning.
func (s *Sender) Stop() {
	s.control.Lock()
	defer s.control.Unlock()

	if s.conn == nil {
		return
	}

	s.worker.Stop()

	closed := false
	if !s.worker.Wait(s.cfg.JoinTimeout) {
		s.logger.Warn("Network sender did not stop in time, closing socket",
			slog.Duration("join_timeout", s.cfg.JoinTimeout),
		)
		s.conn.Close()
		closed = true
		s.worker.Join()
	}

	if !closed {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}
	s.conn = nil

	s.logger.Info("Network sender stopped",
		slog.Uint64("packets_sent", s.packetsSent.Load()),
		slog.Uint64("bytes_sent", s.bytesSent.Load()),
		slog.Uint64("send_errors", s.sendErrors.Load()),
	)
}

// cycle runs one iteration of the send loop on the worker goroutine
func (s *Sender) cycle(_ context.Context) {
	s.settings.Lock()
	supplier := s.supplier
	s.settings.Unlock()

	if supplier == nil || !supplier.FillPacket(&s.packet) {
		return
	}

	target, err := s.resolveTarget()
	if err != nil {
		s.recordSendError(fmt.Sprintf("Failed to resolve target: %v", err))
		return
	}

	s.buf = s.packet.AppendBinary(s.buf[:0])

	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			s.recordSendError(fmt.Sprintf("Failed to set write deadline: %v", err))
			return
		}
	}

	n, err := s.conn.WriteToUDP(s.buf, target)
	if err != nil || n <= 0 {
		s.recordSendError("Send failed")
		if err != nil {
			s.logSendError(err)
		}
		return
	}

	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(n))
}

// resolveTarget returns the cached destination, resolving again only when
// SetTarget has changed it
func (s *Sender) resolveTarget() (*net.UDPAddr, error) {
	s.settings.Lock()
	address, port, version := s.targetAddress, s.targetPort, s.targetVersion
	s.settings.Unlock()

	if s.resolved != nil && s.resolvedFor == version {
		return s.resolved, nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	s.resolved = addr
	s.resolvedFor = version
	return addr, nil
}

func (s *Sender) recordSendError(msg string) {
	s.sendErrors.Add(1)
	s.setLastError(msg)
}

// logSendError logs a send failure once per distinct error message
func (s *Sender) logSendError(err error) {
	if err.Error() == s.lastLoggedErr {
		return
	}
	s.lastLoggedErr = err.Error()

	s.logger.Warn("Failed to send audio packet",
		slog.Uint64("sequence", uint64(s.packet.SequenceNumber)),
		slog.Int("packet_size", len(s.buf)),
		slog.String("error", err.Error()),
	)
}

func (s *Sender) setLastError(msg string) {
	s.settings.Lock()
	s.lastError = msg
	s.settings.Unlock()
}

// SetTarget changes the destination. The loop picks it up on its next cycle.
func (s *Sender) SetTarget(address string, port int) error {
	if address == "" || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %q:%d", ErrInvalidTarget, address, port)
	}

	s.settings.Lock()
	defer s.settings.Unlock()

	if address != s.targetAddress || port != s.targetPort {
		s.targetAddress = address
		s.targetPort = port
		s.targetVersion++
	}
	return nil
}

// Target returns the current destination address and port
func (s *Sender) Target() (string, int) {
	s.settings.Lock()
	defer s.settings.Unlock()
	return s.targetAddress, s.targetPort
}

// SetSendInterval changes the pause between cycles; zero disables it
func (s *Sender) SetSendInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.sendInterval.Store(int64(d))
}

// SendInterval returns the pause between cycles
func (s *Sender) SendInterval() time.Duration {
	return time.Duration(s.sendInterval.Load())
}

// SetSupplier replaces the packet supplier
func (s *Sender) SetSupplier(supplier PacketSupplier) {
	s.settings.Lock()
	s.supplier = supplier
	s.settings.Unlock()
}

// IsActive reports whether the loop is running and no stop has been requested
func (s *Sender) IsActive() bool {
	return s.worker.Running() && !s.worker.StopRequested()
}

// LocalAddr returns the bound socket address, or nil when stopped
func (s *Sender) LocalAddr() net.Addr {
	s.control.Lock()
	defer s.control.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// LastError returns the most recent diagnostic message, empty if none
func (s *Sender) LastError() string {
	s.settings.Lock()
	defer s.settings.Unlock()
	return s.lastError
}

// PacketsSent returns the number of datagrams written since Start
func (s *Sender) PacketsSent() uint64 {
	return s.packetsSent.Load()
}

// BytesSent returns the number of payload bytes written since Start
func (s *Sender) BytesSent() uint64 {
	return s.bytesSent.Load()
}

// SendErrors returns the number of failed cycles since Start
func (s *Sender) SendErrors() uint64 {
	return s.sendErrors.Load()
}
