package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/eenness/Mix2Go/internal/stream"
)

// retryDelay is the pause between connection attempts
var retryDelay = 2 * time.Second

// Conn is the subset of a NATS connection used for publishing
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// ConnAdapter adapts *nats.Conn to Conn
type ConnAdapter struct {
	conn *nats.Conn
}

// NewConnAdapter wraps conn
func NewConnAdapter(conn *nats.Conn) *ConnAdapter {
	return &ConnAdapter{conn: conn}
}

// Publish sends data on subject
func (a *ConnAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

// Close flushes pending messages and closes the connection
func (a *ConnAdapter) Close() {
	_ = a.conn.FlushTimeout(time.Second)
	a.conn.Close()
}

// Connect dials url, retrying up to maxRetries times
func Connect(url string, maxRetries int, logger *slog.Logger) (Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	opts := []nats.Option{
		nats.Name("mix2go-streamer"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error

	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", maxRetries),
			slog.String("error", err.Error()),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", maxRetries, err)
	}

	logger.Info("Connected to NATS", slog.String("url", nc.ConnectedUrl()))
	return NewConnAdapter(nc), nil
}

// SessionSource reports the current streaming session
type SessionSource interface {
	SessionID() string
}

// StateEvent is published on <prefix>.state
type StateEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsEvent is published on <prefix>.stats
type StatsEvent struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	PacketsSent uint64    `json:"packets_sent"`
	BytesSent   uint64    `json:"bytes_sent"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher is a stream.Listener that forwards notifications to NATS.
// Publish failures are logged and otherwise ignored.
type Publisher struct {
	conn    Conn
	prefix  string
	session SessionSource
	logger  *slog.Logger
	now     func() time.Time
}

// NewPublisher creates a publisher for subjects under prefix. session may be nil.
func NewPublisher(conn Conn, prefix string, session SessionSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		conn:    conn,
		prefix:  prefix,
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

// StateSubject returns the subject state events are published on
func (p *Publisher) StateSubject() string {
	return p.prefix + ".state"
}

// StatsSubject returns the subject stats events are published on
func (p *Publisher) StatsSubject() string {
	return p.prefix + ".stats"
}

// OnStateChanged publishes a StateEvent
func (p *Publisher) OnStateChanged(state stream.State) {
	p.publish(p.StateSubject(), StateEvent{
		ID:        uuid.NewString(),
		SessionID: p.sessionID(),
		State:     state.String(),
		Label:     state.Label(),
		Timestamp: p.now(),
	})
}

// OnStatsUpdated publishes a StatsEvent
func (p *Publisher) OnStatsUpdated(packetsSent, bytesSent uint64) {
	p.publish(p.StatsSubject(), StatsEvent{
		ID:          uuid.NewString(),
		SessionID:   p.sessionID(),
		PacketsSent: packetsSent,
		BytesSent:   bytesSent,
		Timestamp:   p.now(),
	})
}

// Close closes the underlying connection
func (p *Publisher) Close() {
	p.conn.Close()
}

func (p *Publisher) sessionID() string {
	if p.session == nil {
		return ""
	}
	return p.session.SessionID()
}

func (p *Publisher) publish(subject string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}
