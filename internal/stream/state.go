package stream

import "fmt"

// State is the connection state of the streaming pipeline
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateStreaming:
		return "Streaming"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Label returns the text shown to users for the state
func (s State) Label() string {
	if s == StateConnecting {
		return "Connecting..."
	}
	return s.String()
}

// Listener receives state transitions and periodic statistics. Callbacks run
// synchronously on the goroutine that caused them and must not block or call
// StartStreaming or StopStreaming.
type Listener interface {
	OnStateChanged(state State)
	OnStatsUpdated(packetsSent, bytesSent uint64)
}

// ListenerFuncs adapts plain functions to Listener. Register it by pointer;
// nil fields are skipped.
type ListenerFuncs struct {
	StateChanged func(state State)
	StatsUpdated func(packetsSent, bytesSent uint64)
}

// OnStateChanged calls StateChanged if set
func (l *ListenerFuncs) OnStateChanged(state State) {
	if l.StateChanged != nil {
		l.StateChanged(state)
	}
}

// OnStatsUpdated calls StatsUpdated if set
func (l *ListenerFuncs) OnStatsUpdated(packetsSent, bytesSent uint64) {
	if l.StatsUpdated != nil {
		l.StatsUpdated(packetsSent, bytesSent)
	}
}
