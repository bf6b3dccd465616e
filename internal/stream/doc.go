// Package stream coordinates a streaming session: it owns the FIFO between the
// audio callback and the network sender, the silence gate, the packet
// sequence and the state machine (Disconnected, Connecting, Streaming, Error)
// reported to registered listeners.
package stream
