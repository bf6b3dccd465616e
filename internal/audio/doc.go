// Package audio provides the lock-free single-producer/single-consumer ring
// buffer that carries multi-channel float samples from the real-time capture
// callback to the network sender goroutine.
package audio
