// Package events publishes stream state changes and statistics as JSON
// messages on NATS so remote monitors can follow a streaming session.
package events
