// Package protocol implements the Mix2Go UDP audio packet codec.
// It defines the fixed 26-byte little-endian header, serializes interleaved
// float32 audio behind it, and validates datagrams on decode.
package protocol
