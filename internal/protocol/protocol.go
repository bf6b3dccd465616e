package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Protocol constants
const (
	// Magic identifies a Mix2Go audio datagram ("M2G0")
	Magic uint32 = 0x4D324730

	// Packet structure sizes
	HeaderSize     = 26 // 4 + 4 + 2 + 4 + 8 + 4 bytes
	BytesPerSample = 4  // float32

	// MaxPacketSize is the largest payload a single IPv4 UDP datagram can carry
	MaxPacketSize = 65507

	// Header field offsets
	offsetMagic      = 0
	offsetSampleRate = 4
	offsetChannels   = 8
	offsetSamples    = 10
	offsetTimestamp  = 14
	offsetSequence   = 22
)

// All multi-byte fields are little-endian on the wire.
var byteOrder = binary.LittleEndian

var (
	ErrPacketTooShort      = errors.New("packet too short")
	ErrInvalidMagic        = errors.New("invalid packet magic")
	ErrSampleCountMismatch = errors.New("audio data length does not match header")
)

// AudioPacket is one datagram of interleaved float audio plus its metadata
// Layout: [Magic:4][SampleRate:4][NumChannels:2][NumSamples:4][Timestamp:8][Sequence:4][AudioData:N*4]
type AudioPacket struct {
	Magic          uint32    // Always Magic for packets built here
	SampleRate     uint32    // Hz
	NumChannels    uint16    // Interleaved channel count
	NumSamples     uint32    // Samples per channel
	Timestamp      uint64    // Microseconds since stream start
	SequenceNumber uint32    // Per-session counter, wraps on overflow
	AudioData      []float32 // s0c0, s0c1, ..., s1c0, ...
}

// NewAudioPacket creates a packet with the magic set and room for samples*channels floats
func NewAudioPacket(sampleRate uint32, channels uint16, samples uint32) *AudioPacket {
	return &AudioPacket{
		Magic:       Magic,
		SampleRate:  sampleRate,
		NumChannels: channels,
		NumSamples:  samples,
		AudioData:   make([]float32, int(channels)*int(samples)),
	}
}

// Size returns the serialized size of the packet in bytes
func (p *AudioPacket) Size() int {
	return HeaderSize + len(p.AudioData)*BytesPerSample
}

// Validate checks the packet invariants before it is put on the wire
func (p *AudioPacket) Validate() error {
	if p.Magic != Magic {
		return fmt.Errorf("%w: 0x%08X (expected 0x%08X)", ErrInvalidMagic, p.Magic, Magic)
	}

	expected := int(p.NumChannels) * int(p.NumSamples)
	if len(p.AudioData) != expected {
		return fmt.Errorf("%w: %d channels x %d samples needs %d floats, got %d",
			ErrSampleCountMismatch, p.NumChannels, p.NumSamples, expected, len(p.AudioData))
	}

	if p.Size() > MaxPacketSize {
		return fmt.Errorf("packet too large: %d bytes (max %d)", p.Size(), MaxPacketSize)
	}

	return nil
}

// Serialize encodes the packet into a newly allocated buffer
func (p *AudioPacket) Serialize() []byte {
	return p.AppendBinary(make([]byte, 0, p.Size()))
}

// AppendBinary appends the encoded packet to dst and returns the extended slice.
// Passing a reused buffer with enough capacity avoids any allocation.
func (p *AudioPacket) AppendBinary(dst []byte) []byte {
	start := len(dst)
	size := p.Size()

	if cap(dst)-start < size {
		grown := make([]byte, start, start+size)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+size]
	buf := dst[start:]

	byteOrder.PutUint32(buf[offsetMagic:], p.Magic)
	byteOrder.PutUint32(buf[offsetSampleRate:], p.SampleRate)
	byteOrder.PutUint16(buf[offsetChannels:], p.NumChannels)
	byteOrder.PutUint32(buf[offsetSamples:], p.NumSamples)
	byteOrder.PutUint64(buf[offsetTimestamp:], p.Timestamp)
	byteOrder.PutUint32(buf[offsetSequence:], p.SequenceNumber)

	offset := HeaderSize
	for _, sample := range p.AudioData {
		byteOrder.PutUint32(buf[offset:], math.Float32bits(sample))
		offset += BytesPerSample
	}

	return dst
}

// Deserialize decodes a datagram. Any trailing bytes that do not form a
// whole float are ignored.
func Deserialize(data []byte) (*AudioPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrPacketTooShort, HeaderSize, len(data))
	}

	magic := byteOrder.Uint32(data[offsetMagic:])
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X (expected 0x%08X)", ErrInvalidMagic, magic, Magic)
	}

	packet := &AudioPacket{
		Magic:          magic,
		SampleRate:     byteOrder.Uint32(data[offsetSampleRate:]),
		NumChannels:    byteOrder.Uint16(data[offsetChannels:]),
		NumSamples:     byteOrder.Uint32(data[offsetSamples:]),
		Timestamp:      byteOrder.Uint64(data[offsetTimestamp:]),
		SequenceNumber: byteOrder.Uint32(data[offsetSequence:]),
	}

	numFloats := (len(data) - HeaderSize) / BytesPerSample
	if numFloats > 0 {
		packet.AudioData = make([]float32, numFloats)
		offset := HeaderSize
		for i := range packet.AudioData {
			packet.AudioData[i] = math.Float32frombits(byteOrder.Uint32(data[offset:]))
			offset += BytesPerSample
		}
	}

	return packet, nil
}

// String returns a human-readable representation of the packet
func (p *AudioPacket) String() string {
	return fmt.Sprintf("AudioPacket{Seq:%d, Timestamp:%dus, Rate:%d, Channels:%d, Samples:%d, Bytes:%d}",
		p.SequenceNumber, p.Timestamp, p.SampleRate, p.NumChannels, p.NumSamples, p.Size())
}
