// Package source provides the audio inputs that feed the stream manager:
// live capture through PortAudio, WAV file playback and a sine test tone.
// File and tone sources are paced at real time so the downstream FIFO sees
// the same block cadence a sound card would produce.
//
// PortAudio capture needs cgo and the PortAudio library; build with
// -tags portaudio to enable it.
package source
