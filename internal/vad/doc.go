// Package vad provides the peak-amplitude silence gate used to withhold
// near-silent audio from the network stream, with a short hold so the signal
// flag does not flicker on near-threshold material.
package vad
