// Package backend names the audio backends. It has no cgo dependencies so
// configuration code can validate names without linking audio libraries.
package backend

import "slices"

const (
	Native    = "native"
	FFmpeg    = "ffmpeg"
	PortAudio = "portaudio"
	Null      = "null"
)

// Names lists every backend name, including ones that need build tags.
func Names() []string {
	return []string{FFmpeg, Native, Null, PortAudio}
}

// Known reports whether name is a backend name.
func Known(name string) bool {
	return slices.Contains(Names(), name)
}
