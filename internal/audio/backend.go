// Package audio implements the audio capture stage and the device contract
// its backends satisfy.
package audio

import (
	"time"
)

// Encoding is the sample encoding of a mix format
type Encoding int

const (
	EncodingPCM Encoding = iota
	EncodingFloat
	// EncodingExtensible defers to MixFormat.SubFormat
	EncodingExtensible
)

func (e Encoding) String() string {
	switch e {
	case EncodingPCM:
		return "pcm"
	case EncodingFloat:
		return "float"
	case EncodingExtensible:
		return "extensible"
	default:
		return "unknown"
	}
}

// MixFormat is the format a device mixes in
type MixFormat struct {
	Encoding           Encoding
	// SubFormat is only meaningful for EncodingExtensible
	SubFormat          Encoding
	SampleRate         int
	Channels           int
	BitsPerSample      int
	ValidBitsPerSample int
}

// BlockAlign is the size of one frame in bytes
func (f MixFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate is the number of bytes per second
func (f MixFormat) ByteRate() int {
	return f.BlockAlign() * f.SampleRate
}

// IsFloat reports whether samples are floating point, directly or through
// an extensible sub-format
func (f MixFormat) IsFloat() bool {
	return f.Encoding == EncodingFloat ||
		(f.Encoding == EncodingExtensible && f.SubFormat == EncodingFloat)
}

// CoercePCM16 rewrites floating point formats to 16-bit PCM. Integer formats
// are returned unchanged.
func CoercePCM16(f MixFormat) MixFormat {
	switch {
	case f.Encoding == EncodingFloat:
		f.Encoding = EncodingPCM
		f.BitsPerSample = 16
		f.ValidBitsPerSample = 16
	case f.Encoding == EncodingExtensible && f.SubFormat == EncodingFloat:
		f.SubFormat = EncodingPCM
		f.BitsPerSample = 16
		f.ValidBitsPerSample = 16
	}
	return f
}

// Opener opens an audio endpoint. An empty name selects the default device
// for the direction; loopback selects the render (system output) side.
type Opener func(name string, loopback bool) (Device, error)

// Device is an opened audio endpoint. Close releases any library state
// acquired when it was opened.
type Device interface {
	Name() string
	MixFormat() (MixFormat, error)

	// DevicePeriod is the device's native buffer period
	DevicePeriod() time.Duration

	OpenCapture(f MixFormat) (CaptureClient, error)

	// OpenRender opens an output client that plays silence while started
	OpenRender(f MixFormat) (RenderClient, error)

	Close() error
}

// CaptureClient reads packets of interleaved frames
type CaptureClient interface {
	Start() error

	// NextPacketSize returns the frame count of the next packet, or 0 when
	// nothing is queued
	NextPacketSize() (int, error)

	// ReadPacket returns the next packet. The data is valid until
	// ReleasePacket.
	ReadPacket() (data []byte, frames int, err error)
	ReleasePacket(frames int) error

	Close() error
}

// RenderClient keeps an output stream busy with silence
type RenderClient interface {
	Start() error
	Close() error
}
