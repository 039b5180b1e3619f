package pipeline

import (
	"fmt"
	"sync"
)

// Device is the shared capture device handle. Encoders that need the
// capture device (for zero-copy paths) type-assert it to what they expect.
type Device interface {
	Name() string
}

// Resolution is the input frame size
type Resolution struct {
	Width  int
	Height int
}

// AudioFormat describes interleaved PCM produced by the audio stage
type AudioFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BlockAlign is the size of one frame across all channels in bytes
func (f AudioFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate is the number of bytes per second of audio
func (f AudioFormat) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Field identifies a context value for composition checks
type Field string

const (
	FieldDevice      Field = "device"
	FieldResolution  Field = "resolution"
	FieldAudioFormat Field = "audioFormat"
)

// Context carries values discovered by early stages during initialization.
// Every field is written at most once; reads of unset fields return zero
// values.
type Context struct {
	mu         sync.RWMutex
	device     Device
	resolution *Resolution
	audio      *AudioFormat
}

// NewContext returns an empty context
func NewContext() *Context {
	return &Context{}
}

// SetDevice records the shared device handle
func (c *Context) SetDevice(d Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return fmt.Errorf("%w: %s", ErrFieldSet, FieldDevice)
	}
	c.device = d
	return nil
}

// SetResolution records the input frame size
func (c *Context) SetResolution(r Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolution != nil {
		return fmt.Errorf("%w: %s", ErrFieldSet, FieldResolution)
	}
	c.resolution = &r
	return nil
}

// SetAudioFormat records the negotiated PCM format
func (c *Context) SetAudioFormat(f AudioFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audio != nil {
		return fmt.Errorf("%w: %s", ErrFieldSet, FieldAudioFormat)
	}
	c.audio = &f
	return nil
}

func (c *Context) Device() Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// Resolution returns the input size and whether it was set
func (c *Context) Resolution() (Resolution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.resolution == nil {
		return Resolution{}, false
	}
	return *c.resolution, true
}

// AudioFormat returns the PCM format and whether it was set
func (c *Context) AudioFormat() (AudioFormat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.audio == nil {
		return AudioFormat{}, false
	}
	return *c.audio, true
}
