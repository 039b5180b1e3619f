// Package portaudio implements the audio device contract with PortAudio.
// Loopback capture reads a PulseAudio/PipeWire monitor source.
package portaudio

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/audio"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// framesPerBuffer is the blocking read size, roughly 10ms at 48kHz
const framesPerBuffer = 480

// monitorSuffix marks the loopback side of an output on PulseAudio and
// PipeWire
const monitorSuffix = "monitor"

// lifecycleMu serializes Initialize and Terminate. PortAudio's reference
// count is not thread-safe.
var lifecycleMu sync.Mutex

// Device is an opened PortAudio endpoint. Each Device holds its own
// Initialize/Terminate pair; PortAudio reference counts them.
type Device struct {
	info   *portaudio.DeviceInfo
	output *portaudio.DeviceInfo
	log    zerolog.Logger
	closed bool
}

// Open initializes PortAudio and selects a device. An empty name picks the
// default input, or the first monitor source for loopback.
func Open(name string, loopback bool) (audio.Device, error) {
	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	var output *portaudio.DeviceInfo
	if loopback {
		if out, err := portaudio.DefaultOutputDevice(); err == nil {
			output = out
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	info, err := selectDevice(devices, name, loopback, output)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	d := &Device{
		info:   info,
		output: output,
		log:    *logger.WithComponent("portaudio"),
	}
	return d, nil
}

// selectDevice picks the capture device. For loopback it prefers the monitor
// of output, so the keep-alive silence plays on the sink being recorded.
func selectDevice(devices []*portaudio.DeviceInfo, name string, loopback bool, output *portaudio.DeviceInfo) (*portaudio.DeviceInfo, error) {
	if name != "" {
		for _, d := range devices {
			if d.Name == name && d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		return nil, fmt.Errorf("device not found: %s", name)
	}

	if loopback {
		var monitors []*portaudio.DeviceInfo
		for _, d := range devices {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), monitorSuffix) {
				monitors = append(monitors, d)
			}
		}
		if len(monitors) == 0 {
			return nil, errors.New("no monitor source found for loopback capture")
		}
		if output != nil {
			want := strings.ToLower(output.Name)
			for _, m := range monitors {
				if strings.Contains(strings.ToLower(m.Name), want) {
					return m, nil
				}
			}
		}
		return monitors[0], nil
	}

	d, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get default input device: %w", err)
	}
	return d, nil
}

func (d *Device) Name() string {
	return d.info.Name
}

// MixFormat reports the device's native float format. PortAudio converts
// to int16 for us once the stage coerces it.
func (d *Device) MixFormat() (audio.MixFormat, error) {
	channels := min(d.info.MaxInputChannels, 2)
	if channels <= 0 {
		return audio.MixFormat{}, fmt.Errorf("device %q has no input channels", d.info.Name)
	}
	return audio.MixFormat{
		Encoding:           audio.EncodingFloat,
		SampleRate:         int(d.info.DefaultSampleRate),
		Channels:           channels,
		BitsPerSample:      32,
		ValidBitsPerSample: 32,
	}, nil
}

func (d *Device) DevicePeriod() time.Duration {
	return d.info.DefaultLowInputLatency
}

// OpenCapture opens a blocking int16 input stream
func (d *Device) OpenCapture(f audio.MixFormat) (audio.CaptureClient, error) {
	if f.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported capture depth %d", f.BitsPerSample)
	}

	c := &captureClient{
		channels: f.Channels,
		samples:  make([]int16, framesPerBuffer*f.Channels),
		log:      d.log,
	}
	c.data = make([]byte, len(c.samples)*2)

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: f.Channels,
			Latency:  d.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, c.samples)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	c.stream = stream
	return c, nil
}

// OpenRender opens an output stream on the default output that writes
// silence from its callback
func (d *Device) OpenRender(f audio.MixFormat) (audio.RenderClient, error) {
	if d.output == nil {
		return nil, errors.New("no output device for keep-alive")
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   d.output,
			Channels: min(f.Channels, d.output.MaxOutputChannels),
			Latency:  d.output.DefaultHighOutputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}, func(out []int16) {
		clear(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keep-alive stream: %w", err)
	}
	return &renderClient{stream: stream}, nil
}

// Close terminates this device's PortAudio reference
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}
