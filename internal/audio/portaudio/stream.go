package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// captureClient adapts a blocking PortAudio stream to packet reads. A packet
// is always framesPerBuffer frames.
type captureClient struct {
	stream   *portaudio.Stream
	channels int
	samples  []int16
	data     []byte
	log      zerolog.Logger
	started  bool
}

func (c *captureClient) Start() error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	c.started = true
	return nil
}

// NextPacketSize reports a full packet once enough frames are buffered
func (c *captureClient) NextPacketSize() (int, error) {
	avail, err := c.stream.AvailableToRead()
	if err != nil {
		return 0, fmt.Errorf("failed to query stream: %w", err)
	}
	if avail < framesPerBuffer {
		return 0, nil
	}
	return framesPerBuffer, nil
}

func (c *captureClient) ReadPacket() ([]byte, int, error) {
	if err := c.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, 0, fmt.Errorf("failed to read audio stream: %w", err)
		}
		c.log.Warn().Msg("Audio input overflowed, samples were dropped")
	}
	samplesToBytes(c.data, c.samples)
	return c.data, framesPerBuffer, nil
}

func (c *captureClient) ReleasePacket(int) error {
	return nil
}

func (c *captureClient) Close() error {
	if c.started {
		c.stream.Stop()
		c.started = false
	}
	return c.stream.Close()
}

// samplesToBytes writes little-endian int16 samples into dst
func samplesToBytes(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

type renderClient struct {
	stream  *portaudio.Stream
	started bool
}

func (r *renderClient) Start() error {
	if err := r.stream.Start(); err != nil {
		return fmt.Errorf("failed to start keep-alive stream: %w", err)
	}
	r.started = true
	return nil
}

func (r *renderClient) Close() error {
	if r.started {
		r.stream.Stop()
		r.started = false
	}
	return r.stream.Close()
}
