package gst

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// queuedPuller returns queued packets in order, then nothing
type queuedPuller struct {
	queue    [][]byte
	timeouts []time.Duration
}

func (p *queuedPuller) Pull(timeout time.Duration) []byte {
	p.timeouts = append(p.timeouts, timeout)
	if len(p.queue) == 0 {
		return nil
	}
	packet := p.queue[0]
	p.queue = p.queue[1:]
	return packet
}

func TestDrainReturnsOnePacketPerCall(t *testing.T) {
	samples := &queuedPuller{queue: [][]byte{{1}, {2, 2}, {3, 3, 3}}}
	s := &session{samples: samples, log: zerolog.Nop()}

	for i, want := range [][]byte{{1}, {2, 2}, {3, 3, 3}} {
		packets, err := s.Drain()
		if err != nil {
			t.Fatalf("Drain %d: %v", i, err)
		}
		if len(packets) != 1 || !bytes.Equal(packets[0], want) {
			t.Fatalf("Drain %d = %v, want [%v]", i, packets, want)
		}
	}

	packets, err := s.Drain()
	if err != nil || len(packets) != 0 {
		t.Errorf("Drain on empty queue = %v, %v, want nothing", packets, err)
	}
	for i, timeout := range samples.timeouts {
		if timeout != firstPullTimeout {
			t.Errorf("pull %d waited %v, want %v", i, timeout, firstPullTimeout)
		}
	}
}

func TestDrainAfterClose(t *testing.T) {
	s := &session{samples: &queuedPuller{queue: [][]byte{{1}}}, log: zerolog.Nop(), closed: true}
	if _, err := s.Drain(); err == nil {
		t.Error("Drain succeeded on a closed session")
	}
}
