package sink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
)

func testConfig(t *testing.T, name string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.FileName = filepath.Join(t.TempDir(), name)
	return &cfg
}

func TestFileSinkWritesVerbatim(t *testing.T) {
	cfg := testConfig(t, "out.h264")
	s := NewFileSink()
	if err := s.Initialize(cfg, pipeline.NewContext()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var want []byte
	for i := 0; i < 3; i++ {
		data := bytes.Repeat([]byte{byte(i + 1)}, 100)
		want = append(want, data...)
		out, err := s.Process(&pipeline.Packet{Data: data})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if out != pipeline.NoOutput {
			t.Fatalf("Process returned %v, want NoOutput", out)
		}
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	got, err := os.ReadFile(cfg.Output.FileName)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("file has %d bytes, want %d", len(got), len(want))
	}
}

func TestFileSinkUnwritablePathFailsInit(t *testing.T) {
	cfg := config.Default()
	cfg.Output.FileName = filepath.Join(t.TempDir(), "missing", "dir", "out.h264")
	if err := NewFileSink().Initialize(&cfg, pipeline.NewContext()); err == nil {
		t.Fatal("Initialize succeeded on an unwritable path")
	}
}

func TestFileSinkRejectsNonPayload(t *testing.T) {
	cfg := testConfig(t, "out.h264")
	s := NewFileSink()
	if err := s.Initialize(cfg, pipeline.NewContext()); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	if _, err := s.Process(pipeline.NoOutput); !errors.Is(err, pipeline.ErrInvariant) {
		t.Errorf("Process(NoOutput) = %v, want ErrInvariant", err)
	}
}

func cdFormat(t *testing.T) *pipeline.Context {
	t.Helper()
	pctx := pipeline.NewContext()
	err := pctx.SetAudioFormat(pipeline.AudioFormat{SampleRate: 44100, Channels: 2, BitsPerSample: 16})
	if err != nil {
		t.Fatal(err)
	}
	return pctx
}

func TestWavHeaderLayout(t *testing.T) {
	cfg := testConfig(t, "out.wav")
	cfg.Output.FinalizeWAVHeader = false
	s := NewWavSink()
	if err := s.Initialize(cfg, cdFormat(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatal(err)
	}

	h, err := os.ReadFile(cfg.Output.FileName)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != HeaderSize {
		t.Fatalf("file is %d bytes, want %d", len(h), HeaderSize)
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"chunkSize", le.Uint32(h[4:8]), 36},
		{"subChunk1Size", le.Uint32(h[16:20]), 16},
		{"audioFormat", uint32(le.Uint16(h[20:22])), 1},
		{"channels", uint32(le.Uint16(h[22:24])), 2},
		{"sampleRate", le.Uint32(h[24:28]), 44100},
		{"byteRate", le.Uint32(h[28:32]), 176400},
		{"blockAlign", uint32(le.Uint16(h[32:34])), 4},
		{"bitsPerSample", uint32(le.Uint16(h[34:36])), 16},
		{"subChunk2Size", le.Uint32(h[40:44]), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" ||
		string(h[12:16]) != "fmt " || string(h[36:40]) != "data" {
		t.Errorf("bad chunk ids in %q", h)
	}
}

func TestWavSinkSizes(t *testing.T) {
	tests := []struct {
		name      string
		finalize  bool
		wantData  uint32
		wantChunk uint32
	}{
		{"placeholder sizes", false, 0, 36},
		{"finalized sizes", true, 4000, 4036},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "out.wav")
			cfg.Output.FinalizeWAVHeader = tt.finalize
			s := NewWavSink()
			if err := s.Initialize(cfg, cdFormat(t)); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 4; i++ {
				buf := &pipeline.PCMBuffer{Data: make([]byte, 1000), Frames: 250}
				if _, err := s.Process(buf); err != nil {
					t.Fatal(err)
				}
			}
			if err := s.Shutdown(); err != nil {
				t.Fatal(err)
			}

			data, err := os.ReadFile(cfg.Output.FileName)
			if err != nil {
				t.Fatal(err)
			}
			if len(data) != HeaderSize+4000 {
				t.Fatalf("file is %d bytes, want %d", len(data), HeaderSize+4000)
			}
			if got := binary.LittleEndian.Uint32(data[40:44]); got != tt.wantData {
				t.Errorf("data size = %d, want %d", got, tt.wantData)
			}
			if got := binary.LittleEndian.Uint32(data[4:8]); got != tt.wantChunk {
				t.Errorf("chunk size = %d, want %d", got, tt.wantChunk)
			}
		})
	}
}
