package gst

import (
	"strings"
	"testing"

	"github.com/bryanchriswhite/capturepipe/internal/encode"
)

func TestPipelineString(t *testing.T) {
	p := encode.Params{Width: 1920, Height: 1080, FrameRate: 30, Bitrate: 5000000, GOPLength: 60}
	v := NVENC()
	got := pipelineString(v.element, v.props(p), p)

	for _, want := range []string{
		"width=1920,height=1080,framerate=30/1",
		"nvh264enc bitrate=5000 gop-size=60",
		"stream-format=byte-stream,alignment=au",
		"appsink name=sink",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("pipeline %q missing %q", got, want)
		}
	}
}

func TestVendors(t *testing.T) {
	tests := []struct {
		v       *Vendor
		name    string
		element string
	}{
		{NVENC(), "nvenc", "nvh264enc"},
		{AMF(), "amf", "amfh264enc"},
	}
	for _, tt := range tests {
		if tt.v.Name() != tt.name || tt.v.element != tt.element {
			t.Errorf("vendor %s uses %s", tt.v.Name(), tt.v.element)
		}
	}
}

func TestOpenRejectsEmptySize(t *testing.T) {
	if _, err := AMF().Open(encode.Params{}); err == nil {
		t.Error("Open accepted a 0x0 input")
	}
}
