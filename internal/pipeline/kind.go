package pipeline

import (
	"fmt"
	"strings"
)

// Kind names a stage variant the engine can construct
type Kind string

const (
	KindCaptureDesktop Kind = "capture-desktop"
	KindCaptureWindow  Kind = "capture-window"
	// KindEncodeA is the primary hardware encoder (NVENC)
	KindEncodeA Kind = "encode-A"
	// KindEncodeB is the fallback hardware encoder (AMF)
	KindEncodeB      Kind = "encode-B"
	KindAudioCapture Kind = "audio-capture"
	KindWavSink      Kind = "wav-sink"
	KindFileSink     Kind = "file-sink"
)

// Kinds returns every known stage kind in declaration order
func Kinds() []Kind {
	return []Kind{
		KindCaptureDesktop,
		KindCaptureWindow,
		KindEncodeA,
		KindEncodeB,
		KindAudioCapture,
		KindWavSink,
		KindFileSink,
	}
}

// ParseKind resolves a kind name case-insensitively
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string {
	return string(k)
}
