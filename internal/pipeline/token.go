package pipeline

import "image"

// Token is the per-tick value passed from one stage to the next. It is one of
// *Frame, *PCMBuffer, *Packet or NoOutput.
//
// A token is owned by the stage that produced it and is only valid until that
// stage's next Process call.
type Token interface {
	isToken()
}

// Payload is a token carrying bytes a sink can write verbatim
type Payload interface {
	Token
	Bytes() []byte
}

type noOutput struct{}

func (noOutput) isToken() {}

// NoOutput signals that a stage has nothing for downstream stages this tick.
// The engine stops the tick early when it sees it.
var NoOutput Token = noOutput{}

// Empty reports whether t carries no data
func Empty(t Token) bool {
	return t == nil || t == NoOutput
}

// Frame is a captured video frame
type Frame struct {
	Image *image.RGBA
	// Seq counts successful acquisitions; a repeated Seq marks a stale frame
	Seq   uint64
}

func (*Frame) isToken() {}

// Bytes returns the raw RGBA pixels
func (f *Frame) Bytes() []byte {
	if f == nil || f.Image == nil {
		return nil
	}
	return f.Image.Pix
}

// PCMBuffer holds interleaved PCM samples in the context's audio format
type PCMBuffer struct {
	Data   []byte
	Frames int
}

func (*PCMBuffer) isToken() {}

func (b *PCMBuffer) Bytes() []byte {
	return b.Data
}

// Packet is one compressed access unit from an encoder
type Packet struct {
	Data []byte
}

func (*Packet) isToken() {}

func (p *Packet) Bytes() []byte {
	return p.Data
}
