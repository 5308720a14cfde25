// Package audio converts between Twilio's μ-law telephony audio and the
// 16-bit linear PCM expected by realtime voice AI services.
//
// Every conversion is pure and deterministic: the same input always yields
// byte-identical output.
package audio

import (
	"fmt"
	"time"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
)

// Encoding identifies a sample encoding.
type Encoding int

const (
	// EncodingMulaw is 8-bit G.711 μ-law.
	EncodingMulaw Encoding = iota
	// EncodingPCM16 is 16-bit signed little-endian linear PCM.
	EncodingPCM16
)

func (e Encoding) String() string {
	switch e {
	case EncodingMulaw:
		return "mulaw"
	case EncodingPCM16:
		return "pcm16"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// BytesPerSample returns the width of one sample.
func (e Encoding) BytesPerSample() int {
	if e == EncodingPCM16 {
		return 2
	}
	return 1
}

// Format is an encoding at a fixed sample rate.
type Format struct {
	Encoding   Encoding
	SampleRate int
}

// TelephonyFormat is what Twilio sends and expects on Media Streams.
var TelephonyFormat = Format{Encoding: EncodingMulaw, SampleRate: voicebridge.TelephonySampleRate}

// RealtimeFormat is what the realtime AI consumes and produces.
var RealtimeFormat = Format{Encoding: EncodingPCM16, SampleRate: voicebridge.RealtimeSampleRate}

func (f Format) String() string {
	return fmt.Sprintf("%s/%d", f.Encoding, f.SampleRate)
}

// BytesPerSample returns the width of one sample in f.
func (f Format) BytesPerSample() int {
	return f.Encoding.BytesPerSample()
}

// Validate reports whether buf is well formed for format. μ-law buffers of
// any nonzero length are valid; PCM16 buffers must hold whole samples.
func Validate(buf []byte, format Format) bool {
	switch format.Encoding {
	case EncodingMulaw:
		return len(buf) > 0
	case EncodingPCM16:
		return len(buf)%2 == 0
	default:
		return false
	}
}

// Duration returns the playback time of buf in format.
func Duration(buf []byte, format Format) time.Duration {
	if format.SampleRate <= 0 {
		return 0
	}
	samples := len(buf) / format.BytesPerSample()
	return time.Duration(samples) * time.Second / time.Duration(format.SampleRate)
}

// Chunk is an immutable slice of audio in a known format. Seq is the
// chunk's position within the stream that produced it.
type Chunk struct {
	data   []byte
	format Format
	seq    uint64
}

// NewChunk copies data into a new chunk.
func NewChunk(data []byte, format Format, seq uint64) Chunk {
	return Chunk{data: clone(data), format: format, seq: seq}
}

// Bytes returns a copy of the chunk's audio.
func (c Chunk) Bytes() []byte { return clone(c.data) }

// Len returns the chunk size in bytes.
func (c Chunk) Len() int { return len(c.data) }

// Format returns the chunk's format.
func (c Chunk) Format() Format { return c.format }

// Seq returns the chunk's position in its stream.
func (c Chunk) Seq() uint64 { return c.seq }

// Duration returns the chunk's playback time.
func (c Chunk) Duration() time.Duration { return Duration(c.data, c.format) }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
