package audio

import (
	"encoding/binary"
	"fmt"
)

// Transcoder converts between the telephony and realtime formats. The
// realtime rate must be an integer multiple of the telephony rate.
type Transcoder struct {
	telephony Format
	linear    Format
	ratio     int
}

// NewTranscoder returns a transcoder between μ-law at telephonyRate and
// PCM16 at linearRate.
func NewTranscoder(telephonyRate, linearRate int) (*Transcoder, error) {
	if telephonyRate <= 0 || linearRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive: %d/%d", telephonyRate, linearRate)
	}
	if linearRate%telephonyRate != 0 {
		return nil, fmt.Errorf("linear rate %d is not a multiple of telephony rate %d", linearRate, telephonyRate)
	}
	return &Transcoder{
		telephony: Format{Encoding: EncodingMulaw, SampleRate: telephonyRate},
		linear:    Format{Encoding: EncodingPCM16, SampleRate: linearRate},
		ratio:     linearRate / telephonyRate,
	}, nil
}

// DefaultTranscoder converts 8kHz μ-law to and from 24kHz PCM16.
func DefaultTranscoder() *Transcoder {
	return &Transcoder{telephony: TelephonyFormat, linear: RealtimeFormat, ratio: RealtimeFormat.SampleRate / TelephonyFormat.SampleRate}
}

// Telephony returns the μ-law side format.
func (t *Transcoder) Telephony() Format { return t.telephony }

// Linear returns the PCM16 side format.
func (t *Transcoder) Linear() Format { return t.linear }

// Ratio returns the resampling factor.
func (t *Transcoder) Ratio() int { return t.ratio }

// DecodeMulaw expands μ-law bytes and upsamples them by linear
// interpolation. Output holds exactly len(in)*ratio little-endian samples.
func (t *Transcoder) DecodeMulaw(in []byte) []byte {
	out := make([]byte, len(in)*t.ratio*2)
	r := int64(t.ratio)
	pos := 0
	for i := range in {
		a := int64(MulawToLinear(in[i]))
		b := a
		if i+1 < len(in) {
			b = int64(MulawToLinear(in[i+1]))
		}
		for k := int64(0); k < r; k++ {
			v := roundDiv(a*(r-k)+b*k, r)
			binary.LittleEndian.PutUint16(out[pos:], uint16(int16(v)))
			pos += 2
		}
	}
	return out
}

// EncodeMulaw decimates PCM16 by the resampling ratio and compands each
// retained sample. A trailing odd byte is ignored.
func (t *Transcoder) EncodeMulaw(in []byte) []byte {
	samples := len(in) / 2
	out := make([]byte, 0, (samples+t.ratio-1)/t.ratio)
	for i := 0; i < samples; i += t.ratio {
		s := int16(binary.LittleEndian.Uint16(in[i*2:]))
		out = append(out, LinearToMulaw(s))
	}
	return out
}

// roundDiv divides rounding half away from zero.
func roundDiv(num, den int64) int64 {
	neg := num < 0
	if neg {
		num = -num
	}
	q := (2*num + den) / (2 * den)
	if neg {
		return -q
	}
	return q
}
