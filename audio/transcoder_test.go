package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samples(t *testing.T, pcm []byte) []int16 {
	t.Helper()
	require.Zero(t, len(pcm)%2)
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func pcm(values ...int16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestNewTranscoder(t *testing.T) {
	tc, err := NewTranscoder(8000, 24000)
	require.NoError(t, err)
	assert.Equal(t, 3, tc.Ratio())
	assert.Equal(t, TelephonyFormat, tc.Telephony())
	assert.Equal(t, RealtimeFormat, tc.Linear())

	_, err = NewTranscoder(8000, 22050)
	assert.Error(t, err)
	_, err = NewTranscoder(0, 24000)
	assert.Error(t, err)
}

func TestDecodeZeroFrame(t *testing.T) {
	tc := DefaultTranscoder()
	in := make([]byte, 160)

	linear := tc.DecodeMulaw(in)
	assert.Len(t, linear, 960)
	assert.Len(t, samples(t, linear), 480)

	back := tc.EncodeMulaw(linear)
	assert.Len(t, back, 160)
	assert.Equal(t, in, back)
}

func TestDecodeInterpolates(t *testing.T) {
	tc := DefaultTranscoder()
	// 0x80 expands to 32124, 0xFF to 0.
	got := samples(t, tc.DecodeMulaw([]byte{0x80, 0xFF}))
	assert.Equal(t, []int16{32124, 21416, 10708, 0, 0, 0}, got)
}

func TestDecodeCarriesTrailingSample(t *testing.T) {
	tc := DefaultTranscoder()
	got := samples(t, tc.DecodeMulaw([]byte{0x00}))
	assert.Equal(t, []int16{-32124, -32124, -32124}, got)
}

func TestEncodeDecimates(t *testing.T) {
	tc := DefaultTranscoder()
	in := pcm(0, 1000, 2000, 3000, 4000, 5000, 6000)
	out := tc.EncodeMulaw(in)
	require.Len(t, out, 3)
	assert.Equal(t, LinearToMulaw(0), out[0])
	assert.Equal(t, LinearToMulaw(3000), out[1])
	assert.Equal(t, LinearToMulaw(6000), out[2])
}

func TestEncodeIgnoresTrailingByte(t *testing.T) {
	tc := DefaultTranscoder()
	in := append(pcm(0, 0, 0), 0x7F)
	assert.Len(t, tc.EncodeMulaw(in), 1)
}

func TestRoundTripEveryCodeword(t *testing.T) {
	tc := DefaultTranscoder()
	for c := 0; c < 256; c++ {
		out := tc.EncodeMulaw(tc.DecodeMulaw([]byte{byte(c)}))
		require.Len(t, out, 1, "codeword %#x", c)
		// 0x7F and 0xFF both expand to zero, so compare expanded values.
		assert.Equal(t, MulawToLinear(byte(c)), MulawToLinear(out[0]), "codeword %#x", c)
	}
}

func TestRoundTripRepresentativeBuffer(t *testing.T) {
	tc := DefaultTranscoder()
	in := make([]byte, 0, 256)
	for c := 0; c < 256; c++ {
		in = append(in, byte(c))
	}
	out := tc.EncodeMulaw(tc.DecodeMulaw(in))
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, MulawToLinear(in[i]), MulawToLinear(out[i]))
	}
}

func TestTranscodingDeterministic(t *testing.T) {
	tc := DefaultTranscoder()
	in := []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	assert.Equal(t, tc.DecodeMulaw(in), tc.DecodeMulaw(in))
	lin := tc.DecodeMulaw(in)
	assert.Equal(t, tc.EncodeMulaw(lin), tc.EncodeMulaw(lin))
}

func TestLinearToMulawClips(t *testing.T) {
	assert.Equal(t, LinearToMulaw(32635), LinearToMulaw(32767))
	assert.Equal(t, LinearToMulaw(-32635), LinearToMulaw(-32768))
	assert.Equal(t, byte(0xFF), LinearToMulaw(0))
}

func TestRoundDiv(t *testing.T) {
	tests := []struct {
		num, den, want int64
	}{
		{5, 2, 3},
		{-5, 2, -3},
		{4, 3, 1},
		{-5, 3, -2},
		{0, 3, 0},
		{7, 1, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, roundDiv(tt.num, tt.den), "%d/%d", tt.num, tt.den)
	}
}
