package audio

import (
	"errors"
	"fmt"
)

// G.711 μ-law constants.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// ErrMalformedFrame is returned for frames whose byte length does not match
// their declared encoding. Callers log and drop the frame; it is never a
// call-ending fault.
var ErrMalformedFrame = errors.New("audio: malformed frame")

// DecodeMulaw expands a μ-law frame to 16-bit linear PCM at the same sample
// rate. The input frame's Encoding must be EncMulaw.
func DecodeMulaw(f Frame) (Frame, error) {
	if f.Encoding != EncMulaw {
		return Frame{}, fmt.Errorf("audio: decode: frame encoding is %s, want mulaw", f.Encoding)
	}
	out := make([]byte, len(f.Data)*2)
	for i, b := range f.Data {
		s := mulawToLinear(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return Frame{
		Data:       out,
		SampleRate: f.SampleRate,
		Encoding:   EncPCM16,
		Timestamp:  f.Timestamp,
	}, nil
}

// EncodeMulaw compands a 16-bit linear PCM frame to μ-law at the same sample
// rate. A PCM payload whose length is not a multiple of the sample width is
// rejected with ErrMalformedFrame.
func EncodeMulaw(f Frame) (Frame, error) {
	if f.Encoding != EncPCM16 {
		return Frame{}, fmt.Errorf("audio: encode: frame encoding is %s, want pcm16", f.Encoding)
	}
	if len(f.Data)%2 != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes is not a whole number of pcm16 samples", ErrMalformedFrame, len(f.Data))
	}
	out := make([]byte, len(f.Data)/2)
	for i := range out {
		s := int16(f.Data[i*2]) | int16(f.Data[i*2+1])<<8
		out[i] = linearToMulaw(s)
	}
	return Frame{
		Data:       out,
		SampleRate: f.SampleRate,
		Encoding:   EncMulaw,
		Timestamp:  f.Timestamp,
	}, nil
}

// mulawToLinear expands one μ-law byte to a linear sample.
func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + mulawBias
	value <<= uint(exp)
	value -= mulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// linearToMulaw compands one linear sample to a μ-law byte.
func linearToMulaw(sample int16) byte {
	s := int(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exp := byte(7)
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((s >> (exp + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}
