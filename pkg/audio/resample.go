package audio

import "fmt"

// Resample converts a mono 16-bit PCM frame to the target sample rate using
// linear interpolation. Downsampling uses the same interpolation loop, which
// amounts to fixed-ratio decimation. The interpolation is intentionally not
// band-limited; it trades audio fidelity for predictable low latency.
//
// The output length is deterministic: N input samples at rate R1 always yield
// exactly floor(N * R2 / R1) samples at rate R2.
func Resample(f Frame, toRate int) (Frame, error) {
	if f.Encoding != EncPCM16 {
		return Frame{}, fmt.Errorf("audio: resample: frame encoding is %s, want pcm16", f.Encoding)
	}
	if len(f.Data)%2 != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes is not a whole number of pcm16 samples", ErrMalformedFrame, len(f.Data))
	}
	if f.SampleRate <= 0 || toRate <= 0 {
		return Frame{}, fmt.Errorf("audio: resample: invalid rates %d -> %d", f.SampleRate, toRate)
	}
	if f.SampleRate == toRate {
		return f, nil
	}

	srcSamples := len(f.Data) / 2
	dstSamples := int(int64(srcSamples) * int64(toRate) / int64(f.SampleRate))
	out := make([]byte, dstSamples*2)
	ratio := float64(f.SampleRate) / float64(toRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(f.Data[srcIdx*2]) | int16(f.Data[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(f.Data[(srcIdx+1)*2]) | int16(f.Data[(srcIdx+1)*2+1])<<8
		}

		interp := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interp)
		out[i*2+1] = byte(interp >> 8)
	}

	return Frame{
		Data:       out,
		SampleRate: toRate,
		Encoding:   EncPCM16,
		Timestamp:  f.Timestamp,
	}, nil
}

// PCM16FromSamples packs int16 samples into a little-endian PCM frame.
// Mostly useful in tests and for synthesizing fixed tones.
func PCM16FromSamples(samples []int16, rate int) Frame {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return Frame{Data: data, SampleRate: rate, Encoding: EncPCM16}
}

// SamplesFromPCM16 unpacks a little-endian PCM frame into int16 samples.
func SamplesFromPCM16(f Frame) []int16 {
	out := make([]int16, len(f.Data)/2)
	for i := range out {
		out[i] = int16(f.Data[i*2]) | int16(f.Data[i*2+1])<<8
	}
	return out
}
