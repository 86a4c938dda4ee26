package audio_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/quantabank/voicegate/pkg/audio"
)

func TestMulawRoundTripIdempotent(t *testing.T) {
	t.Parallel()

	// Arbitrary PCM input, including extremes and the clip region.
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000, 32767, -32768}
	src := audio.PCM16FromSamples(samples, 8000)

	enc, err := audio.EncodeMulaw(src)
	if err != nil {
		t.Fatalf("EncodeMulaw() error: %v", err)
	}
	dec, err := audio.DecodeMulaw(enc)
	if err != nil {
		t.Fatalf("DecodeMulaw() error: %v", err)
	}

	// Once quantised, encode/decode must be bit-stable: re-encoding the decoded
	// PCM and decoding again reproduces the same bytes.
	enc2, err := audio.EncodeMulaw(dec)
	if err != nil {
		t.Fatalf("EncodeMulaw() second pass error: %v", err)
	}
	if !bytes.Equal(enc.Data, enc2.Data) {
		t.Errorf("re-encoding decoded PCM changed the mulaw bytes")
	}
	dec2, err := audio.DecodeMulaw(enc2)
	if err != nil {
		t.Fatalf("DecodeMulaw() second pass error: %v", err)
	}
	if !bytes.Equal(dec.Data, dec2.Data) {
		t.Errorf("round trip of adapter-produced PCM is not bit-identical")
	}
}

func TestMulawQuantizationError(t *testing.T) {
	t.Parallel()

	// μ-law quantisation error grows with magnitude; verify it stays within
	// the expected relative bound across the full range.
	for s := -32768; s <= 32767; s += 37 {
		src := audio.PCM16FromSamples([]int16{int16(s)}, 8000)
		enc, err := audio.EncodeMulaw(src)
		if err != nil {
			t.Fatalf("EncodeMulaw(%d) error: %v", s, err)
		}
		dec, err := audio.DecodeMulaw(enc)
		if err != nil {
			t.Fatalf("DecodeMulaw(%d) error: %v", s, err)
		}
		got := audio.SamplesFromPCM16(dec)[0]

		diff := math.Abs(float64(got) - float64(s))
		// Worst-case step size in the top μ-law segment is 256; anything above
		// that means a broken exponent/mantissa split.
		limit := 132.0 + math.Abs(float64(s))/16
		if diff > limit {
			t.Fatalf("sample %d decoded as %d (error %.0f, limit %.0f)", s, got, diff, limit)
		}
	}
}

func TestEncodeMulawRejectsOddLength(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 8000, Encoding: audio.EncPCM16}
	if _, err := audio.EncodeMulaw(f); !errors.Is(err, audio.ErrMalformedFrame) {
		t.Errorf("EncodeMulaw(odd length) error = %v, want ErrMalformedFrame", err)
	}
}

func TestCodecRejectsWrongEncoding(t *testing.T) {
	t.Parallel()

	pcm := audio.PCM16FromSamples([]int16{1, 2}, 8000)
	if _, err := audio.DecodeMulaw(pcm); err == nil {
		t.Error("DecodeMulaw(pcm16 frame) succeeded, want error")
	}
	mulaw := audio.Frame{Data: []byte{0xFF}, SampleRate: 8000, Encoding: audio.EncMulaw}
	if _, err := audio.EncodeMulaw(mulaw); err == nil {
		t.Error("EncodeMulaw(mulaw frame) succeeded, want error")
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Data: make([]byte, 160), SampleRate: 8000, Encoding: audio.EncMulaw}
	if got, want := f.Duration().Milliseconds(), int64(20); got != want {
		t.Errorf("Duration() = %dms, want %dms", got, want)
	}
	if got := (audio.Frame{Data: []byte{0}}).Duration(); got != 0 {
		t.Errorf("Duration() with zero rate = %v, want 0", got)
	}
}
