// Package mock provides a scripted tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/quantabank/voicegate/pkg/provider/tts"
)

// Call records one Synthesize invocation.
type Call struct {
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a scripted tts.Provider. By default it returns a short PCM
// payload derived from the text length so tests can distinguish outputs.
type Provider struct {
	// Err, when non-nil, is returned by every Synthesize call.
	Err error

	// SampleRate of returned audio. Defaults to 16000.
	SampleRate int

	// SynthesizeFn, when set, overrides the default behaviour entirely.
	SynthesizeFn func(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error)

	mu    sync.Mutex
	calls []Call
}

// Synthesize records the call and returns scripted audio.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: text, Voice: voice})
	p.mu.Unlock()

	if p.SynthesizeFn != nil {
		return p.SynthesizeFn(ctx, text, voice)
	}
	if p.Err != nil {
		return tts.Audio{}, p.Err
	}
	rate := p.SampleRate
	if rate == 0 {
		rate = 16000
	}
	// Two bytes per rune keeps the payload a whole number of PCM samples.
	pcm := make([]byte, 2*len([]rune(text)))
	return tts.Audio{PCM: pcm, SampleRate: rate}, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
