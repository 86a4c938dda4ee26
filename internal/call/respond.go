package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quantabank/voicegate/internal/observe"
	"github.com/quantabank/voicegate/pkg/audio"
	"github.com/quantabank/voicegate/pkg/provider/llm"
	"github.com/quantabank/voicegate/pkg/provider/tts"
)

// Responder runs the per-call response pipeline: utterance in, ordered
// synthesized reply out. Each utterance is handled in its own goroutine so a
// slow answer never blocks transcription, while a per-call sequence gate
// guarantees replies reach the outbound queue in finalization order — reply N
// enqueues only after every reply below N has enqueued or been abandoned.
//
// Failure handling never ends the call: an answering failure substitutes the
// configured apology, and a synthesis failure that cannot even produce the
// apology releases the sequence gate and drops the turn.
type Responder struct {
	callID string
	epoch  uint64

	registry *Registry
	relay    *Relay
	llm      llm.Provider
	tts      tts.Provider
	voice    tts.VoiceProfile
	metrics  *observe.Metrics
	log      *slog.Logger

	systemPrompt string
	apology      string
	llmTimeout   time.Duration
	ttsTimeout   time.Duration

	// mu/cond implement the sequence gate. next is the lowest sequence
	// number that has not yet enqueued or been abandoned.
	mu   sync.Mutex
	cond *sync.Cond
	next uint64

	wg sync.WaitGroup
}

// ResponderConfig wires a Responder.
type ResponderConfig struct {
	CallID string

	// Epoch is the session epoch captured at creation; output produced after
	// the registry invalidates it is discarded instead of played.
	Epoch uint64

	Registry *Registry
	Relay    *Relay
	LLM      llm.Provider
	TTS      tts.Provider
	Voice    tts.VoiceProfile
	Metrics  *observe.Metrics
	Logger   *slog.Logger

	SystemPrompt     string
	Apology          string
	LLMTimeout       time.Duration
	SynthesisTimeout time.Duration
}

// NewResponder builds a responder whose sequence gate opens at 0.
func NewResponder(cfg ResponderConfig) *Responder {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	rp := &Responder{
		callID:       cfg.CallID,
		epoch:        cfg.Epoch,
		registry:     cfg.Registry,
		relay:        cfg.Relay,
		llm:          cfg.LLM,
		tts:          cfg.TTS,
		voice:        cfg.Voice,
		metrics:      met,
		log:          log,
		systemPrompt: cfg.SystemPrompt,
		apology:      cfg.Apology,
		llmTimeout:   cfg.LLMTimeout,
		ttsTimeout:   cfg.SynthesisTimeout,
	}
	rp.cond = sync.NewCond(&rp.mu)
	return rp
}

// HandleUtterance answers one finalized caller utterance asynchronously.
// seq fixes the reply's position in the outbound order.
func (rp *Responder) HandleUtterance(ctx context.Context, seq uint64, text string) {
	rp.registry.AddPending(rp.callID, 1)
	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		defer rp.registry.AddPending(rp.callID, -1)
		rp.respond(ctx, seq, text)
	}()
}

// Say synthesizes a scripted line (greeting, closing message) and delivers it
// at position seq under the same ordering gate as generated replies. It
// blocks until the line is enqueued or dropped.
func (rp *Responder) Say(ctx context.Context, seq uint64, text string) {
	out, ok := rp.synthesize(ctx, text)
	rp.deliver(ctx, seq, text, out, ok)
}

// Wait blocks until every in-flight HandleUtterance goroutine has finished.
func (rp *Responder) Wait() { rp.wg.Wait() }

func (rp *Responder) respond(ctx context.Context, seq uint64, utterance string) {
	answer, err := rp.answer(ctx, utterance)
	if err != nil {
		rp.log.Warn("answering failed, substituting apology",
			"call_id", rp.callID, "seq", seq, "err", err)
		answer = rp.apology
	}
	out, ok := rp.synthesize(ctx, answer)
	if !ok && answer != rp.apology {
		// The real answer would not synthesize; the apology might.
		answer = rp.apology
		out, ok = rp.synthesize(ctx, answer)
	}
	rp.deliver(ctx, seq, answer, out, ok)
}

// answer builds the model context from the transcript so far and asks the
// answering backend, bounded by the answering timeout.
func (rp *Responder) answer(ctx context.Context, utterance string) (string, error) {
	snap, err := rp.registry.Snapshot(rp.callID)
	if err != nil {
		return "", fmt.Errorf("call: answer: %w", err)
	}
	req := llm.CompletionRequest{
		SystemPrompt: rp.systemPrompt,
		Messages:     transcriptMessages(snap.Transcript, utterance),
	}
	ctx, cancel := context.WithTimeout(ctx, rp.llmTimeout)
	defer cancel()
	start := time.Now()
	resp, err := rp.llm.Complete(ctx, req)
	rp.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("call: answer: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("call: answer: empty completion")
	}
	return text, nil
}

func (rp *Responder) synthesize(ctx context.Context, text string) (audio.Frame, bool) {
	ctx, cancel := context.WithTimeout(ctx, rp.ttsTimeout)
	defer cancel()
	start := time.Now()
	out, err := rp.tts.Synthesize(ctx, text, rp.voice)
	rp.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		rp.log.Warn("synthesis failed", "call_id", rp.callID, "err", err)
		return audio.Frame{}, false
	}
	return audio.Frame{
		Data:       out.PCM,
		SampleRate: out.SampleRate,
		Encoding:   audio.EncPCM16,
	}, true
}

// deliver takes the sequence turn for seq, then either enqueues the audio and
// records the assistant turn, or drops it. The turn is always released so
// later replies never starve behind a failed one.
func (rp *Responder) deliver(ctx context.Context, seq uint64, text string, out audio.Frame, ok bool) {
	if !rp.waitTurn(ctx, seq) {
		return
	}
	defer rp.release()
	if !ok {
		return
	}
	if cur, live := rp.registry.Epoch(rp.callID); !live || cur != rp.epoch {
		rp.metrics.DiscardedResponses.Add(context.WithoutCancel(ctx), 1)
		rp.log.Info("discarding response for terminated call",
			"call_id", rp.callID, "seq", seq)
		return
	}
	if err := rp.registry.AppendTranscript(rp.callID, SpeakerAssistant, text); err != nil {
		rp.log.Warn("assistant transcript append failed", "call_id", rp.callID, "err", err)
	}
	if err := rp.relay.Enqueue(ctx, out); err != nil {
		rp.log.Warn("outbound enqueue failed", "call_id", rp.callID, "seq", seq, "err", err)
	}
}

// waitTurn blocks until seq is the next sequence allowed to enqueue. Returns
// false when ctx is cancelled first; in that case the gate is left as-is,
// because every other waiter observes the same cancellation.
func (rp *Responder) waitTurn(ctx context.Context, seq uint64) bool {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rp.mu.Lock()
			rp.cond.Broadcast()
			rp.mu.Unlock()
		case <-stop:
		}
	}()
	defer close(stop)

	rp.mu.Lock()
	defer rp.mu.Unlock()
	for rp.next != seq {
		if ctx.Err() != nil {
			return false
		}
		rp.cond.Wait()
	}
	return ctx.Err() == nil
}

func (rp *Responder) release() {
	rp.mu.Lock()
	rp.next++
	rp.cond.Broadcast()
	rp.mu.Unlock()
}

// transcriptMessages maps the finalized transcript to model messages,
// chronological, caller turns as user and assistant turns as assistant. The
// new utterance is already in the transcript by the time the pipeline runs;
// if a race left it out, it is appended so the model always sees it last.
func transcriptMessages(entries []TranscriptEntry, utterance string) []llm.Message {
	msgs := make([]llm.Message, 0, len(entries)+1)
	for _, e := range entries {
		role := llm.RoleUser
		if e.Speaker == SpeakerAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != llm.RoleUser || msgs[len(msgs)-1].Content != utterance {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: utterance})
	}
	return msgs
}
