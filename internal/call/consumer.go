package call

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/quantabank/voicegate/pkg/provider/stt"
)

// Consumer drains one transcription session's output channels. Partials only
// update the session's in-progress utterance for introspection; finals append
// to the transcript, run closing-phrase detection, and hand the utterance to
// the response pipeline tagged with the next sequence number. Engine error
// events are logged and the call stays active.
//
// Exactly one consumer runs per open transcription session.
type Consumer struct {
	callID   string
	registry *Registry
	detector *PhraseDetector
	log      *slog.Logger

	// onUtterance dispatches a finalized utterance. seq orders replies.
	onUtterance func(seq uint64, text string)

	// onClosing fires when a final utterance contains a closing phrase. The
	// utterance is recorded in the transcript but not answered.
	onClosing func(phrase string)

	nextSeq atomic.Uint64
}

// ConsumerConfig wires a Consumer.
type ConsumerConfig struct {
	CallID      string
	Registry    *Registry
	Detector    *PhraseDetector
	Logger      *slog.Logger
	FirstSeq    uint64
	OnUtterance func(seq uint64, text string)
	OnClosing   func(phrase string)
}

// NewConsumer builds a consumer starting sequence numbering at FirstSeq.
// Sequence 0 is conventionally reserved for the greeting, so orchestrators
// pass FirstSeq 1.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Consumer{
		callID:      cfg.CallID,
		registry:    cfg.Registry,
		detector:    cfg.Detector,
		log:         log,
		onUtterance: cfg.OnUtterance,
		onClosing:   cfg.OnClosing,
	}
	c.nextSeq.Store(cfg.FirstSeq)
	return c
}

// NextSeq returns the sequence number the next final utterance would get.
// The orchestrator uses it to slot the closing message after every
// dispatched reply.
func (c *Consumer) NextSeq() uint64 { return c.nextSeq.Load() }

// Run consumes sess until its channels close or ctx is cancelled. It returns
// true if the session ended because Close was called or the call tore down,
// and false when the finals channel closed unexpectedly (stream drop) — the
// caller decides whether to reconnect.
func (c *Consumer) Run(ctx context.Context, sess stt.SessionHandle) bool {
	partials := sess.Partials()
	finals := sess.Finals()
	errs := sess.Errs()
	for {
		select {
		case <-ctx.Done():
			return true
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.registry.SetUtterance(c.callID, t.Text)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.log.Warn("transcription engine error", "call_id", c.callID, "err", err)
		case t, ok := <-finals:
			if !ok {
				return ctx.Err() != nil
			}
			c.handleFinal(t)
		}
	}
}

func (c *Consumer) handleFinal(t stt.Transcript) {
	if t.Text == "" {
		return
	}
	if err := c.registry.AppendTranscript(c.callID, SpeakerCaller, t.Text); err != nil {
		c.log.Warn("transcript append failed", "call_id", c.callID, "err", err)
		return
	}
	// A closing phrase ends the conversation instead of being answered.
	if phrase, ok := c.detector.Match(t.Text); ok {
		c.log.Info("closing phrase detected", "call_id", c.callID, "phrase", phrase)
		if c.onClosing != nil {
			c.onClosing(phrase)
		}
		return
	}
	seq := c.nextSeq.Add(1) - 1
	c.log.Debug("caller utterance finalized",
		"call_id", c.callID, "seq", seq, "confidence", t.Confidence)
	if c.onUtterance != nil {
		c.onUtterance(seq, t.Text)
	}
}
