package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/quantabank/voicegate/internal/config"
	"github.com/quantabank/voicegate/internal/observe"
	"github.com/quantabank/voicegate/pkg/provider/llm"
	"github.com/quantabank/voicegate/pkg/provider/stt"
	"github.com/quantabank/voicegate/pkg/provider/tts"
	"github.com/quantabank/voicegate/pkg/telephony"
)

// terminateTimeout bounds the hangup instruction to the gateway during
// teardown.
const terminateTimeout = 3 * time.Second

// Orchestrator owns one call end to end: it creates the session, wires relay,
// consumer, and responder together, runs the lifecycle state machine, and
// tears everything down exactly once.
//
// Faults are scoped to the one call. Nothing here recovers process-wide
// state; an invariant violation is logged with full context and ends only
// this call with reason system.
type Orchestrator struct {
	leg      telephony.CallLeg
	registry *Registry
	sttp     stt.Provider
	llmp     llm.Provider
	ttsp     tts.Provider
	voice    tts.VoiceProfile
	detector *PhraseDetector
	metrics  *observe.Metrics
	log      *slog.Logger
	call     config.CallConfig
	language string

	endOnce sync.Once
	endedCh chan struct{}
	reason  EndReason

	// sttMu guards the current transcription session across reconnects.
	sttMu   sync.Mutex
	sttSess stt.SessionHandle
}

// OrchestratorConfig wires one Orchestrator. Providers are shared across
// calls and must be safe for concurrent use.
type OrchestratorConfig struct {
	Leg      telephony.CallLeg
	Registry *Registry
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Voice    tts.VoiceProfile
	Detector *PhraseDetector
	Metrics  *observe.Metrics
	Logger   *slog.Logger
	Call     config.CallConfig

	// Language is the transcription language hint, may be empty.
	Language string
}

// NewOrchestrator builds an orchestrator for one leg. Run does the work.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Orchestrator{
		leg:      cfg.Leg,
		registry: cfg.Registry,
		sttp:     cfg.STT,
		llmp:     cfg.LLM,
		ttsp:     cfg.TTS,
		voice:    cfg.Voice,
		detector: cfg.Detector,
		metrics:  met,
		log:      log,
		call:     cfg.Call,
		language: cfg.Language,
		endedCh:  make(chan struct{}),
	}
}

// Hangup ends the call from outside the state machine (operator action or
// process shutdown). Safe to call at any point, including after the call
// already ended.
func (o *Orchestrator) Hangup() {
	o.end(EndReasonSystem)
}

// end records the first termination reason and signals the state machine.
// Later calls with a different reason lose the race and are ignored.
func (o *Orchestrator) end(reason EndReason) {
	o.endOnce.Do(func() {
		o.reason = reason
		close(o.endedCh)
	})
}

func (o *Orchestrator) ended() bool {
	select {
	case <-o.endedCh:
		return true
	default:
		return false
	}
}

// Run executes the call from leg accept to teardown. It blocks for the whole
// call; the manager runs one Run per leg. The returned error reports setup
// failures only — a call that reached Active and later ended returns nil
// regardless of end reason.
func (o *Orchestrator) Run(ctx context.Context) error {
	callID := o.leg.CallID()
	log := o.log.With("call_id", callID)

	// Starting: register the session. A duplicate call id is refused without
	// touching the existing call.
	epoch, err := o.registry.Create(callID, o.leg.CallerID())
	if err != nil {
		log.Error("refusing leg", "err", err)
		o.terminateLeg(ctx)
		return err
	}
	o.metrics.ActiveCalls.Add(ctx, 1)
	defer o.metrics.ActiveCalls.Add(context.WithoutCancel(ctx), -1)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := o.startStream(callCtx)
	if err != nil {
		log.Error("opening transcription stream failed", "err", err)
		o.finish(ctx, callID, EndReasonSystem, log)
		o.terminateLeg(ctx)
		return fmt.Errorf("call: start stream: %w", err)
	}
	o.setSession(sess)

	relay := NewRelay(RelayConfig{
		Leg:                 o.leg,
		STT:                 sess,
		TelephonySampleRate: o.call.TelephonySampleRate,
		EngineSampleRate:    o.call.EngineSampleRate,
		QueueDepth:          o.call.OutboundQueueDepth,
		Logger:              log,
		OnStarted: func(callerID string) {
			log.Info("media leg open", "caller_id", callerID)
		},
		OnStopped: func() { o.end(EndReasonUserCompleted) },
		OnFault:   func(error) { o.end(EndReasonTransportFault) },
	})

	responder := NewResponder(ResponderConfig{
		CallID:           callID,
		Epoch:            epoch,
		Registry:         o.registry,
		Relay:            relay,
		LLM:              o.llmp,
		TTS:              o.ttsp,
		Voice:            o.voice,
		Metrics:          o.metrics,
		Logger:           log,
		SystemPrompt:     o.call.SystemPrompt,
		Apology:          o.call.ApologyMessage,
		LLMTimeout:       o.call.LLMTimeout.Std(),
		SynthesisTimeout: o.call.SynthesisTimeout.Std(),
	})

	// Sequence 0 belongs to the greeting when one is configured; caller
	// utterances start after it so the greeting always plays first.
	firstSeq := uint64(0)
	if o.call.Greeting != "" {
		firstSeq = 1
	}
	consumer := NewConsumer(ConsumerConfig{
		CallID:   callID,
		Registry: o.registry,
		Detector: o.detector,
		Logger:   log,
		FirstSeq: firstSeq,
		OnUtterance: func(seq uint64, text string) {
			responder.HandleUtterance(callCtx, seq, text)
		},
		OnClosing: func(string) { o.end(EndReasonUserCompleted) },
	})

	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		// Inbound relay returning means the event stream ended: orderly
		// stop and transport error are signalled through the callbacks, a
		// bare channel close is treated as end of call.
		err := relay.Run(gctx)
		if err == nil {
			o.end(EndReasonUserCompleted)
		}
		return nil
	})
	consumerDone := make(chan struct{})
	g.Go(func() error {
		defer close(consumerDone)
		o.consumeWithReconnect(gctx, consumer, relay, log)
		return nil
	})

	if o.call.Greeting != "" {
		g.Go(func() error {
			responder.Say(callCtx, 0, o.call.Greeting)
			return nil
		})
	}
	if err := o.registry.SetStatus(callID, StatusActive); err != nil {
		log.Warn("activating session failed", "err", err)
	}
	log.Info("call active")

	// Active: block until something ends the call.
	select {
	case <-o.endedCh:
	case <-callCtx.Done():
		o.end(EndReasonSystem)
	}
	reason := o.reason
	log.Info("call ending", "reason", reason)

	// Stop listening before speaking the closing message so no further
	// utterances are dispatched behind it, and wait for the consumer so the
	// closing message's sequence slot is stable.
	o.closeSession(log)
	select {
	case <-consumerDone:
	case <-time.After(terminateTimeout):
		log.Warn("consumer did not stop in time")
	}

	// Ending: deliver the closing message and let queued audio play out. A
	// transport fault skips straight to Terminated; there is no leg left to
	// play on.
	if reason != EndReasonTransportFault {
		if err := o.registry.SetStatus(callID, StatusEnding); err != nil {
			log.Warn("session ending transition failed", "err", err)
		}
		if o.call.ClosingMessage != "" {
			sayCtx, sayCancel := context.WithTimeout(context.WithoutCancel(ctx),
				o.call.LLMTimeout.Std()+o.call.SynthesisTimeout.Std())
			responder.Say(sayCtx, consumer.NextSeq(), o.call.ClosingMessage)
			sayCancel()
		}
		drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), o.call.DrainTimeout.Std())
		if err := relay.Drain(drainCtx); err != nil {
			log.Warn("outbound drain timed out", "err", err)
		}
		drainCancel()
	}

	// Terminated: hang up, cancel everything, release the session.
	o.terminateLeg(ctx)
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("call task error", "err", err)
	}
	responder.Wait()
	o.closeSession(log) // idempotent; covers the transport-fault path
	relay.Close()
	o.finish(ctx, callID, reason, log)
	return nil
}

// consumeWithReconnect runs the consumer, reconnecting the transcription
// stream once if it drops mid-call. A second drop, or a failed reconnect, is
// a transport fault.
func (o *Orchestrator) consumeWithReconnect(ctx context.Context, c *Consumer, relay *Relay, log *slog.Logger) {
	reconnected := false
	for {
		clean := c.Run(ctx, o.session())
		if clean || o.ended() {
			return
		}
		if reconnected {
			log.Error("transcription stream dropped again, giving up")
			o.end(EndReasonTransportFault)
			return
		}
		reconnected = true
		log.Warn("transcription stream dropped, reconnecting")
		next, err := o.startStream(ctx)
		if err != nil {
			log.Error("transcription reconnect failed", "err", err)
			o.end(EndReasonTransportFault)
			return
		}
		relay.SetSTT(next)
		o.setSession(next)
	}
}

func (o *Orchestrator) startStream(ctx context.Context) (stt.SessionHandle, error) {
	start := time.Now()
	sess, err := o.sttp.StartStream(ctx, stt.StreamConfig{
		SampleRate: o.call.EngineSampleRate,
		Language:   o.language,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))
	return sess, err
}

func (o *Orchestrator) setSession(s stt.SessionHandle) {
	o.sttMu.Lock()
	o.sttSess = s
	o.sttMu.Unlock()
}

func (o *Orchestrator) session() stt.SessionHandle {
	o.sttMu.Lock()
	defer o.sttMu.Unlock()
	return o.sttSess
}

func (o *Orchestrator) closeSession(log *slog.Logger) {
	if s := o.session(); s != nil {
		if err := s.Close(); err != nil {
			log.Debug("closing transcription stream", "err", err)
		}
	}
}

func (o *Orchestrator) terminateLeg(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()
	if err := o.leg.Terminate(tctx); err != nil {
		o.log.Debug("terminating leg", "call_id", o.leg.CallID(), "err", err)
	}
}

// finish moves the session to the completed log and records call metrics.
func (o *Orchestrator) finish(ctx context.Context, callID string, reason EndReason, log *slog.Logger) {
	final, err := o.registry.Remove(callID, reason)
	if err != nil {
		log.Warn("removing session failed", "err", err)
		return
	}
	o.metrics.RecordCallEnd(context.WithoutCancel(ctx), string(reason))
	log.Info("call terminated",
		"reason", reason,
		"duration", final.EndedAt.Sub(final.StartedAt),
		"turns", len(final.Transcript))
}
