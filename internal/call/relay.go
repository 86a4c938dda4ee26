package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quantabank/voicegate/pkg/audio"
	"github.com/quantabank/voicegate/pkg/provider/stt"
	"github.com/quantabank/voicegate/pkg/telephony"
)

// ErrRelayClosed is returned by Enqueue after the relay shut down.
var ErrRelayClosed = errors.New("call: relay closed")

// Relay moves audio between one telephony leg and the speech engines.
//
// Inbound it ranges over the leg's events, decodes μ-law to PCM, resamples to
// the engine rate, and feeds the transcription session. Outbound it owns a
// bounded ordered frame queue; a pump goroutine resamples to the telephony
// rate, μ-law-encodes, and writes to the leg. A fault in either direction
// reports through onFault exactly once and never corrupts the other
// direction.
type Relay struct {
	leg     telephony.CallLeg
	log     *slog.Logger
	telRate int
	engRate int

	// sttMu guards the transcription target so the orchestrator can swap in
	// a fresh session after a stream drop.
	sttMu sync.Mutex
	stt   stt.SessionHandle

	out       chan audio.Frame
	closeOnce sync.Once

	// writeCtx bounds outbound leg writes; Close cancels it so a peer that
	// stopped reading cannot hold the pump, and with it teardown, forever.
	writeCtx    context.Context
	writeCancel context.CancelFunc

	faultOnce sync.Once
	onFault   func(error)
	onStarted func(callerID string)
	onStopped func()

	// pending counts queued plus in-flight outbound frames; Drain waits on
	// it through cond.
	mu      sync.Mutex
	cond    *sync.Cond
	pending int

	wg sync.WaitGroup
}

// RelayConfig wires a Relay. All fields are required except Logger.
type RelayConfig struct {
	Leg                 telephony.CallLeg
	STT                 stt.SessionHandle
	TelephonySampleRate int
	EngineSampleRate    int
	QueueDepth          int
	Logger              *slog.Logger

	// OnStarted fires on the leg's started event, before any media.
	OnStarted func(callerID string)

	// OnStopped fires on orderly teardown by the gateway.
	OnStopped func()

	// OnFault fires at most once, on the first transport fault in either
	// direction.
	OnFault func(error)
}

// NewRelay builds a relay and starts its outbound pump. Run must be called
// to start the inbound side; Close must be called exactly once when the call
// ends.
func NewRelay(cfg RelayConfig) *Relay {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 32
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	rl := &Relay{
		leg:       cfg.Leg,
		log:       log,
		telRate:   cfg.TelephonySampleRate,
		engRate:   cfg.EngineSampleRate,
		stt:       cfg.STT,
		out:       make(chan audio.Frame, depth),
		onFault:   cfg.OnFault,
		onStarted: cfg.OnStarted,
		onStopped: cfg.OnStopped,
	}
	rl.cond = sync.NewCond(&rl.mu)
	rl.writeCtx, rl.writeCancel = context.WithCancel(context.Background())
	rl.wg.Add(1)
	go rl.pumpOutbound()
	return rl
}

// SetSTT swaps the transcription target. Used when the orchestrator
// reconnects a dropped stream; frames arriving mid-swap go to whichever
// session is current.
func (rl *Relay) SetSTT(s stt.SessionHandle) {
	rl.sttMu.Lock()
	rl.stt = s
	rl.sttMu.Unlock()
}

// Run consumes the leg's inbound events until the stream closes. It blocks;
// the orchestrator runs it in an errgroup goroutine. Malformed media frames
// are logged and dropped, never fatal.
func (rl *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-rl.leg.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case telephony.EventStarted:
				if rl.onStarted != nil {
					rl.onStarted(ev.CallerID)
				}
			case telephony.EventMedia:
				rl.handleMedia(ev.Frame)
			case telephony.EventStopped:
				if rl.onStopped != nil {
					rl.onStopped()
				}
				return nil
			case telephony.EventError:
				rl.fault(fmt.Errorf("call: inbound leg: %w", ev.Err))
				return nil
			}
		}
	}
}

func (rl *Relay) handleMedia(f audio.Frame) {
	pcm, err := audio.DecodeMulaw(f)
	if err != nil {
		rl.log.Warn("dropping malformed inbound frame", "err", err)
		return
	}
	pcm, err = audio.Resample(pcm, rl.engRate)
	if err != nil {
		rl.log.Warn("dropping unresamplable inbound frame", "err", err)
		return
	}
	rl.sttMu.Lock()
	sess := rl.stt
	rl.sttMu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.SendAudio(pcm.Data); err != nil {
		// The session may be mid-reconnect; the orchestrator decides
		// whether this is fatal via the finals-channel closure.
		rl.log.Debug("send audio to transcription failed", "err", err)
	}
}

// Enqueue places one engine-rate PCM frame on the outbound queue, blocking
// while the queue is full. Returns ErrRelayClosed after Close and ctx.Err()
// if the context expires while waiting.
func (rl *Relay) Enqueue(ctx context.Context, f audio.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// Send on the closed queue; give back the pending slot so a
			// later Drain does not wait on a frame that never existed.
			rl.decPending()
			err = ErrRelayClosed
		}
	}()
	rl.mu.Lock()
	rl.pending++
	rl.mu.Unlock()
	select {
	case rl.out <- f:
		return nil
	case <-ctx.Done():
		rl.decPending()
		return ctx.Err()
	}
}

func (rl *Relay) pumpOutbound() {
	defer rl.wg.Done()
	for f := range rl.out {
		out, err := audio.Resample(f, rl.telRate)
		if err == nil {
			out, err = audio.EncodeMulaw(out)
		}
		if err != nil {
			rl.log.Warn("dropping malformed outbound frame", "err", err)
			rl.decPending()
			continue
		}
		if err := rl.leg.WriteAudio(rl.writeCtx, out); err != nil {
			rl.decPending()
			// A write aborted by Close is teardown, not a transport fault.
			if rl.writeCtx.Err() == nil {
				rl.fault(fmt.Errorf("call: outbound write: %w", err))
			}
			rl.discardRemaining()
			return
		}
		rl.decPending()
	}
}

// discardRemaining unblocks Drain after an outbound fault by draining the
// queue without playing it.
func (rl *Relay) discardRemaining() {
	for range rl.out {
		rl.decPending()
	}
}

func (rl *Relay) decPending() {
	rl.mu.Lock()
	rl.pending--
	if rl.pending <= 0 {
		rl.cond.Broadcast()
	}
	rl.mu.Unlock()
}

// Drain blocks until every queued frame has been written to the leg (or
// discarded after a fault), bounded by ctx.
func (rl *Relay) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rl.mu.Lock()
		for rl.pending > 0 {
			rl.cond.Wait()
		}
		rl.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so its goroutine does not leak once pending
		// eventually drops.
		rl.cond.Broadcast()
		return ctx.Err()
	}
}

// Close stops the outbound pump and waits for it. Any write stalled on an
// unresponsive peer is cancelled rather than waited out, so Close always
// returns. Enqueue after Close returns ErrRelayClosed.
func (rl *Relay) Close() {
	rl.closeOnce.Do(func() {
		close(rl.out)
		rl.writeCancel()
	})
	rl.wg.Wait()
}

func (rl *Relay) fault(err error) {
	rl.faultOnce.Do(func() {
		rl.log.Error("transport fault", "err", err)
		if rl.onFault != nil {
			rl.onFault(err)
		}
	})
}
