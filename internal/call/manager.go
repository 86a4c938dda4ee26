package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quantabank/voicegate/internal/config"
	"github.com/quantabank/voicegate/internal/observe"
	"github.com/quantabank/voicegate/pkg/provider/llm"
	"github.com/quantabank/voicegate/pkg/provider/stt"
	"github.com/quantabank/voicegate/pkg/provider/tts"
	"github.com/quantabank/voicegate/pkg/telephony"
)

// Manager accepts telephony legs and runs one Orchestrator per call. It is
// the integration point handed to the media-stream server, and the hook the
// process uses to hang calls up on shutdown.
type Manager struct {
	registry *Registry
	sttp     stt.Provider
	llmp     llm.Provider
	ttsp     tts.Provider
	voice    tts.VoiceProfile
	metrics  *observe.Metrics
	log      *slog.Logger
	language string

	// mu also guards call and detector, which can be swapped by a config
	// reload. Live calls keep the snapshot they started with.
	mu       sync.Mutex
	call     config.CallConfig
	detector *PhraseDetector
	orchs    map[string]*Orchestrator
	closed   bool
	wg       sync.WaitGroup
}

// ManagerConfig wires a Manager. Providers must be safe for concurrent use;
// they are shared by every call.
type ManagerConfig struct {
	Registry *Registry
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Voice    tts.VoiceProfile
	Metrics  *observe.Metrics
	Logger   *slog.Logger
	Call     config.CallConfig
	Language string
}

// NewManager builds a manager. The closing-phrase detector is compiled once
// here and shared by every call.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Manager{
		registry: cfg.Registry,
		sttp:     cfg.STT,
		llmp:     cfg.LLM,
		ttsp:     cfg.TTS,
		voice:    cfg.Voice,
		detector: NewPhraseDetector(cfg.Call.ClosingPhrases),
		metrics:  met,
		log:      log,
		call:     cfg.Call,
		language: cfg.Language,
		orchs:    make(map[string]*Orchestrator),
	}
}

// Handle runs one call to completion. It matches the media-stream server's
// handler signature and blocks for the life of the leg. Legs arriving after
// Shutdown are refused.
func (m *Manager) Handle(ctx context.Context, leg telephony.CallLeg) {
	callID := leg.CallID()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Info("refusing leg, shutting down", "call_id", callID)
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
		defer cancel()
		_ = leg.Terminate(tctx)
		return
	}
	orch := NewOrchestrator(OrchestratorConfig{
		Leg:      leg,
		Registry: m.registry,
		STT:      m.sttp,
		LLM:      m.llmp,
		TTS:      m.ttsp,
		Voice:    m.voice,
		Detector: m.detector,
		Metrics:  m.metrics,
		Logger:   m.log,
		Call:     m.call,
		Language: m.language,
	})
	m.orchs[callID] = orch
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.orchs, callID)
		m.mu.Unlock()
		m.wg.Done()
	}()
	if err := orch.Run(ctx); err != nil {
		m.log.Warn("call setup failed", "call_id", callID, "err", err)
	}
}

// UpdateConversation applies the hot-reloadable conversation settings from a
// config reload: greeting, closing and apology messages, closing phrases, and
// the system prompt. Calls already in progress keep the text they started
// with; timeouts, queue depths, and sample rates are ignored here because
// changing them requires a restart.
func (m *Manager) UpdateConversation(c config.CallConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call.Greeting = c.Greeting
	m.call.ClosingMessage = c.ClosingMessage
	m.call.ApologyMessage = c.ApologyMessage
	m.call.SystemPrompt = c.SystemPrompt
	m.call.ClosingPhrases = append([]string(nil), c.ClosingPhrases...)
	m.detector = NewPhraseDetector(m.call.ClosingPhrases)
}

// Hangup ends one active call with reason system. Unknown call IDs fail with
// ErrNotFound.
func (m *Manager) Hangup(callID string) error {
	m.mu.Lock()
	orch, ok := m.orchs[callID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, callID)
	}
	orch.Hangup()
	return nil
}

// Shutdown stops accepting legs, hangs up every active call with reason
// system, and waits for the orchestrators to finish, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	orchs := make([]*Orchestrator, 0, len(m.orchs))
	for _, o := range m.orchs {
		orchs = append(orchs, o)
	}
	m.mu.Unlock()

	for _, o := range orchs {
		o.Hangup()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("call: shutdown: %w", ctx.Err())
	}
}
