package call_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quantabank/voicegate/internal/call"
	"github.com/quantabank/voicegate/internal/config"
	"github.com/quantabank/voicegate/pkg/provider/llm"
	llmmock "github.com/quantabank/voicegate/pkg/provider/llm/mock"
	sttmock "github.com/quantabank/voicegate/pkg/provider/stt/mock"
	"github.com/quantabank/voicegate/pkg/provider/tts"
	ttsmock "github.com/quantabank/voicegate/pkg/provider/tts/mock"
	telmock "github.com/quantabank/voicegate/pkg/telephony/mock"
)

const (
	testGreeting = "Welcome to Quanta Bank, how can I help?"
	testClosing  = "Thank you for calling Quanta Bank. Goodbye."
)

func testCallConfig() config.CallConfig {
	return config.CallConfig{
		Greeting:            testGreeting,
		ClosingMessage:      testClosing,
		ApologyMessage:      testApology,
		ClosingPhrases:      closingPhrases,
		SystemPrompt:        "You are a voice assistant for a retail bank.",
		LLMTimeout:          config.Duration(time.Second),
		SynthesisTimeout:    config.Duration(time.Second),
		DrainTimeout:        config.Duration(2 * time.Second),
		OutboundQueueDepth:  8,
		CompletedLogSize:    10,
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
	}
}

func answeringMock() *llmmock.Provider {
	return &llmmock.Provider{
		CompleteFn: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "Your balance is one hundred euros."}, nil
		},
	}
}

func newOrchestrator(registry *call.Registry, leg *telmock.Leg, sttp *sttmock.Provider, llmp *llmmock.Provider, ttsp *ttsmock.Provider) *call.Orchestrator {
	return call.NewOrchestrator(call.OrchestratorConfig{
		Leg:      leg,
		Registry: registry,
		STT:      sttp,
		LLM:      llmp,
		TTS:      ttsp,
		Voice:    tts.VoiceProfile{ID: "test-voice"},
		Detector: call.NewPhraseDetector(closingPhrases),
		Logger:   discardLogger(),
		Call:     testCallConfig(),
	})
}

func runOrchestrator(t *testing.T, orch *call.Orchestrator) (<-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()
	return done, cancel
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not finish")
		return nil
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestOrchestratorFullCall(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	leg := telmock.NewLeg("c1", "+4915112345678")
	sess := sttmock.NewSession()
	sttp := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	ttsp := &ttsmock.Provider{}
	orch := newOrchestrator(registry, leg, sttp, answeringMock(), ttsp)

	done, cancel := runOrchestrator(t, orch)
	defer cancel()

	leg.Start()
	sess.EmitPartial("what is")
	sess.EmitFinal("what is my balance")
	sess.EmitFinal("goodbye")

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if leg.TerminateCalls() == 0 {
		t.Error("leg was never terminated")
	}

	completed := registry.Completed(0, "")
	if len(completed) != 1 {
		t.Fatalf("completed log has %d entries, want 1", len(completed))
	}
	final := completed[0]
	if final.EndReason != call.EndReasonUserCompleted {
		t.Errorf("end reason = %q, want user_completed", final.EndReason)
	}

	// Synthesis may overlap across turns, but playback must be greeting,
	// answer, closing message, in exactly that order. The mock synthesizer's
	// payload length tracks the text, which survives the 16→8 kHz resample
	// as half the rune count.
	spoken := make(map[string]bool)
	for _, c := range ttsp.Calls() {
		spoken[c.Text] = true
	}
	want := []string{testGreeting, "Your balance is one hundred euros.", testClosing}
	for _, text := range want {
		if !spoken[text] {
			t.Errorf("never synthesized %q", text)
		}
	}
	written := leg.Written()
	if len(written) != 3 {
		t.Fatalf("wrote %d frames, want 3", len(written))
	}
	for i, text := range want {
		if got, exp := len(written[i].Data), len([]rune(text))/2; got != exp {
			t.Errorf("frame %d is %d bytes, want %d (%q)", i, got, exp, text)
		}
	}

	// The goodbye utterance lands in the transcript but is never answered.
	var callerTurns []string
	for _, e := range final.Transcript {
		if e.Speaker == call.SpeakerCaller {
			callerTurns = append(callerTurns, e.Text)
		}
	}
	if len(callerTurns) != 2 || callerTurns[1] != "goodbye" {
		t.Errorf("caller turns = %q", callerTurns)
	}
}

func TestOrchestratorCallerHangup(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	leg := telmock.NewLeg("c1", "caller")
	sess := sttmock.NewSession()
	sttp := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	ttsp := &ttsmock.Provider{}
	orch := newOrchestrator(registry, leg, sttp, answeringMock(), ttsp)

	done, cancel := runOrchestrator(t, orch)
	defer cancel()

	leg.Start()
	leg.Stop()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	completed := registry.Completed(0, "")
	if len(completed) != 1 || completed[0].EndReason != call.EndReasonUserCompleted {
		t.Fatalf("completed = %+v, want one user_completed entry", completed)
	}
}

func TestOrchestratorTransportFaultSkipsClosing(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	leg := telmock.NewLeg("c1", "caller")
	sess := sttmock.NewSession()
	sttp := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	ttsp := &ttsmock.Provider{}
	orch := newOrchestrator(registry, leg, sttp, answeringMock(), ttsp)

	done, cancel := runOrchestrator(t, orch)
	defer cancel()

	leg.Start()
	leg.Fail(errors.New("rtp stream lost"))

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	completed := registry.Completed(0, "")
	if len(completed) != 1 || completed[0].EndReason != call.EndReasonTransportFault {
		t.Fatalf("completed = %+v, want one transport_fault entry", completed)
	}
	// There is no leg left to play the closing message on.
	for _, c := range ttsp.Calls() {
		if c.Text == testClosing {
			t.Error("closing message synthesized after a transport fault")
		}
	}
}

func TestOrchestratorReconnectsStreamOnce(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	leg := telmock.NewLeg("c1", "caller")
	first, second := sttmock.NewSession(), sttmock.NewSession()
	sttp := &sttmock.Provider{Sessions: []*sttmock.Session{first, second}}
	ttsp := &ttsmock.Provider{}
	orch := newOrchestrator(registry, leg, sttp, answeringMock(), ttsp)

	done, cancel := runOrchestrator(t, orch)
	defer cancel()

	leg.Start()
	first.Drop()
	waitUntil(t, func() bool { return sttp.StartCalls() == 2 })

	// The replacement stream keeps the conversation going.
	second.EmitFinal("what is my balance")
	waitUntil(t, func() bool {
		snap, err := registry.Snapshot("c1")
		return err == nil && len(snap.Transcript) >= 2
	})

	// A second drop exhausts the retry budget.
	second.Drop()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	completed := registry.Completed(0, "")
	if len(completed) != 1 || completed[0].EndReason != call.EndReasonTransportFault {
		t.Fatalf("completed = %+v, want one transport_fault entry", completed)
	}
	if sttp.StartCalls() != 2 {
		t.Errorf("StartStream called %d times, want 2", sttp.StartCalls())
	}
}

func TestOrchestratorRefusesDuplicateCallID(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	if _, err := registry.Create("c1", "original"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	leg := telmock.NewLeg("c1", "intruder")
	sttp := &sttmock.Provider{Sessions: []*sttmock.Session{sttmock.NewSession()}}
	orch := newOrchestrator(registry, leg, sttp, answeringMock(), &ttsmock.Provider{})

	done, cancel := runOrchestrator(t, orch)
	defer cancel()

	err := waitDone(t, done)
	if !errors.Is(err, call.ErrDuplicateCall) {
		t.Fatalf("Run err = %v, want ErrDuplicateCall", err)
	}
	if leg.TerminateCalls() == 0 {
		t.Error("duplicate leg was not hung up")
	}
	snap, err := registry.Snapshot("c1")
	if err != nil || snap.CallerID != "original" {
		t.Errorf("existing session disturbed: %+v, %v", snap, err)
	}
}

func TestOrchestratorStreamOpenFailure(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	leg := telmock.NewLeg("c1", "caller")
	sttp := &sttmock.Provider{StartErr: errors.New("engine unreachable")}
	orch := newOrchestrator(registry, leg, sttp, answeringMock(), &ttsmock.Provider{})

	done, cancel := runOrchestrator(t, orch)
	defer cancel()

	err := waitDone(t, done)
	if err == nil || !strings.Contains(err.Error(), "start stream") {
		t.Fatalf("Run err = %v, want stream open failure", err)
	}
	completed := registry.Completed(0, "")
	if len(completed) != 1 || completed[0].EndReason != call.EndReasonSystem {
		t.Fatalf("completed = %+v, want one system entry", completed)
	}
	if leg.TerminateCalls() == 0 {
		t.Error("leg was not hung up after setup failure")
	}
}

func TestManagerShutdownHangsUpActiveCalls(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	mgr := call.NewManager(call.ManagerConfig{
		Registry: registry,
		STT:      &sttmock.Provider{Sessions: []*sttmock.Session{sttmock.NewSession()}},
		LLM:      answeringMock(),
		TTS:      &ttsmock.Provider{},
		Logger:   discardLogger(),
		Call:     testCallConfig(),
	})

	leg := telmock.NewLeg("c1", "caller")
	handled := make(chan struct{})
	go func() {
		mgr.Handle(context.Background(), leg)
		close(handled)
	}()
	leg.Start()
	waitUntil(t, func() bool { return len(registry.Active()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	<-handled

	completed := registry.Completed(0, "")
	if len(completed) != 1 || completed[0].EndReason != call.EndReasonSystem {
		t.Fatalf("completed = %+v, want one system entry", completed)
	}

	// Legs arriving after shutdown are refused outright.
	late := telmock.NewLeg("c2", "caller")
	mgr.Handle(context.Background(), late)
	if late.TerminateCalls() == 0 {
		t.Error("late leg was not refused")
	}
	if len(registry.Active()) != 0 {
		t.Error("late leg created a session")
	}
}

func TestManagerHangupEndsOneCall(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	mgr := call.NewManager(call.ManagerConfig{
		Registry: registry,
		STT: &sttmock.Provider{Sessions: []*sttmock.Session{
			sttmock.NewSession(), sttmock.NewSession(),
		}},
		LLM:    answeringMock(),
		TTS:    &ttsmock.Provider{},
		Logger: discardLogger(),
		Call:   testCallConfig(),
	})

	legs := []*telmock.Leg{telmock.NewLeg("c1", "a"), telmock.NewLeg("c2", "b")}
	handled := make(chan string, 2)
	for _, leg := range legs {
		go func() {
			mgr.Handle(context.Background(), leg)
			handled <- leg.CallID()
		}()
		leg.Start()
	}
	waitUntil(t, func() bool { return len(registry.Active()) == 2 })

	if err := mgr.Hangup("c1"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	select {
	case id := <-handled:
		if id != "c1" {
			t.Fatalf("call %s ended, want c1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hangup did not end the call")
	}

	// The other call is untouched.
	if len(registry.Active()) != 1 || registry.Active()[0].CallID != "c2" {
		t.Fatalf("active = %v", callIDs(registry.Active()))
	}
	if err := mgr.Hangup("nope"); !errors.Is(err, call.ErrNotFound) {
		t.Errorf("Hangup(unknown) err = %v, want ErrNotFound", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestManagerUpdateConversationAppliesToNewCalls(t *testing.T) {
	t.Parallel()
	registry := call.NewRegistry(10)
	sess := sttmock.NewSession()
	ttsp := &ttsmock.Provider{}
	mgr := call.NewManager(call.ManagerConfig{
		Registry: registry,
		STT:      &sttmock.Provider{Sessions: []*sttmock.Session{sess}},
		LLM:      answeringMock(),
		TTS:      ttsp,
		Logger:   discardLogger(),
		Call:     testCallConfig(),
	})

	next := testCallConfig()
	next.Greeting = "Welcome to the upgraded assistant."
	next.ClosingPhrases = []string{"farewell"}
	mgr.UpdateConversation(next)

	leg := telmock.NewLeg("c1", "caller")
	handled := make(chan struct{})
	go func() {
		mgr.Handle(context.Background(), leg)
		close(handled)
	}()
	leg.Start()
	waitUntil(t, func() bool { return len(registry.Active()) == 1 })

	// The old closing phrase no longer ends the call; it gets an answer.
	sess.EmitFinal("goodbye to my overdraft")
	waitUntil(t, func() bool {
		return len(assistantTurns(t, registry, "c1")) >= 2
	})

	sess.EmitFinal("farewell")
	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("new closing phrase did not end the call")
	}

	completed := registry.Completed(0, "")
	if len(completed) != 1 || completed[0].EndReason != call.EndReasonUserCompleted {
		t.Fatalf("completed = %+v, want one user_completed entry", completed)
	}
	var texts []string
	for _, c := range ttsp.Calls() {
		texts = append(texts, c.Text)
	}
	if len(texts) == 0 || texts[0] != next.Greeting {
		t.Errorf("synthesized = %q, want updated greeting first", texts)
	}
}
