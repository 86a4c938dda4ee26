package call_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantabank/voicegate/internal/call"
	"github.com/quantabank/voicegate/pkg/audio"
	sttmock "github.com/quantabank/voicegate/pkg/provider/stt/mock"
	telmock "github.com/quantabank/voicegate/pkg/telephony/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mulawFrame(n int) audio.Frame {
	return audio.Frame{Data: make([]byte, n), SampleRate: 8000, Encoding: audio.EncMulaw}
}

func pcmFrame(samples, rate int) audio.Frame {
	return audio.Frame{Data: make([]byte, 2*samples), SampleRate: rate, Encoding: audio.EncPCM16}
}

func TestRelayInboundForwardsAndDropsMalformed(t *testing.T) {
	t.Parallel()
	leg := telmock.NewLeg("c1", "caller")
	sess := sttmock.NewSession()
	rl := call.NewRelay(call.RelayConfig{
		Leg:                 leg,
		STT:                 sess,
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
		QueueDepth:          4,
		Logger:              discardLogger(),
	})
	defer rl.Close()

	leg.Start()
	// A PCM-tagged frame on the μ-law leg is malformed and must be dropped
	// without killing the stream.
	leg.EmitMedia(pcmFrame(80, 8000))
	leg.EmitMedia(mulawFrame(80))
	leg.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	chunks := sess.Audio()
	if len(chunks) != 1 {
		t.Fatalf("transcription received %d chunks, want 1", len(chunks))
	}
	// 80 μ-law samples at 8 kHz resampled to 16 kHz is 160 PCM16 samples.
	if len(chunks[0]) != 320 {
		t.Errorf("forwarded chunk is %d bytes, want 320", len(chunks[0]))
	}
}

func TestRelayOutboundOrderAndEncoding(t *testing.T) {
	t.Parallel()
	leg := telmock.NewLeg("c1", "caller")
	rl := call.NewRelay(call.RelayConfig{
		Leg:                 leg,
		STT:                 sttmock.NewSession(),
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
		QueueDepth:          4,
		Logger:              discardLogger(),
	})

	ctx := context.Background()
	for _, samples := range []int{160, 320, 480} {
		if err := rl.Enqueue(ctx, pcmFrame(samples, 16000)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rl.Drain(drainCtx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	rl.Close()

	written := leg.Written()
	if len(written) != 3 {
		t.Fatalf("wrote %d frames, want 3", len(written))
	}
	// 16 kHz PCM halves to 8 kHz, then one μ-law byte per sample.
	wantLens := []int{80, 160, 240}
	for i, f := range written {
		if f.Encoding != audio.EncMulaw || f.SampleRate != 8000 {
			t.Errorf("frame %d is %v@%d, want mulaw@8000", i, f.Encoding, f.SampleRate)
		}
		if len(f.Data) != wantLens[i] {
			t.Errorf("frame %d is %d bytes, want %d", i, len(f.Data), wantLens[i])
		}
	}
}

func TestRelayDrainTimeout(t *testing.T) {
	t.Parallel()
	leg := telmock.NewLeg("c1", "caller")
	leg.WriteDelay = 200 * time.Millisecond
	rl := call.NewRelay(call.RelayConfig{
		Leg:                 leg,
		STT:                 sttmock.NewSession(),
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
		QueueDepth:          4,
		Logger:              discardLogger(),
	})
	defer rl.Close()

	if err := rl.Enqueue(context.Background(), pcmFrame(160, 16000)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain err = %v, want DeadlineExceeded", err)
	}
}

func TestRelayOutboundFaultFiresOnce(t *testing.T) {
	t.Parallel()
	leg := telmock.NewLeg("c1", "caller")
	leg.WriteErr = errors.New("gateway gone")
	var faults atomic.Int32
	rl := call.NewRelay(call.RelayConfig{
		Leg:                 leg,
		STT:                 sttmock.NewSession(),
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
		QueueDepth:          4,
		Logger:              discardLogger(),
		OnFault:             func(error) { faults.Add(1) },
	})

	ctx := context.Background()
	_ = rl.Enqueue(ctx, pcmFrame(160, 16000))
	_ = rl.Enqueue(ctx, pcmFrame(160, 16000))

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rl.Drain(drainCtx); err != nil {
		t.Fatalf("Drain after fault: %v", err)
	}
	rl.Close()

	if got := faults.Load(); got != 1 {
		t.Errorf("fault callback fired %d times, want 1", got)
	}
}

func TestRelayCloseUnblocksStalledWrite(t *testing.T) {
	t.Parallel()
	leg := telmock.NewLeg("c1", "caller")
	// A gateway that stopped reading: the write never completes on its own.
	leg.WriteDelay = time.Hour
	var faults atomic.Int32
	rl := call.NewRelay(call.RelayConfig{
		Leg:                 leg,
		STT:                 sttmock.NewSession(),
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
		QueueDepth:          4,
		Logger:              discardLogger(),
		OnFault:             func(error) { faults.Add(1) },
	})

	if err := rl.Enqueue(context.Background(), pcmFrame(160, 16000)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Drain(drainCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain err = %v, want DeadlineExceeded", err)
	}

	done := make(chan struct{})
	go func() {
		rl.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a write was stalled")
	}

	// Aborting the stalled write is teardown, not a transport fault.
	if got := faults.Load(); got != 0 {
		t.Errorf("fault callback fired %d times during teardown, want 0", got)
	}
	if err := rl.Enqueue(context.Background(), pcmFrame(160, 16000)); !errors.Is(err, call.ErrRelayClosed) {
		t.Errorf("Enqueue after Close err = %v, want ErrRelayClosed", err)
	}
}

func TestRelayEnqueueAfterCloseLeavesDrainClean(t *testing.T) {
	t.Parallel()
	leg := telmock.NewLeg("c1", "caller")
	rl := call.NewRelay(call.RelayConfig{
		Leg:                 leg,
		STT:                 sttmock.NewSession(),
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
		QueueDepth:          4,
		Logger:              discardLogger(),
	})
	rl.Close()

	if err := rl.Enqueue(context.Background(), pcmFrame(160, 16000)); !errors.Is(err, call.ErrRelayClosed) {
		t.Fatalf("Enqueue after Close err = %v, want ErrRelayClosed", err)
	}
	// The rejected frame must not count as pending, so Drain returns
	// immediately instead of waiting out its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rl.Drain(ctx); err != nil {
		t.Errorf("Drain after rejected enqueue: %v", err)
	}
}

func TestRelayInboundFaultReported(t *testing.T) {
	t.Parallel()
	leg := telmock.NewLeg("c1", "caller")
	var faults atomic.Int32
	rl := call.NewRelay(call.RelayConfig{
		Leg:                 leg,
		STT:                 sttmock.NewSession(),
		TelephonySampleRate: 8000,
		EngineSampleRate:    16000,
		QueueDepth:          4,
		Logger:              discardLogger(),
		OnFault:             func(error) { faults.Add(1) },
	})
	defer rl.Close()

	leg.Start()
	leg.Fail(errors.New("socket reset"))
	if err := rl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := faults.Load(); got != 1 {
		t.Errorf("fault callback fired %d times, want 1", got)
	}
}
