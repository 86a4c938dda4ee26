// Package mediaws accepts telephony media-stream WebSocket connections and
// exposes each one as a [telephony.CallLeg]. It owns the wire framing only;
// call semantics live in the orchestration core.
package mediaws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/quantabank/voicegate/pkg/audio"
	"github.com/quantabank/voicegate/pkg/telephony"
)

// telephonySampleRate is the PSTN-side sample rate carried on media frames.
const telephonySampleRate = 8000

// eventBuffer is the depth of a leg's inbound event channel. Sized to absorb
// short consumer stalls without blocking the socket reader.
const eventBuffer = 64

// Handler is invoked once per accepted call leg, in its own goroutine. The
// context is cancelled when the server shuts down. The handler owns the leg
// and must consume its events until the channel closes.
type Handler func(ctx context.Context, leg telephony.CallLeg)

// Server upgrades incoming media-stream connections and hands the resulting
// call legs to a [Handler]. It implements http.Handler.
type Server struct {
	handler Handler

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a media-stream server dispatching accepted legs to handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// ServeHTTP upgrades the request to a WebSocket, waits for the gateway's start
// frame, and runs the handler against the new leg. The connection is closed
// when the handler returns.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("mediaws: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	leg, err := newLeg(r.Context(), conn)
	if err != nil {
		slog.Warn("mediaws: handshake failed", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusProtocolError, "expected start frame")
		return
	}

	slog.Info("mediaws: call leg opened", "call_id", leg.CallID(), "caller_id", leg.CallerID())
	s.handler(r.Context(), leg)
	leg.close(websocket.StatusNormalClosure, "call ended")
}

// Shutdown stops accepting new legs and waits for running handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mediaws: shutdown: %w", ctx.Err())
	}
}

// leg is one live media-stream connection. It implements telephony.CallLeg.
type leg struct {
	conn     *websocket.Conn
	callID   string
	callerID string
	events   chan telephony.Event

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// handshakeTimeout bounds the wait for the gateway's start frame.
const handshakeTimeout = 10 * time.Second

// newLeg reads the start frame and spawns the event reader.
func newLeg(ctx context.Context, conn *websocket.Conn) (*leg, error) {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(hsCtx)
	if err != nil {
		return nil, fmt.Errorf("mediaws: read start frame: %w", err)
	}
	f, err := parseFrame(data)
	if err != nil {
		return nil, err
	}
	if f.Event != wireEventStart || f.Start == nil {
		return nil, fmt.Errorf("mediaws: first frame is %q, want start", f.Event)
	}

	callID := f.Start.CallSID
	if callID == "" {
		// Some gateways omit the call SID on test streams; mint one so the
		// registry still gets a unique key.
		callID = "call-" + uuid.NewString()
	}

	l := &leg{
		conn:     conn,
		callID:   callID,
		callerID: f.Start.From,
		events:   make(chan telephony.Event, eventBuffer),
	}

	l.events <- telephony.Event{
		Kind:     telephony.EventStarted,
		CallID:   l.callID,
		CallerID: l.callerID,
	}
	go l.readLoop(ctx)
	return l, nil
}

func (l *leg) CallID() string { return l.callID }

func (l *leg) CallerID() string { return l.callerID }

func (l *leg) Events() <-chan telephony.Event { return l.events }

// WriteAudio sends one μ-law frame toward the caller. Writes are serialized so
// concurrent producers cannot interleave partial frames.
func (l *leg) WriteAudio(ctx context.Context, f audio.Frame) error {
	if f.Encoding != audio.EncMulaw {
		return fmt.Errorf("mediaws: write: frame encoding is %s, want mulaw", f.Encoding)
	}
	data, err := encodeMediaFrame(f.Data)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("mediaws: write media frame: %w", err)
	}
	return nil
}

// Terminate sends the hangup instruction and closes the socket. The hangup
// frame is best effort: if a stalled audio write still holds the write lock,
// Terminate skips the frame and closes the connection anyway, which also
// unblocks the stalled writer.
func (l *leg) Terminate(ctx context.Context) error {
	data, err := encodeHangupFrame()
	if err != nil {
		return err
	}
	var writeErr error
	if l.writeMu.TryLock() {
		if err := l.conn.Write(ctx, websocket.MessageText, data); err != nil {
			writeErr = fmt.Errorf("mediaws: write hangup frame: %w", err)
		}
		l.writeMu.Unlock()
	}

	l.close(websocket.StatusNormalClosure, "terminated")
	return writeErr
}

// close shuts the socket down exactly once.
func (l *leg) close(code websocket.StatusCode, reason string) {
	l.closeOnce.Do(func() {
		l.conn.Close(code, reason)
	})
}

// emitTerminal delivers the final event for a leg without blocking. A handler
// that abandoned the leg with a full event buffer loses the terminal event
// instead of pinning the read goroutine; the closed channel still signals the
// end of the stream.
func (l *leg) emitTerminal(ev telephony.Event) {
	select {
	case l.events <- ev:
	default:
		slog.Debug("mediaws: dropping terminal event, buffer full", "call_id", l.callID, "kind", ev.Kind)
	}
}

// readLoop parses inbound wire frames into tagged events until the socket
// closes. The event channel is closed on exit.
func (l *leg) readLoop(ctx context.Context) {
	defer close(l.events)

	var elapsed time.Duration
	for {
		_, data, err := l.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				l.emitTerminal(telephony.Event{Kind: telephony.EventStopped})
				return
			}
			l.emitTerminal(telephony.Event{
				Kind: telephony.EventError,
				Err:  fmt.Errorf("mediaws: read: %w", err),
			})
			return
		}

		f, err := parseFrame(data)
		if err != nil {
			slog.Warn("mediaws: dropping unparseable frame", "call_id", l.callID, "err", err)
			continue
		}

		switch f.Event {
		case wireEventMedia:
			raw, err := decodePayload(f.Media)
			if err != nil {
				slog.Warn("mediaws: dropping malformed media frame", "call_id", l.callID, "err", err)
				continue
			}
			frame := audio.Frame{
				Data:       raw,
				SampleRate: telephonySampleRate,
				Encoding:   audio.EncMulaw,
				Timestamp:  elapsed,
			}
			elapsed += frame.Duration()
			l.events <- telephony.Event{Kind: telephony.EventMedia, Frame: frame}

		case wireEventStop:
			l.emitTerminal(telephony.Event{Kind: telephony.EventStopped})
			return

		case wireEventStart:
			slog.Warn("mediaws: duplicate start frame ignored", "call_id", l.callID)

		default:
			slog.Debug("mediaws: ignoring frame", "call_id", l.callID, "event", f.Event)
		}
	}
}
