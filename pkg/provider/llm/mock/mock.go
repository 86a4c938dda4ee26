// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator sends correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. Responses are consumed in call order, which makes it easy to
// script out-of-order completions by giving earlier calls longer delays.
//
// Example:
//
//	p := &mock.Provider{Responses: []mock.Response{
//	    {Content: "slow first answer", Delay: 50 * time.Millisecond},
//	    {Content: "fast second answer"},
//	}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/quantabank/voicegate/pkg/provider/llm"
)

// Response scripts the outcome of a single Complete call.
type Response struct {
	// Content is the reply text returned on success.
	Content string

	// Err, if non-nil, is returned instead of a response.
	Err error

	// Delay is waited before returning, honoring context cancellation.
	Delay time.Duration
}

// Call records a single invocation of Complete.
type Call struct {
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Each Complete call consumes the next entry from Responses. Calls beyond
// the scripted entries return Default (or an empty response if Default is
// nil). Set CompleteFn to take over the behavior entirely.
type Provider struct {
	mu sync.Mutex

	// Responses is the per-call script, consumed in order.
	Responses []Response

	// Default is returned once Responses is exhausted. May be nil.
	Default *llm.CompletionResponse

	// CompleteFn, if non-nil, replaces the scripted behavior. Calls are
	// still recorded.
	CompleteFn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	next  int
	calls []Call
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Req: req})
	fn := p.CompleteFn
	var scripted *Response
	if fn == nil && p.next < len(p.Responses) {
		r := p.Responses[p.next]
		p.next++
		scripted = &r
	}
	def := p.Default
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if scripted == nil {
		if def != nil {
			resp := *def
			return &resp, nil
		}
		return &llm.CompletionResponse{}, nil
	}

	if scripted.Delay > 0 {
		select {
		case <-time.After(scripted.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if scripted.Err != nil {
		return nil, scripted.Err
	}
	return &llm.CompletionResponse{Content: scripted.Content}, nil
}

// Calls returns a copy of all recorded Complete invocations in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
