// Package bridge is the request/response channel between the engine and an
// external UI for human input. The engine publishes a request and blocks on
// a pending entry keyed by requestId; the UI resolves or rejects that entry
// asynchronously. Cancellation propagates by abandoning the wait.
package bridge

import (
	"context"
	"sync"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// Request is the event published to the UI. The shape matches the engine's
// user-input contract bit-exactly, including the validation error carried
// on a re-prompt.
type Request struct {
	InstanceID      string                    `json:"instanceId"`
	RequestID       string                    `json:"requestId"`
	NodeID          string                    `json:"nodeId"`
	Prompt          string                    `json:"prompt"`
	InputType       string                    `json:"inputType"`
	Required        bool                      `json:"required"`
	Validation      *workflow.InputValidation `json:"validation,omitempty"`
	Options         []workflow.SelectOption   `json:"options,omitempty"`
	DefaultValue    any                       `json:"defaultValue,omitempty"`
	ValidationError string                    `json:"validationError,omitempty"`
}

// Response resolves a pending request.
type Response struct {
	Value any
	Err   error
}

// Bridge serializes pending-request bookkeeping per process; each instance
// publishes at most one request at a time.
type Bridge struct {
	mu       sync.Mutex
	pending  map[string]chan Response
	requests chan *Request
}

// New creates a bridge. The request channel buffers up to size events for
// a UI that polls.
func New(size int) *Bridge {
	if size <= 0 {
		size = 16
	}
	return &Bridge{
		pending:  make(map[string]chan Response),
		requests: make(chan *Request, size),
	}
}

// Requests exposes the stream of published requests to the UI side.
func (b *Bridge) Requests() <-chan *Request {
	return b.requests
}

// Publish registers a pending entry for the request and blocks until the
// UI resolves it or ctx is cancelled. On cancellation the pending entry is
// withdrawn and ERR_CANCELLED is returned.
func (b *Bridge) Publish(ctx context.Context, req *Request) (any, error) {
	ch := make(chan Response, 1)

	b.mu.Lock()
	if _, dup := b.pending[req.RequestID]; dup {
		b.mu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeInternal, "bridge", "duplicate request id %s", req.RequestID)
	}
	b.pending[req.RequestID] = ch
	b.mu.Unlock()

	select {
	case b.requests <- req:
	case <-ctx.Done():
		b.withdraw(req.RequestID)
		return nil, apperrors.New(apperrors.CodeCancelled, "bridge", "input request cancelled before publish", ctx.Err())
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Value, nil
	case <-ctx.Done():
		b.withdraw(req.RequestID)
		return nil, apperrors.New(apperrors.CodeCancelled, "bridge", "input request cancelled", ctx.Err())
	}
}

// Resolve delivers a value for a pending request.
func (b *Bridge) Resolve(requestID string, value any) error {
	return b.complete(requestID, Response{Value: value})
}

// Reject fails a pending request with an error.
func (b *Bridge) Reject(requestID string, err error) error {
	return b.complete(requestID, Response{Err: err})
}

func (b *Bridge) complete(requestID string, resp Response) error {
	b.mu.Lock()
	ch, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "bridge", "no pending request %s", requestID)
	}
	ch <- resp
	return nil
}

func (b *Bridge) withdraw(requestID string) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}

// PendingCount reports how many requests are awaiting a response.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
