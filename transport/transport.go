// Package transport holds what the barrel transports share: how responder
// outcomes are rendered to remote callers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/bjaus/barrel"
)

// InternalErrorMessage is the only failure text a caller sees besides the
// no-listener message. Causes stay in the engine's error handler.
const InternalErrorMessage = "An internal error occurred"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var emptyObject = []byte(`{}`)

// Status maps a responder failure to an HTTP status code.
func Status(err error) int {
	if errors.Is(err, barrel.ErrNoListener) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// Message is the public text for a responder failure.
func Message(err error) string {
	if errors.Is(err, barrel.ErrNoListener) {
		return barrel.ErrNoListener.Error()
	}
	return InternalErrorMessage
}

// ErrorBody renders err as {"error": "..."}.
func ErrorBody(err error) []byte {
	b, _ := jsonAPI.Marshal(map[string]string{"error": Message(err)})
	return b
}

// ReplyBody returns result, or an empty object when there is none.
func ReplyBody(result json.RawMessage) []byte {
	if len(result) == 0 {
		return emptyObject
	}
	return result
}

// Outcome is what a listener sent back for one message.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// Body renders the outcome for the wire.
func (o Outcome) Body() []byte {
	if o.Err != nil {
		return ErrorBody(o.Err)
	}
	return ReplyBody(o.Result)
}

// Pending is a Responder whose single outcome is awaited by the transport
// that received the message.
type Pending struct {
	ch chan Outcome
}

func NewPending() *Pending {
	return &Pending{ch: make(chan Outcome, 1)}
}

func (p *Pending) Reply(_ context.Context, result json.RawMessage) error {
	p.send(Outcome{Result: result})
	return nil
}

func (p *Pending) Fail(_ context.Context, err error) error {
	p.send(Outcome{Err: err})
	return nil
}

func (p *Pending) send(o Outcome) {
	select {
	case p.ch <- o:
	default:
	}
}

// Wait blocks until the outcome arrives, timeout elapses or ctx is done.
// A zero timeout waits for the outcome or ctx only.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (Outcome, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case o := <-p.ch:
		return o, true
	case <-expired:
		return Outcome{}, false
	case <-ctx.Done():
		return Outcome{}, false
	}
}
