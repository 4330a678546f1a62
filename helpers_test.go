package barrel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder is a Responder that remembers what it was sent.
type recorder struct {
	mu      sync.Mutex
	replies []json.RawMessage
	fails   []error
	got     chan struct{}
	once    sync.Once
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{})}
}

func (r *recorder) Reply(_ context.Context, result json.RawMessage) error {
	r.mu.Lock()
	r.replies = append(r.replies, result)
	r.mu.Unlock()
	r.once.Do(func() { close(r.got) })
	return nil
}

func (r *recorder) Fail(_ context.Context, err error) error {
	r.mu.Lock()
	r.fails = append(r.fails, err)
	r.mu.Unlock()
	r.once.Do(func() { close(r.got) })
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("responder was never called")
	}
}

func (r *recorder) snapshot() ([]json.RawMessage, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]json.RawMessage(nil), r.replies...), append([]error(nil), r.fails...)
}

func waitTicket(t *testing.T, tk *Ticket) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tk.Wait(ctx))
}

// events collects the events a listener receives.
type events struct {
	mu  sync.Mutex
	got []*Event
}

func (c *events) handler(err error) HandlerFunc {
	return func(_ context.Context, ev *Event) error {
		c.mu.Lock()
		c.got = append(c.got, ev)
		c.mu.Unlock()
		return err
	}
}

func (c *events) all() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Event(nil), c.got...)
}
