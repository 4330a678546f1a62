package barrel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/bjaus/barrel/match"
)

type contextKey string

// sourceWithHooks implements the optional source hook interfaces.
type sourceWithHooks struct {
	name string

	onParse   atomic.Int32
	onSuccess atomic.Int32
	onFailure atomic.Int32
}

func (s *sourceWithHooks) Name() string { return s.name }

func (s *sourceWithHooks) Discriminator() Discriminator { return HasFields("body") }

func (s *sourceWithHooks) Parse(raw []byte) (Inbound, error) {
	return EnvelopeSource(s.name, s.Discriminator(), "body").Parse(raw)
}

func (s *sourceWithHooks) OnParse(ctx context.Context) context.Context {
	s.onParse.Add(1)
	return context.WithValue(ctx, contextKey("source"), s.name)
}

func (s *sourceWithHooks) OnSuccess(context.Context, *Event, time.Duration) {
	s.onSuccess.Add(1)
}

func (s *sourceWithHooks) OnFailure(context.Context, *Event, error, time.Duration) {
	s.onFailure.Add(1)
}

type HooksSuite struct {
	suite.Suite
	ctx context.Context
}

func TestHooksSuite(t *testing.T) {
	suite.Run(t, new(HooksSuite))
}

func (s *HooksSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *HooksSuite) TestOnParseChainsContext() {
	var order []string
	e := New(
		WithOnParse(func(ctx context.Context, source string) context.Context {
			order = append(order, "first:"+source)
			return context.WithValue(ctx, contextKey("first"), 1)
		}),
		WithOnParse(func(ctx context.Context, source string) context.Context {
			order = append(order, "second")
			return context.WithValue(ctx, contextKey("second"), 2)
		}),
	)
	src := &sourceWithHooks{name: "queue"}
	e.AddSource(src)

	seen := make(chan context.Context, 1)
	s.Require().NoError(e.OnFunc(match.Literal("order"), func(ctx context.Context, _ *Event) error {
		seen <- ctx
		return nil
	}))

	tk, err := e.Process(s.ctx, []byte(`{"body": {"order": 1}}`), nil)
	s.Require().NoError(err)
	waitTicket(s.T(), tk)

	ctx := <-seen
	s.Assert().Equal([]string{"first:queue", "second"}, order)
	s.Assert().Equal(1, ctx.Value(contextKey("first")))
	s.Assert().Equal(2, ctx.Value(contextKey("second")))
	s.Assert().Equal("queue", ctx.Value(contextKey("source")))
	s.Assert().EqualValues(1, src.onParse.Load())
}

func (s *HooksSuite) TestSuccessAndFailure() {
	var mu sync.Mutex
	var dispatched, succeeded, failed []string
	e := New(
		WithOnDispatch(func(_ context.Context, ev *Event) {
			mu.Lock()
			dispatched = append(dispatched, ev.Pattern.String())
			mu.Unlock()
		}),
		WithOnSuccess(func(_ context.Context, ev *Event, d time.Duration) {
			mu.Lock()
			succeeded = append(succeeded, ev.Pattern.String())
			mu.Unlock()
		}),
		WithOnFailure(func(_ context.Context, ev *Event, err error, _ time.Duration) {
			mu.Lock()
			failed = append(failed, ev.Pattern.String()+": "+err.Error())
			mu.Unlock()
		}),
		WithErrorHandler(func(context.Context, error) {}),
	)
	src := &sourceWithHooks{name: "queue"}
	e.AddSource(src)

	s.Require().NoError(e.OnFunc(match.Literal("ok"), func(context.Context, *Event) error { return nil }))
	s.Require().NoError(e.OnFunc(match.Literal("bad"), func(context.Context, *Event) error { return errors.New("boom") }))

	tk, err := e.Process(s.ctx, []byte(`{"body": {"ok": true, "bad": true}}`), nil)
	s.Require().NoError(err)
	waitTicket(s.T(), tk)

	mu.Lock()
	defer mu.Unlock()
	s.Assert().ElementsMatch([]string{"ok", "bad"}, dispatched)
	s.Assert().Equal([]string{"ok"}, succeeded)
	s.Assert().Equal([]string{"bad: boom"}, failed)
	s.Assert().EqualValues(1, src.onSuccess.Load())
	s.Assert().EqualValues(1, src.onFailure.Load())
}

func (s *HooksSuite) TestNoSource() {
	tests := map[string]struct {
		hookErr error
		hooked  bool
		want    error
	}{
		"without hook":    {want: ErrNoSource},
		"hook skips":      {hooked: true},
		"hook error wins": {hooked: true, hookErr: errors.New("rejected"), want: errors.New("rejected")},
	}
	for name, tc := range tests {
		s.Run(name, func() {
			var opts []Option
			if tc.hooked {
				opts = append(opts, WithOnNoSource(func(context.Context, []byte) error { return tc.hookErr }))
			}
			e := New(opts...)
			e.AddSource(&sourceWithHooks{name: "queue"})
			r := newRecorder()

			_, err := e.Process(s.ctx, []byte(`{"other": 1}`), r)
			if tc.want == nil {
				s.Assert().NoError(err)
			} else {
				s.Assert().EqualError(err, tc.want.Error())
			}
			_, fails := r.snapshot()
			s.Assert().Equal([]error{ErrNoListener}, fails)
		})
	}
}

func (s *HooksSuite) TestParseError() {
	var gotSource string
	e := New(WithOnParseError(func(_ context.Context, source string, err error) error {
		gotSource = source
		return nil
	}))
	e.AddSource(SourceFunc("strict", Always(), func([]byte) (Inbound, error) {
		return Inbound{}, errors.New("bad envelope")
	}))
	r := newRecorder()

	_, err := e.Process(s.ctx, []byte(`{}`), r)
	s.Require().NoError(err)
	s.Assert().Equal("strict", gotSource)
	_, fails := r.snapshot()
	s.Assert().Equal([]error{ErrHandlerFailed}, fails)
}

func (s *HooksSuite) TestParseErrorWithoutHook() {
	e := New()
	e.AddSource(SourceFunc("strict", Always(), func([]byte) (Inbound, error) {
		return Inbound{}, errors.New("bad envelope")
	}))

	_, err := e.Process(s.ctx, []byte(`{}`), nil)
	s.Assert().EqualError(err, "parse failed for source strict: bad envelope")
}

func (s *HooksSuite) TestNoListener() {
	var got any
	e := New(WithOnNoListener(func(_ context.Context, source string, msg any) {
		got = msg
	}))
	r := newRecorder()

	tk := e.Dispatch(s.ctx, map[string]any{"nobody": "home"}, r)
	waitTicket(s.T(), tk)

	s.Assert().Equal(0, tk.Matched())
	s.Assert().Equal(map[string]any{"nobody": "home"}, got)
	_, fails := r.snapshot()
	s.Assert().Equal([]error{ErrNoListener}, fails)
}
