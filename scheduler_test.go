package barrel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/match"
)

// injected records what a scheduler fires.
type injected struct {
	mu   sync.Mutex
	msgs []any
	ch   chan struct{}
}

func newInjected() *injected { return &injected{ch: make(chan struct{}, 64)} }

func (i *injected) Inject(_ context.Context, msg any) *Ticket {
	i.mu.Lock()
	i.msgs = append(i.msgs, msg)
	i.mu.Unlock()
	select {
	case i.ch <- struct{}{}:
	default:
	}
	return nil
}

func (i *injected) all() []any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]any(nil), i.msgs...)
}

type SchedulerSuite struct {
	suite.Suite
	ctx   context.Context
	inj   *injected
	sched *Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.inj = newInjected()
	s.sched = NewScheduler(s.inj, ModePolled, time.UTC, logx.Nop())
}

func (s *SchedulerSuite) at(h, m, sec, nsec int) time.Time {
	return time.Date(2026, 6, 15, h, m, sec, nsec, time.UTC)
}

func (s *SchedulerSuite) TestTickFiresDueSchedules() {
	_, err := s.sched.Add(match.Literal("every-second"), "* * * * * *")
	s.Require().NoError(err)
	_, err = s.sched.Add(match.MustObject(match.Shape{"job": "noon"}), "0 0 12 * * *")
	s.Require().NoError(err)
	s.Require().NoError(s.sched.Start(s.ctx))

	s.Assert().Equal(2, s.sched.Tick(s.at(12, 0, 0, 400_000_000)))
	s.Assert().Equal(1, s.sched.Tick(s.at(12, 0, 1, 0)))
	s.Assert().Equal(1, s.sched.Tick(s.at(11, 59, 59, 999_999_999)))

	msgs := s.inj.all()
	s.Require().Len(msgs, 4)
	s.Assert().Equal("every-second", msgs[0])
	s.Assert().Equal(map[string]any{"job": "noon"}, msgs[1])
}

func (s *SchedulerSuite) TestTickUsesLocation() {
	edt := time.FixedZone("EDT", -4*60*60)
	sched := NewScheduler(s.inj, ModePolled, edt, logx.Nop())
	_, err := sched.Add(match.Literal("open"), "0 30 9 * * *")
	s.Require().NoError(err)
	s.Require().NoError(sched.Start(s.ctx))

	s.Assert().Equal(0, sched.Tick(s.at(9, 30, 0, 0)))
	s.Assert().Equal(1, sched.Tick(s.at(13, 30, 0, 0)), "09:30 EDT is 13:30 UTC")
}

func (s *SchedulerSuite) TestAdd() {
	added, err := s.sched.Add(match.Literal("Report"), "@daily")
	s.Require().NoError(err)
	s.Assert().True(added)

	added, err = s.sched.Add(match.Literal("report"), "@hourly")
	s.Require().NoError(err)
	s.Assert().False(added, "one schedule per pattern")

	_, err = s.sched.Add(match.Literal("other"), "not cron")
	s.Assert().ErrorIs(err, ErrInvalidCron)

	_, err = s.sched.Add(match.Literal("other"), "@every 5s")
	s.Assert().ErrorIs(err, ErrInvalidCron)

	_, err = s.sched.Add(match.Pattern{}, "* * * * *")
	s.Assert().ErrorIs(err, match.ErrParameterMismatch)

	added, err = s.sched.AddFields(match.Literal("fields"), CronFields{Minute: "*/5", Second: "0"})
	s.Require().NoError(err)
	s.Assert().True(added)

	got := s.sched.Schedules()
	s.Require().Len(got, 2)
	s.Assert().Equal("@daily", got[0].Expression)
	s.Assert().Equal("0 */5 * * * *", got[1].Expression)
}

func (s *SchedulerSuite) TestLifecycle() {
	s.Assert().Equal(StateIdle, s.sched.State())
	s.Assert().Equal(0, s.sched.Tick(s.at(0, 0, 0, 0)))

	s.Require().NoError(s.sched.Start(s.ctx))
	s.Assert().Equal(StateRunning, s.sched.State())
	s.Assert().ErrorIs(s.sched.Start(s.ctx), ErrSchedulerRunning)

	s.Require().NoError(s.sched.Stop(s.ctx))
	s.Assert().Equal(StateStopped, s.sched.State())
	s.Assert().NoError(s.sched.Stop(s.ctx), "stopping twice is fine")
	s.Assert().ErrorIs(s.sched.Start(s.ctx), ErrSchedulerStopped)
}

func (s *SchedulerSuite) TestSystemModeTicks() {
	sched := NewScheduler(s.inj, ModeSystem, time.UTC, logx.Nop(), WithTickInterval(10*time.Millisecond))
	_, err := sched.Add(match.Literal("tick"), "* * * * * *")
	s.Require().NoError(err)
	s.Require().NoError(sched.Start(s.ctx))

	select {
	case <-s.inj.ch:
	case <-time.After(3 * time.Second):
		s.Fail("system scheduler never fired")
	}

	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	s.Require().NoError(sched.Stop(ctx))
	s.Assert().Equal(StateStopped, sched.State())
}

func TestCronFields_Expression(t *testing.T) {
	tests := map[string]struct {
		fields CronFields
		want   string
	}{
		"empty":   {CronFields{}, "* * * * * *"},
		"partial": {CronFields{Hour: "3", Minute: " 15 "}, "* 15 3 * * *"},
		"full":    {CronFields{"0", "0", "9", "1", "JAN", "MON"}, "0 0 9 1 JAN MON"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.fields.Expression())
			_, err := ParseCron(tc.fields.Expression())
			assert.NoError(t, err)
		})
	}
}

func TestNextRuns(t *testing.T) {
	from := time.Date(2026, 1, 31, 23, 59, 30, 0, time.UTC)
	format := func(ts []time.Time) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = t.UTC().Format(time.RFC3339)
		}
		return out
	}

	runs, err := NextRuns("0 0 0 1 * *", from, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-01T00:00:00Z", "2026-03-01T00:00:00Z"}, format(runs))

	runs, err = NextRuns("*/15 * * * *", from, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-01T00:00:00Z"}, format(runs), "five fields have no seconds")

	_, err = NextRuns("61 * * * *", from, 1)
	assert.ErrorIs(t, err, ErrInvalidCron)
}
