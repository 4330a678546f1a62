package barrel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/match"
)

// Mode selects what drives the scheduler.
type Mode string

const (
	// ModeSystem ticks once a second on an internal ticker.
	ModeSystem Mode = "system"
	// ModePolled ticks only when Tick is called, usually from an HTTP route
	// hit by an external cron.
	ModePolled Mode = "polled"
)

// State is the scheduler lifecycle: Idle, Running, then Stopped for good.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CronFields is a cron expression split by field. Empty fields mean "*".
type CronFields struct {
	Second     string `json:"second"`
	Minute     string `json:"minute"`
	Hour       string `json:"hour"`
	DayOfMonth string `json:"day_of_month"`
	Month      string `json:"month"`
	DayOfWeek  string `json:"day_of_week"`
}

// Expression joins the fields into a six-field cron expression.
func (f CronFields) Expression() string {
	fields := []string{f.Second, f.Minute, f.Hour, f.DayOfMonth, f.Month, f.DayOfWeek}
	for i, v := range fields {
		if v = strings.TrimSpace(v); v == "" {
			v = "*"
		}
		fields[i] = v
	}
	return strings.Join(fields, " ")
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five or six field cron expression or a descriptor
// such as @daily. @every is rejected: ticks keep no state between them, so
// only calendar schedules can be evaluated.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	if _, ok := sched.(cron.ConstantDelaySchedule); ok {
		return nil, fmt.Errorf("%w: %q: @every is not supported", ErrInvalidCron, expr)
	}
	return sched, nil
}

// NextRuns previews the next n fire times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for range n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// Injector receives the messages a scheduler fires.
type Injector interface {
	Inject(ctx context.Context, msg any) *Ticket
}

type scheduleEntry struct {
	pattern  match.Pattern
	expr     string
	schedule cron.Schedule
}

// Schedule describes a registered timer.
type Schedule struct {
	Pattern    match.Pattern
	Expression string
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval overrides the one second system tick.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// Scheduler injects a pattern's message whenever its cron expression is
// due. Every tick recomputes due times from scratch: a missed second is
// skipped, never replayed.
type Scheduler struct {
	inject   Injector
	log      logx.Logger
	mode     Mode
	loc      *time.Location
	interval time.Duration

	mu      sync.Mutex
	state   State
	entries []*scheduleEntry
	byKey   map[string]*scheduleEntry
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler returns an idle scheduler. A nil loc means time.Local.
func NewScheduler(inj Injector, mode Mode, loc *time.Location, log logx.Logger, opts ...SchedulerOption) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if mode == "" {
		mode = ModeSystem
	}
	s := &Scheduler{
		inject:   inj,
		log:      log.With(logx.String("component", "scheduler")),
		mode:     mode,
		loc:      loc,
		interval: time.Second,
		byKey:    make(map[string]*scheduleEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add binds p to a cron expression. An invalid expression is an error and
// nothing is stored; a pattern that already has a schedule is dropped and
// Add reports false.
func (s *Scheduler) Add(p match.Pattern, expr string) (bool, error) {
	if p.IsZero() {
		return false, fmt.Errorf("%w: zero pattern", match.ErrParameterMismatch)
	}
	sched, err := ParseCron(expr)
	if err != nil {
		s.log.Error("schedule rejected", logx.String("pattern", p.String()), logx.Err(err))
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byKey[p.Key()]; dup {
		s.log.Debug("duplicate schedule dropped", logx.String("pattern", p.String()))
		return false, nil
	}
	e := &scheduleEntry{pattern: p, expr: expr, schedule: sched}
	s.byKey[p.Key()] = e
	s.entries = append(s.entries, e)
	s.log.Debug("schedule added", logx.String("pattern", p.String()), logx.String("cron", expr))
	return true, nil
}

// AddFields is Add with the expression given field by field.
func (s *Scheduler) AddFields(p match.Pattern, f CronFields) (bool, error) {
	return s.Add(p, f.Expression())
}

// Schedules lists registered timers in registration order.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, len(s.entries))
	for i, e := range s.entries {
		out[i] = Schedule{Pattern: e.pattern, Expression: e.expr}
	}
	return out
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Mode() Mode { return s.mode }

// Start moves an idle scheduler to running. In ModeSystem it begins
// ticking; in ModePolled it only starts accepting Tick calls.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return ErrSchedulerRunning
	case StateStopped:
		return ErrSchedulerStopped
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.state = StateRunning
	if s.mode == ModeSystem {
		s.done = make(chan struct{})
		go s.loop(s.ctx, s.done)
	}
	s.log.Info("service started",
		logx.String("mode", string(s.mode)),
		logx.String("tz", s.loc.String()),
		logx.Int("schedules", len(s.entries)),
	)
	return nil
}

// Stop halts ticking. Messages already injected keep running.
func (s *Scheduler) Stop(ctx context.Context) error {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			// A second is evaluated once however often the ticker fires.
			second := now.Truncate(time.Second)
			if second.Equal(last) {
				continue
			}
			last = second
			s.Tick(now)
		}
	}
}

// Tick fires every schedule due at the second containing now and returns
// how many fired. It does nothing unless the scheduler is running.
func (s *Scheduler) Tick(now time.Time) int {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return 0
	}
	ctx := s.ctx
	entries := make([]*scheduleEntry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	second := now.In(s.loc).Truncate(time.Second)
	fired := 0
	for _, e := range entries {
		if !due(e.schedule, second) {
			continue
		}
		fired++
		s.log.Debug("schedule fired", logx.String("pattern", e.pattern.String()), logx.Time("at", second))
		s.inject.Inject(ctx, e.pattern.Message())
	}
	return fired
}

// due reports whether sched fires exactly at second. Next returns the
// first activation strictly after its argument, so asking from one
// nanosecond earlier includes second itself.
func due(sched cron.Schedule, second time.Time) bool {
	return sched.Next(second.Add(-time.Nanosecond)).Equal(second)
}
