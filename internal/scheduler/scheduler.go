// Package scheduler triggers pipeline runs on a cron schedule, never more
// than one at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/salewatch/internal/model"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) (*model.RunResult, error)

// Status is a snapshot of the scheduler for the health endpoint.
type Status struct {
	Schedule  string           `json:"schedule"`
	Timezone  string           `json:"timezone"`
	Next      *time.Time       `json:"next_run,omitempty"`
	Running   bool             `json:"running"`
	Runs      int              `json:"runs"`
	Skipped   int              `json:"skipped"`
	LastRun   *model.RunResult `json:"last_run,omitempty"`
	LastError string           `json:"last_error,omitempty"`
}

// Scheduler runs Job on a cron spec in a fixed location.
type Scheduler struct {
	spec string
	loc  *time.Location
	job  Job
	cron *cron.Cron

	entry cron.EntryID
	ctx   context.Context

	// running is held for the duration of a job.
	running sync.Mutex

	mu        sync.RWMutex
	stopped   bool
	busy      bool
	runs      int
	skipped   int
	last      *model.RunResult
	lastError string
}

// New validates spec (standard five-field cron or a descriptor such as
// @daily) and timezone and returns a stopped Scheduler.
func New(spec, timezone string, job Job) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse spec %q", spec)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: load timezone %q", timezone)
	}

	s := &Scheduler{
		spec: spec,
		loc:  loc,
		job:  job,
		ctx:  context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
	)
	s.entry, err = s.cron.AddFunc(spec, func() { s.Trigger(s.ctx) })
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: add job")
	}
	return s, nil
}

// Start begins firing on schedule. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	zap.L().Info("scheduler: started",
		zap.String("schedule", s.spec),
		zap.String("timezone", s.loc.String()),
		zap.Time("next_run", s.cron.Entry(s.entry).Next),
	)
}

// Stop halts the schedule and waits for a running job, scheduled or
// triggered by hand, to finish or ctx to end, whichever comes first. Later
// calls to Trigger do nothing.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	idle := make(chan struct{})
	go func() {
		<-done.Done()
		s.running.Lock()
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.running.Unlock()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
		zap.L().Warn("scheduler: stop timed out with a run in progress")
	}
}

// Trigger runs the job now unless a run is already in progress or the
// scheduler is stopped, in which case it returns false immediately.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		zap.L().Warn("scheduler: previous run still in progress, skipping")
		return false
	}
	defer s.running.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.busy = true
	s.mu.Unlock()

	res, err := s.job(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.runs++
	if res != nil {
		s.last = res
	}
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
		zap.L().Error("scheduler: run failed", zap.Error(err))
	}
	return true
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Schedule:  s.spec,
		Timezone:  s.loc.String(),
		Running:   s.busy,
		Runs:      s.runs,
		Skipped:   s.skipped,
		LastRun:   s.last,
		LastError: s.lastError,
	}
	if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
		st.Next = &next
	}
	return st
}

// cronLogger routes cron's internal logging to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.S().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.S().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
