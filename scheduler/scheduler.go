// Package scheduler runs inbox sync cycles on cron schedules.
//
// Each job owns one target (usually an *inbox.Inbox). Overlapping runs of
// the same job are skipped, panics are recovered and every verdict is
// recorded so callers can inspect the last outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/inbox"
)

// Target runs one sync cycle. *inbox.Inbox implements it.
type Target interface {
	RunSyncCycle(ctx context.Context) inbox.Verdict
}

// Sentinel errors.
var (
	ErrDuplicateJob = errors.New("scheduler: duplicate job name")
	ErrRunning      = errors.New("scheduler: already running")
)

// Status is the recorded outcome of a job.
type Status struct {
	Name        string
	Schedule    string
	Runs        int
	LastRun     time.Time
	LastVerdict inbox.Verdict
	Next        time.Time
}

type job struct {
	name     string
	schedule string
	target   Target
	entry    cron.EntryID

	mu     sync.Mutex
	status Status
}

// Scheduler runs registered jobs until its context ends.
type Scheduler struct {
	opts   *options
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    []*job
	running bool
}

// New creates a scheduler. Schedules accept five or six fields (seconds
// optional) and descriptors such as "@every 5m".
func New(opts ...Option) *Scheduler {
	o := newOptions(opts...)
	s := &Scheduler{opts: o, logger: o.logger}

	cl := cronLogger{o.logger}
	s.cron = cron.New(
		cron.WithLocation(o.location),
		cron.WithParser(cron.NewParser(
			cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithLogger(cl),
		cron.WithChain(
			cron.SkipIfStillRunning(cl),
			cron.Recover(cl),
		),
	)
	return s
}

// Add registers target under name with a cron schedule.
func (s *Scheduler) Add(name, schedule string, target Target) error {
	if target == nil {
		return fmt.Errorf("scheduler: job %q has no target", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateJob, name)
		}
	}

	j := &job{
		name:     name,
		schedule: schedule,
		target:   target,
		status:   Status{Name: name, Schedule: schedule},
	}
	id, err := s.cron.AddFunc(schedule, func() { s.runJob(context.Background(), j) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	j.entry = id
	s.jobs = append(s.jobs, j)

	s.logger.Info("registered sync job", "job", name, "schedule", schedule)
	return nil
}

// Run starts the cron loop and blocks until ctx ends. With run-on-start
// enabled every job runs once first, concurrently. Run waits for in-flight
// jobs before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.opts.runOnStart {
		g, gctx := errgroup.WithContext(ctx)
		for _, j := range jobs {
			g.Go(func() error {
				s.runJob(gctx, j)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Status returns the recorded state of every job in registration order.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	out := make([]Status, len(jobs))
	for i, j := range jobs {
		j.mu.Lock()
		out[i] = j.status
		j.mu.Unlock()
		out[i].Next = s.cron.Entry(j.entry).Next
	}
	return out
}

// runJob runs one cycle of j with the configured timeout.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync job panicked", "job", j.name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	start := time.Now()
	v := j.target.RunSyncCycle(ctx)

	j.mu.Lock()
	j.status.Runs++
	j.status.LastRun = start
	j.status.LastVerdict = v
	j.mu.Unlock()

	log := s.logger.With("job", j.name, "verdict", v.String(), "duration", time.Since(start))
	if v == inbox.VerdictSuccess {
		log.Debug("sync job finished")
		return
	}
	log.Warn("sync job did not succeed")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
