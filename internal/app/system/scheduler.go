package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/storefront/pkg/logger"
)

var _ Service = (*Scheduler)(nil)

// Job is a scheduled task.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron expressions. Cron specs accept an
// optional leading seconds field and descriptors such as "@every 1h".
type Scheduler struct {
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewScheduler creates a scheduler. Each run gets at most timeout.
func NewScheduler(log *logger.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:     log,
		timeout: timeout,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers job under name. An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.log.WithField("job", name).Info("scheduled job disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("job %s already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.entries[name] = id
	return nil
}

// Jobs lists scheduled job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// RunNow executes a registered job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return job(ctx)
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	started := time.Now()
	entry := s.log.WithField("job", name)
	if err := job(ctx); err != nil {
		entry.WithError(err).Error("scheduled job failed")
		return
	}
	entry.WithField("duration", time.Since(started).String()).Debug("scheduled job finished")
}

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	s.log.WithField("jobs", len(s.entries)).Info("scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("scheduler stopped")
	return nil
}
