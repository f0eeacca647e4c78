// Package scheduler owns the process's two background triggers: the daily
// delinquency sweep and the publication release poll. It is an explicit object
// constructed once by main, so tests invoke the sweep funcs directly instead
// of waiting on wall-clock timers.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config controls when each job fires.
type Config struct {
	// DelinquencyHour/Minute is the local wall-clock time of the daily sweep.
	// The cron engine recomputes the next occurrence after every firing, so
	// DST shifts never accumulate drift.
	DelinquencyHour   int
	DelinquencyMinute int

	// PublicationInterval is the release poll period.
	PublicationInterval time.Duration

	// RunDelinquencyAtStart runs the delinquency sweep once immediately when
	// the scheduler starts, before the first scheduled firing.
	RunDelinquencyAtStart bool

	// JobTimeout bounds one sweep execution.
	JobTimeout time.Duration
}

// Scheduler wires the sweep funcs to cron triggers. The two jobs may run
// concurrently with each other, but cron.SkipIfStillRunning guarantees the
// same job never overlaps itself.
type Scheduler struct {
	cronEngine       *cron.Cron
	delinquencySweep func(context.Context)
	publicationSweep func(context.Context)
	logger           *zap.Logger
	cfg              Config

	// delinquencyJob is the chain-wrapped job shared by the cron schedule and
	// the startup run, so both go through the same overlap guard.
	delinquencyJob cron.Job
	chain          cron.Chain
}

// New creates a scheduler. Both sweep funcs are required.
func New(delinquencySweep, publicationSweep func(context.Context), cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if delinquencySweep == nil || publicationSweep == nil {
		return nil, fmt.Errorf("both sweep funcs are required")
	}
	if cfg.DelinquencyHour < 0 || cfg.DelinquencyHour > 23 || cfg.DelinquencyMinute < 0 || cfg.DelinquencyMinute > 59 {
		return nil, fmt.Errorf("invalid delinquency sweep time %02d:%02d", cfg.DelinquencyHour, cfg.DelinquencyMinute)
	}
	if cfg.PublicationInterval <= 0 {
		cfg.PublicationInterval = 5 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}

	cronLog := &zapCronLogger{logger: logger}

	return &Scheduler{
		cronEngine:       cron.New(cron.WithLocation(time.Local)),
		delinquencySweep: delinquencySweep,
		publicationSweep: publicationSweep,
		logger:           logger,
		cfg:              cfg,
		chain:            cron.NewChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
	}, nil
}

// Start registers both jobs and starts the cron engine. Scheduling errors here
// are the one class that should be fatal at process start, so they are
// returned rather than logged away.
func (s *Scheduler) Start() error {
	s.delinquencyJob = s.chain.Then(cron.FuncJob(func() {
		s.runJob("delinquency", s.delinquencySweep)
	}))

	dailySpec := fmt.Sprintf("%d %d * * *", s.cfg.DelinquencyMinute, s.cfg.DelinquencyHour)
	if _, err := s.cronEngine.AddJob(dailySpec, s.delinquencyJob); err != nil {
		return fmt.Errorf("register delinquency sweep (%q): %w", dailySpec, err)
	}

	publicationJob := s.chain.Then(cron.FuncJob(func() {
		s.runJob("publication", s.publicationSweep)
	}))

	pollSpec := fmt.Sprintf("@every %s", s.cfg.PublicationInterval)
	if _, err := s.cronEngine.AddJob(pollSpec, publicationJob); err != nil {
		return fmt.Errorf("register publication release (%q): %w", pollSpec, err)
	}

	s.cronEngine.Start()

	s.logger.Info("scheduler started",
		zap.String("delinquency_spec", dailySpec),
		zap.Duration("publication_interval", s.cfg.PublicationInterval),
	)

	if s.cfg.RunDelinquencyAtStart {
		// Through the wrapped job, so a slow startup run and the first
		// scheduled firing cannot overlap each other.
		go s.delinquencyJob.Run()
	}

	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cronEngine.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runJob(name string, sweep func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	s.logger.Debug("job firing", zap.String("job", name))
	sweep(ctx)
}

// zapCronLogger adapts zap to cron's logger interface.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow("cron: "+msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
