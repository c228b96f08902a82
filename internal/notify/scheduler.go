package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/store"
)

// ErrSweepInProgress is returned when a run is requested while another one
// is still delivering.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Settings are read fresh on every tick.
type Settings interface {
	LeadDays(ctx context.Context, def int) (int, error)
	NotificationTime(ctx context.Context, def string) (string, error)
	LastSweep(ctx context.Context) (string, error)
	SetLastSweep(ctx context.Context, day string) error
}

// Deliverer hands a digest to the delivery channels.
type Deliverer interface {
	Deliver(ctx context.Context, d Digest) (Report, error)
}

// RunObserver is told about every completed or failed run.
type RunObserver interface {
	ObserveSweep(d Digest, rep Report, err error, elapsed time.Duration)
}

// Scheduler fires the sweep once per local day at the configured time.
type Scheduler struct {
	sweeper   *Sweeper
	deliverer Deliverer
	settings  Settings
	loc       *time.Location
	now       func() time.Time
	interval  time.Duration
	logger    *zap.Logger
	observer  RunObserver
	running   *semaphore.Weighted
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRunObserver(o RunObserver) SchedulerOption {
	return func(s *Scheduler) { s.observer = o }
}

func NewScheduler(sweeper *Sweeper, deliverer Deliverer, settings Settings, loc *time.Location, opts ...SchedulerOption) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		sweeper:   sweeper,
		deliverer: deliverer,
		settings:  settings,
		loc:       loc,
		now:       time.Now,
		interval:  30 * time.Second,
		logger:    zap.NewNop(),
		running:   semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Notification scheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs the daily sweep if its time has come and it has not run today.
// An unset notification time disables the sweep.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().In(s.loc)
	at, err := s.settings.NotificationTime(ctx, "")
	if err != nil {
		s.logger.Warn("Notification time unreadable", zap.Error(err))
		return
	}
	if at == "" {
		return
	}
	hour, minute, err := store.ParseClock(at)
	if err != nil {
		s.logger.Warn("Notification time invalid", zap.String("value", at), zap.Error(err))
		return
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
	if now.Before(due) {
		return
	}

	today := milestone.DateOf(now).String()
	last, err := s.settings.LastSweep(ctx)
	if err != nil {
		s.logger.Warn("Last sweep unreadable", zap.Error(err))
		return
	}
	if last == today {
		return
	}

	if _, _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Info("Scheduled sweep skipped, previous run still active")
		}
		return
	}
	if err := s.settings.SetLastSweep(ctx, today); err != nil {
		s.logger.Warn("Could not record sweep date", zap.Error(err))
	}
}

// RunOnce sweeps with the current lead setting and delivers the result.
// Concurrent calls do not overlap: the loser gets ErrSweepInProgress.
func (s *Scheduler) RunOnce(ctx context.Context) (Digest, Report, error) {
	if !s.running.TryAcquire(1) {
		return Digest{}, Report{}, ErrSweepInProgress
	}
	defer s.running.Release(1)

	start := time.Now()
	d, rep, err := s.run(ctx)
	if s.observer != nil {
		s.observer.ObserveSweep(d, rep, err, time.Since(start))
	}
	if err != nil {
		s.logger.Error("Sweep failed", zap.Error(err))
	}
	return d, rep, err
}

// Preview runs the sweep without delivering.
func (s *Scheduler) Preview(ctx context.Context, lead *int) (Digest, error) {
	n, err := s.lead(ctx, lead)
	if err != nil {
		return Digest{}, err
	}
	return s.sweeper.Sweep(ctx, milestone.DateOf(s.now().In(s.loc)), n)
}

func (s *Scheduler) lead(ctx context.Context, override *int) (int, error) {
	if override != nil {
		return *override, nil
	}
	return s.settings.LeadDays(ctx, 0)
}

func (s *Scheduler) run(ctx context.Context) (Digest, Report, error) {
	lead, err := s.lead(ctx, nil)
	if err != nil {
		return Digest{}, Report{}, err
	}
	today := milestone.DateOf(s.now().In(s.loc))
	d, err := s.sweeper.Sweep(ctx, today, lead)
	if err != nil {
		return Digest{}, Report{}, err
	}
	s.logger.Info("Sweep completed",
		zap.String("target", d.Target.String()),
		zap.Int("lead_days", d.LeadDays),
		zap.Int("matches", d.Len()),
		zap.Int("groups", len(d.Groups)),
	)
	if d.Empty() {
		return d, Report{}, nil
	}
	rep, err := s.deliverer.Deliver(ctx, d)
	return d, rep, err
}
