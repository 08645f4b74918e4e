package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/config"
	"LegSentinel/internal/engine"
	"LegSentinel/internal/model"
	"LegSentinel/internal/notifier"
)

var log = logrus.WithField("component", "scheduler")

// Session is the part of the engine the scheduler drives.
type Session interface {
	EnterInitialLegs(ctx context.Context) error
	SquareOff(ctx context.Context, reason string) error
	Status() model.Status
	Summary() (*model.Summary, bool)
}

// Scheduler manages the daily session timers and chat commands.
type Scheduler struct {
	Cron     *cron.Cron
	Session  Session
	Notifier notifier.Notifier
	Ctx      context.Context

	cfg      *config.Config
	loc      *time.Location
	entry    time.Duration
	cutoff   time.Duration
	closing  time.Duration
	shutdown func()
}

// NewScheduler creates a Scheduler in the session timezone. shutdown is
// called by the end-of-day job.
func NewScheduler(ctx context.Context, cfg *config.Config, sess Session, n notifier.Notifier, shutdown func()) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	entry, err := config.ParseClock(cfg.Session.EntryTime)
	if err != nil {
		return nil, errors.Wrap(err, "entry time")
	}
	cutoff, err := config.ParseClock(cfg.Session.SquareOffTime)
	if err != nil {
		return nil, errors.Wrap(err, "square-off time")
	}
	closing, err := config.ParseClock(cfg.Session.ShutdownTime)
	if err != nil {
		return nil, errors.Wrap(err, "shutdown time")
	}
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Session:  sess,
		Notifier: n,
		Ctx:      ctx,
		cfg:      cfg,
		loc:      loc,
		entry:    entry,
		cutoff:   cutoff,
		closing:  closing,
		shutdown: shutdown,
	}, nil
}

// RegisterAll registers the entry, square-off, shutdown and heartbeat jobs.
func (s *Scheduler) RegisterAll() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"entry", weekdaySpec(s.entry), s.entryTask},
		{"square-off", weekdaySpec(s.cutoff), s.squareOffTask},
		{"shutdown", weekdaySpec(s.closing), s.shutdownTask},
		{"heartbeat", "0 0 * * * *", s.heartbeat},
	}
	for _, j := range jobs {
		if _, err := s.Cron.AddFunc(j.spec, j.fn); err != nil {
			return errors.Wrapf(err, "register %s task", j.name)
		}
	}
	return nil
}

// weekdaySpec turns a clock offset into a seconds-precision cron spec that
// fires Monday to Friday. Holidays are filtered by the engine.
func weekdaySpec(at time.Duration) string {
	h := int(at / time.Hour)
	m := int(at % time.Hour / time.Minute)
	sec := int(at % time.Minute / time.Second)
	return fmt.Sprintf("%d %d %d * * 1-5", sec, m, h)
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info("scheduler stopped")
}

// CatchUp runs the job whose time has already passed today, for a process
// started mid-session.
func (s *Scheduler) CatchUp(now time.Time) {
	now = now.In(s.loc)
	entryAt := config.Clock(now, s.entry)
	cutoffAt := config.Clock(now, s.cutoff)
	closingAt := config.Clock(now, s.closing)
	switch {
	case now.Before(entryAt):
		log.WithField("entry", entryAt.Format("15:04:05")).Info("waiting for entry time")
	case now.Before(cutoffAt):
		log.Info("started inside the trading window, entering now")
		s.entryTask()
	case now.Before(closingAt):
		log.Info("started after square-off time, squaring off")
		s.squareOffTask()
	default:
		log.Info("started after shutdown time, nothing to do")
	}
}

func (s *Scheduler) entryTask() {
	log.Info("running entry task")
	err := s.Session.EnterInitialLegs(s.Ctx)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrMarketClosed):
		log.Info("market closed today")
	case errors.Is(err, engine.ErrHalted):
		log.Info("session already finished")
	default:
		log.WithError(err).Error("entry task failed")
		s.trySend("Entry failed", err.Error())
	}
}

func (s *Scheduler) squareOffTask() {
	log.Info("running square-off task")
	err := s.Session.SquareOff(s.Ctx, model.ReasonSquareOff)
	switch {
	case err == nil, errors.Is(err, engine.ErrHalted):
	default:
		log.WithError(err).Error("square-off task failed")
		s.trySend("Square-off incomplete", err.Error())
	}
}

func (s *Scheduler) shutdownTask() {
	log.Info("end of day, shutting down")
	s.shutdown()
}

func (s *Scheduler) heartbeat() {
	st := s.Session.Status()
	log.WithFields(logrus.Fields{
		"open":     len(st.OpenLegs),
		"booked":   st.BookedPnL,
		"mtm":      st.MTM,
		"lock":     st.LockLevel,
		"finished": st.Finished,
	}).Info("heartbeat")
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/status":
		return notifier.FormatStatus(s.Session.Status())
	case "/legs":
		return notifier.FormatLegs(s.Session.Status())
	case "/pnl":
		return notifier.FormatPnL(s.Session.Status())
	case "/summary":
		sum, ok := s.Session.Summary()
		if !ok {
			return "Session still running."
		}
		return notifier.FormatSummary(sum)
	case "/squareoff":
		if !s.cfg.Session.ManualOverride {
			return "Manual square-off is disabled."
		}
		err := s.Session.SquareOff(s.Ctx, model.ReasonManual)
		switch {
		case err == nil:
			return "Square-off complete."
		case errors.Is(err, engine.ErrHalted):
			return "Session already finished."
		default:
			return "Square-off failed: " + err.Error()
		}
	default:
		return "Commands:\n/status\n/legs\n/pnl\n/summary\n/squareoff"
	}
}

func (s *Scheduler) trySend(subject, body string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(subject, body); err != nil {
		log.WithError(err).Error("send notification")
	}
}
