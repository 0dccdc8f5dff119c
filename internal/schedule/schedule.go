// Package schedule replays stored scanplans on cron schedules and records
// each firing in the run database.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xpdacq/xpdacq/internal/beamtime"
	"github.com/xpdacq/xpdacq/internal/config"
	"github.com/xpdacq/xpdacq/internal/logging"
	"github.com/xpdacq/xpdacq/internal/models"
	"github.com/xpdacq/xpdacq/internal/notify"
	"gorm.io/gorm"
)

// Firing statuses stored on models.ScheduleRun.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Runner executes a scanplan on a sample. *acquire.Orchestrator satisfies it.
type Runner interface {
	Beamtime() (*beamtime.Beamtime, error)
	Run(ctx context.Context, sample *beamtime.Sample, sp *beamtime.ScanPlan, extra map[string]any) ([]string, error)
}

// Entry is a registered schedule and its next fire time.
type Entry struct {
	Name string
	Cron string
	Next time.Time
}

// Scheduler fires configured acquisitions. Firings never overlap: a schedule
// that is still running when it comes due again is skipped, and different
// schedules wait for each other.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	db       *gorm.DB
	notifier notify.Notifier
	log      *logging.Logger

	fireMu sync.Mutex // one acquisition at a time

	mu      sync.Mutex
	ctx     context.Context
	entries map[cron.EntryID]config.ScheduleConfig
	now     func() time.Time
}

// New returns a scheduler that runs acquisitions through runner. db, which
// may be nil, receives a models.ScheduleRun per firing.
func New(runner Runner, db *gorm.DB, notifier notify.Notifier, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{Log: log}
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:   runner,
		db:       db,
		notifier: notifier,
		log:      log,
		ctx:      context.Background(),
		entries:  map[cron.EntryID]config.ScheduleConfig{},
		now:      time.Now,
	}
}

// Add registers sc. The cron expression is parsed immediately.
func (s *Scheduler) Add(sc config.ScheduleConfig) error {
	id, err := s.cron.AddFunc(sc.Cron, func() {
		if err := s.Fire(s.context(), sc); err != nil {
			s.log.Error("scheduled acquisition failed", "schedule", sc.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: %s: %w", sc.Name, err)
	}
	s.mu.Lock()
	s.entries[id] = sc
	s.mu.Unlock()
	s.log.Info("schedule registered", "schedule", sc.Name, "cron", sc.Cron)
	return nil
}

// Entries returns the registered schedules in fire order. Next is zero until
// the scheduler has been started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.cron.Entries() {
		sc := s.entries[e.ID]
		out = append(out, Entry{Name: sc.Name, Cron: sc.Cron, Next: e.Next})
	}
	return out
}

// Start runs the scheduler until ctx is cancelled, then waits for any
// acquisition in flight to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Fire runs sc once. The scanplan and sample are resolved in the runner's
// current beamtime at fire time. Any failure is recorded and reported as a
// notice before being returned.
func (s *Scheduler) Fire(ctx context.Context, sc config.ScheduleConfig) error {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	row := &models.ScheduleRun{
		Schedule:  sc.Name,
		ScanPlan:  sc.ScanPlan,
		Sample:    sc.Sample,
		Status:    StatusRunning,
		RunUIDs:   "[]",
		StartedAt: s.now(),
	}
	if s.db != nil {
		if err := s.db.Create(row).Error; err != nil {
			s.log.Error("record schedule start", "schedule", sc.Name, "error", err)
		}
	}

	uids, err := s.fire(ctx, sc)
	s.finish(row, uids, err)
	if err != nil {
		s.notify(ctx, sc, err)
		return err
	}
	s.log.Info("scheduled acquisition done", "schedule", sc.Name, "uids", uids)
	return nil
}

func (s *Scheduler) fire(ctx context.Context, sc config.ScheduleConfig) ([]string, error) {
	bt, err := s.runner.Beamtime()
	if err != nil {
		return nil, fmt.Errorf("schedule: %s: %w", sc.Name, err)
	}
	sp, ok := bt.FindScanPlan(sc.ScanPlan)
	if !ok {
		return nil, fmt.Errorf("schedule: %s: scanplan %q not found", sc.Name, sc.ScanPlan)
	}
	sample, ok := bt.FindSample(sc.Sample)
	if !ok {
		return nil, fmt.Errorf("schedule: %s: sample %q not found", sc.Name, sc.Sample)
	}
	return s.runner.Run(ctx, sample, sp, map[string]any{"schedule": sc.Name})
}

func (s *Scheduler) finish(row *models.ScheduleRun, uids []string, runErr error) {
	if s.db == nil || row.ID == 0 {
		return
	}
	if uids == nil {
		uids = []string{}
	}
	data, _ := json.Marshal(uids)
	status, msg := StatusDone, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	finished := s.now()
	if err := s.db.Model(row).Updates(map[string]interface{}{
		"status":        status,
		"run_uids":      string(data),
		"error_message": msg,
		"finished_at":   finished,
	}).Error; err != nil {
		s.log.Error("record schedule finish", "schedule", row.Schedule, "error", err)
	}
}

func (s *Scheduler) notify(ctx context.Context, sc config.ScheduleConfig, runErr error) {
	n := notify.Notice{
		Kind:  notify.KindScheduleFailed,
		Title: fmt.Sprintf("scheduled acquisition %s failed", sc.Name),
		Body:  runErr.Error(),
		Fields: map[string]string{
			"schedule": sc.Name,
			"scanplan": sc.ScanPlan,
			"sample":   sc.Sample,
		},
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Error("deliver notice", "kind", n.Kind, "error", err)
	}
}

// NextFire returns the first time after from that expr fires.
func NextFire(expr string, from time.Time) (time.Time, error) {
	sched, err := config.CronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: %w", err)
	}
	return sched.Next(from), nil
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
