// Package runengine executes live plans instruction by instruction and
// records each run's start and stop in the run database.
package runengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xpdacq/xpdacq/internal/logging"
	"github.com/xpdacq/xpdacq/internal/plan"
	"github.com/xpdacq/xpdacq/internal/runs"
	"gorm.io/gorm"
)

// Report describes one executed run.
type Report struct {
	UID     string
	Started bool // the open_run instruction was processed
	Events  int
	Start   map[string]any // the start document
}

// Engine runs a plan with extra start-document metadata. Errors raised
// while executing instructions are returned as-is alongside the partial
// report.
type Engine interface {
	Run(ctx context.Context, p *plan.Plan, md map[string]any) (Report, error)
}

// Simulated is an Engine that performs each instruction's device action
// directly, with no real hardware protocol.
type Simulated struct {
	// DB receives start and stop records when set.
	DB *gorm.DB
	// Hook sees every instruction before it is executed. The open_run
	// instruction carries the merged start document.
	Hook func(plan.Msg)
	// HonorSleep makes sleep instructions block; otherwise they are skipped.
	HonorSleep bool
	Log        *logging.Logger

	now func() time.Time
}

// NewSimulated returns a simulated engine recording to db, which may be nil.
func NewSimulated(db *gorm.DB, log *logging.Logger) *Simulated {
	if log == nil {
		log = logging.Nop()
	}
	return &Simulated{DB: db, Log: log, now: time.Now}
}

func (e *Simulated) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Simulated) logger() *logging.Logger {
	if e.Log == nil {
		return logging.Nop()
	}
	return e.Log
}

// Run executes p. md is merged beneath the plan's own open_run metadata;
// uid and time are always set by the engine. p.Finally always runs, even
// after a failure or cancellation; its errors are joined onto the result.
func (e *Simulated) Run(ctx context.Context, p *plan.Plan, md map[string]any) (rep Report, err error) {
	rep = Report{UID: uuid.NewString()}
	defer func() {
		if ferr := e.finalize(p); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()
	for _, m := range p.Messages {
		if err := ctx.Err(); err != nil {
			e.stop(rep, runs.StatusAbort, err.Error())
			return rep, err
		}
		if m.Command == plan.CmdOpenRun {
			m.Kwargs = e.startDoc(rep.UID, md, m.Kwargs)
		}
		if e.Hook != nil {
			e.Hook(m)
		}
		if m.Action != nil {
			if err := m.Action(); err != nil {
				e.stop(rep, runs.StatusFail, err.Error())
				return rep, err
			}
		}

		switch m.Command {
		case plan.CmdOpenRun:
			if err := e.start(&rep, m.Kwargs); err != nil {
				return rep, err
			}
		case plan.CmdSave:
			rep.Events++
		case plan.CmdSleep:
			if err := e.sleep(ctx, m); err != nil {
				e.stop(rep, runs.StatusAbort, err.Error())
				return rep, err
			}
		case plan.CmdCloseRun:
			e.stop(rep, runs.StatusSuccess, "")
		}
	}
	return rep, nil
}

func (e *Simulated) finalize(p *plan.Plan) error {
	var errs []error
	for _, m := range p.Finally {
		if e.Hook != nil {
			e.Hook(m)
		}
		if m.Action == nil {
			continue
		}
		if err := m.Action(); err != nil {
			e.logger().Error("finalize plan", "plan_name", p.Name, "obj", m.Obj, "error", err)
			errs = append(errs, fmt.Errorf("runengine: finalize %s: %w", m.Obj, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Simulated) startDoc(uid string, md, kwargs map[string]any) map[string]any {
	doc := make(map[string]any, len(md)+len(kwargs)+2)
	for k, v := range md {
		doc[k] = v
	}
	for k, v := range kwargs {
		doc[k] = v
	}
	doc["uid"] = uid
	doc["time"] = float64(e.clock().UnixNano()) / 1e9
	return doc
}

func (e *Simulated) start(rep *Report, doc map[string]any) error {
	rep.Started = true
	rep.Start = doc
	e.logger().Info("run started", "uid", rep.UID, "plan_name", doc["plan_name"])
	if e.DB == nil {
		return nil
	}
	if _, err := runs.RecordStart(e.DB, runs.Start{UID: rep.UID, Time: e.clock(), Metadata: doc}); err != nil {
		return fmt.Errorf("runengine: %w", err)
	}
	return nil
}

// stop records the end of a started run. Failures to record are logged
// rather than replacing the run's own outcome.
func (e *Simulated) stop(rep Report, status, reason string) {
	if !rep.Started {
		return
	}
	e.logger().Info("run stopped", "uid", rep.UID, "exit_status", status, "events", rep.Events)
	if e.DB == nil {
		return
	}
	if err := runs.RecordStop(e.DB, rep.UID, status, reason, rep.Events, e.clock()); err != nil {
		e.logger().Error("record run stop", "uid", rep.UID, "error", err)
	}
}

func (e *Simulated) sleep(ctx context.Context, m plan.Msg) error {
	if !e.HonorSleep || len(m.Args) == 0 {
		return nil
	}
	secs, _ := m.Args[0].(float64)
	if secs <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
