// Package acquire runs scanplans against the configured hardware: it picks
// or takes a dark exposure, attaches calibration and facility metadata, and
// hands the plan to the run engine.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xpdacq/xpdacq/internal/beamtime"
	"github.com/xpdacq/xpdacq/internal/calib"
	"github.com/xpdacq/xpdacq/internal/dark"
	"github.com/xpdacq/xpdacq/internal/device"
	"github.com/xpdacq/xpdacq/internal/logging"
	"github.com/xpdacq/xpdacq/internal/metrics"
	"github.com/xpdacq/xpdacq/internal/notify"
	"github.com/xpdacq/xpdacq/internal/plan"
	"github.com/xpdacq/xpdacq/internal/runengine"
)

// ErrNoBeamtime is returned when running before a beamtime is bound.
var ErrNoBeamtime = errors.New("acquire: no beamtime bound")

// Metadata keys the orchestrator adds to every light run.
const (
	KeyDarkUID     = "sc_dk_field_uid"
	KeyDarkMissing = "sc_dk_missing"
	KeyCalibMD     = "calibration_md"
)

// Options are the beamline toggles and identifiers applied to each run.
type Options struct {
	AutoDark      bool
	AutoLoadCalib bool
	// DarkWindow is the maximum age of a reusable dark; zero means any age.
	DarkWindow time.Duration
	BeamlineID string
	Group      string
	Facility   string
}

// Config wires an Orchestrator's collaborators.
type Config struct {
	Engine   runengine.Engine
	Devices  device.Context
	Registry *plan.Registry
	Darks    *dark.Cache
	Calib    calib.Loader
	Notifier notify.Notifier
	Log      *logging.Logger
	Metrics  *metrics.Metrics // optional
	Options  Options
}

// Orchestrator runs acquisitions for one beamtime. Calls must not overlap:
// the beamline has a single detector.
type Orchestrator struct {
	engine   runengine.Engine
	devices  device.Context
	registry *plan.Registry
	darks    *dark.Cache
	calib    calib.Loader
	notifier notify.Notifier
	log      *logging.Logger
	metrics  *metrics.Metrics
	opts     Options

	bt *beamtime.Beamtime
}

// New returns an orchestrator with no beamtime bound.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		engine:   cfg.Engine,
		devices:  cfg.Devices,
		registry: cfg.Registry,
		darks:    cfg.Darks,
		calib:    cfg.Calib,
		notifier: cfg.Notifier,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		opts:     cfg.Options,
	}
	if o.registry == nil {
		o.registry = plan.DefaultRegistry()
	}
	if o.darks == nil {
		o.darks = dark.NewCache()
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	if o.notifier == nil {
		o.notifier = notify.LogNotifier{Log: o.log}
	}
	return o
}

// BindBeamtime sets the beamtime subsequent runs belong to.
func (o *Orchestrator) BindBeamtime(bt *beamtime.Beamtime) { o.bt = bt }

// Beamtime returns the bound beamtime or ErrNoBeamtime.
func (o *Orchestrator) Beamtime() (*beamtime.Beamtime, error) {
	if o.bt == nil {
		return nil, ErrNoBeamtime
	}
	return o.bt, nil
}

// Darks returns the dark cache the orchestrator selects from.
func (o *Orchestrator) Darks() *dark.Cache { return o.darks }

// Devices returns the hardware plans are materialized against.
func (o *Orchestrator) Devices() device.Context { return o.devices }

// Run executes sp on sample, which may be nil. It returns the uids of the
// runs it started, dark first when one was taken. An error from the engine
// is returned unchanged together with the uids started so far.
func (o *Orchestrator) Run(ctx context.Context, sample *beamtime.Sample, sp *beamtime.ScanPlan, extra map[string]any) ([]string, error) {
	bt, err := o.Beamtime()
	if err != nil {
		return nil, err
	}
	o.checkWavelength(ctx, bt)
	p, err := sp.Materialize(o.devices)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	md := sp.View().Map()
	return o.execute(ctx, bt, sample, p, md, extra)
}

// RunPlan builds the named plan directly from args and kwargs and runs it
// like Run, without a stored scanplan.
func (o *Orchestrator) RunPlan(ctx context.Context, sample *beamtime.Sample, planName string, args []any, kwargs map[string]any, extra map[string]any) ([]string, error) {
	bt, err := o.Beamtime()
	if err != nil {
		return nil, err
	}
	o.checkWavelength(ctx, bt)
	p, err := o.registry.Build(planName, o.devices, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	return o.execute(ctx, bt, sample, p, bt.View().Map(), extra)
}

func (o *Orchestrator) execute(ctx context.Context, bt *beamtime.Beamtime, sample *beamtime.Sample, p *plan.Plan, base, extra map[string]any) ([]string, error) {
	var uids []string
	req := o.darkRequest(p)

	md := base
	if sample != nil {
		for k, v := range sample.View().Map() {
			md[k] = v
		}
	}
	for k, v := range extra {
		md[k] = v
	}
	md["beamline_id"] = o.opts.BeamlineID
	md["group"] = o.opts.Group
	md["facility"] = o.opts.Facility

	d, ok := o.selectDark(req)
	result := metrics.DarkReused
	if !ok && o.opts.AutoDark {
		rep, taken, err := o.takeDark(ctx, bt, req)
		if rep.Started {
			uids = append(uids, rep.UID)
		}
		if err != nil {
			return uids, err
		}
		d, ok = taken, taken.UID != ""
		result = metrics.DarkAcquired
	}
	if ok {
		md[KeyDarkUID] = d.UID
		o.metrics.ObserveDark(result)
	} else {
		md[KeyDarkMissing] = true
		o.metrics.ObserveDark(metrics.DarkMissing)
		o.notice(ctx, notify.Notice{
			Kind:  notify.KindNoDark,
			Title: "no compatible dark frame",
			Body:  "run proceeds without dark subtraction",
			Fields: map[string]string{
				"exposure": fmt.Sprint(req.Exposure),
				"acq_time": fmt.Sprint(req.AcqTime),
			},
		})
	}

	if o.opts.AutoLoadCalib {
		cal, found, err := o.calib.Latest()
		if err != nil {
			return uids, fmt.Errorf("acquire: %w", err)
		}
		if found {
			md[KeyCalibMD] = cal.Metadata()
			md[calib.CollectionUIDKey] = cal.CollectionUID()
		}
	}

	rep, err := o.runEngine(ctx, p, md, metrics.KindLight)
	if rep.Started {
		uids = append(uids, rep.UID)
	}
	return uids, err
}

func (o *Orchestrator) runEngine(ctx context.Context, p *plan.Plan, md map[string]any, kind string) (runengine.Report, error) {
	start := time.Now()
	rep, err := o.engine.Run(ctx, p, md)
	o.metrics.ObserveRun(p.Name, kind, rep.Started, err, time.Since(start))
	return rep, err
}

// darkRequest reads the exposure the plan will take from its metadata,
// falling back to the detector's current setting.
func (o *Orchestrator) darkRequest(p *plan.Plan) dark.Request {
	md := p.Metadata()
	exp, okExp := md["sp_computed_exposure"].(float64)
	acq, okAcq := md["sp_time_per_frame"].(float64)
	if okExp && okAcq {
		return dark.Request{Exposure: exp, AcqTime: acq}
	}
	if det := o.devices.Detector; det != nil {
		return dark.Request{Exposure: device.Exposure(det), AcqTime: det.AcquireTime()}
	}
	return dark.Request{}
}

func (o *Orchestrator) selectDark(req dark.Request) (dark.Descriptor, bool) {
	var opts []dark.SelectOption
	if o.opts.DarkWindow > 0 {
		opts = append(opts, dark.WithinWindow(o.opts.DarkWindow))
	}
	return o.darks.Select(req, opts...)
}

// takeDark runs a dark exposure matching req. The cache only learns about
// it once the run has started and finished cleanly; the returned descriptor
// is zero otherwise.
func (o *Orchestrator) takeDark(ctx context.Context, bt *beamtime.Beamtime, req dark.Request) (runengine.Report, dark.Descriptor, error) {
	p, err := plan.Dark(o.devices, req.Exposure)
	if err != nil {
		return runengine.Report{}, dark.Descriptor{}, fmt.Errorf("acquire: dark: %w", err)
	}
	md := bt.View().Map()
	md["beamline_id"] = o.opts.BeamlineID
	md["group"] = o.opts.Group
	md["facility"] = o.opts.Facility

	rep, err := o.runEngine(ctx, p, md, metrics.KindDark)
	if err != nil {
		return rep, dark.Descriptor{}, err
	}
	if !rep.Started {
		o.log.Warn("dark run did not start", "uid", rep.UID)
		return rep, dark.Descriptor{}, nil
	}
	dmd := p.Metadata()
	exp, _ := dmd["sp_computed_exposure"].(float64)
	acq, _ := dmd["sp_time_per_frame"].(float64)
	d := dark.Descriptor{
		UID:       rep.UID,
		Exposure:  exp,
		AcqTime:   acq,
		Timestamp: o.darks.Now(),
	}
	o.darks.Append(d)
	o.log.Info("dark frame collected", "uid", rep.UID, "exposure", exp)
	return rep, d, nil
}

func (o *Orchestrator) checkWavelength(ctx context.Context, bt *beamtime.Beamtime) {
	if _, ok := bt.Wavelength(); ok {
		return
	}
	o.notice(ctx, notify.Notice{
		Kind:   notify.KindMissingWavelength,
		Title:  "beamtime has no wavelength",
		Body:   "calibration and data reduction need the wavelength; set it on the beamtime",
		Fields: map[string]string{"beamtime_uid": bt.UID()},
	})
}

// notice delivers n; a failing sink is logged and never stops the run.
func (o *Orchestrator) notice(ctx context.Context, n notify.Notice) {
	o.metrics.ObserveNotice(n.Kind)
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.log.Error("deliver notice", "kind", n.Kind, "error", err)
	}
}
