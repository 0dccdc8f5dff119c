package beamtime

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/xpdacq/xpdacq/internal/device"
	"github.com/xpdacq/xpdacq/internal/plan"
	"github.com/xpdacq/xpdacq/internal/record"
)

// ScanPlan is a serializable acquisition: a plan name plus the arguments to
// call it with. The implementation is looked up in the registry each time
// the plan is materialized, so a stored ScanPlan replays against whatever
// hardware is configured at that moment.
type ScanPlan struct {
	*record.Record

	exp *Experiment
	reg *plan.Registry
}

// NewScanPlan creates a scanplan under exp. The arguments are bound against
// the plan signature immediately; unknown plans and mismatched arguments
// fail here rather than at run time.
func NewScanPlan(exp *Experiment, reg *plan.Registry, planName string, args []any, kwargs map[string]any) (*ScanPlan, error) {
	own := record.NewFields()
	own.Set("plan_name", planName)
	own.Set("sp_args", append([]any{}, args...))
	kw := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		kw[k] = v
	}
	own.Set("sp_kwargs", kw)
	return scanPlanFromFields(exp, reg, own)
}

func scanPlanFromFields(exp *Experiment, reg *plan.Registry, own *record.Fields) (*ScanPlan, error) {
	if exp == nil {
		return nil, fmt.Errorf("beamtime: scanplan needs an experiment")
	}
	if reg == nil {
		return nil, fmt.Errorf("beamtime: scanplan needs a plan registry")
	}
	// A stored plan with no arguments decodes its empty containers as null.
	if v, ok := own.Get("sp_args"); ok && v == nil {
		own.Set("sp_args", []any{})
	}
	if v, ok := own.Get("sp_kwargs"); ok && v == nil {
		own.Set("sp_kwargs", map[string]any{})
	}
	rec, err := record.NewChain(scanPlanSchema, own, exp.Record)
	if err != nil {
		return nil, fmt.Errorf("beamtime: %w", err)
	}
	sp := &ScanPlan{Record: rec, exp: exp, reg: reg}
	if _, err := sp.BoundArguments(); err != nil {
		return nil, err
	}
	exp.RegisterScanPlan(sp)
	return sp, nil
}

// PlanName returns the registered name of the plan implementation.
func (sp *ScanPlan) PlanName() string { return sp.String("plan_name") }

// Experiment returns the owning experiment.
func (sp *ScanPlan) Experiment() *Experiment { return sp.exp }

func (sp *ScanPlan) call() (name string, args []any, kwargs map[string]any, err error) {
	v, _ := sp.Get("plan_name")
	name, ok := v.(string)
	if !ok || name == "" {
		return "", nil, nil, fmt.Errorf("beamtime: scanplan %s: plan_name is %T, want text", sp.UID(), v)
	}
	v, _ = sp.Get("sp_args")
	args, ok = v.([]any)
	if !ok {
		return "", nil, nil, fmt.Errorf("beamtime: scanplan %s: sp_args is %T, want a list", sp.UID(), v)
	}
	v, _ = sp.Get("sp_kwargs")
	kwargs, ok = v.(map[string]any)
	if !ok {
		return "", nil, nil, fmt.Errorf("beamtime: scanplan %s: sp_kwargs is %T, want a mapping", sp.UID(), v)
	}
	return name, args, kwargs, nil
}

// Args returns a copy of the stored positional arguments.
func (sp *ScanPlan) Args() []any {
	_, args, _, _ := sp.call()
	return append([]any(nil), args...)
}

// Kwargs returns a copy of the stored keyword arguments.
func (sp *ScanPlan) Kwargs() map[string]any {
	_, _, kwargs, _ := sp.call()
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = v
	}
	return out
}

// BoundArguments binds the stored arguments to the plan signature and
// returns them by name in declared order.
func (sp *ScanPlan) BoundArguments() (plan.Bound, error) {
	name, args, kwargs, err := sp.call()
	if err != nil {
		return nil, err
	}
	b, err := sp.reg.Bind(name, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("beamtime: scanplan %s: %w", sp.UID(), err)
	}
	return b, nil
}

// ShortSummary names the scanplan by its plan and argument values, e.g.
// "Tramp_5_300_200_10". Identical arguments always give the same string.
func (sp *ScanPlan) ShortSummary() string {
	b, err := sp.BoundArguments()
	if err != nil {
		return sp.PlanName()
	}
	return b.Summary(sp.PlanName())
}

// Validate checks required fields and that the arguments still bind.
func (sp *ScanPlan) Validate() error {
	if err := sp.Record.Validate(); err != nil {
		return err
	}
	_, err := sp.BoundArguments()
	return err
}

// Set writes key and revalidates the plan call. On failure the previous
// value is restored.
func (sp *ScanPlan) Set(key string, value any) error {
	return sp.Record.SetWith(key, value, func() error {
		_, err := sp.BoundArguments()
		return err
	})
}

// Materialize builds the live plan against the hardware in dev.
func (sp *ScanPlan) Materialize(dev device.Context) (*plan.Plan, error) {
	name, args, kwargs, err := sp.call()
	if err != nil {
		return nil, err
	}
	p, err := sp.reg.Build(name, dev, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("beamtime: scanplan %s: %w", sp.UID(), err)
	}
	return p, nil
}

// Metadata returns the open-run metadata the plan would carry on dev.
func (sp *ScanPlan) Metadata(dev device.Context) (map[string]any, error) {
	p, err := sp.Materialize(dev)
	if err != nil {
		return nil, err
	}
	return p.Metadata(), nil
}

// Summary renders the instruction listing the plan would run on dev.
func (sp *ScanPlan) Summary(dev device.Context) (string, error) {
	p, err := sp.Materialize(dev)
	if err != nil {
		return "", err
	}
	return p.Summary(), nil
}

// Equal reports whether both scanplans export to identical documents.
func (sp *ScanPlan) Equal(other *ScanPlan) bool {
	if sp == nil || other == nil {
		return sp == other
	}
	var a, b bytes.Buffer
	if sp.Export(&a) != nil || other.Export(&b) != nil {
		return false
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

// DefaultPath returns where the scanplan is stored under yamlDir.
func (sp *ScanPlan) DefaultPath(yamlDir string) string {
	return filepath.Join(yamlDir, "scanplans", sp.ShortSummary()+".yml")
}
