package beamtime

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/xpdacq/xpdacq/internal/record"
)

// Experiment is one scientific objective within a beamtime. Its fields
// shadow the beamtime's.
type Experiment struct {
	*record.Record

	bt        *Beamtime
	scanplans []*ScanPlan
}

// NewExperiment creates an experiment and registers it with bt.
func NewExperiment(bt *Beamtime, name string, extra map[string]any) (*Experiment, error) {
	own := record.NewFields()
	if name != "" {
		own.Set("experiment_name", name)
	}
	setSorted(own, extra)
	return experimentFromFields(bt, own)
}

func experimentFromFields(bt *Beamtime, own *record.Fields) (*Experiment, error) {
	if bt == nil {
		return nil, fmt.Errorf("beamtime: experiment needs a beamtime")
	}
	rec, err := record.NewChain(experimentSchema, own, bt.Record)
	if err != nil {
		return nil, fmt.Errorf("beamtime: %w", err)
	}
	e := &Experiment{Record: rec, bt: bt}
	bt.RegisterExperiment(e)
	return e, nil
}

// Name returns the experiment name.
func (e *Experiment) Name() string { return e.String("experiment_name") }

// Beamtime returns the owning beamtime.
func (e *Experiment) Beamtime() *Beamtime { return e.bt }

// ScanPlans returns the registered scanplans in registration order.
func (e *Experiment) ScanPlans() []*ScanPlan {
	return append([]*ScanPlan(nil), e.scanplans...)
}

// RegisterScanPlan links sp to the experiment. Registering the same
// scanplan again is a no-op.
func (e *Experiment) RegisterScanPlan(sp *ScanPlan) {
	if sp == nil {
		return
	}
	for _, have := range e.scanplans {
		if have == sp {
			return
		}
	}
	e.scanplans = append(e.scanplans, sp)
}

// Revalidate validates the experiment and each of its scanplans.
func (e *Experiment) Revalidate() error {
	errs := []error{e.Validate()}
	for _, sp := range e.scanplans {
		errs = append(errs, sp.Validate())
	}
	return errors.Join(errs...)
}

// DefaultPath returns where the experiment is stored under yamlDir.
func (e *Experiment) DefaultPath(yamlDir string) string {
	return filepath.Join(yamlDir, "experiments", e.Name()+".yml")
}
