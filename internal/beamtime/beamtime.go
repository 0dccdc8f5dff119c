// Package beamtime models the metadata hierarchy of a beamline session:
// a Beamtime owns Experiments and Samples, and each Experiment owns the
// ScanPlans run under it. Child records are chained over their ancestors so
// beamtime-wide fields resolve from any level.
package beamtime

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xpdacq/xpdacq/internal/record"
)

var (
	beamtimeSchema = record.Schema{
		Kind:     "beamtime",
		UIDKey:   "beamtime_uid",
		Required: []string{"pi_name", "saf_num"},
	}
	experimentSchema = record.Schema{
		Kind:     "experiment",
		UIDKey:   "experiment_uid",
		Required: []string{"experiment_name"},
	}
	sampleSchema = record.Schema{
		Kind:     "sample",
		UIDKey:   "sample_uid",
		Required: []string{"name", "composition"},
	}
	scanPlanSchema = record.Schema{
		Kind:     "scanplan",
		UIDKey:   "scanplan_uid",
		Required: []string{"plan_name", "sp_args", "sp_kwargs"},
	}
)

// Experimenter is one participant listed on a beamtime.
type Experimenter struct {
	LastName  string
	FirstName string
	ID        int
}

func (e Experimenter) fields() map[string]any {
	return map[string]any{"last_name": e.LastName, "first_name": e.FirstName, "id": e.ID}
}

// Info holds the typed core of a beamtime. Extra carries any further
// facility-specific attributes.
type Info struct {
	PIName        string
	SAFNum        string
	Experimenters []Experimenter
	Wavelength    *float64 // nil until measured
	Extra         map[string]any
}

// Dependent is anything registered to a Beamtime or Experiment.
type Dependent interface {
	Kind() string
	UID() string
	Validate() error
}

// Beamtime is the root record of a session.
type Beamtime struct {
	*record.Record

	experiments []*Experiment
	samples     []*Sample
	dependents  []Dependent
}

// New creates a Beamtime. pi_name and saf_num are trimmed and have inner
// spaces removed so they are safe to use in paths.
func New(info Info) (*Beamtime, error) {
	own := record.NewFields()
	own.Set("pi_name", cleanInfo(info.PIName))
	own.Set("saf_num", cleanInfo(info.SAFNum))
	people := make([]any, 0, len(info.Experimenters))
	for _, e := range info.Experimenters {
		people = append(people, e.fields())
	}
	own.Set("experimenters", people)
	if info.Wavelength != nil {
		own.Set("wavelength", *info.Wavelength)
	} else {
		own.Set("wavelength", nil)
	}
	setSorted(own, info.Extra)
	for _, k := range []string{"pi_name", "saf_num"} {
		if v, _ := own.Get(k); v == "" {
			own.Delete(k)
		}
	}
	return fromFields(own)
}

func fromFields(own *record.Fields) (*Beamtime, error) {
	rec, err := record.New(beamtimeSchema, own)
	if err != nil {
		return nil, fmt.Errorf("beamtime: %w", err)
	}
	return &Beamtime{Record: rec}, nil
}

// cleanInfo trims v and removes inner spaces.
func cleanInfo(v string) string {
	return strings.ReplaceAll(strings.TrimSpace(v), " ", "")
}

// setSorted copies extra into f in key order so the persisted layout does
// not depend on map iteration.
func setSorted(f *record.Fields, extra map[string]any) {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.Set(k, extra[k])
	}
}

// PIName returns the principal investigator.
func (bt *Beamtime) PIName() string { return bt.Record.String("pi_name") }

// SAFNum returns the safety approval form number.
func (bt *Beamtime) SAFNum() string { return bt.Record.String("saf_num") }

// Wavelength returns the beam wavelength. ok is false while it is unset.
func (bt *Beamtime) Wavelength() (float64, bool) { return bt.Float("wavelength") }

// Experiments returns the registered experiments in registration order.
func (bt *Beamtime) Experiments() []*Experiment {
	return append([]*Experiment(nil), bt.experiments...)
}

// Samples returns the registered samples in registration order.
func (bt *Beamtime) Samples() []*Sample {
	return append([]*Sample(nil), bt.samples...)
}

// ScanPlans flattens every experiment's scanplans, experiment order first.
func (bt *Beamtime) ScanPlans() []*ScanPlan {
	var out []*ScanPlan
	for _, e := range bt.experiments {
		out = append(out, e.scanplans...)
	}
	return out
}

// Dependents returns everything registered to the beamtime, each once.
func (bt *Beamtime) Dependents() []Dependent {
	return append([]Dependent(nil), bt.dependents...)
}

// RegisterExperiment links e to the beamtime. Registering the same
// experiment again is a no-op.
func (bt *Beamtime) RegisterExperiment(e *Experiment) {
	if e == nil {
		return
	}
	for _, have := range bt.experiments {
		if have == e {
			return
		}
	}
	bt.experiments = append(bt.experiments, e)
	bt.addDependent(e)
}

// RegisterSample links s to the beamtime. Registering the same sample again
// is a no-op.
func (bt *Beamtime) RegisterSample(s *Sample) {
	if s == nil {
		return
	}
	for _, have := range bt.samples {
		if have == s {
			return
		}
	}
	bt.samples = append(bt.samples, s)
	bt.addDependent(s)
}

func (bt *Beamtime) addDependent(d Dependent) {
	for _, have := range bt.dependents {
		if have == d {
			return
		}
	}
	bt.dependents = append(bt.dependents, d)
}

// Revalidate validates the beamtime and, recursively, every dependent.
func (bt *Beamtime) Revalidate() error {
	errs := []error{bt.Validate()}
	for _, d := range bt.dependents {
		if r, ok := d.(interface{ Revalidate() error }); ok {
			errs = append(errs, r.Revalidate())
			continue
		}
		errs = append(errs, d.Validate())
	}
	return errors.Join(errs...)
}

// FindExperiment returns the experiment with the given name or uid.
func (bt *Beamtime) FindExperiment(key string) (*Experiment, bool) {
	for _, e := range bt.experiments {
		if e.Name() == key || e.UID() == key {
			return e, true
		}
	}
	return nil, false
}

// FindSample returns the sample with the given name or uid.
func (bt *Beamtime) FindSample(key string) (*Sample, bool) {
	for _, s := range bt.samples {
		if s.Name() == key || s.UID() == key {
			return s, true
		}
	}
	return nil, false
}

// FindScanPlan returns the scanplan with the given short summary or uid.
func (bt *Beamtime) FindScanPlan(key string) (*ScanPlan, bool) {
	for _, sp := range bt.ScanPlans() {
		if sp.UID() == key || sp.ShortSummary() == key {
			return sp, true
		}
	}
	return nil, false
}

// DefaultPath returns where the beamtime is stored under yamlDir.
func (bt *Beamtime) DefaultPath(yamlDir string) string {
	return filepath.Join(yamlDir, "bt_bt.yml")
}

// String lists the experiments, scanplans and samples with their indices.
func (bt *Beamtime) String() string {
	lines := []string{"Experiments:"}
	for i, e := range bt.experiments {
		lines = append(lines, fmt.Sprintf("%d: %s", i, e.Name()))
	}
	lines = append(lines, "", "ScanPlans:")
	for i, sp := range bt.ScanPlans() {
		lines = append(lines, fmt.Sprintf("%d: '%s'", i, sp.ShortSummary()))
	}
	lines = append(lines, "", "Samples:")
	for i, s := range bt.samples {
		lines = append(lines, fmt.Sprintf("%d: %s", i, s.Name()))
	}
	return strings.Join(lines, "\n")
}
