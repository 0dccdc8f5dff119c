package beamtime

import (
	"fmt"
	"path/filepath"

	"github.com/xpdacq/xpdacq/internal/record"
)

// Sample is a physical specimen measured during the beamtime.
type Sample struct {
	*record.Record

	bt *Beamtime
}

// NewSample creates a sample and registers it with bt.
func NewSample(bt *Beamtime, name, composition string, extra map[string]any) (*Sample, error) {
	own := record.NewFields()
	if name != "" {
		own.Set("name", name)
	}
	if composition != "" {
		own.Set("composition", composition)
	}
	setSorted(own, extra)
	return sampleFromFields(bt, own)
}

func sampleFromFields(bt *Beamtime, own *record.Fields) (*Sample, error) {
	if bt == nil {
		return nil, fmt.Errorf("beamtime: sample needs a beamtime")
	}
	rec, err := record.NewChain(sampleSchema, own, bt.Record)
	if err != nil {
		return nil, fmt.Errorf("beamtime: %w", err)
	}
	s := &Sample{Record: rec, bt: bt}
	bt.RegisterSample(s)
	return s, nil
}

// Name returns the sample name.
func (s *Sample) Name() string { return s.String("name") }

// Composition returns the chemical composition, e.g. "Ni".
func (s *Sample) Composition() string { return s.String("composition") }

// Beamtime returns the owning beamtime.
func (s *Sample) Beamtime() *Beamtime { return s.bt }

// DefaultPath returns where the sample is stored under yamlDir.
func (s *Sample) DefaultPath(yamlDir string) string {
	return filepath.Join(yamlDir, "samples", s.Name()+".yml")
}
