package beamtime

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xpdacq/xpdacq/internal/plan"
	"github.com/xpdacq/xpdacq/internal/record"
)

// Exporter is a record that can be written as a YAML document stream.
type Exporter interface {
	Export(w io.Writer) error
}

// Pather is a record that knows its default location under a yaml dir.
type Pather interface {
	Exporter
	DefaultPath(yamlDir string) string
}

// Save writes e to path, creating parent directories.
func Save(e Exporter, path string) error {
	var buf bytes.Buffer
	if err := e.Export(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("beamtime: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("beamtime: write %s: %w", path, err)
	}
	return nil
}

// SaveDefault writes p to its default path under yamlDir and returns that
// path.
func SaveDefault(p Pather, yamlDir string) (string, error) {
	path := p.DefaultPath(yamlDir)
	return path, Save(p, path)
}

// Load reads a beamtime written by Export.
func Load(r io.Reader) (*Beamtime, error) {
	docs, err := record.DecodeN(r, 1)
	if err != nil {
		return nil, fmt.Errorf("beamtime: load beamtime: %w", err)
	}
	return fromFields(docs[0])
}

// LoadExperiment reads an experiment. When bt is nil the beamtime is rebuilt
// from the trailing document.
func LoadExperiment(r io.Reader, bt *Beamtime) (*Experiment, error) {
	docs, err := record.DecodeN(r, 2)
	if err != nil {
		return nil, fmt.Errorf("beamtime: load experiment: %w", err)
	}
	return experimentFromDocs(docs, bt)
}

func experimentFromDocs(docs []*record.Fields, bt *Beamtime) (*Experiment, error) {
	if bt == nil {
		var err error
		if bt, err = fromFields(docs[1]); err != nil {
			return nil, err
		}
	}
	return experimentFromFields(bt, docs[0])
}

// LoadSample reads a sample. When bt is nil the beamtime is rebuilt from the
// trailing document.
func LoadSample(r io.Reader, bt *Beamtime) (*Sample, error) {
	docs, err := record.DecodeN(r, 2)
	if err != nil {
		return nil, fmt.Errorf("beamtime: load sample: %w", err)
	}
	if bt == nil {
		if bt, err = fromFields(docs[1]); err != nil {
			return nil, err
		}
	}
	return sampleFromFields(bt, docs[0])
}

// LoadScanPlan reads a scanplan and resolves its plan name in reg. When exp
// is nil the experiment and beamtime are rebuilt from the trailing
// documents. A plan name reg does not know fails with plan.ErrPlanNotFound.
func LoadScanPlan(r io.Reader, reg *plan.Registry, exp *Experiment) (*ScanPlan, error) {
	docs, err := record.DecodeN(r, 3)
	if err != nil {
		return nil, fmt.Errorf("beamtime: load scanplan: %w", err)
	}
	if exp == nil {
		if exp, err = experimentFromDocs(docs[1:], nil); err != nil {
			return nil, err
		}
	}
	return scanPlanFromFields(exp, reg, docs[0])
}

// LoadWorkspace rebuilds a whole session from yamlDir: the beamtime, then
// every experiment, sample and scanplan file, each in file-name order.
// Scanplans are attached to the loaded experiment with the matching uid.
// Files belonging to a different beamtime are rejected.
func LoadWorkspace(yamlDir string, reg *plan.Registry) (*Beamtime, error) {
	f, err := os.Open(filepath.Join(yamlDir, "bt_bt.yml"))
	if err != nil {
		return nil, fmt.Errorf("beamtime: open workspace: %w", err)
	}
	bt, err := Load(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	err = eachDoc(filepath.Join(yamlDir, "experiments"), 2, func(path string, docs []*record.Fields) error {
		if err := sameBeamtime(bt, docs[1], path); err != nil {
			return err
		}
		_, err := experimentFromFields(bt, docs[0])
		return err
	})
	if err != nil {
		return nil, err
	}

	err = eachDoc(filepath.Join(yamlDir, "samples"), 2, func(path string, docs []*record.Fields) error {
		if err := sameBeamtime(bt, docs[1], path); err != nil {
			return err
		}
		_, err := sampleFromFields(bt, docs[0])
		return err
	})
	if err != nil {
		return nil, err
	}

	err = eachDoc(filepath.Join(yamlDir, "scanplans"), 3, func(path string, docs []*record.Fields) error {
		if err := sameBeamtime(bt, docs[2], path); err != nil {
			return err
		}
		uid, _ := docs[1].Get(experimentSchema.UIDKey)
		exp, ok := bt.FindExperiment(fmt.Sprint(uid))
		if !ok {
			var expErr error
			if exp, expErr = experimentFromFields(bt, docs[1]); expErr != nil {
				return expErr
			}
		}
		_, spErr := scanPlanFromFields(exp, reg, docs[0])
		return spErr
	})
	if err != nil {
		return nil, err
	}
	return bt, nil
}

func sameBeamtime(bt *Beamtime, doc *record.Fields, path string) error {
	uid, _ := doc.Get(beamtimeSchema.UIDKey)
	if fmt.Sprint(uid) != bt.UID() {
		return fmt.Errorf("beamtime: %s belongs to beamtime %v, workspace beamtime is %s", path, uid, bt.UID())
	}
	return nil
}

// eachDoc decodes every .yml file in dir, in name order. A missing dir has
// no files.
func eachDoc(dir string, n int, fn func(path string, docs []*record.Fields) error) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("beamtime: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("beamtime: read %s: %w", path, err)
		}
		docs, err := record.DecodeN(bytes.NewReader(data), n)
		if err != nil {
			return fmt.Errorf("beamtime: %s: %w", path, err)
		}
		if err := fn(path, docs); err != nil {
			return fmt.Errorf("beamtime: %s: %w", path, err)
		}
	}
	return nil
}
