// Package calib reads the detector calibration metadata produced by the
// calibration workflow so it can be attached to acquisition runs.
package calib

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CollectionUIDKey names the field linking a calibration to the run that
// collected its calibrant image.
const CollectionUIDKey = "calibration_collection_uid"

// DefaultName is the calibration file written by the calibration workflow.
const DefaultName = "pyFAI_calib.yml"

// Calibration is the free-form content of one calibration file.
type Calibration map[string]any

// CollectionUID returns the calibration-collection identifier, or "".
func (c Calibration) CollectionUID() string {
	v, ok := c[CollectionUIDKey]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Metadata returns a copy of the calibration without the collection uid,
// which runs carry as a top-level field instead.
func (c Calibration) Metadata() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		if k != CollectionUIDKey {
			out[k] = v
		}
	}
	return out
}

// Loader locates the calibration file under Dir.
type Loader struct {
	Dir  string
	Name string // defaults to DefaultName
}

// Path returns the calibration file location.
func (l Loader) Path() string {
	name := l.Name
	if name == "" {
		name = DefaultName
	}
	return filepath.Join(l.Dir, name)
}

// Latest reads the calibration file. The file is read on every call so edits
// made by other processes are always seen. A missing file is reported with
// found == false and a nil error.
func (l Loader) Latest() (cal Calibration, found bool, err error) {
	data, err := os.ReadFile(l.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("calib: read %s: %w", l.Path(), err)
	}
	cal = Calibration{}
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, false, fmt.Errorf("calib: parse %s: %w", l.Path(), err)
	}
	return cal, true, nil
}

// Save writes cal to the calibration file, creating Dir if needed.
func (l Loader) Save(cal Calibration) error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("calib: create %s: %w", l.Dir, err)
	}
	data, err := yaml.Marshal(map[string]any(cal))
	if err != nil {
		return fmt.Errorf("calib: encode: %w", err)
	}
	if err := os.WriteFile(l.Path(), data, 0o644); err != nil {
		return fmt.Errorf("calib: write %s: %w", l.Path(), err)
	}
	return nil
}
