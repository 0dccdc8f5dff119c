// Package runs records acquisition runs in the run database and queries
// them back.
package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xpdacq/xpdacq/internal/dark"
	"github.com/xpdacq/xpdacq/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no run has the requested uid.
var ErrNotFound = errors.New("runs: not found")

// Exit statuses recorded when a run stops.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusAbort   = "abort"
)

// Start is the start document of a run.
type Start struct {
	UID      string
	Time     time.Time
	Metadata map[string]any
}

// RecordStart inserts a running row for s. Indexed columns are copied out of
// the metadata.
func RecordStart(db *gorm.DB, s Start) (*models.Run, error) {
	md, err := json.Marshal(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("runs: marshal metadata for %s: %w", s.UID, err)
	}
	run := &models.Run{
		UID:         s.UID,
		PlanName:    str(s.Metadata["plan_name"]),
		Dark:        s.Metadata["dark_frame"] == true,
		BeamtimeUID: str(s.Metadata["beamtime_uid"]),
		ScanPlanUID: str(s.Metadata["scanplan_uid"]),
		SampleUID:   str(s.Metadata["sample_uid"]),
		DarkUID:     str(s.Metadata["sc_dk_field_uid"]),
		Metadata:    string(md),
		ExitStatus:  StatusRunning,
		StartedAt:   s.Time,
	}
	if err := db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("runs: record start %s: %w", s.UID, err)
	}
	return run, nil
}

// RecordStop marks the run finished with status and the number of events
// it produced.
func RecordStop(db *gorm.DB, uid, status, reason string, events int, at time.Time) error {
	result := db.Model(&models.Run{}).Where("uid = ?", uid).Updates(map[string]interface{}{
		"exit_status": status,
		"reason":      reason,
		"events":      events,
		"stopped_at":  at,
	})
	if result.Error != nil {
		return fmt.Errorf("runs: record stop %s: %w", uid, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("runs: record stop %s: %w", uid, ErrNotFound)
	}
	return nil
}

// Get returns the run with uid.
func Get(db *gorm.DB, uid string) (*models.Run, error) {
	var run models.Run
	err := db.Where("uid = ?", uid).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("runs: %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("runs: get %s: %w", uid, err)
	}
	return &run, nil
}

// Filters narrows List. Zero values match everything.
type Filters struct {
	PlanName    string
	Dark        *bool
	BeamtimeUID string
	ScanPlanUID string
	Limit       int
}

// List returns runs matching f, newest first.
func List(db *gorm.DB, f Filters) ([]models.Run, error) {
	q := db.Model(&models.Run{})
	if f.PlanName != "" {
		q = q.Where("plan_name = ?", f.PlanName)
	}
	if f.Dark != nil {
		q = q.Where("dark = ?", *f.Dark)
	}
	if f.BeamtimeUID != "" {
		q = q.Where("beamtime_uid = ?", f.BeamtimeUID)
	}
	if f.ScanPlanUID != "" {
		q = q.Where("scan_plan_uid = ?", f.ScanPlanUID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Run
	if err := q.Order("started_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("runs: list: %w", err)
	}
	return out, nil
}

// Metadata decodes the start document stored on run.
func Metadata(run *models.Run) (map[string]any, error) {
	md := map[string]any{}
	if run.Metadata == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(run.Metadata), &md); err != nil {
		return nil, fmt.Errorf("runs: decode metadata for %s: %w", run.UID, err)
	}
	return md, nil
}

// Darks rebuilds dark descriptors from successful dark runs, oldest first,
// so a new process can reuse darks taken earlier in the session. Runs whose
// metadata lacks the exposure settings are skipped.
func Darks(db *gorm.DB, beamtimeUID string) ([]dark.Descriptor, error) {
	q := db.Where("dark = ? AND exit_status = ?", true, StatusSuccess)
	if beamtimeUID != "" {
		q = q.Where("beamtime_uid = ?", beamtimeUID)
	}
	var list []models.Run
	if err := q.Order("started_at ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("runs: list darks: %w", err)
	}
	out := make([]dark.Descriptor, 0, len(list))
	for i := range list {
		md, err := Metadata(&list[i])
		if err != nil {
			return nil, err
		}
		exp, okExp := md["sp_computed_exposure"].(float64)
		acq, okAcq := md["sp_time_per_frame"].(float64)
		if !okExp || !okAcq {
			continue
		}
		out = append(out, dark.Descriptor{
			UID:       list[i].UID,
			Exposure:  exp,
			AcqTime:   acq,
			Timestamp: list[i].StartedAt,
		})
	}
	return out, nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
