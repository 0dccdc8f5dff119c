package models

import "time"

// Run is one acquisition run recorded by the run engine. Metadata holds the
// run's start document as JSON.
type Run struct {
	UID         string `gorm:"primaryKey;size:36"`
	PlanName    string `gorm:"size:32;index"`
	Dark        bool   `gorm:"default:false;index"`
	BeamtimeUID string `gorm:"size:36;index"`
	ScanPlanUID string `gorm:"size:36;index"`
	SampleUID   string `gorm:"size:36;index"`
	DarkUID     string `gorm:"size:36"` // dark subtracted from this run, if any
	Metadata    string `gorm:"type:text"`
	Events      int
	ExitStatus  string    `gorm:"size:16;default:running;index"` // running, success, fail, abort
	Reason      string    `gorm:"type:text"`
	StartedAt   time.Time `gorm:"index"`
	StoppedAt   *time.Time
}
