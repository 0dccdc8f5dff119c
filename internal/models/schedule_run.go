package models

import "time"

// ScheduleRun records one firing of a cron-scheduled acquisition.
type ScheduleRun struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Schedule     string `gorm:"size:64;not null;index"`
	ScanPlan     string `gorm:"size:128"`
	Sample       string `gorm:"size:128"`
	Status       string `gorm:"size:16;default:running;index"` // running, done, failed
	RunUIDs      string `gorm:"type:json"`                     // JSON array of run uids
	ErrorMessage string `gorm:"type:text"`
	StartedAt    time.Time
	FinishedAt   *time.Time
}
