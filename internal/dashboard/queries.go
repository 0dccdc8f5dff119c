package dashboard

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/xpdacq/xpdacq/internal/models"
	"gorm.io/gorm"
)

// PlanStatusCount holds run counts by exit status for a single plan.
type PlanStatusCount struct {
	PlanName string `json:"plan_name"`
	Dark     int    `json:"dark"`
	Running  int    `json:"running"`
	Success  int    `json:"success"`
	Fail     int    `json:"fail"`
	Abort    int    `json:"abort"`
	Total    int    `json:"total"`
}

// RunSummary returns per-plan run counts grouped by exit status, ordered by
// plan name.
func RunSummary(db *gorm.DB) ([]PlanStatusCount, error) {
	type row struct {
		PlanName   string
		ExitStatus string
		Dark       bool
		Count      int
	}
	var rows []row
	if err := db.Model(&models.Run{}).
		Select("plan_name, exit_status, dark, count(*) as count").
		Group("plan_name, exit_status, dark").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	// Aggregate by plan.
	planMap := make(map[string]*PlanStatusCount)
	for _, r := range rows {
		pc, ok := planMap[r.PlanName]
		if !ok {
			pc = &PlanStatusCount{PlanName: r.PlanName}
			planMap[r.PlanName] = pc
		}
		pc.Total += r.Count
		if r.Dark {
			pc.Dark += r.Count
		}
		switch r.ExitStatus {
		case "running":
			pc.Running += r.Count
		case "success":
			pc.Success += r.Count
		case "fail":
			pc.Fail += r.Count
		case "abort":
			pc.Abort += r.Count
		}
	}

	result := make([]PlanStatusCount, 0, len(planMap))
	for _, pc := range planMap {
		result = append(result, *pc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PlanName < result[j].PlanName })
	return result, nil
}

// ScheduleRow holds one scheduled firing for display.
type ScheduleRow struct {
	ID         uint       `json:"id"`
	Schedule   string     `json:"schedule"`
	ScanPlan   string     `json:"scanplan"`
	Sample     string     `json:"sample"`
	Status     string     `json:"status"`
	RunUIDs    []string   `json:"run_uids"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ScheduleHistory returns the most recent scheduled firings, newest first,
// optionally narrowed to one schedule name.
func ScheduleHistory(db *gorm.DB, schedule string, limit int) ([]ScheduleRow, error) {
	q := db.Model(&models.ScheduleRun{})
	if schedule != "" {
		q = q.Where("schedule = ?", schedule)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var sr []models.ScheduleRun
	if err := q.Order("started_at DESC, id DESC").Find(&sr).Error; err != nil {
		return nil, err
	}

	rows := make([]ScheduleRow, len(sr))
	for i, r := range sr {
		rows[i] = ScheduleRow{
			ID:         r.ID,
			Schedule:   r.Schedule,
			ScanPlan:   r.ScanPlan,
			Sample:     r.Sample,
			Status:     r.Status,
			RunUIDs:    []string{},
			Error:      r.ErrorMessage,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		}
		if r.RunUIDs != "" {
			// A malformed list is shown as empty rather than failing the page.
			_ = json.Unmarshal([]byte(r.RunUIDs), &rows[i].RunUIDs)
		}
	}
	return rows, nil
}
