package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpdacq/xpdacq/internal/beamtime"
	"github.com/xpdacq/xpdacq/internal/models"
	"github.com/xpdacq/xpdacq/internal/runs"
	"gorm.io/gorm"
)

const defaultRunLimit = 50

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, s Session) {
	router.GET("/healthz", handleHealth(db))

	api := router.Group("/api")
	api.GET("/beamtime", handleBeamtime(s))
	api.GET("/experiments", handleExperiments(s))
	api.GET("/samples", handleSamples(s))
	api.GET("/scanplans", handleScanPlans(s))
	api.GET("/darks", handleDarks(s))
	api.GET("/runs", handleRunList(db))
	api.GET("/runs/:uid", handleRunDetail(db))
	api.GET("/summary", handleSummary(db))
	api.GET("/schedules", handleScheduleHistory(db))
	api.GET("/events", handleSSE(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// sessionBeamtime writes the error response itself and returns nil when no
// beamtime is available.
func sessionBeamtime(c *gin.Context, s Session) *beamtime.Beamtime {
	if s == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no acquisition session"})
		return nil
	}
	bt, err := s.Beamtime()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil
	}
	return bt
}

func handleBeamtime(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		bt := sessionBeamtime(c, s)
		if bt == nil {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"uid":         bt.UID(),
			"fields":      bt.View().Map(),
			"experiments": len(bt.Experiments()),
			"samples":     len(bt.Samples()),
			"scanplans":   len(bt.ScanPlans()),
		})
	}
}

type experimentRow struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	ScanPlans int    `json:"scanplans"`
}

func handleExperiments(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		bt := sessionBeamtime(c, s)
		if bt == nil {
			return
		}
		rows := make([]experimentRow, 0, len(bt.Experiments()))
		for _, e := range bt.Experiments() {
			rows = append(rows, experimentRow{UID: e.UID(), Name: e.Name(), ScanPlans: len(e.ScanPlans())})
		}
		c.JSON(http.StatusOK, rows)
	}
}

type sampleRow struct {
	UID         string         `json:"uid"`
	Name        string         `json:"name"`
	Composition string         `json:"composition"`
	Fields      map[string]any `json:"fields"`
}

func handleSamples(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		bt := sessionBeamtime(c, s)
		if bt == nil {
			return
		}
		rows := make([]sampleRow, 0, len(bt.Samples()))
		for _, smp := range bt.Samples() {
			rows = append(rows, sampleRow{
				UID:         smp.UID(),
				Name:        smp.Name(),
				Composition: smp.Composition(),
				Fields:      smp.Own().Map(),
			})
		}
		c.JSON(http.StatusOK, rows)
	}
}

type scanPlanRow struct {
	UID        string         `json:"uid"`
	Summary    string         `json:"summary"`
	PlanName   string         `json:"plan_name"`
	Experiment string         `json:"experiment"`
	Args       []any          `json:"sp_args"`
	Kwargs     map[string]any `json:"sp_kwargs"`
}

func handleScanPlans(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		bt := sessionBeamtime(c, s)
		if bt == nil {
			return
		}
		rows := make([]scanPlanRow, 0, len(bt.ScanPlans()))
		for _, sp := range bt.ScanPlans() {
			rows = append(rows, scanPlanRow{
				UID:        sp.UID(),
				Summary:    sp.ShortSummary(),
				PlanName:   sp.PlanName(),
				Experiment: sp.Experiment().Name(),
				Args:       sp.Args(),
				Kwargs:     sp.Kwargs(),
			})
		}
		c.JSON(http.StatusOK, rows)
	}
}

func handleDarks(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no acquisition session"})
			return
		}
		c.JSON(http.StatusOK, s.Darks().Entries())
	}
}

// runRow is the JSON shape of a recorded run.
type runRow struct {
	UID         string         `json:"uid"`
	PlanName    string         `json:"plan_name"`
	Dark        bool           `json:"dark_frame"`
	BeamtimeUID string         `json:"beamtime_uid,omitempty"`
	ScanPlanUID string         `json:"scanplan_uid,omitempty"`
	SampleUID   string         `json:"sample_uid,omitempty"`
	DarkUID     string         `json:"sc_dk_field_uid,omitempty"`
	Events      int            `json:"events"`
	ExitStatus  string         `json:"exit_status"`
	Reason      string         `json:"reason,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	StoppedAt   *time.Time     `json:"stopped_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func toRunRow(r *models.Run) runRow {
	return runRow{
		UID:         r.UID,
		PlanName:    r.PlanName,
		Dark:        r.Dark,
		BeamtimeUID: r.BeamtimeUID,
		ScanPlanUID: r.ScanPlanUID,
		SampleUID:   r.SampleUID,
		DarkUID:     r.DarkUID,
		Events:      r.Events,
		ExitStatus:  r.ExitStatus,
		Reason:      r.Reason,
		StartedAt:   r.StartedAt,
		StoppedAt:   r.StoppedAt,
	}
}

func handleRunList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := runs.Filters{
			PlanName:    c.Query("plan"),
			BeamtimeUID: c.Query("beamtime_uid"),
			ScanPlanUID: c.Query("scanplan_uid"),
			Limit:       defaultRunLimit,
		}
		if v := c.Query("dark"); v != "" {
			dark, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "dark must be a boolean"})
				return
			}
			f.Dark = &dark
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			f.Limit = n
		}

		list, err := runs.List(db, f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows := make([]runRow, len(list))
		for i := range list {
			rows[i] = toRunRow(&list[i])
		}
		c.JSON(http.StatusOK, rows)
	}
}

func handleRunDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := runs.Get(db, c.Param("uid"))
		if errors.Is(err, runs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		row := toRunRow(run)
		md, err := runs.Metadata(run)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		row.Metadata = md
		c.JSON(http.StatusOK, row)
	}
}

func handleSummary(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := RunSummary(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, counts)
	}
}

func handleScheduleHistory(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := ScheduleHistory(db, c.Query("schedule"), defaultRunLimit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, history)
	}
}
