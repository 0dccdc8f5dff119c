package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpdacq/xpdacq/internal/models"
	"github.com/xpdacq/xpdacq/internal/runs"
	"gorm.io/gorm"
)

// sseEvent represents an SSE event to send to the client.
type sseEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// runEvent is the payload of run_start and run_stop events.
type runEvent struct {
	UID        string `json:"uid"`
	PlanName   string `json:"plan_name"`
	Dark       bool   `json:"dark_frame"`
	ExitStatus string `json:"exit_status"`
	Events     int    `json:"events"`
}

// runWatcher reports runs that start or stop after it was created. Only runs
// still running are tracked; a run is dropped once its stop is reported.
// seen holds the uids already reported that started exactly at since.
type runWatcher struct {
	since   time.Time
	seen    map[string]bool
	running map[string]bool
}

func newRunWatcher(db *gorm.DB, since time.Time) (*runWatcher, error) {
	w := &runWatcher{since: since, seen: map[string]bool{}, running: map[string]bool{}}
	var open []models.Run
	if err := db.Where("exit_status = ?", runs.StatusRunning).Find(&open).Error; err != nil {
		return nil, fmt.Errorf("dashboard: list running runs: %w", err)
	}
	for _, r := range open {
		w.running[r.UID] = true
	}
	return w, nil
}

// poll returns the events since the previous poll: stops of tracked runs
// first, then runs started since the last poll, oldest first.
func (w *runWatcher) poll(db *gorm.DB) ([]sseEvent, error) {
	var out []sseEvent

	if len(w.running) > 0 {
		var tracked []models.Run
		err := db.Where("uid IN ? AND exit_status <> ?", w.keys(), runs.StatusRunning).
			Order("started_at ASC").Find(&tracked).Error
		if err != nil {
			return nil, fmt.Errorf("dashboard: poll tracked runs: %w", err)
		}
		for _, r := range tracked {
			delete(w.running, r.UID)
			out = append(out, runEventFor(r))
		}
	}

	var started []models.Run
	if err := db.Where("started_at >= ?", w.since).Order("started_at ASC").Find(&started).Error; err != nil {
		return out, fmt.Errorf("dashboard: poll new runs: %w", err)
	}
	for _, r := range started {
		if w.seen[r.UID] || w.running[r.UID] {
			continue
		}
		if r.StartedAt.After(w.since) {
			w.since = r.StartedAt
			w.seen = map[string]bool{}
		}
		w.seen[r.UID] = true
		if r.ExitStatus == runs.StatusRunning {
			w.running[r.UID] = true
		}
		out = append(out, runEventFor(r))
	}
	return out, nil
}

// runEventFor reports a running run as run_start and any other as run_stop.
func runEventFor(r models.Run) sseEvent {
	event := "run_stop"
	if r.ExitStatus == runs.StatusRunning {
		event = "run_start"
	}
	return sseEvent{Event: event, Data: runEvent{
		UID:        r.UID,
		PlanName:   r.PlanName,
		Dark:       r.Dark,
		ExitStatus: r.ExitStatus,
		Events:     r.Events,
	}}
}

func (w *runWatcher) keys() []string {
	out := make([]string, 0, len(w.running))
	for k := range w.running {
		out = append(out, k)
	}
	return out
}

// handleSSE streams run start and stop events by polling the run table.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		// Send connected event.
		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		// Without a DB there is nothing to watch.
		if db == nil {
			return
		}
		watcher, err := newRunWatcher(db, time.Now())
		if err != nil {
			writeSSE(c.Writer, "error", gin.H{"error": err.Error()})
			c.Writer.Flush()
			return
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(2 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				events, err := watcher.poll(db)
				for _, e := range events {
					writeSSE(c.Writer, e.Event, e.Data)
				}
				if err != nil {
					writeSSE(c.Writer, "error", gin.H{"error": err.Error()})
				}
				if len(events) > 0 || err != nil {
					c.Writer.Flush()
				}
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
