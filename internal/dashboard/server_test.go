package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpdacq/xpdacq/internal/beamtime"
	"github.com/xpdacq/xpdacq/internal/dark"
	"github.com/xpdacq/xpdacq/internal/db"
	"github.com/xpdacq/xpdacq/internal/metrics"
	"github.com/xpdacq/xpdacq/internal/models"
	"github.com/xpdacq/xpdacq/internal/plan"
	"github.com/xpdacq/xpdacq/internal/runs"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	bt    *beamtime.Beamtime
	darks *dark.Cache
}

func (f *fakeSession) Beamtime() (*beamtime.Beamtime, error) {
	if f.bt == nil {
		return nil, errors.New("no beamtime bound")
	}
	return f.bt, nil
}

func (f *fakeSession) Darks() *dark.Cache { return f.darks }

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func testSession(t *testing.T) *fakeSession {
	t.Helper()
	wl := 0.1812
	bt, err := beamtime.New(beamtime.Info{PIName: "Billinge", SAFNum: "300000", Wavelength: &wl})
	if err != nil {
		t.Fatalf("beamtime.New: %v", err)
	}
	exp, err := beamtime.NewExperiment(bt, "temperature", nil)
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	if _, err := beamtime.NewScanPlan(exp, plan.DefaultRegistry(), "ct", []any{5.0}, nil); err != nil {
		t.Fatalf("NewScanPlan: %v", err)
	}
	if _, err := beamtime.NewSample(bt, "Ni", "Ni", nil); err != nil {
		t.Fatalf("NewSample: %v", err)
	}
	return &fakeSession{bt: bt, darks: dark.NewCache()}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{DB: nil})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db is required")
	}
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewRouter(testDB(t), nil), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestCORS(t *testing.T) {
	router := NewRouter(testDB(t), nil, WithCORS("http://localhost:3000"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q for a foreign origin, want empty", got)
	}
}

func TestCORS_Disabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	NewRouter(testDB(t), nil).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.ObserveDark(metrics.DarkReused)
	rec := get(t, NewRouter(testDB(t), nil, WithMetrics(m.Handler())), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `xpd_dark_selections_total{result="reused"} 1`) {
		t.Errorf("metrics body missing dark counter:\n%s", rec.Body.String())
	}

	if rec := get(t, NewRouter(testDB(t), nil), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("status without metrics = %d, want 404", rec.Code)
	}
}

func TestSessionRoutes_NoSession(t *testing.T) {
	router := NewRouter(testDB(t), nil)
	for _, path := range []string{"/api/beamtime", "/api/samples", "/api/scanplans", "/api/darks"} {
		if rec := get(t, router, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestBeamtime_NotBound(t *testing.T) {
	router := NewRouter(testDB(t), &fakeSession{darks: dark.NewCache()})
	if rec := get(t, router, "/api/beamtime"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBeamtime(t *testing.T) {
	s := testSession(t)
	rec := get(t, NewRouter(testDB(t), s), "/api/beamtime")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		UID       string         `json:"uid"`
		Fields    map[string]any `json:"fields"`
		Samples   int            `json:"samples"`
		ScanPlans int            `json:"scanplans"`
	}
	decode(t, rec, &body)
	if body.UID != s.bt.UID() {
		t.Errorf("uid = %q, want %q", body.UID, s.bt.UID())
	}
	if body.Fields["pi_name"] != "Billinge" {
		t.Errorf("pi_name = %v, want Billinge", body.Fields["pi_name"])
	}
	if body.Samples != 1 || body.ScanPlans != 1 {
		t.Errorf("samples = %d scanplans = %d, want 1 and 1", body.Samples, body.ScanPlans)
	}
}

func TestSamplesAndScanPlans(t *testing.T) {
	s := testSession(t)
	router := NewRouter(testDB(t), s)

	var samples []sampleRow
	decode(t, get(t, router, "/api/samples"), &samples)
	if len(samples) != 1 || samples[0].Name != "Ni" || samples[0].Composition != "Ni" {
		t.Errorf("samples = %+v", samples)
	}

	var plans []scanPlanRow
	decode(t, get(t, router, "/api/scanplans"), &plans)
	if len(plans) != 1 {
		t.Fatalf("scanplans = %+v, want one", plans)
	}
	if plans[0].Summary != "ct_5" {
		t.Errorf("summary = %q, want ct_5", plans[0].Summary)
	}
	if plans[0].Experiment != "temperature" {
		t.Errorf("experiment = %q, want temperature", plans[0].Experiment)
	}

	var exps []experimentRow
	decode(t, get(t, router, "/api/experiments"), &exps)
	if len(exps) != 1 || exps[0].ScanPlans != 1 {
		t.Errorf("experiments = %+v", exps)
	}
}

func TestDarks(t *testing.T) {
	s := testSession(t)
	s.darks.Append(dark.Descriptor{UID: "dk-1", Exposure: 5, AcqTime: 0.1, Timestamp: time.Now()})
	var got []dark.Descriptor
	decode(t, get(t, NewRouter(testDB(t), s), "/api/darks"), &got)
	if len(got) != 1 || got[0].UID != "dk-1" {
		t.Errorf("darks = %+v", got)
	}
}

func seedRuns(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, s := range []runs.Start{
		{UID: "dk-1", Metadata: map[string]any{"plan_name": "ct", "dark_frame": true}},
		{UID: "ct-1", Metadata: map[string]any{"plan_name": "ct", "sc_dk_field_uid": "dk-1"}},
		{UID: "tr-1", Metadata: map[string]any{"plan_name": "Tramp", "sc_dk_field_uid": "dk-1"}},
	} {
		s.Time = base.Add(time.Duration(i) * time.Minute)
		if _, err := runs.RecordStart(gdb, s); err != nil {
			t.Fatalf("RecordStart: %v", err)
		}
	}
	if err := runs.RecordStop(gdb, "dk-1", runs.StatusSuccess, "", 1, base); err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
	if err := runs.RecordStop(gdb, "ct-1", runs.StatusFail, "detector timeout", 0, base); err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
}

func TestRunList(t *testing.T) {
	gdb := testDB(t)
	seedRuns(t, gdb)
	router := NewRouter(gdb, nil)

	tests := []struct {
		path string
		want string
	}{
		{"/api/runs", "tr-1,ct-1,dk-1"},
		{"/api/runs?plan=ct", "ct-1,dk-1"},
		{"/api/runs?dark=true", "dk-1"},
		{"/api/runs?dark=false&limit=1", "tr-1"},
	}
	for _, tt := range tests {
		rec := get(t, router, tt.path)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", tt.path, rec.Code)
			continue
		}
		var rows []runRow
		decode(t, rec, &rows)
		var uids []string
		for _, r := range rows {
			uids = append(uids, r.UID)
		}
		if got := strings.Join(uids, ","); got != tt.want {
			t.Errorf("GET %s = %s, want %s", tt.path, got, tt.want)
		}
	}

	for _, path := range []string{"/api/runs?dark=maybe", "/api/runs?limit=0", "/api/runs?limit=x"} {
		if rec := get(t, router, path); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, rec.Code)
		}
	}
}

func TestRunDetail(t *testing.T) {
	gdb := testDB(t)
	seedRuns(t, gdb)
	router := NewRouter(gdb, nil)

	rec := get(t, router, "/api/runs/ct-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var row runRow
	decode(t, rec, &row)
	if row.ExitStatus != runs.StatusFail || row.Reason != "detector timeout" {
		t.Errorf("exit = %q reason = %q", row.ExitStatus, row.Reason)
	}
	if row.DarkUID != "dk-1" {
		t.Errorf("sc_dk_field_uid = %q, want dk-1", row.DarkUID)
	}
	if row.Metadata["plan_name"] != "ct" {
		t.Errorf("metadata plan_name = %v, want ct", row.Metadata["plan_name"])
	}

	if rec := get(t, router, "/api/runs/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}
}

func TestRunSummary(t *testing.T) {
	gdb := testDB(t)
	seedRuns(t, gdb)
	counts, err := RunSummary(gdb)
	if err != nil {
		t.Fatalf("RunSummary: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("counts = %+v, want Tramp and ct", counts)
	}
	tr, ct := counts[0], counts[1]
	if tr.PlanName != "Tramp" || tr.Running != 1 || tr.Total != 1 {
		t.Errorf("Tramp = %+v", tr)
	}
	if ct.PlanName != "ct" || ct.Dark != 1 || ct.Success != 1 || ct.Fail != 1 || ct.Total != 2 {
		t.Errorf("ct = %+v", ct)
	}
}

func TestScheduleHistory(t *testing.T) {
	gdb := testDB(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, r := range []models.ScheduleRun{
		{Schedule: "nightly", Status: "done", RunUIDs: `["a","b"]`},
		{Schedule: "hourly", Status: "failed", RunUIDs: `[]`, ErrorMessage: "boom"},
		{Schedule: "nightly", Status: "running"},
	} {
		r.StartedAt = base.Add(time.Duration(i) * time.Hour)
		if err := gdb.Create(&r).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rows, err := ScheduleHistory(gdb, "nightly", 10)
	if err != nil {
		t.Fatalf("ScheduleHistory: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v, want 2", rows)
	}
	if rows[0].Status != "running" || len(rows[0].RunUIDs) != 0 {
		t.Errorf("newest = %+v", rows[0])
	}
	if strings.Join(rows[1].RunUIDs, ",") != "a,b" {
		t.Errorf("run uids = %v, want [a b]", rows[1].RunUIDs)
	}

	rec := get(t, NewRouter(gdb, nil), "/api/schedules")
	var all []ScheduleRow
	decode(t, rec, &all)
	if len(all) != 3 {
		t.Errorf("all schedules = %d, want 3", len(all))
	}
}

func pollEvents(t *testing.T, w *runWatcher, gdb *gorm.DB) []sseEvent {
	t.Helper()
	events, err := w.poll(gdb)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	return events
}

func TestRunWatcher(t *testing.T) {
	gdb := testDB(t)
	since := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if _, err := runs.RecordStart(gdb, runs.Start{UID: "old", Time: since.Add(-time.Hour), Metadata: map[string]any{"plan_name": "ct"}}); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	w, err := newRunWatcher(gdb, since)
	if err != nil {
		t.Fatalf("newRunWatcher: %v", err)
	}
	if events := pollEvents(t, w, gdb); len(events) != 0 {
		t.Errorf("initial poll = %+v, want none", events)
	}

	if _, err := runs.RecordStart(gdb, runs.Start{UID: "new", Time: since.Add(time.Minute), Metadata: map[string]any{"plan_name": "Tramp"}}); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	events := pollEvents(t, w, gdb)
	if len(events) != 1 || events[0].Event != "run_start" {
		t.Fatalf("after start = %+v, want one run_start", events)
	}

	if err := runs.RecordStop(gdb, "new", runs.StatusSuccess, "", 3, since.Add(2*time.Minute)); err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
	if err := runs.RecordStop(gdb, "old", runs.StatusAbort, "ctrl-c", 0, since.Add(2*time.Minute)); err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
	events = pollEvents(t, w, gdb)
	if len(events) != 2 {
		t.Fatalf("after stop = %+v, want two run_stop", events)
	}
	for _, e := range events {
		if e.Event != "run_stop" {
			t.Errorf("event = %q, want run_stop", e.Event)
		}
	}
	if events := pollEvents(t, w, gdb); len(events) != 0 {
		t.Errorf("repeat poll = %+v, want none", events)
	}
	if len(w.running) != 0 {
		t.Errorf("running = %v, want stopped runs dropped", w.running)
	}
}

func TestRunWatcher_OnlyTracksRunningRuns(t *testing.T) {
	gdb := testDB(t)
	since := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	w, err := newRunWatcher(gdb, since)
	if err != nil {
		t.Fatalf("newRunWatcher: %v", err)
	}
	for i := 0; i < 5; i++ {
		uid := fmt.Sprintf("r%d", i)
		at := since.Add(time.Duration(i+1) * time.Minute)
		if _, err := runs.RecordStart(gdb, runs.Start{UID: uid, Time: at, Metadata: map[string]any{"plan_name": "ct"}}); err != nil {
			t.Fatalf("RecordStart: %v", err)
		}
		pollEvents(t, w, gdb)
		if err := runs.RecordStop(gdb, uid, runs.StatusSuccess, "", 1, at.Add(time.Second)); err != nil {
			t.Fatalf("RecordStop: %v", err)
		}
		if events := pollEvents(t, w, gdb); len(events) != 1 || events[0].Event != "run_stop" {
			t.Fatalf("run %s stop = %+v, want one run_stop", uid, events)
		}
	}
	if len(w.running) != 0 {
		t.Errorf("running = %v, want empty", w.running)
	}
	if len(w.seen) > 1 {
		t.Errorf("seen = %v, want at most the newest run", w.seen)
	}
}

func TestRunWatcher_DBError(t *testing.T) {
	gdb := testDB(t)
	w, err := newRunWatcher(gdb, time.Now())
	if err != nil {
		t.Fatalf("newRunWatcher: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	sqlDB.Close()

	if _, err := w.poll(gdb); err == nil {
		t.Error("poll on a closed db returned no error")
	}
	if _, err := newRunWatcher(gdb, time.Now()); err == nil {
		t.Error("newRunWatcher on a closed db returned no error")
	}
}

func TestWriteSSE(t *testing.T) {
	var b strings.Builder
	writeSSE(&b, "run_stop", runEvent{UID: "r1", ExitStatus: "success"})
	got := b.String()
	if !strings.HasPrefix(got, "event: run_stop\ndata: {") || !strings.HasSuffix(got, "}\n\n") {
		t.Errorf("writeSSE = %q", got)
	}
	if !strings.Contains(got, `"uid":"r1"`) {
		t.Errorf("payload missing uid: %q", got)
	}
}
