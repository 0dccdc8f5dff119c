package plan

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/xpdacq/xpdacq/internal/device"
)

func TestRegistry_DuplicateAndOverwrite(t *testing.T) {
	r := NewRegistry()
	first := Count()
	if err := r.Register("ct", first, false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("ct", TSeries(), false); !errors.Is(err, ErrDuplicatePlan) {
		t.Fatalf("duplicate Register error = %v, want ErrDuplicatePlan", err)
	}
	impl, _ := r.Lookup("ct")
	if len(impl.Signature()) != 1 {
		t.Errorf("failed Register replaced the implementation")
	}

	if err := r.Register("ct", TSeries(), true); err != nil {
		t.Fatalf("overwrite Register: %v", err)
	}
	impl, err := r.Lookup("ct")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(impl.Signature()) != 3 {
		t.Errorf("len(Signature) = %d, want 3 from the new implementation", len(impl.Signature()))
	}
}

func TestRegistry_UnregisterAndLookup(t *testing.T) {
	r := DefaultRegistry()
	if err := r.Unregister("Tramp"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := r.Unregister("Tramp"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("second Unregister error = %v, want ErrPlanNotFound", err)
	}
	if _, err := r.Lookup("Tramp"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("Lookup error = %v, want ErrPlanNotFound", err)
	}
	if _, err := r.Build("Tramp", device.SimContext(0.1), []any{5, 300, 200, 10}, nil); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("Build error = %v, want ErrPlanNotFound", err)
	}
}

func TestRegistry_RejectsEmpty(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", Count(), false); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register("x", nil, false); err == nil {
		t.Error("expected error for nil implementation")
	}
}

func TestDefaultRegistry_Names(t *testing.T) {
	got := strings.Join(DefaultRegistry().Names(), ",")
	if got != "Tlist,Tramp,ct,tseries" {
		t.Errorf("Names() = %q", got)
	}
}

func TestBind(t *testing.T) {
	sig := Tramp().Signature()
	tests := []struct {
		name    string
		args    []any
		kwargs  map[string]any
		want    string
		wantErr string
	}{
		{name: "positional", args: []any{5, 300, 200, 10}, want: "Tramp_5_300_200_10"},
		{name: "mixed", args: []any{5, 300}, kwargs: map[string]any{"Tstep": 10, "Tstop": 200.5}, want: "Tramp_5_300_200.5_10"},
		{name: "too many", args: []any{1, 2, 3, 4, 5}, wantErr: "positional"},
		{name: "unknown kw", args: []any{1, 2, 3, 4}, kwargs: map[string]any{"speed": 1}, wantErr: "unexpected keyword"},
		{name: "duplicate", args: []any{1, 2, 3, 4}, kwargs: map[string]any{"Tstart": 1}, wantErr: "multiple values"},
		{name: "missing", args: []any{1, 2}, wantErr: "Tstop, Tstep"},
		{name: "wrong kind", args: []any{"five", 2, 3, 4}, wantErr: "exposure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := sig.Bind(tt.args, tt.kwargs)
			if tt.wantErr != "" {
				if !errors.Is(err, ErrBinding) {
					t.Fatalf("error = %v, want ErrBinding", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Bind: %v", err)
			}
			if got := b.Summary("Tramp"); got != tt.want {
				t.Errorf("Summary = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBind_IntKind(t *testing.T) {
	sig := TSeries().Signature()
	if _, err := sig.Bind([]any{1, 2, 2.5}, nil); !errors.Is(err, ErrBinding) {
		t.Errorf("non-integral num error = %v, want ErrBinding", err)
	}
	b, err := sig.Bind([]any{1, 2, 5.0}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if b.Int("num") != 5 {
		t.Errorf("num = %d, want 5", b.Int("num"))
	}
}

func TestRegistryBind_StampsPlanName(t *testing.T) {
	_, err := DefaultRegistry().Bind("ct", nil, nil)
	var be *BindingError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want *BindingError", err)
	}
	if be.Plan != "ct" {
		t.Errorf("Plan = %q, want ct", be.Plan)
	}
}

func TestSummary_StableForListValues(t *testing.T) {
	b, err := TList().Signature().Bind([]any{5, []any{300, 256.5, 128}}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := b.Summary("Tlist"); got != "Tlist_5_[300,256.5,128]" {
		t.Errorf("Summary = %q", got)
	}
}

func TestCount_Metadata(t *testing.T) {
	dev := device.SimContext(0.1)
	p, err := DefaultRegistry().Build("ct", dev, []any{5}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	md := p.Metadata()
	if md["sp_type"] != "ct" || md["plan_name"] != "ct" {
		t.Errorf("sp_type/plan_name = %v/%v, want ct", md["sp_type"], md["plan_name"])
	}
	if md["sp_requested_exposure"] != 5.0 {
		t.Errorf("sp_requested_exposure = %v, want 5", md["sp_requested_exposure"])
	}
	if md["sp_num_frames"] != 50 {
		t.Errorf("sp_num_frames = %v, want 50", md["sp_num_frames"])
	}
	if got := md["sp_computed_exposure"].(float64); math.Abs(got-5) > 1e-9 {
		t.Errorf("sp_computed_exposure = %v, want 5", got)
	}
	if md["sp_time_per_frame"] != 0.1 {
		t.Errorf("sp_time_per_frame = %v, want 0.1", md["sp_time_per_frame"])
	}
	if dev.Detector.ImagesPerSet() != 1 {
		t.Errorf("Build configured the detector; configuration belongs to execution")
	}
	for _, m := range p.Messages {
		if m.Action != nil {
			if err := m.Action(); err != nil {
				t.Fatalf("Action: %v", err)
			}
		}
	}
	if dev.Detector.ImagesPerSet() != 50 {
		t.Errorf("ImagesPerSet = %d after configure, want 50", dev.Detector.ImagesPerSet())
	}
}

func TestFrameSettings(t *testing.T) {
	det := device.NewSimDetector("pe1c", 0.1)
	tests := []struct {
		exposure float64
		frames   int
	}{
		{0, 1},
		{0.05, 1},
		{0.1, 1},
		{0.15, 2},
		{1.1, 11},
		{5, 50},
	}
	for _, tt := range tests {
		f, err := frameSettings(det, tt.exposure)
		if err != nil {
			t.Fatalf("frameSettings(%v): %v", tt.exposure, err)
		}
		if f.num != tt.frames {
			t.Errorf("frames(%v) = %d, want %d", tt.exposure, f.num, tt.frames)
		}
	}
	if _, err := frameSettings(det, -1); err == nil {
		t.Error("expected error for negative exposure")
	}
}

func TestTramp_Steps(t *testing.T) {
	dev := device.SimContext(0.1)
	p, err := DefaultRegistry().Build("Tramp", dev, []any{5, 300, 200, 10}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	md := p.Metadata()
	if md["sp_Nsteps"] != 11 {
		t.Errorf("sp_Nsteps = %v, want 11", md["sp_Nsteps"])
	}
	if md["sp_computed_Tstep"] != -10.0 {
		t.Errorf("sp_computed_Tstep = %v, want -10", md["sp_computed_Tstep"])
	}
	if md["sp_startingT"] != 300.0 || md["sp_endingT"] != 200.0 || md["sp_requested_Tstep"] != 10.0 {
		t.Errorf("temperature metadata = %v/%v/%v", md["sp_startingT"], md["sp_endingT"], md["sp_requested_Tstep"])
	}
	sets := 0
	for _, m := range p.Messages {
		if m.Command == CmdSet {
			sets++
		}
	}
	if sets != 11 {
		t.Errorf("set instructions = %d, want 11", sets)
	}
	if !strings.Contains(p.Summary(), "cs700 -> 300") {
		t.Errorf("Summary missing first setpoint:\n%s", p.Summary())
	}
}

func TestTramp_NeedsTempCtrl(t *testing.T) {
	dev := device.Context{Detector: device.NewSimDetector("pe1c", 0.1)}
	if _, err := DefaultRegistry().Build("Tramp", dev, []any{5, 300, 200, 10}, nil); err == nil {
		t.Fatal("expected error without a temperature controller")
	}
	if _, err := DefaultRegistry().Build("Tramp", device.SimContext(0.1), []any{5, 300, 200, 0}, nil); !errors.Is(err, ErrBinding) {
		t.Errorf("zero step error = %v, want ErrBinding", err)
	}
}

func TestTSeries_Metadata(t *testing.T) {
	p, err := DefaultRegistry().Build("tseries", device.SimContext(0.1), []any{5, 1, 5}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	md := p.Metadata()
	if md["sp_requested_delay"] != 1.0 || md["sp_requested_num"] != 5 {
		t.Errorf("delay/num = %v/%v, want 1/5", md["sp_requested_delay"], md["sp_requested_num"])
	}
	if md["sp_computed_delay"] != 0.0 {
		t.Errorf("sp_computed_delay = %v, want 0 when exposure exceeds delay", md["sp_computed_delay"])
	}
	saves := 0
	for _, m := range p.Messages {
		if m.Command == CmdSave {
			saves++
		}
	}
	if saves != 5 {
		t.Errorf("save instructions = %d, want 5", saves)
	}
}

func TestTList_Metadata(t *testing.T) {
	p, err := DefaultRegistry().Build("Tlist", device.SimContext(0.1), []any{5, []any{300, 256, 128}}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, ok := p.Metadata()["sp_T_list"].([]float64)
	if !ok || len(got) != 3 || got[0] != 300 || got[2] != 128 {
		t.Errorf("sp_T_list = %v", p.Metadata()["sp_T_list"])
	}
}

func TestDark_ShutterBracketsRun(t *testing.T) {
	dev := device.SimContext(0.1)
	p, err := Dark(dev, 5)
	if err != nil {
		t.Fatalf("Dark: %v", err)
	}
	if p.Metadata()["dark_frame"] != true {
		t.Error("dark plan missing dark_frame flag")
	}
	first := p.Messages[0]
	if first.Obj != "shctl1" || first.Args[0] != "close" {
		t.Errorf("first instruction = %+v, want shutter close", first)
	}
	if len(p.Finally) != 1 || p.Finally[0].Obj != "shctl1" || p.Finally[0].Args[0] != "open" {
		t.Errorf("Finally = %+v, want a single shutter open", p.Finally)
	}
	if !strings.HasSuffix(p.Summary(), "shctl1 -> open") {
		t.Errorf("Summary does not end with the shutter open:\n%s", p.Summary())
	}
}

func TestBuild_NoDetector(t *testing.T) {
	_, err := DefaultRegistry().Build("ct", device.Context{}, []any{1}, nil)
	if !errors.Is(err, device.ErrNoDetector) {
		t.Errorf("error = %v, want ErrNoDetector", err)
	}
}

func TestPlanSummary(t *testing.T) {
	p, err := DefaultRegistry().Build("ct", device.SimContext(0.1), []any{1}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	lines := strings.Split(p.Summary(), "\n")
	if len(lines) != 3 {
		t.Fatalf("Summary lines = %d, want 3:\n%s", len(lines), p.Summary())
	}
	if len(lines[0]) != 80 || !strings.Contains(lines[0], " Open Run ") {
		t.Errorf("banner = %q", lines[0])
	}
	if lines[1] != "  Read [pe1c]" {
		t.Errorf("read line = %q", lines[1])
	}
}

func TestSignatureString(t *testing.T) {
	sig := Signature{
		{Name: "exposure", Kind: Float},
		{Name: "T_list", Kind: FloatList},
		{Name: "num", Kind: Int, Optional: true},
	}
	want := "exposure float, T_list list of floats, [num int]"
	if got := sig.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
