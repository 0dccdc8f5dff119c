package plan

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/xpdacq/xpdacq/internal/device"
)

// frameEpsilon absorbs float noise in exposure/acquire-time division so that
// e.g. 1.1s at 0.1s per frame yields 11 frames, not 12.
const frameEpsilon = 1e-9

type frames struct {
	num      int
	acqTime  float64
	computed float64
}

// frameSettings converts a requested exposure into a whole number of
// detector frames, at least one.
func frameSettings(det device.Detector, exposure float64) (frames, error) {
	acq := det.AcquireTime()
	if acq <= 0 {
		return frames{}, fmt.Errorf("detector %s has non-positive acquire time %v", det.Name(), acq)
	}
	if exposure < 0 {
		return frames{}, bindErr("exposure must be non-negative, got %v", exposure)
	}
	n := int(math.Ceil(exposure/acq - frameEpsilon))
	if n < 1 {
		n = 1
	}
	return frames{num: n, acqTime: acq, computed: float64(n) * acq}, nil
}

func (f frames) metadata(spType string, exposure float64) map[string]any {
	return map[string]any{
		"sp_time_per_frame":     f.acqTime,
		"sp_num_frames":         f.num,
		"sp_requested_exposure": exposure,
		"sp_computed_exposure":  f.computed,
		"sp_type":               spType,
		"sp_uid":                uuid.NewString(),
		"plan_name":             spType,
	}
}

func configureMsg(det device.Detector, f frames) Msg {
	n := f.num
	return Msg{
		Command: CmdConfigure,
		Obj:     det.Name(),
		Kwargs:  map[string]any{"images_per_set": n},
		Action:  func() error { return det.SetImagesPerSet(n) },
	}
}

func setTempMsg(tc device.TemperatureController, kelvin float64) Msg {
	return Msg{
		Command: CmdSet,
		Obj:     tc.Name(),
		Args:    []any{kelvin},
		Action:  func() error { return tc.SetTemperature(kelvin) },
	}
}

// shot triggers the detector and reads it along with any extra devices.
func shot(det device.Detector, extra ...string) []Msg {
	msgs := []Msg{
		{Command: CmdTrigger, Obj: det.Name()},
		{Command: CmdRead, Obj: det.Name()},
	}
	for _, name := range extra {
		msgs = append(msgs, Msg{Command: CmdRead, Obj: name})
	}
	return append(msgs, Msg{Command: CmdSave})
}

func wrapRun(name string, det device.Detector, f frames, md map[string]any, body []Msg) *Plan {
	msgs := []Msg{configureMsg(det, f), {Command: CmdOpenRun, Kwargs: md}}
	msgs = append(msgs, body...)
	msgs = append(msgs, Msg{Command: CmdCloseRun})
	return &Plan{Name: name, Messages: msgs}
}

// Count is the "ct" plan: a single exposure.
func Count() Implementation {
	return Func{
		Params: Signature{{Name: "exposure", Kind: Float}},
		BuildFn: func(dev device.Context, args Bound) (*Plan, error) {
			det, err := dev.RequireDetector()
			if err != nil {
				return nil, err
			}
			exposure := args.Float("exposure")
			f, err := frameSettings(det, exposure)
			if err != nil {
				return nil, err
			}
			return wrapRun("ct", det, f, f.metadata("ct", exposure), shot(det)), nil
		},
	}
}

// Tramp is a temperature ramp from Tstart to Tstop in steps of about Tstep.
func Tramp() Implementation {
	return Func{
		Params: Signature{
			{Name: "exposure", Kind: Float},
			{Name: "Tstart", Kind: Float},
			{Name: "Tstop", Kind: Float},
			{Name: "Tstep", Kind: Float},
		},
		BuildFn: func(dev device.Context, args Bound) (*Plan, error) {
			det, err := dev.RequireDetector()
			if err != nil {
				return nil, err
			}
			tc, err := dev.RequireTempCtrl("Tramp")
			if err != nil {
				return nil, err
			}
			exposure := args.Float("exposure")
			start, stop, step := args.Float("Tstart"), args.Float("Tstop"), args.Float("Tstep")
			f, err := frameSettings(det, exposure)
			if err != nil {
				return nil, err
			}
			n, computedStep, err := nstep(start, stop, step)
			if err != nil {
				return nil, err
			}
			md := f.metadata("Tramp", exposure)
			md["sp_startingT"] = start
			md["sp_endingT"] = stop
			md["sp_requested_Tstep"] = step
			md["sp_computed_Tstep"] = computedStep
			md["sp_Nsteps"] = n

			var body []Msg
			for _, t := range linspace(start, stop, n) {
				body = append(body, setTempMsg(tc, t))
				body = append(body, shot(det, tc.Name())...)
			}
			return wrapRun("Tramp", det, f, md, body), nil
		},
	}
}

// TSeries takes num exposures separated by delay seconds (start to start).
func TSeries() Implementation {
	return Func{
		Params: Signature{
			{Name: "exposure", Kind: Float},
			{Name: "delay", Kind: Float},
			{Name: "num", Kind: Int},
		},
		BuildFn: func(dev device.Context, args Bound) (*Plan, error) {
			det, err := dev.RequireDetector()
			if err != nil {
				return nil, err
			}
			exposure, delay, num := args.Float("exposure"), args.Float("delay"), args.Int("num")
			if num < 1 {
				return nil, bindErr("num must be at least 1, got %d", num)
			}
			f, err := frameSettings(det, exposure)
			if err != nil {
				return nil, err
			}
			realDelay := math.Max(0, delay-f.computed)
			md := f.metadata("tseries", exposure)
			md["sp_requested_delay"] = delay
			md["sp_requested_num"] = num
			md["sp_computed_delay"] = realDelay

			var body []Msg
			for i := 0; i < num; i++ {
				body = append(body, shot(det)...)
				if i < num-1 && realDelay > 0 {
					body = append(body, Msg{Command: CmdSleep, Args: []any{realDelay}})
				}
			}
			return wrapRun("tseries", det, f, md, body), nil
		},
	}
}

// TList exposes once at each temperature of T_list, in order.
func TList() Implementation {
	return Func{
		Params: Signature{
			{Name: "exposure", Kind: Float},
			{Name: "T_list", Kind: FloatList},
		},
		BuildFn: func(dev device.Context, args Bound) (*Plan, error) {
			det, err := dev.RequireDetector()
			if err != nil {
				return nil, err
			}
			tc, err := dev.RequireTempCtrl("Tlist")
			if err != nil {
				return nil, err
			}
			exposure, temps := args.Float("exposure"), args.Floats("T_list")
			if len(temps) == 0 {
				return nil, bindErr("T_list must not be empty")
			}
			f, err := frameSettings(det, exposure)
			if err != nil {
				return nil, err
			}
			md := f.metadata("Tlist", exposure)
			md["sp_T_list"] = append([]float64(nil), temps...)

			var body []Msg
			for _, t := range temps {
				body = append(body, setTempMsg(tc, t))
				body = append(body, shot(det, tc.Name())...)
			}
			return wrapRun("Tlist", det, f, md, body), nil
		},
	}
}

// Dark builds a shutter-closed exposure matching the given light exposure.
// The shutter is reopened in Finally so an aborted dark never leaves the
// beam blocked. Without a shutter in dev the dark is taken as-is.
func Dark(dev device.Context, exposure float64) (*Plan, error) {
	det, err := dev.RequireDetector()
	if err != nil {
		return nil, err
	}
	f, err := frameSettings(det, exposure)
	if err != nil {
		return nil, err
	}
	md := f.metadata("ct", exposure)
	md["dark_frame"] = true

	p := wrapRun("dark", det, f, md, shot(det))
	if sh := dev.Shutter; sh != nil {
		closeMsg := Msg{Command: CmdSet, Obj: sh.Name(), Args: []any{"close"}, Action: sh.Close}
		openMsg := Msg{Command: CmdSet, Obj: sh.Name(), Args: []any{"open"}, Action: sh.Open}
		p.Messages = append([]Msg{closeMsg}, p.Messages...)
		p.Finally = []Msg{openMsg}
	}
	return p, nil
}

// nstep returns the number of temperature points between start and stop and
// the step actually used. Rounding down the point count keeps the computed
// step no finer than requested.
func nstep(start, stop, step float64) (int, float64, error) {
	if step == 0 {
		return 0, 0, bindErr("Tstep must be non-zero")
	}
	n := int(math.Abs((start-stop)/step)) + 1
	if n < 2 {
		return n, 0, nil
	}
	return n, (stop - start) / float64(n-1), nil
}

func linspace(start, stop float64, n int) []float64 {
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + (stop-start)*float64(i)/float64(n-1)
	}
	return out
}
