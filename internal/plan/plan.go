package plan

import (
	"fmt"
	"strings"
)

// Instruction commands understood by run engines.
const (
	CmdConfigure = "configure"
	CmdOpenRun   = "open_run"
	CmdCloseRun  = "close_run"
	CmdSet       = "set"
	CmdTrigger   = "trigger"
	CmdRead      = "read"
	CmdSave      = "save"
	CmdSleep     = "sleep"
)

// Msg is one instruction of a live plan.
type Msg struct {
	Command string
	Obj     string // device name, empty for run-level instructions
	Args    []any
	Kwargs  map[string]any
	// Action performs the instruction's hardware effect. Nil for pure
	// bookkeeping instructions.
	Action func() error
}

// Plan is a materialized acquisition: an ordered instruction list bound to
// concrete devices.
type Plan struct {
	Name     string
	Messages []Msg
	// Finally runs after Messages however they end, including on an action
	// error or cancellation. It restores hardware state such as the shutter.
	Finally []Msg
}

// Metadata returns a copy of the open-run metadata the plan carries.
func (p *Plan) Metadata() map[string]any {
	for _, m := range p.Messages {
		if m.Command == CmdOpenRun {
			out := make(map[string]any, len(m.Kwargs))
			for k, v := range m.Kwargs {
				out[k] = v
			}
			return out
		}
	}
	return map[string]any{}
}

// Summary renders the plan as a short human-readable listing.
func (p *Plan) Summary() string {
	var out, reads []string
	all := append(append([]Msg(nil), p.Messages...), p.Finally...)
	for _, m := range all {
		switch m.Command {
		case CmdOpenRun:
			out = append(out, banner(" Open Run "))
		case CmdCloseRun:
			out = append(out, banner(" Close Run "))
		case CmdSet:
			var target any
			if len(m.Args) > 0 {
				target = m.Args[0]
			}
			out = append(out, fmt.Sprintf("%s -> %v", m.Obj, target))
		case CmdRead:
			reads = append(reads, m.Obj)
		case CmdSave:
			out = append(out, fmt.Sprintf("  Read [%s]", strings.Join(reads, ", ")))
			reads = nil
		}
	}
	return strings.Join(out, "\n")
}

func banner(title string) string {
	const width = 80
	pad := width - len(title)
	if pad < 0 {
		return title
	}
	left := pad / 2
	return strings.Repeat("=", left) + title + strings.Repeat("=", pad-left)
}
