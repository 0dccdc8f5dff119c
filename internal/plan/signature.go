package plan

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xpdacq/xpdacq/internal/record"
)

// Kind is the value type a parameter accepts.
type Kind int

const (
	Float Kind = iota
	Int
	FloatList
)

func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case Int:
		return "int"
	case FloatList:
		return "list of floats"
	}
	return "unknown"
}

// convert coerces a decoded value (YAML or CLI) into the kind's Go type:
// float64, int, or []float64.
func (k Kind) convert(v any) (any, error) {
	switch k {
	case Float:
		if f, ok := record.ToFloat(v); ok {
			return f, nil
		}
	case Int:
		if f, ok := record.ToFloat(v); ok && f == math.Trunc(f) {
			return int(f), nil
		}
	case FloatList:
		switch l := v.(type) {
		case []float64:
			return append([]float64(nil), l...), nil
		case []any:
			out := make([]float64, 0, len(l))
			for i, el := range l {
				f, ok := record.ToFloat(el)
				if !ok {
					return nil, fmt.Errorf("element %d is %T, want number", i, el)
				}
				out = append(out, f)
			}
			return out, nil
		case []int:
			out := make([]float64, len(l))
			for i, el := range l {
				out[i] = float64(el)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("got %T, want %s", v, k)
}

// Param is one declared plan parameter. The detector list every plan
// receives is injected at materialization and never declared here.
type Param struct {
	Name     string
	Kind     Kind
	Optional bool
}

// Signature is the ordered parameter list of a plan.
type Signature []Param

// String renders the signature as "exposure float, T_list list of floats";
// optional parameters are bracketed.
func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		parts[i] = p.Name + " " + p.Kind.String()
		if p.Optional {
			parts[i] = "[" + parts[i] + "]"
		}
	}
	return strings.Join(parts, ", ")
}

func (s Signature) index(name string) int {
	for i, p := range s {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Bind matches positional and keyword arguments against the signature and
// returns the supplied parameters in declared order.
func (s Signature) Bind(args []any, kwargs map[string]any) (Bound, error) {
	if len(args) > len(s) {
		return nil, bindErr("takes %d positional arguments but %d were given", len(s), len(args))
	}
	values := make(map[string]any, len(args)+len(kwargs))
	for i, a := range args {
		values[s[i].Name] = a
	}

	names := make([]string, 0, len(kwargs))
	for name := range kwargs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.index(name) < 0 {
			return nil, bindErr("unexpected keyword argument %q", name)
		}
		if _, dup := values[name]; dup {
			return nil, bindErr("multiple values for argument %q", name)
		}
		values[name] = kwargs[name]
	}

	var missing []string
	var out Bound
	for _, p := range s {
		v, ok := values[p.Name]
		if !ok {
			if !p.Optional {
				missing = append(missing, p.Name)
			}
			continue
		}
		cv, err := p.Kind.convert(v)
		if err != nil {
			return nil, bindErr("argument %q: %v", p.Name, err)
		}
		out = append(out, Argument{Name: p.Name, Value: cv})
	}
	if len(missing) > 0 {
		return nil, bindErr("missing required arguments: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Argument is one bound parameter.
type Argument struct {
	Name  string
	Value any
}

// Bound is the named, ordered view of a plan's arguments.
type Bound []Argument

// Lookup returns the bound value for name.
func (b Bound) Lookup(name string) (any, bool) {
	for _, a := range b {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Float returns a Float parameter, 0 when absent.
func (b Bound) Float(name string) float64 {
	v, _ := b.Lookup(name)
	f, _ := v.(float64)
	return f
}

// Int returns an Int parameter, 0 when absent.
func (b Bound) Int(name string) int {
	v, _ := b.Lookup(name)
	n, _ := v.(int)
	return n
}

// Floats returns a FloatList parameter.
func (b Bound) Floats(name string) []float64 {
	v, _ := b.Lookup(name)
	l, _ := v.([]float64)
	return l
}

// Map returns the bound arguments keyed by name.
func (b Bound) Map() map[string]any {
	out := make(map[string]any, len(b))
	for _, a := range b {
		out[a.Name] = a.Value
	}
	return out
}

// Summary joins the plan name with each bound value in declared order,
// e.g. "Tramp_5_300_200_10".
func (b Bound) Summary(planName string) string {
	parts := []string{planName}
	for _, a := range b {
		parts = append(parts, FormatValue(a.Value))
	}
	return strings.Join(parts, "_")
}

// FormatValue renders a bound value the same way every time it is given the
// same value.
func FormatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprint(v)
}

// withPlan stamps the plan name on a BindingError.
func withPlan(name string, err error) error {
	var be *BindingError
	if errors.As(err, &be) && be.Plan == "" {
		be.Plan = name
	}
	return err
}
