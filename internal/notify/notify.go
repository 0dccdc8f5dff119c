// Package notify delivers advisory notices: conditions worth telling the
// beamline user about that do not stop an acquisition.
package notify

import (
	"context"
	"errors"
	"sort"

	"github.com/xpdacq/xpdacq/internal/logging"
)

// Notice kinds raised by the acquisition core.
const (
	KindMissingWavelength = "missing_wavelength"
	KindNoDark            = "no_dark"
	KindScheduleFailed    = "schedule_failed"
)

// Notice is one advisory message.
type Notice struct {
	Kind   string
	Title  string
	Body   string
	Fields map[string]string
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to the log at warn level.
type LogNotifier struct {
	Log *logging.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notice) error {
	kv := []interface{}{"kind", n.Kind}
	if n.Body != "" {
		kv = append(kv, "detail", n.Body)
	}
	for _, k := range sortedKeys(n.Fields) {
		kv = append(kv, k, n.Fields[k])
	}
	l.Log.Warn(n.Title, kv...)
	return nil
}

// Multi sends each notice to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notice it receives.
type Recorder struct {
	Notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) error {
	r.Notices = append(r.Notices, n)
	return nil
}

// Count returns how many recorded notices have the given kind.
func (r *Recorder) Count(kind string) int {
	c := 0
	for _, n := range r.Notices {
		if n.Kind == kind {
			c++
		}
	}
	return c
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
