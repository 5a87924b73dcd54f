package telemetry

import (
	"strings"
	"sync"
)

// Report is a single call captured by Recorder.
type Report struct {
	Level  string
	Id     string
	Params []any
}

// Recorder is an API that keeps every report in memory, it is meant for tests that
// need to assert that something was (or was not) reported.
type Recorder struct {
	lock    sync.Mutex
	reports []Report
}

func (r *Recorder) push(level, id string, params []any) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.reports = append(r.reports, Report{Level: level, Id: id, Params: params})
}

func (r *Recorder) ReportBroken(id string, params ...any)  { r.push("broken", id, params) }
func (r *Recorder) ReportWarning(id string, params ...any) { r.push("warning", id, params) }
func (r *Recorder) ReportDebug(msg string, params ...any)  { r.push("debug", msg, params) }
func (r *Recorder) ReportCount(id string, count int64)     { r.push("count", id, []any{count}) }

// Reports returns a copy of all reports of the given level ("broken", "warning", "debug", "count").
func (r *Recorder) Reports(level string) []Report {
	r.lock.Lock()
	defer r.lock.Unlock()
	var out []Report
	for _, rep := range r.reports {
		if rep.Level == level {
			out = append(out, rep)
		}
	}
	return out
}

// Contains checks if any report of the given level has an id containing `substr`.
func (r *Recorder) Contains(level, substr string) bool {
	for _, rep := range r.Reports(level) {
		if strings.Contains(rep.Id, substr) {
			return true
		}
	}
	return false
}
