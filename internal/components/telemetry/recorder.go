package telemetry

import (
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelBroken
	LevelCount
)

// Report is a single call made against a Recorder.
type Report struct {
	Level  Level
	Id     string
	Params []any
	Count  int64
}

// Recorder is an in-memory API, it is meant for asserting on what a component
// reported in tests.
type Recorder struct {
	mutex   sync.Mutex
	reports []Report
}

func (r *Recorder) push(report Report) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, report)
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.push(Report{Level: LevelBroken, Id: id, Params: params})
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.push(Report{Level: LevelWarning, Id: id, Params: params})
}

func (r *Recorder) ReportInfo(msg string, params ...any) {
	r.push(Report{Level: LevelInfo, Id: msg, Params: params})
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.push(Report{Level: LevelDebug, Id: msg, Params: params})
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.push(Report{Level: LevelCount, Id: id, Count: count})
}

// Reports returns a copy of everything reported so far.
func (r *Recorder) Reports() []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Find returns all reports of the given level whose id contains `substr`.
func (r *Recorder) Find(level Level, substr string) []Report {
	var out []Report
	for _, report := range r.Reports() {
		if report.Level == level && strings.Contains(report.Id, substr) {
			out = append(out, report)
		}
	}
	return out
}
