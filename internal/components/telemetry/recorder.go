package telemetry

import (
	"fmt"
	"sync"
)

// Record is a single report captured by Recorder.
type Record struct {
	Level  string
	Id     string
	Params []any
}

// Recorder is an API that keeps every report in memory, it lets tests assert that
// something was (or was not) reported.
type Recorder struct {
	mutex   sync.Mutex
	records []Record
}

func (r *Recorder) add(level, id string, params []any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.records = append(r.records, Record{Level: level, Id: id, Params: params})
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.add("broken", id, params)
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.add("warning", id, params)
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.add("debug", msg, params)
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.add("count", id, []any{count})
}

// Records returns the reports of the given level, all of them if level is empty.
func (r *Recorder) Records(level string) []Record {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []Record
	for _, rec := range r.records {
		if level == "" || rec.Level == level {
			out = append(out, rec)
		}
	}
	return out
}

func (r Record) String() string {
	return fmt.Sprintf("[%s] %s %v", r.Level, r.Id, r.Params)
}
