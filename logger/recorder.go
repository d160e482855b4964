package logger

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// Entry is one recorded log call.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// Recorder keeps entries in memory for inspection in tests.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []Field
}

func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) record(level, msg string, fields []Field) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range r.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: enc.Fields})
	r.mu.Unlock()
}

func (r *Recorder) Debug(msg string, fields ...Field) { r.record("debug", msg, fields) }
func (r *Recorder) Info(msg string, fields ...Field)  { r.record("info", msg, fields) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.record("warn", msg, fields) }
func (r *Recorder) Error(msg string, fields ...Field) { r.record("error", msg, fields) }

// With shares the entry list with the parent.
func (r *Recorder) With(fields ...Field) Logger {
	return &Recorder{mu: r.mu, entries: r.entries, fields: append(append([]Field(nil), r.fields...), fields...)}
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), *r.entries...)
}

// Messages lists messages logged at level, or at any level when level is empty.
func (r *Recorder) Messages(level string) []string {
	var out []string
	for _, e := range r.Entries() {
		if level == "" || e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

func (r *Recorder) LastMessage() string {
	es := r.Entries()
	if len(es) == 0 {
		return ""
	}
	return es[len(es)-1].Msg
}
