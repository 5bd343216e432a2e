package log

import (
	"fmt"
	"time"
)

// Logger is the structured logger every upshift component writes to.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is one key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Time(key string, value time.Time) Field { return Field{Key: key, Value: value} }

// Strings records a list such as conflicting definition ids.
func Strings(key string, values []string) Field { return Field{Key: key, Value: values} }

// Stringer defers formatting to the value's String method.
func Stringer(key string, value fmt.Stringer) Field { return Field{Key: key, Value: value} }

// Err records err under the "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// With returns a logger that adds fields to every entry written through it.
// Entry fields come after the bound ones.
func With(l Logger, fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	if b, ok := l.(*boundLogger); ok {
		merged := make([]Field, 0, len(b.fields)+len(fields))
		merged = append(merged, b.fields...)
		return &boundLogger{next: b.next, fields: append(merged, fields...)}
	}
	bound := make([]Field, len(fields))
	copy(bound, fields)
	return &boundLogger{next: l, fields: bound}
}

type boundLogger struct {
	next   Logger
	fields []Field
}

func (b *boundLogger) join(fields []Field) []Field {
	out := make([]Field, 0, len(b.fields)+len(fields))
	out = append(out, b.fields...)
	return append(out, fields...)
}

func (b *boundLogger) Debug(msg string, fields ...Field) { b.next.Debug(msg, b.join(fields)...) }
func (b *boundLogger) Info(msg string, fields ...Field)  { b.next.Info(msg, b.join(fields)...) }
func (b *boundLogger) Warn(msg string, fields ...Field)  { b.next.Warn(msg, b.join(fields)...) }
func (b *boundLogger) Error(msg string, fields ...Field) { b.next.Error(msg, b.join(fields)...) }
