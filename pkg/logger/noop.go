package logger

import (
	"fmt"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

// Logger is re-exported from eigensdk-go so callers don't need to import sdklogging separately.
type Logger = sdklogging.Logger

// NoOpLogger implements Logger with no-op methods to avoid nil pointer panics.
type NoOpLogger struct{}

func (l *NoOpLogger) Info(msg string, keysAndValues ...any)  {}
func (l *NoOpLogger) Infof(format string, args ...any)       {}
func (l *NoOpLogger) Debug(msg string, keysAndValues ...any) {}
func (l *NoOpLogger) Debugf(format string, args ...any)      {}
func (l *NoOpLogger) Error(msg string, keysAndValues ...any) {}
func (l *NoOpLogger) Errorf(format string, args ...any)      {}
func (l *NoOpLogger) Warn(msg string, keysAndValues ...any)  {}
func (l *NoOpLogger) Warnf(format string, args ...any)       {}
func (l *NoOpLogger) Fatal(msg string, keysAndValues ...any) {}
func (l *NoOpLogger) Fatalf(format string, args ...any)      {}
func (l *NoOpLogger) With(keysAndValues ...any) Logger       { return l }

func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// EnsureLogger returns the logger if not nil, otherwise returns a no-op logger.
func EnsureLogger(logger Logger) Logger {
	if logger == nil {
		return NewNoOpLogger()
	}
	return logger
}

// RecordingLogger keeps every message in memory. Tests use it to assert on
// what a component logged.
type RecordingLogger struct {
	mu    sync.Mutex
	lines []string
	tags  []any
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s %v", level, msg, append(l.tags, kv...)))
}

func (l *RecordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.lines...)
}

func (l *RecordingLogger) Info(msg string, kv ...any)     { l.record("INFO", msg, kv...) }
func (l *RecordingLogger) Infof(format string, a ...any)  { l.record("INFO", fmt.Sprintf(format, a...)) }
func (l *RecordingLogger) Debug(msg string, kv ...any)    { l.record("DEBUG", msg, kv...) }
func (l *RecordingLogger) Debugf(format string, a ...any) { l.record("DEBUG", fmt.Sprintf(format, a...)) }
func (l *RecordingLogger) Error(msg string, kv ...any)    { l.record("ERROR", msg, kv...) }
func (l *RecordingLogger) Errorf(format string, a ...any) { l.record("ERROR", fmt.Sprintf(format, a...)) }
func (l *RecordingLogger) Warn(msg string, kv ...any)     { l.record("WARN", msg, kv...) }
func (l *RecordingLogger) Warnf(format string, a ...any)  { l.record("WARN", fmt.Sprintf(format, a...)) }
func (l *RecordingLogger) Fatal(msg string, kv ...any)    { l.record("FATAL", msg, kv...) }
func (l *RecordingLogger) Fatalf(format string, a ...any) { l.record("FATAL", fmt.Sprintf(format, a...)) }

// With shares the underlying buffer so tagged children record into the same log
func (l *RecordingLogger) With(kv ...any) Logger {
	return &taggedRecorder{parent: l, tags: kv}
}

type taggedRecorder struct {
	parent *RecordingLogger
	tags   []any
}

func (t *taggedRecorder) with(kv []any) []any { return append(append([]any{}, t.tags...), kv...) }

func (t *taggedRecorder) Info(msg string, kv ...any)  { t.parent.record("INFO", msg, t.with(kv)...) }
func (t *taggedRecorder) Debug(msg string, kv ...any) { t.parent.record("DEBUG", msg, t.with(kv)...) }
func (t *taggedRecorder) Error(msg string, kv ...any) { t.parent.record("ERROR", msg, t.with(kv)...) }
func (t *taggedRecorder) Warn(msg string, kv ...any)  { t.parent.record("WARN", msg, t.with(kv)...) }
func (t *taggedRecorder) Fatal(msg string, kv ...any) { t.parent.record("FATAL", msg, t.with(kv)...) }
func (t *taggedRecorder) Infof(f string, a ...any)    { t.parent.record("INFO", fmt.Sprintf(f, a...), t.tags...) }
func (t *taggedRecorder) Debugf(f string, a ...any)   { t.parent.record("DEBUG", fmt.Sprintf(f, a...), t.tags...) }
func (t *taggedRecorder) Errorf(f string, a ...any)   { t.parent.record("ERROR", fmt.Sprintf(f, a...), t.tags...) }
func (t *taggedRecorder) Warnf(f string, a ...any)    { t.parent.record("WARN", fmt.Sprintf(f, a...), t.tags...) }
func (t *taggedRecorder) Fatalf(f string, a ...any)   { t.parent.record("FATAL", fmt.Sprintf(f, a...), t.tags...) }
func (t *taggedRecorder) With(kv ...any) Logger {
	return &taggedRecorder{parent: t.parent, tags: t.with(kv)}
}
