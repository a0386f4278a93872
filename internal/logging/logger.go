// Package logging provides structured logging for hindsight.
//
// This package provides a simple structured logging API optimized for
// incident-time debuggability. It prioritizes explicit, boring Go over
// clever abstractions.
//
// Initialize the logger at application startup:
//
//	logging.Initialize("info")
//
// Get a named logger for your component:
//
//	logger := logging.GetLogger("traces")
//	logger.Info("loaded %d spans", n)
//
// Structured fields are preferred for anything an operator might grep for:
//
//	logger.InfoWithFields("analysis complete",
//	    logging.Field("duration_ms", elapsed.Milliseconds()),
//	    logging.Field("paths", len(paths)),
//	)
//
// WithField/WithFields/WithContext return child loggers with persistent
// fields; Logger instances are immutable and safe for concurrent use.
//
// Per-package levels can override the default, with "pkg.*" wildcard
// patterns (longest pattern wins):
//
//	logging.Initialize("info", map[string]string{"snapshot.*": "debug"})
//
// DEBUG/INFO/WARN go to stdout, ERROR/FATAL to stderr. The LOG_TIMESTAMP
// env var overrides the emitted timestamp for deterministic test output.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel orders severities from DEBUG (lowest) to FATAL (highest).
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func parseLevel(s string) (LogLevel, error) {
	for level, name := range levelNames {
		if strings.EqualFold(s, name) {
			return level, nil
		}
	}
	return -1, fmt.Errorf("invalid level: %s (must be DEBUG, INFO, WARN, ERROR, or FATAL)", s)
}

// LogField is a single structured key/value pair.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger emits leveled, named log lines with optional persistent fields.
type Logger struct {
	level  LogLevel
	name   string
	fields map[string]interface{}
	ctx    context.Context
}

var (
	defaultLevel = INFO

	// Output streams and exit hook are variables so tests can intercept them.
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
	exitFunc           = os.Exit

	packageLevels = make(map[string]LogLevel)
	packageMu     sync.RWMutex
)

// Initialize sets the default level and optional per-package overrides.
// Unknown default levels fall back to INFO; invalid per-package levels
// are an error. Example override map: {"snapshot.*": "debug"}.
func Initialize(levelStr string, overrides ...map[string]string) error {
	if level, err := parseLevel(levelStr); err == nil {
		defaultLevel = level
	} else {
		defaultLevel = INFO
	}
	if len(overrides) > 0 && overrides[0] != nil {
		return SetPackageLogLevels(overrides[0])
	}
	return nil
}

// GetLogger returns a logger for the named component. Loggers created
// before Initialize use the INFO default.
func GetLogger(name string) *Logger {
	return &Logger{level: defaultLevel, name: name, fields: map[string]interface{}{}}
}

// SetPackageLogLevels replaces the per-package overrides. Keys are
// package names or "prefix.*" wildcard patterns.
func SetPackageLogLevels(levels map[string]string) error {
	parsed := make(map[string]LogLevel, len(levels))
	for pkg, levelStr := range levels {
		level, err := parseLevel(levelStr)
		if err != nil {
			return fmt.Errorf("invalid log level for package %q: %w", pkg, err)
		}
		parsed[pkg] = level
	}
	packageMu.Lock()
	packageLevels = parsed
	packageMu.Unlock()
	return nil
}

// GetPackageLogLevel returns the override for a package name, or -1 if
// none applies. Exact matches beat wildcards; among wildcards the
// longest pattern wins.
func GetPackageLogLevel(name string) LogLevel {
	packageMu.RLock()
	defer packageMu.RUnlock()

	if level, ok := packageLevels[name]; ok {
		return level
	}
	var matched []string
	for pattern := range packageLevels {
		if strings.HasSuffix(pattern, ".*") &&
			strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
			matched = append(matched, pattern)
		}
	}
	if len(matched) == 0 {
		return LogLevel(-1)
	}
	sort.Slice(matched, func(i, j int) bool { return len(matched[i]) > len(matched[j]) })
	return packageLevels[matched[0]]
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if override := GetPackageLogLevel(l.name); override >= 0 {
		return level >= override
	}
	return level >= l.level
}

// WithField returns a child logger with one additional persistent field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Field(key, value))
}

// WithFields returns a child logger with additional persistent fields.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	child := l.clone()
	for _, f := range fields {
		child.fields[f.Key] = f.Value
	}
	return child
}

// WithContext returns a child logger that extracts trace_id and span_id
// from ctx on every log line.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	child := l.clone()
	child.ctx = ctx
	return child
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{level: l.level, name: l.name, fields: fields, ctx: l.ctx}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.logf(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.logf(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.logf(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.logf(ERROR, msg, args...) }

// Fatal logs at FATAL and exits with code 1.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.logf(FATAL, msg, args...)
	exitFunc(1)
}

func (l *Logger) DebugWithFields(msg string, fields ...LogField) { l.write(DEBUG, msg, fields) }
func (l *Logger) InfoWithFields(msg string, fields ...LogField)  { l.write(INFO, msg, fields) }
func (l *Logger) WarnWithFields(msg string, fields ...LogField)  { l.write(WARN, msg, fields) }
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) { l.write(ERROR, msg, fields) }

func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.emit(level, fmt.Sprintf(msg, args...), nil)
}

func (l *Logger) write(level LogLevel, msg string, fields []LogField) {
	if !l.shouldLog(level) {
		return
	}
	extra := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		extra[f.Key] = f.Value
	}
	l.emit(level, msg, extra)
}

// emit merges context fields, persistent fields, and call-site fields
// (in increasing priority) and writes the line. ERROR and FATAL go to
// stderr, everything else to stdout.
func (l *Logger) emit(level LogLevel, msg string, extra map[string]interface{}) {
	merged := contextFields(l.ctx)
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", timestamp(), levelNames[level], l.name, msg)
	if len(merged) > 0 {
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, merged[k])
		}
	}
	out := stdout
	if level >= ERROR {
		out = stderr
	}
	fmt.Fprintln(out, b.String())
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDKey returns the context key WithContext reads the trace ID from.
func TraceIDKey() interface{} { return traceIDKey }

// SpanIDKey returns the context key WithContext reads the span ID from.
func SpanIDKey() interface{} { return spanIDKey }

func contextFields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{}, 2)
	if ctx == nil {
		return fields
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		fields["trace_id"] = traceID
	}
	if spanID := ctx.Value(spanIDKey); spanID != nil {
		fields["span_id"] = spanID
	}
	return fields
}

// timestamp returns the RFC3339 timestamp for a log line, honoring the
// LOG_TIMESTAMP override.
func timestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
