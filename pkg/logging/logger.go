// Package logging is the structured logger every SDK component writes to.
// Loggers are cheap to derive: WithFields, WithContext and WithError
// return children that share the parent's output, formatter and level.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// Level is the minimum severity a logger emits
type Level int

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	// FatalLevel exits the process after logging
	FatalLevel
	disabledLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel parses a configured level name. The empty string is info.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return InfoLevel, nil
	case "WARNING":
		return WarnLevel, nil
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Field is one structured key/value pair
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Int64(key string, value int64) Field            { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Time(key string, value time.Time) Field         { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }

// Stringer defers value.String() until the entry is formatted
func Stringer(key string, value fmt.Stringer) Field { return Field{key, value} }

// ErrorField records err under "error"
func ErrorField(err error) Field { return Field{"error", err} }

// Component tags a logger with the SDK component it belongs to
func Component(name string) Field { return Field{componentField, name} }

// Logger is the logging interface accepted throughout the SDK
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and calls os.Exit(1)
	Fatal(msg string, fields ...Field)

	WithFields(fields ...Field) Logger
	// WithContext adds the request and session IDs carried by ctx
	WithContext(ctx context.Context) Logger
	// WithError adds err, and its code, category and call coordinates
	// when it is an MCPError
	WithError(err error) Logger

	// SetLevel applies to the logger and every logger derived from it
	SetLevel(level Level)
	GetLevel() Level
}

// Entry is what a Formatter renders. The ID and component fields are
// lifted out of Fields for formatters that print them specially; they
// stay in Fields as well.
type Entry struct {
	Level     Level
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}

	RequestID string
	SessionID string
	Component string
}

// Formatter turns an entry into the bytes written for it
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// output is shared by a root logger and all its children. Writes are
// serialized so lines never interleave.
type output struct {
	mu     sync.Mutex
	w      io.Writer
	format Formatter
	level  atomic.Int32
}

func (o *output) write(e *Entry) {
	data, err := o.format.Format(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.w.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "logging: write: %v\n", err)
	}
}

type logger struct {
	out    *output
	fields map[string]interface{}
}

// New creates a root logger at InfoLevel. A nil w writes to stdout; a nil
// formatter selects the text formatter.
func New(w io.Writer, formatter Formatter) Logger {
	if w == nil {
		w = os.Stdout
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}
	out := &output{w: w, format: formatter}
	out.level.Store(int32(InfoLevel))
	return &logger{out: out}
}

// Nop returns a logger that discards everything
func Nop() Logger {
	l := New(io.Discard, NewTextFormatter())
	l.SetLevel(disabledLevel)
	return l
}

// OrNop returns l, or Nop() when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *logger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	os.Exit(1)
}

func (l *logger) SetLevel(level Level) { l.out.level.Store(int32(level)) }
func (l *logger) GetLevel() Level      { return Level(l.out.level.Load()) }

func (l *logger) WithFields(fields ...Field) Logger {
	return &logger{out: l.out, fields: l.merge(fields)}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, String(requestIDField, id))
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, String(sessionIDField, id))
	}
	return l.WithFields(fields...)
}

func (l *logger) WithError(err error) Logger {
	fields := []Field{ErrorField(err)}

	mcpErr, ok := mcperrors.AsMCPError(err)
	if !ok {
		return l.WithFields(fields...)
	}
	fields = append(fields,
		Int("error_code", mcpErr.Code()),
		String("error_category", string(mcpErr.Category())),
		String("error_severity", string(mcpErr.Severity())),
	)

	if c := mcpErr.Context(); c != nil {
		for _, f := range []Field{
			String(requestIDField, c.RequestID),
			String(sessionIDField, c.SessionID),
			String("conn_id", c.ConnID),
		} {
			if f.Value != "" {
				fields = append(fields, f)
			}
		}
		if c.Attempt > 0 {
			fields = append(fields, Int("attempt", c.Attempt))
		}
	}
	return l.WithFields(fields...)
}

func (l *logger) merge(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		m[k] = v
	}
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

func (l *logger) log(level Level, msg string, fields []Field) {
	if level < l.GetLevel() {
		return
	}

	e := &Entry{
		Level:     level,
		Message:   msg,
		Timestamp: time.Now(),
		Fields:    l.merge(fields),
	}
	e.RequestID, _ = e.Fields[requestIDField].(string)
	e.SessionID, _ = e.Fields[sessionIDField].(string)
	e.Component, _ = e.Fields[componentField].(string)

	l.out.write(e)
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	sessionIDKey
)

const (
	requestIDField = "request_id"
	sessionIDField = "session_id"
	componentField = "component"
)

// ContextWithRequestID attaches a request ID for WithContext to pick up
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithSessionID attaches a session ID for WithContext to pick up
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
