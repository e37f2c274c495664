package logging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TextFormatter renders one line per entry:
//
//	15:04:05.000 INFO  <sessid> [req] component: message key=value ...
type TextFormatter struct {
	// TimeLayout is the time.Format layout; empty omits the timestamp
	TimeLayout string
	// Color wraps the level in ANSI colors
	Color bool
}

// NewTextFormatter returns a text formatter with millisecond timestamps
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimeLayout: "2006-01-02 15:04:05.000"}
}

var levelColors = map[Level]string{
	DebugLevel: "\033[90m",
	InfoLevel:  "\033[34m",
	WarnLevel:  "\033[33m",
	ErrorLevel: "\033[31m",
	FatalLevel: "\033[31m",
}

// headerFields are rendered in the line prefix, not as key=value pairs
var headerFields = map[string]bool{
	requestIDField: true,
	sessionIDField: true,
	componentField: true,
}

func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var b strings.Builder

	if f.TimeLayout != "" {
		b.WriteString(entry.Timestamp.Format(f.TimeLayout))
		b.WriteByte(' ')
	}

	level := fmt.Sprintf("[%s]", entry.Level)
	if color, ok := levelColors[entry.Level]; ok && f.Color {
		level = color + level + "\033[0m"
	}
	b.WriteString(level)
	b.WriteByte(' ')

	if entry.SessionID != "" {
		fmt.Fprintf(&b, "<%s> ", shortID(entry.SessionID))
	}
	if entry.RequestID != "" {
		fmt.Fprintf(&b, "[%s] ", entry.RequestID)
	}
	if entry.Component != "" {
		b.WriteString(entry.Component)
		b.WriteString(": ")
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		if !headerFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" |")
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(textValue(entry.Fields[k]))
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func textValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case error:
		s = val.Error()
	case fmt.Stringer:
		s = val.String()
	default:
		return fmt.Sprint(v)
	}
	if strings.ContainsAny(s, " \t\n\"") {
		return strconv.Quote(s)
	}
	return s
}

// JSONFormatter renders one JSON object per line. Fields are merged into
// the object next to level, message and timestamp.
type JSONFormatter struct {
	// TimeLayout is the time.Format layout; empty omits the timestamp
	TimeLayout string
}

// NewJSONFormatter returns a JSON formatter with RFC 3339 millisecond
// timestamps
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{TimeLayout: "2006-01-02T15:04:05.000Z07:00"}
}

func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	obj := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		obj[k] = jsonValue(v)
	}
	obj["level"] = entry.Level.String()
	obj["message"] = entry.Message
	if f.TimeLayout != "" {
		obj["timestamp"] = entry.Timestamp.Format(f.TimeLayout)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("logging: encode entry: %w", err)
	}
	return append(out, '\n'), nil
}

func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case time.Duration:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

// shortID keeps text logs readable when session IDs are UUIDs
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
