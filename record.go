package applogger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a record. Levels are ordered; LevelNone disables logging.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInformation
	LevelWarning
	LevelError
	LevelCritical
	LevelNone
)

var levelNames = [...]string{"Trace", "Debug", "Information", "Warning", "Error", "Critical", "None"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelNone {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel accepts the level names case-insensitively, plus the short forms "info" and "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "information", "info":
		return LevelInformation, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "fatal":
		return LevelCritical, nil
	case "none", "off":
		return LevelNone, nil
	}
	return LevelNone, fmt.Errorf("unknown log level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Kind tells which entry point produced a record.
type Kind string

const (
	KindEvent Kind = "event"
	KindError Kind = "error"
	KindLog   Kind = "log"
)

// Field is one key/value pair of Data.
type Field struct {
	Key   string
	Value any
}

// Data is an ordered set of fields. It encodes as a JSON object whose keys keep
// insertion order.
type Data []Field

// D builds Data from alternating key/value arguments. A trailing key without a
// value is stored with a nil value; non-string keys are formatted with %v.
func D(kv ...any) Data {
	d := make(Data, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var v any
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		d = d.Set(key, v)
	}
	return d
}

// Set replaces the value of an existing key or appends a new field.
func (d Data) Set(key string, value any) Data {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = value
			return d
		}
	}
	return append(d, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (d Data) Get(key string) (any, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (d Data) clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	copy(out, d)
	return out
}

func (d Data) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := marshalValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %q: %w", f.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalValue encodes errors as their message and falls back to the %v form
// for values encoding/json rejects, so one bad field cannot sink a record.
func marshalValue(v any) ([]byte, error) {
	if err, ok := v.(error); ok {
		return json.Marshal(errorText(err))
	}
	out, err := json.Marshal(v)
	if err == nil {
		return out, nil
	}
	return json.Marshal(fmt.Sprint(v))
}

// errorText returns err.Error(), or a placeholder when Error panics.
func errorText(err error) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fmt.Sprintf("<error message unavailable: %v>", r)
		}
	}()
	return err.Error()
}

func (d *Data) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("data must be a JSON object")
	}
	out := Data{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("data key must be a string")
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, Field{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}

// Attachment is a named binary blob sent along with an error record.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// ExceptionInfo is the structured form of an error captured by TrackError.
type ExceptionInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Record is one log, event or crash entry destined for the collector.
// Timestamp is set when the record is created and is not changed afterwards.
type Record struct {
	Kind        Kind           `json:"kind"`
	Level       Level          `json:"level"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	EventID     string         `json:"eventId,omitempty"`
	DeviceID    string         `json:"deviceId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	InstallID   string         `json:"installId,omitempty"`
	AppName     string         `json:"appName,omitempty"`
	AppVersion  string         `json:"appVersion,omitempty"`
	Data        Data           `json:"additionalData,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Exception   *ExceptionInfo `json:"exception,omitempty"`
}
