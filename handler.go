package applogger

import (
	"context"
	"log/slog"
	"strings"
)

// Attribute the client's own logger carries. Handler drops records tagged
// with it so the client never ships its own diagnostics.
const (
	serviceKey  = "service"
	serviceName = "applogger"
)

// Handler is a slog.Handler that turns log calls into records on a Client.
// The attribute "event_id" becomes the record's EventID and the first
// attribute holding an error becomes its exception; all other attributes go
// to Data.
type Handler struct {
	client *Client
	attrs  []slog.Attr
	groups []string
}

// Handler returns a slog.Handler backed by c.
func (c *Client) Handler() *Handler {
	return &Handler{client: c}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	l := LevelFromSlog(level)
	s := h.client.Settings()
	return s.levelEnabled(l) && s.gateAllows(l)
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	if h.fromClient(r) {
		return nil
	}
	level := LevelFromSlog(r.Level)

	var (
		eventID string
		err     error
		data    Data
	)
	collect := func(prefix string, a slog.Attr) {
		if a.Key == "" {
			return
		}
		v := a.Value.Resolve()
		if e, ok := v.Any().(error); ok && err == nil {
			err = e
			return
		}
		if a.Key == "event_id" && prefix == "" {
			eventID = v.String()
			return
		}
		data = data.Set(prefix+a.Key, attrValue(v))
	}

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		collect("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(prefix, a)
		return true
	})

	rec := h.client.buildLog(level, eventID, r.Message, err)
	if rec == nil {
		return nil
	}
	if !r.Time.IsZero() {
		rec.Timestamp = r.Time.UTC()
	}
	rec.Data = data
	h.client.Add(rec)
	return nil
}

// fromClient reports whether r was logged through a client's own logger.
func (h *Handler) fromClient(r slog.Record) bool {
	for _, a := range h.attrs {
		if isServiceAttr(a) {
			return true
		}
	}
	if len(h.groups) > 0 {
		return false
	}
	self := false
	r.Attrs(func(a slog.Attr) bool {
		self = isServiceAttr(a)
		return !self
	})
	return self
}

func isServiceAttr(a slog.Attr) bool {
	return a.Key == serviceKey && a.Value.Resolve().String() == serviceName
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], h.qualify(attrs)...)
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &h2
}

func (h *Handler) qualify(attrs []slog.Attr) []slog.Attr {
	if len(h.groups) == 0 {
		return attrs
	}
	prefix := strings.Join(h.groups, ".") + "."
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

func attrValue(v slog.Value) any {
	if v.Kind() != slog.KindGroup {
		if err, ok := v.Any().(error); ok {
			return errorText(err)
		}
		return v.Any()
	}
	group := make(Data, 0, len(v.Group()))
	for _, a := range v.Group() {
		group = group.Set(a.Key, attrValue(a.Value.Resolve()))
	}
	return group
}

// LevelFromSlog maps a slog level onto the closest Level.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelDebug:
		return LevelTrace
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInformation
	case l < slog.LevelError:
		return LevelWarning
	case l < slog.LevelError+4:
		return LevelError
	}
	return LevelCritical
}
