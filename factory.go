package applogger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
)

const attachmentTimeout = 2 * time.Second

// newRecord stamps a record with the creation time and the app/device context
// known right now. SessionID is left for the delivery loop.
func (c *Client) newRecord(kind Kind, level Level, message string, data Data) *Record {
	s := c.Settings()
	device := c.device.Descriptor()
	return &Record{
		Kind:       kind,
		Level:      level,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		DeviceID:   device.DeviceID,
		InstallID:  s.InstallID,
		AppName:    s.AppName,
		AppVersion: s.AppVersion,
		Data:       data.clone(),
	}
}

// buildEvent returns nil when the message is blank or analytics are disabled.
func (c *Client) buildEvent(message string, level Level, data Data) *Record {
	if strings.TrimSpace(message) == "" {
		return nil
	}
	if !c.Settings().EnableAnalytics {
		return nil
	}
	r := c.newRecord(KindEvent, level, message, data)
	r.EventID = uuid.NewString()
	return r
}

// buildError returns nil when crash reporting is disabled or err is nil.
// Caller attachments come first, then whatever the enabled providers captured.
func (c *Client) buildError(err error, data Data, attachments []Attachment) *Record {
	if err == nil {
		return nil
	}
	s := c.Settings()
	if !s.EnableCrashes {
		return nil
	}

	exc := describeError(err)
	r := c.newRecord(KindError, LevelError, exc.Message, data)
	r.EventID = uuid.NewString()
	r.Exception = &exc
	r.Attachments = append(r.Attachments, attachments...)
	r.Attachments = append(r.Attachments, c.captureAttachments(s)...)
	return r
}

// buildLog is the generic logging entry point. It returns nil when the level is
// below the threshold or the severity class is switched off.
func (c *Client) buildLog(level Level, eventID, message string, err error) *Record {
	s := c.Settings()
	if !s.levelEnabled(level) || !s.gateAllows(level) {
		return nil
	}
	if message == "" && err == nil {
		return nil
	}

	var exc *ExceptionInfo
	if err != nil {
		info := describeError(err)
		exc = &info
		if message == "" {
			message = info.Message
		}
	}

	r := c.newRecord(KindLog, level, message, nil)
	r.EventID = eventID
	r.Exception = exc
	return r
}

func (c *Client) captureAttachments(s Settings) []Attachment {
	if len(c.attachments) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), attachmentTimeout)
	defer cancel()

	var out []Attachment
	for _, p := range c.attachments {
		if p == nil || !p.Kind().enabled(s) {
			continue
		}
		a, err := captureAttachment(ctx, p)
		if err != nil {
			c.logger.Debug("attachment capture failed", "kind", int(p.Kind()), "error", err)
			continue
		}
		out = append(out, a)
	}
	return out
}

// maxUnwrapDepth bounds the walk down an error chain.
const maxUnwrapDepth = 32

// stackTracer is implemented by errors that captured their own stack.
type stackTracer interface {
	StackTrace() string
}

// describeError converts err into ExceptionInfo: the type of the innermost
// error in the chain, the message and the error's own stack when it carries
// one, else the current goroutine's. It never panics, even when err's methods do.
func describeError(err error) (info ExceptionInfo) {
	defer func() {
		if r := recover(); r != nil {
			if info.Type == "" {
				info.Type = fmt.Sprintf("%T", err)
			}
			if info.Stack == "" {
				info.Stack = string(debug.Stack())
			}
		}
	}()

	info.Message = errorText(err)
	info.Type = fmt.Sprintf("%T", innermostError(err))
	info.Stack = errorStack(err)
	return info
}

// innermostError follows Unwrap down the chain. For errors wrapping several
// causes, such as errors.Join, the first non-nil cause is followed.
func innermostError(err error) error {
	for i := 0; i < maxUnwrapDepth; i++ {
		var next error
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			next = e.Unwrap()
		case interface{ Unwrap() []error }:
			for _, cause := range e.Unwrap() {
				if cause != nil {
					next = cause
					break
				}
			}
		}
		if next == nil {
			return err
		}
		err = next
	}
	return err
}

// errorStack returns the stack recorded by an error in the chain. Errors that
// print their stack with %+v, as github.com/pkg/errors does, are accepted too.
func errorStack(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		if s := st.StackTrace(); s != "" {
			return s
		}
	}
	var f fmt.Formatter
	if errors.As(err, &f) {
		if s := fmt.Sprintf("%+v", f); strings.Contains(s, "\n") {
			return s
		}
	}
	return string(debug.Stack())
}
