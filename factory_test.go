package applogger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testError struct{ code int }

func (e *testError) Error() string { return fmt.Sprintf("test error %d", e.code) }

type tracedError struct{ stack string }

func (e *tracedError) Error() string      { return "traced" }
func (e *tracedError) StackTrace() string { return e.stack }

type annotatedError struct {
	note string
	err  error
}

func (e *annotatedError) Error() string { return e.note + ": " + e.err.Error() }
func (e *annotatedError) Unwrap() error { return e.err }

// formattedError prints its stack with %+v.
type formattedError struct{}

func (*formattedError) Error() string { return "formatted" }

func (e *formattedError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, "formatted\nmain.handler\n\t/app/main.go:12")
		return
	}
	io.WriteString(s, e.Error())
}

type panickyError struct{}

func (panickyError) Error() string { panic("no message for you") }

func popAll(c *Client) []*Record {
	return c.queue.Drain()
}

func TestTrackEvent_Gating(t *testing.T) {
	c := newTestClient(t, newFakeTransport(testSessionID))

	c.TrackEvent("", LevelInformation, nil)
	c.TrackEvent("   ", LevelInformation, nil)
	assert.Equal(t, 0, c.Stats().Pending, "blank messages are ignored")

	s := c.Settings()
	s.EnableAnalytics = false
	c.UpdateSettings(s)
	c.TrackEvent("disabled", LevelInformation, nil)
	assert.Equal(t, 0, c.Stats().Pending)

	s.EnableAnalytics = true
	c.UpdateSettings(s)
	data := D("k", "v")
	c.TrackEvent("enabled", LevelWarning, data)
	data.Set("k", "mutated")

	records := popAll(c)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, KindEvent, r.Kind)
	assert.Equal(t, LevelWarning, r.Level)
	assert.NotEmpty(t, r.EventID)
	assert.Empty(t, r.SessionID, "session id is stamped at delivery")
	assert.Equal(t, "test-app", r.AppName)
	assert.False(t, r.Timestamp.IsZero())
	v, _ := r.Data.Get("k")
	assert.Equal(t, "v", v, "data is copied at creation")
}

func TestTrackError_CrashesDisabled(t *testing.T) {
	c := newTestClient(t, newFakeTransport(testSessionID))
	s := c.Settings()
	s.EnableCrashes = false
	c.UpdateSettings(s)

	c.TrackError(errors.New("x"), nil)

	assert.Equal(t, 0, c.Stats().Pending)
}

func TestTrackError_NilErrorIsIgnored(t *testing.T) {
	c := newTestClient(t, newFakeTransport(testSessionID))
	c.TrackError(nil, nil)
	assert.Equal(t, 0, c.Stats().Pending)
}

func TestTrackError_ExceptionInfo(t *testing.T) {
	c := newTestClient(t, newFakeTransport(testSessionID))

	c.TrackError(fmt.Errorf("loading profile: %w", &testError{code: 7}), D("user", "alice"))

	records := popAll(c)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, KindError, r.Kind)
	assert.Equal(t, LevelError, r.Level)
	require.NotNil(t, r.Exception)
	assert.Equal(t, "*applogger.testError", r.Exception.Type)
	assert.Equal(t, "loading profile: test error 7", r.Exception.Message)
	assert.Equal(t, r.Exception.Message, r.Message)
	assert.Contains(t, r.Exception.Stack, "goroutine")
}

func TestDescribeError_WalksWrappedChains(t *testing.T) {
	traced := &tracedError{stack: "main.main()\n\t/app/main.go:42"}

	tests := []struct {
		name string
		err  error
	}{
		{"direct", traced},
		{"fmt_wrap", fmt.Errorf("saving: %w", traced)},
		{"fmt_multi_wrap", fmt.Errorf("saving: %w and %w", traced, io.EOF)},
		{"joined", errors.Join(traced, io.EOF)},
		{"custom_wrapper", &annotatedError{note: "retry", err: fmt.Errorf("inner: %w", traced)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := describeError(tt.err)
			assert.Equal(t, "*applogger.tracedError", info.Type)
			assert.Equal(t, traced.stack, info.Stack, "the error's own stack wins")
			assert.Equal(t, tt.err.Error(), info.Message)
		})
	}
}

func TestDescribeError_StackSources(t *testing.T) {
	info := describeError(fmt.Errorf("render: %w", &formattedError{}))
	assert.Equal(t, "*applogger.formattedError", info.Type)
	assert.Equal(t, "formatted\nmain.handler\n\t/app/main.go:12", info.Stack)

	info = describeError(&tracedError{})
	assert.Contains(t, info.Stack, "goroutine", "an empty own stack falls back to the caller's")

	info = describeError(errors.New("plain"))
	assert.Equal(t, "*errors.errorString", info.Type)
	assert.Contains(t, info.Stack, "goroutine")
}

func TestTrackError_MalformedErrorNeverPanics(t *testing.T) {
	c := newTestClient(t, newFakeTransport(testSessionID))

	assert.NotPanics(t, func() { c.TrackError(panickyError{}, nil) })

	records := popAll(c)
	require.Len(t, records, 1)
	assert.Equal(t, "applogger.panickyError", records[0].Exception.Type)
	assert.Contains(t, records[0].Exception.Message, "unavailable")
}

func TestTrackError_Attachments(t *testing.T) {
	shot := FuncAttachment{
		AttachmentKind: AttachmentScreenshot,
		CaptureFunc: func(context.Context) (Attachment, error) {
			return Attachment{Name: "screen.png", ContentType: "image/png", Content: []byte("png")}, nil
		},
	}
	state := FuncAttachment{
		AttachmentKind: AttachmentAppState,
		CaptureFunc: func(context.Context) (Attachment, error) {
			return Attachment{Name: "state.json", ContentType: "application/json", Content: []byte("{}")}, nil
		},
	}
	failing := FuncAttachment{
		CaptureFunc: func(context.Context) (Attachment, error) { return Attachment{}, errors.New("no display") },
	}
	panicking := FuncAttachment{
		CaptureFunc: func(context.Context) (Attachment, error) { panic("driver crashed") },
	}
	custom := FuncAttachment{
		CaptureFunc: func(context.Context) (Attachment, error) {
			return Attachment{Name: "custom.txt", ContentType: "text/plain"}, nil
		},
	}

	c := newTestClient(t, newFakeTransport(testSessionID), func(o *Options) {
		o.Attachments = []AttachmentProvider{shot, state, failing, panicking, custom}
		o.Settings.TakeScreenshotOnError = true
		o.Settings.IncludeAppState = false
	})

	caller := Attachment{Name: "feedback.txt", ContentType: "text/plain", Content: []byte("it broke")}
	assert.NotPanics(t, func() { c.TrackError(errors.New("crash"), nil, caller) })

	records := popAll(c)
	require.Len(t, records, 1)
	var names []string
	for _, a := range records[0].Attachments {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"feedback.txt", "screen.png", "custom.txt"}, names)
}

func TestFileAttachment_TailOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	fa := NewLogFileAttachment(path)
	fa.MaxBytes = 4
	assert.Equal(t, AttachmentLogFile, fa.Kind())

	a, err := fa.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app.log", a.Name)
	assert.Equal(t, []byte("6789"), a.Content)
	assert.NotEmpty(t, a.ContentType)

	_, err = NewLogFileAttachment(filepath.Join(t.TempDir(), "missing.log")).Capture(context.Background())
	assert.Error(t, err)
}

func TestLog_LevelThresholdAndGates(t *testing.T) {
	c := newTestClient(t, newFakeTransport(testSessionID), func(o *Options) {
		o.Settings.LogLevel = LevelWarning
	})

	c.Log(LevelInformation, "", "not logged", nil)
	assert.Equal(t, 0, c.Stats().Pending)

	c.Log(LevelError, "evt-1", "logged", errors.New("cause"))
	records := popAll(c)
	require.Len(t, records, 1)
	assert.Equal(t, KindLog, records[0].Kind)
	assert.Equal(t, "evt-1", records[0].EventID)
	require.NotNil(t, records[0].Exception)
	assert.Equal(t, "cause", records[0].Exception.Message)

	s := c.Settings()
	s.EnableCrashes = false
	c.UpdateSettings(s)
	c.Log(LevelCritical, "", "crash gate", nil)
	c.Log(LevelWarning, "", "analytics gate", nil)
	records = popAll(c)
	require.Len(t, records, 1)
	assert.Equal(t, "analytics gate", records[0].Message)

	s.EnableAnalytics = false
	s.EnableCrashes = true
	c.UpdateSettings(s)
	c.Log(LevelWarning, "", "blocked", nil)
	c.Log(LevelNone, "", "never", nil)
	assert.Equal(t, 0, c.Stats().Pending)
}

func TestClient_IsEnabled(t *testing.T) {
	c := newTestClient(t, newFakeTransport(testSessionID), func(o *Options) {
		o.Settings.LogLevel = LevelWarning
	})

	assert.False(t, c.IsEnabled(LevelNone))
	assert.False(t, c.IsEnabled(LevelTrace))
	assert.False(t, c.IsEnabled(LevelInformation))
	assert.True(t, c.IsEnabled(LevelWarning))
	assert.True(t, c.IsEnabled(LevelError))
	assert.True(t, c.IsEnabled(LevelCritical))
	assert.False(t, c.IsEnabled(Level(-1)))
}
