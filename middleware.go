package applogger

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Tracker is the part of Client the gin middleware needs.
type Tracker interface {
	TrackEvent(message string, level Level, data Data)
	TrackError(err error, data Data, attachments ...Attachment)
}

// GinMiddleware tracks one event per request. Responses with a 5xx status are
// tracked at Warning level, everything else at Information.
func GinMiddleware(tracker Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		level := LevelInformation
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = LevelWarning
		}

		tracker.TrackEvent("http_request", level, D(
			"method", c.Request.Method,
			"path", path,
			"status_code", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.GetHeader("User-Agent"),
			"response_size", c.Writer.Size(),
		))
	}
}

// GinTrackEvent tracks message once per request on the routes it is attached
// to. data is copied for every request and extended with the request path,
// client IP and duration.
func GinTrackEvent(tracker Tracker, message string, data Data) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		d := data.clone()
		d = d.Set("request_path", c.Request.URL.Path)
		d = d.Set("client_ip", c.ClientIP())
		d = d.Set("duration_ms", time.Since(start).Milliseconds())
		tracker.TrackEvent(message, LevelInformation, d)
	}
}

// PanicError is what GinRecovery reports for a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// GinRecovery recovers panics in later handlers, reports them with TrackError
// and answers 500.
func GinRecovery(tracker Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err, ok := r.(error)
			if !ok {
				err = &PanicError{Value: r}
			}
			tracker.TrackError(err, D(
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
			))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}()

		c.Next()
	}
}
