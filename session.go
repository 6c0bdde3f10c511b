package applogger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultHandshakeRetry   = time.Second
)

// SessionState is the lifecycle state of a SessionCoordinator.
type SessionState int

const (
	SessionNotStarted SessionState = iota
	SessionStarting
	SessionActive
	SessionEnding
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "not-started"
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionEnding:
		return "ending"
	case SessionEnded:
		return "ended"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// StartSessionRequest is the body posted to PathStartSession.
type StartSessionRequest struct {
	Secret  string           `json:"secret"`
	AppName string           `json:"appName,omitempty"`
	Device  DeviceDescriptor `json:"device"`
}

// EndSessionRequest is the body posted to PathEndSession.
type EndSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionCoordinator exchanges the shared secret for a session id and tells
// the collector when the session ends.
type SessionCoordinator struct {
	transport  Transport
	logger     *slog.Logger
	retryDelay time.Duration
	timeout    time.Duration
	mutex      sync.Mutex
	state      SessionState
	sessionID  string
	startedAt  time.Time
}

func NewSessionCoordinator(transport Transport, logger *slog.Logger, timeout, retryDelay time.Duration) *SessionCoordinator {
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	if retryDelay <= 0 {
		retryDelay = defaultHandshakeRetry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCoordinator{
		transport:  transport,
		logger:     logger,
		retryDelay: retryDelay,
		timeout:    timeout,
	}
}

func (sc *SessionCoordinator) State() SessionState {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.state
}

// SessionID returns the active session id, or "" when there is none.
func (sc *SessionCoordinator) SessionID() string {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	if sc.state != SessionActive {
		return ""
	}
	return sc.sessionID
}

func (sc *SessionCoordinator) StartedAt() time.Time {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.startedAt
}

// Start performs the handshake, re-sending the request until the collector
// answers with a valid session id, ctx is cancelled or the handshake timeout
// expires. Any failure is reported as ErrNotEnabled.
func (sc *SessionCoordinator) Start(ctx context.Context, req StartSessionRequest) (string, error) {
	sc.mutex.Lock()
	if sc.state == SessionStarting || sc.state == SessionEnding {
		sc.mutex.Unlock()
		return "", ErrSessionBusy
	}
	if sc.state == SessionActive {
		id := sc.sessionID
		sc.mutex.Unlock()
		return id, nil
	}
	sc.state = SessionStarting
	sc.sessionID = ""
	sc.mutex.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		id, err := sc.requestSession(ctx, req)
		if err == nil {
			sc.mutex.Lock()
			sc.state = SessionActive
			sc.sessionID = id
			sc.startedAt = time.Now().UTC()
			sc.mutex.Unlock()
			sc.logger.Info("session started", "session_id", id, "attempt", attempt)
			return id, nil
		}
		lastErr = err
		sc.logger.Debug("session handshake failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			sc.mutex.Lock()
			sc.state = SessionNotStarted
			sc.mutex.Unlock()
			return "", fmt.Errorf("%w: handshake gave up after %d attempts: %w", ErrNotEnabled, attempt, errors.Join(lastErr, ctx.Err()))
		case <-time.After(sc.retryDelay):
		}
	}
}

func (sc *SessionCoordinator) requestSession(ctx context.Context, req StartSessionRequest) (string, error) {
	resp, err := sc.transport.Post(ctx, PathStartSession, req)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("collector returned status: %d", resp.StatusCode)
	}
	return parseSessionID(resp.Body)
}

// parseSessionID accepts the id either raw or as a JSON string.
func parseSessionID(body string) (string, error) {
	raw := strings.TrimSpace(body)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return "", fmt.Errorf("malformed session id %q: %w", raw, err)
		}
		raw = strings.TrimSpace(s)
	}
	if !validSessionID(raw) {
		return "", fmt.Errorf("malformed session id %q", raw)
	}
	return raw, nil
}

func validSessionID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed != uuid.Nil
}

// End notifies the collector that the session closed. It makes a single
// attempt; failures are logged and not returned.
func (sc *SessionCoordinator) End(ctx context.Context) {
	sc.mutex.Lock()
	if sc.state != SessionActive {
		sc.mutex.Unlock()
		return
	}
	id := sc.sessionID
	sc.state = SessionEnding
	sc.mutex.Unlock()

	resp, err := sc.transport.Post(ctx, PathEndSession, EndSessionRequest{SessionID: id})
	switch {
	case err != nil:
		sc.logger.Warn("failed to end session", "session_id", id, "error", err)
	case !resp.OK:
		sc.logger.Warn("collector rejected end of session", "session_id", id, "status", resp.StatusCode)
	default:
		sc.logger.Info("session ended", "session_id", id)
	}

	sc.mutex.Lock()
	sc.state = SessionEnded
	sc.sessionID = ""
	sc.startedAt = time.Time{}
	sc.mutex.Unlock()
}
