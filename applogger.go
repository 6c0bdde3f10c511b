// Package applogger ships application logs, events and crash reports to a
// remote collector.
//
// Records are queued from any goroutine and delivered one at a time by a
// background loop once the client has exchanged its API token for a session
// id. Stop flushes whatever is still queued and closes the session.
package applogger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Options configures a Client.
type Options struct {
	Settings Settings      // Initial settings, replaced by Store.Load when Store is set
	Store    SettingsStore // Optional; loaded on Start

	// Transport used to reach the collector. When nil, Start builds an
	// HTTPTransport from Settings.Host and Settings.APIToken.
	Transport Transport
	Compress  bool // Gzip bodies of the default HTTPTransport

	Device      DeviceProvider // Defaults to the host descriptor
	Attachments []AttachmentProvider

	// Logger for the client's own diagnostics. Defaults to a text logger on
	// stderr tagged service=applogger. Handler ignores records with that tag.
	Logger *slog.Logger

	DeliveryInterval    time.Duration // Pause between two deliveries (default 1s)
	HandshakeTimeout    time.Duration // Bound on the session handshake (default 15s)
	HandshakeRetryDelay time.Duration // Pause between handshake attempts (default 1s)

	// OnDeliveryFailure is called from the delivery goroutine for every record
	// that was dropped after a failed attempt. It must not block.
	OnDeliveryFailure func(*Record, error)
}

// Stats are the client's delivery counters.
type Stats struct {
	Enqueued  uint64
	Delivered uint64
	Failed    uint64
	Dropped   uint64 // discarded by Close without a delivery attempt
	Pending   int
}

type lifecycle int

const (
	lifecycleIdle lifecycle = iota
	lifecycleStarting
	lifecycleRunning
	lifecycleStopping
)

// Client is the entry point applications log through. All tracking methods
// are safe for concurrent use and never block on the network.
type Client struct {
	settings    atomic.Pointer[Settings]
	store       SettingsStore
	transport   Transport
	compress    bool
	device      DeviceProvider
	attachments []AttachmentProvider
	logger      *slog.Logger
	queue       *Queue

	interval         time.Duration
	handshakeTimeout time.Duration
	handshakeRetry   time.Duration
	onFailure        func(*Record, error)

	stats struct {
		enqueued  atomic.Uint64
		delivered atomic.Uint64
		failed    atomic.Uint64
		dropped   atomic.Uint64
	}

	mutex      sync.Mutex
	state      lifecycle
	session    *SessionCoordinator
	active     Transport
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	delivering atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
}

// New creates a client. Nothing is sent until Start.
func New(opts Options) (*Client, error) {
	if opts.Logger == nil {
		// Not slog.Default(): once Handler is installed as the default, the
		// previous default handler writes through the log package into it.
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With(serviceKey, serviceName)
	}
	if opts.Device == nil {
		opts.Device = NewHostDeviceProvider()
	}
	if opts.DeliveryInterval <= 0 {
		opts.DeliveryInterval = defaultDeliveryInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.HandshakeRetryDelay <= 0 {
		opts.HandshakeRetryDelay = defaultHandshakeRetry
	}
	if opts.Settings.LogLevel < LevelTrace || opts.Settings.LogLevel > LevelNone {
		return nil, fmt.Errorf("%w: log level %d out of range", ErrInvalidConfig, opts.Settings.LogLevel)
	}

	c := &Client{
		store:            opts.Store,
		transport:        opts.Transport,
		compress:         opts.Compress,
		device:           opts.Device,
		attachments:      opts.Attachments,
		logger:           opts.Logger,
		queue:            NewQueue(),
		interval:         opts.DeliveryInterval,
		handshakeTimeout: opts.HandshakeTimeout,
		handshakeRetry:   opts.HandshakeRetryDelay,
		onFailure:        opts.OnDeliveryFailure,
	}
	settings := opts.Settings
	c.settings.Store(&settings)
	return c, nil
}

// Settings returns the current settings snapshot.
func (c *Client) Settings() Settings {
	return *c.settings.Load()
}

// UpdateSettings replaces the settings snapshot. Records already queued are
// not affected; the new flags apply to records created afterwards.
func (c *Client) UpdateSettings(s Settings) {
	c.settings.Store(&s)
}

// IsValid reports whether the settings carry an API token, an app name and a
// collector host other than the placeholder.
func (c *Client) IsValid() bool {
	return c.Settings().Validate() == nil
}

// IsAlive reports whether a session is open. It stays true after the context
// given to Start is cancelled, until Stop ends the session; use IsDelivering
// to know whether the loop is still shipping records.
func (c *Client) IsAlive() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state == lifecycleRunning
}

// IsDelivering reports whether the delivery loop is running.
func (c *Client) IsDelivering() bool {
	return c.delivering.Load()
}

// IsEnabled reports whether records at level pass the configured threshold.
// LevelNone is never enabled.
func (c *Client) IsEnabled(level Level) bool {
	return c.Settings().levelEnabled(level)
}

// SessionID returns the active session id, or "".
func (c *Client) SessionID() string {
	c.mutex.Lock()
	session := c.session
	c.mutex.Unlock()
	if session == nil {
		return ""
	}
	return session.SessionID()
}

func (c *Client) Stats() Stats {
	return Stats{
		Enqueued:  c.stats.enqueued.Load(),
		Delivered: c.stats.delivered.Load(),
		Failed:    c.stats.failed.Load(),
		Dropped:   c.stats.dropped.Load(),
		Pending:   c.queue.Len(),
	}
}

// Start validates the configuration, opens a session and then delivers queued
// records until ctx is done or Stop is called. It returns nil once delivery
// ends after a successful start; setup failures are returned immediately and
// leave the client not alive.
//
// Cancelling ctx does not flush the queue; call Stop for that.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mutex.Lock()
	if c.state != lifecycleIdle {
		c.mutex.Unlock()
		return ErrAlreadyStarted
	}
	c.state = lifecycleStarting
	c.mutex.Unlock()

	sessionID, session, transport, err := c.setup(ctx)
	if err != nil {
		c.mutex.Lock()
		c.state = lifecycleIdle
		c.mutex.Unlock()
		c.logger.Error("failed to start", "error", err)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mutex.Lock()
	c.session = session
	c.active = transport
	c.cancelLoop = cancel
	c.loopDone = done
	c.state = lifecycleRunning
	c.mutex.Unlock()

	defer close(done)
	defer cancel()

	c.logger.Info("delivering records", "session_id", sessionID, "pending", c.queue.Len())
	c.delivering.Store(true)
	defer c.delivering.Store(false)
	c.runLoop(loopCtx, sessionID, transport)
	return nil
}

func (c *Client) setup(ctx context.Context) (string, *SessionCoordinator, Transport, error) {
	settings, err := c.loadSettings()
	if err != nil {
		return "", nil, nil, err
	}
	if err := settings.Validate(); err != nil {
		return "", nil, nil, err
	}

	transport := c.transport
	if transport == nil {
		transport, err = NewHTTPTransport(HTTPConfig{
			BaseURL:  settings.Host,
			APIToken: settings.APIToken,
			Compress: c.compress,
		})
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	session := NewSessionCoordinator(transport, c.logger, c.handshakeTimeout, c.handshakeRetry)
	sessionID, err := session.Start(ctx, StartSessionRequest{
		Secret:  settings.APIToken,
		AppName: settings.AppName,
		Device:  c.device.Descriptor(),
	})
	if err != nil {
		return "", nil, nil, err
	}
	if !validSessionID(sessionID) {
		return "", nil, nil, fmt.Errorf("%w: invalid session id %q", ErrNotEnabled, sessionID)
	}
	return sessionID, session, transport, nil
}

// loadSettings refreshes the snapshot from the store and makes sure the
// install id exists, saving it back when it had to be generated.
func (c *Client) loadSettings() (Settings, error) {
	settings := c.Settings()
	if c.store != nil {
		loaded, err := c.store.Load()
		if err != nil {
			return Settings{}, fmt.Errorf("failed to load settings: %w", err)
		}
		settings = loaded
	}

	if settings.InstallID == "" {
		settings.InstallID = uuid.NewString()
		if c.store != nil {
			if err := c.store.Save(settings); err != nil {
				c.logger.Warn("failed to persist install id", "error", err)
			}
		}
	}

	c.UpdateSettings(settings)
	return settings, nil
}

// Stop halts the delivery loop, ships every record still queued (one attempt
// each) and ends the session. It returns ErrNoSession when the client is not
// running; queued records are then left in place.
func (c *Client) Stop(ctx context.Context) error {
	c.mutex.Lock()
	if c.state != lifecycleRunning {
		c.mutex.Unlock()
		return ErrNoSession
	}
	c.state = lifecycleStopping
	cancel, done, session, transport := c.cancelLoop, c.loopDone, c.session, c.active
	c.mutex.Unlock()

	cancel()
	<-done

	sessionID := session.SessionID()
	n := c.drain(ctx, sessionID, transport)
	c.logger.Info("drained queue", "session_id", sessionID, "records", n)
	session.End(ctx)

	c.mutex.Lock()
	c.state = lifecycleIdle
	c.cancelLoop = nil
	c.loopDone = nil
	c.active = nil
	c.mutex.Unlock()
	return nil
}

// Close releases the client: the queue is cleared without delivery, the
// delivery loop is cancelled and attachment providers are closed. Records
// added afterwards are ignored. Close is idempotent; call Stop first to flush.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.mutex.Lock()
		if c.cancelLoop != nil {
			c.cancelLoop()
		}
		c.mutex.Unlock()

		if n := c.queue.Clear(); n > 0 {
			c.stats.dropped.Add(uint64(n))
			c.logger.Warn("closed with undelivered records", "dropped", n)
		}
		for _, p := range c.attachments {
			if p == nil {
				continue
			}
			if closeErr := p.Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
		}
	})
	return err
}

// Add queues a prepared record. A zero Timestamp is set to now.
func (c *Client) Add(r *Record) {
	if r == nil || c.closed.Load() {
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	c.queue.PushBack(r)
	c.stats.enqueued.Add(1)
}

// TrackEvent queues an analytics event. Blank messages and disabled analytics
// produce nothing.
func (c *Client) TrackEvent(message string, level Level, data Data) {
	c.Add(c.buildEvent(message, level, data))
}

// TrackError queues a crash report for err with the given data and
// attachments, plus those captured by the enabled attachment providers.
// Nothing is queued when crash reporting is disabled.
func (c *Client) TrackError(err error, data Data, attachments ...Attachment) {
	c.Add(c.buildError(err, data, attachments))
}

// Log is the generic logging entry point used by the slog handler.
func (c *Client) Log(level Level, eventID, message string, err error) {
	c.Add(c.buildLog(level, eventID, message, err))
}
