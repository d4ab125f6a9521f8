// Package stream maintains one logical persistent connection to a
// server-push endpoint, reconnecting with backoff and following host
// presence, and decodes inbound JSON payloads for subscribers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitewatch/monitor/internal/backoff"
	"github.com/sitewatch/monitor/internal/broadcast"
	"github.com/sitewatch/monitor/internal/log"
	"github.com/sitewatch/monitor/internal/metrics"
	"github.com/sitewatch/monitor/internal/presence"
)

var (
	// ErrNotConnected is returned by Send while the manager is not connected.
	ErrNotConnected = errors.New("stream: not connected")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("stream: manager closed")
)

// Config holds tunable parameters for a Manager.
type Config struct {
	URL          string        // endpoint address, e.g. "wss://host/ws"
	DialTimeout  time.Duration // handshake timeout per attempt
	WriteTimeout time.Duration // per-frame write deadline
	PingInterval time.Duration // keepalive interval while connected; 0 disables
}

// DefaultConfig returns a Config with production defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Option customizes a Manager.
type Option func(*options)

type options struct {
	dialer   Dialer
	backoff  func(attempt int) time.Duration
	presence presence.Source
	logger   *zerolog.Logger
}

// WithDialer replaces the gobwas/ws dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithBackoff replaces backoff.Delay as the reconnect delay policy.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(o *options) { o.backoff = fn }
}

// WithPresence makes the manager follow host connectivity signals.
func WithPresence(src presence.Source) Option {
	return func(o *options) { o.presence = src }
}

// WithLogger sets the logger; the default is the "stream" component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// Manager owns one logical connection and drives it through the
// connecting → connected → disconnected → reconnecting cycle.
//
// All state transitions run on a single loop goroutine: transport reads,
// dial results, reconnect timers and presence signals are posted to it as
// messages. Subscribers are called on that goroutine, so they must not block
// and must not call Close.
type Manager[T any] struct {
	config   Config
	dialer   Dialer
	backoff  func(int) time.Duration
	presence presence.Source
	logger   zerolog.Logger

	status   atomic.Int32
	statuses *broadcast.Broadcaster[Status]
	events   *broadcast.Broadcaster[T]

	lastMu  sync.RWMutex
	last    T
	hasLast bool

	// connMu guards link for Send; the loop is the only writer.
	connMu sync.RWMutex
	link   *link

	// Loop-owned state.
	gen           uint64
	dialing       bool
	attempts      int
	timer         *time.Timer
	timerGen      uint64
	unsubPresence func()

	inbox     chan func()
	kick      chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	doneOnce  sync.Once
	started   atomic.Bool
}

// link is one live transport plus the channel that stops its keepalive.
type link struct {
	conn Conn
	gen  uint64
	stop chan struct{}
}

// New creates a Manager for config. It does not connect until Start.
func New[T any](config Config, opts ...Option) *Manager[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if o.dialer == nil {
		o.dialer = WSDialer{WriteTimeout: config.WriteTimeout}
	}
	if o.backoff == nil {
		o.backoff = backoff.Delay
	}
	logger := log.WithComponent("stream")
	if o.logger != nil {
		logger = *o.logger
	}

	m := &Manager[T]{
		config:   config,
		dialer:   o.dialer,
		backoff:  o.backoff,
		presence: o.presence,
		logger:   logger.With().Str("url", config.URL).Logger(),
		statuses: broadcast.New[Status](),
		events:   broadcast.New[T](),
		inbox:    make(chan func(), 64),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	m.status.Store(int32(Disconnected))
	return m
}

// Start launches the manager loop and the first connection attempt. The
// manager tears itself down when ctx is cancelled. Calling Start again is a
// no-op.
func (m *Manager[T]) Start(ctx context.Context) error {
	if m.isDone() {
		return ErrClosed
	}

	m.startOnce.Do(func() {
		m.ctx, m.cancel = context.WithCancel(ctx)
		m.started.Store(true)

		if m.presence != nil {
			m.unsubPresence = m.presence.Subscribe(func(sig presence.Signal) {
				m.post(func() { m.onPresence(sig) })
			})
		}

		m.wg.Add(1)
		go m.run()
		m.post(m.connect)
	})
	return nil
}

// Status returns the current connection status.
func (m *Manager[T]) Status() Status {
	return Status(m.status.Load())
}

// IsConnected reports whether the status is Connected.
func (m *Manager[T]) IsConnected() bool {
	return m.Status() == Connected
}

// LastEvent returns the most recently decoded payload. ok is false until the
// first payload is decoded.
func (m *Manager[T]) LastEvent() (event T, ok bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last, m.hasLast
}

// OnStatus subscribes fn to status transitions.
func (m *Manager[T]) OnStatus(fn func(Status)) (unsubscribe func()) {
	return m.statuses.Subscribe(fn)
}

// OnEvent subscribes fn to decoded payloads.
func (m *Manager[T]) OnEvent(fn func(T)) (unsubscribe func()) {
	return m.events.Subscribe(fn)
}

// Send JSON-encodes v and writes it as one text frame.
func (m *Manager[T]) Send(v any) error {
	m.connMu.RLock()
	l := m.link
	m.connMu.RUnlock()

	if l == nil || m.Status() != Connected {
		m.logger.Error().Msg("send while not connected, message dropped")
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal: %w", err)
	}
	if err := l.conn.Write(data); err != nil {
		return fmt.Errorf("stream: write: %w", err)
	}
	return nil
}

// Reconnect asks the manager to connect now if it is not already connected
// or connecting. Any pending backoff timer is cancelled.
func (m *Manager[T]) Reconnect() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Close tears the manager down: it cancels any pending reconnect, drops the
// presence subscription and closes the transport. It never schedules a
// reconnect and is safe to call more than once.
func (m *Manager[T]) Close() error {
	m.closeOnce.Do(func() {
		m.markDone()
		if !m.started.Load() {
			return
		}
		m.cancel()
		m.wg.Wait()

		// Messages that raced with shutdown only release resources now:
		// every generation is stale and connect refuses to run.
		for {
			select {
			case fn := <-m.inbox:
				fn()
			default:
				return
			}
		}
	})
	return nil
}

func (m *Manager[T]) markDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Manager[T]) isDone() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// post hands fn to the loop. It reports false once the manager is closed.
func (m *Manager[T]) post(fn func()) bool {
	if m.isDone() {
		return false
	}
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager[T]) run() {
	defer m.wg.Done()
	defer m.teardown()

	for {
		select {
		case <-m.done:
			return
		case <-m.ctx.Done():
			m.markDone()
			return
		case fn := <-m.inbox:
			fn()
		case <-m.kick:
			m.logger.Debug().Msg("explicit reconnect requested")
			m.connect()
		}
	}
}

// teardown runs on the loop goroutine as it exits.
func (m *Manager[T]) teardown() {
	if m.unsubPresence != nil {
		m.unsubPresence()
		m.unsubPresence = nil
	}
	m.stopTimer()
	m.gen++
	m.dialing = false
	m.dropLink()
	m.setStatus(Disconnected)
	m.logger.Info().Msg("stream manager closed")
}

// connect starts a dial unless a connection is live or in progress.
func (m *Manager[T]) connect() {
	if m.isDone() || m.currentLink() != nil || m.dialing {
		return
	}
	m.stopTimer()

	m.gen++
	gen := m.gen
	m.dialing = true
	m.setStatus(Connecting)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.config.DialTimeout)
		conn, err := m.dialer.Dial(ctx, m.config.URL)
		cancel()
		if !m.post(func() { m.onDialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager[T]) onDialed(gen uint64, conn Conn, err error) {
	if gen != m.gen {
		// Superseded by teardown or presence loss while dialing.
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.dialing = false

	if err != nil {
		m.logger.Warn().Err(err).Int("attempt", m.attempts).Msg("stream connection failed")
		m.setStatus(Disconnected)
		m.scheduleReconnect()
		return
	}

	l := &link{conn: conn, gen: gen, stop: make(chan struct{})}
	m.connMu.Lock()
	m.link = l
	m.connMu.Unlock()

	m.attempts = 0
	m.setStatus(Connected)
	m.logger.Info().Msg("stream connected")

	m.wg.Add(1)
	go m.readLoop(l)
	if m.config.PingInterval > 0 {
		m.wg.Add(1)
		go m.keepalive(l)
	}
}

// readLoop forwards frames from one connection to the loop until it fails.
func (m *Manager[T]) readLoop(l *link) {
	defer m.wg.Done()
	for {
		frame, err := l.conn.Read()
		if err != nil {
			m.post(func() { m.onClosed(l.gen, err) })
			return
		}
		if !m.post(func() { m.onFrame(l.gen, frame) }) {
			return
		}
	}
}

// keepalive pings on PingInterval; a failed ping counts as a transport error.
func (m *Manager[T]) keepalive(l *link) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.conn.Ping(); err != nil {
				m.post(func() { m.onClosed(l.gen, fmt.Errorf("stream: keepalive: %w", err)) })
				return
			}
		}
	}
}

func (m *Manager[T]) onFrame(gen uint64, f Frame) {
	if gen != m.gen {
		return
	}
	if !f.Text || len(f.Data) == 0 || f.Data[0] != '{' {
		metrics.StreamMessages.WithLabelValues("dropped").Inc()
		m.logger.Debug().Int("bytes", len(f.Data)).Bool("text", f.Text).Msg("ignoring non-JSON stream message")
		return
	}

	var event T
	if err := json.Unmarshal(f.Data, &event); err != nil {
		metrics.StreamMessages.WithLabelValues("dropped").Inc()
		m.logger.Warn().Err(err).Msg("failed to parse stream message")
		return
	}

	m.lastMu.Lock()
	m.last = event
	m.hasLast = true
	m.lastMu.Unlock()

	metrics.StreamMessages.WithLabelValues("decoded").Inc()
	m.events.Publish(event)
}

// onClosed handles a close the manager did not initiate. Closes the manager
// starts itself bump gen first, so they never reach this point.
func (m *Manager[T]) onClosed(gen uint64, err error) {
	if gen != m.gen || m.currentLink() == nil {
		return
	}
	m.logger.Warn().Err(err).Msg("stream disconnected")
	m.dropLink()
	m.setStatus(Disconnected)
	m.scheduleReconnect()
}

func (m *Manager[T]) onPresence(sig presence.Signal) {
	switch sig {
	case presence.Lost:
		m.logger.Info().Msg("host offline, closing stream")
		m.stopTimer()
		m.gen++
		m.dialing = false
		m.dropLink()
		m.setStatus(Disconnected)
	case presence.Restored:
		m.logger.Info().Msg("host online, reconnecting immediately")
		m.attempts = 0
		m.stopTimer()
		m.connect()
	}
}

// scheduleReconnect waits backoff(attempts) and then connects. The counter
// increments here, when the attempt is scheduled.
func (m *Manager[T]) scheduleReconnect() {
	if m.timer != nil {
		return
	}
	delay := m.backoff(m.attempts)
	m.attempts++
	metrics.StreamReconnects.Inc()
	m.setStatus(Reconnecting)
	m.logger.Info().Dur("delay", delay).Int("attempt", m.attempts).Msg("scheduling stream reconnect")

	m.timerGen++
	tgen := m.timerGen
	m.timer = time.AfterFunc(delay, func() {
		m.post(func() { m.onTimer(tgen) })
	})
}

func (m *Manager[T]) onTimer(tgen uint64) {
	if tgen != m.timerGen || m.timer == nil {
		return
	}
	m.timer = nil
	if m.presence != nil && !m.presence.Online() {
		m.logger.Debug().Msg("reconnect skipped while offline")
		m.setStatus(Disconnected)
		return
	}
	m.connect()
}

func (m *Manager[T]) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
		m.timerGen++
	}
}

func (m *Manager[T]) currentLink() *link {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.link
}

// dropLink closes and forgets the live connection, if any.
func (m *Manager[T]) dropLink() {
	m.connMu.Lock()
	l := m.link
	m.link = nil
	m.connMu.Unlock()

	if l == nil {
		return
	}
	close(l.stop)
	if err := l.conn.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("closing stream transport")
	}
}

func (m *Manager[T]) setStatus(s Status) {
	if Status(m.status.Swap(int32(s))) == s {
		return
	}
	metrics.SetStreamStatus(s.String(), statusNames())
	m.statuses.Publish(s)
}
