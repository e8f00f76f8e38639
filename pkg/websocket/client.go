// Package websocket keeps a single outbound gorilla/websocket connection
// alive: it dials, pings, and redials until stopped.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"walletd/internal/core"
	"walletd/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotConnected is returned by Send while no session is open
var ErrNotConnected = errors.New("websocket not connected")

// MessageHandler receives every data frame in arrival order
type MessageHandler func(message []byte)

// Options tune a Client. Zero durations take the defaults; a negative
// PingInterval disables pings.
type Options struct {
	Header        http.Header
	ReconnectWait time.Duration
	PingInterval  time.Duration
	PingTimeout   time.Duration
	PongWait      time.Duration
	OnConnect     func()
	OnDisconnect  func()
}

func (o Options) withDefaults() Options {
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 5 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 && o.PingInterval > 0 {
		o.PongWait = 2 * o.PingInterval
	}
	return o
}

// session is one dialed connection. done closes when the session ends.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) write(fn func(*websocket.Conn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(s.conn)
}

type Client struct {
	url     string
	handler MessageHandler
	logger  core.ILogger

	optsMu sync.RWMutex
	opts   Options

	mu      sync.Mutex
	current *session

	stop    context.CancelFunc
	stopCtx context.Context
	wg      sync.WaitGroup

	tracer   trace.Tracer
	dials    metric.Int64Counter
	received metric.Int64Counter
}

func NewClient(url string, handler MessageHandler, opts Options, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	meter := telemetry.GetMeter("walletd/websocket")
	dials, _ := meter.Int64Counter("walletd_ws_dials_total",
		metric.WithDescription("Outbound websocket dial attempts"))
	received, _ := meter.Int64Counter("walletd_ws_frames_received_total",
		metric.WithDescription("Data frames received on outbound websockets"))

	return &Client{
		url:      url,
		handler:  handler,
		logger:   logger.WithField("component", "ws_client"),
		opts:     opts.withDefaults(),
		stopCtx:  ctx,
		stop:     cancel,
		tracer:   telemetry.GetTracer("walletd/websocket"),
		dials:    dials,
		received: received,
	}
}

// SetReconnectWait changes the pause between dial attempts
func (c *Client) SetReconnectWait(d time.Duration) {
	c.optsMu.Lock()
	defer c.optsMu.Unlock()
	c.opts.ReconnectWait = d
}

// SetOnDisconnect replaces the callback run after each session ends
func (c *Client) SetOnDisconnect(fn func()) {
	c.optsMu.Lock()
	defer c.optsMu.Unlock()
	c.opts.OnDisconnect = fn
}

func (c *Client) options() Options {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.opts
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Send encodes v as JSON on the open session
func (c *Client) Send(v interface{}) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.write(func(conn *websocket.Conn) error { return conn.WriteJSON(v) })
}

// Start runs the dial loop in the background until Stop
func (c *Client) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop()
	}()
}

// Stop ends the current session and waits briefly for the loop to exit
func (c *Client) Stop() {
	c.stop()
	c.mu.Lock()
	if c.current != nil {
		c.current.close()
	}
	c.mu.Unlock()

	exited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Websocket loop still running after stop", "url", c.url)
	}
}

func (c *Client) loop() {
	for c.stopCtx.Err() == nil {
		s, err := c.dial()
		if err != nil {
			c.logger.Warn("Websocket dial failed", "url", c.url, "error", err)
		} else {
			c.serve(s)
		}

		select {
		case <-c.stopCtx.Done():
			return
		case <-time.After(c.options().ReconnectWait):
		}
	}
}

func (c *Client) dial() (*session, error) {
	ctx, span := c.tracer.Start(c.stopCtx, "websocket.dial",
		trace.WithAttributes(attribute.String("ws.url", c.url)))
	defer span.End()
	c.dials.Add(ctx, 1)

	opts := c.options()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, opts.Header)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if opts.PongWait > 0 {
		extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(opts.PongWait)) }
		_ = extend("")
		conn.SetPongHandler(extend)
	}
	return &session{conn: conn, done: make(chan struct{})}, nil
}

// serve publishes s, pumps it until it fails, then withdraws it
func (c *Client) serve(s *session) {
	c.mu.Lock()
	if c.stopCtx.Err() != nil {
		c.mu.Unlock()
		s.close()
		return
	}
	c.current = s
	c.mu.Unlock()
	c.logger.Info("Websocket connected", "url", c.url)

	opts := c.options()
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	if opts.PingInterval > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.ping(s, opts.PingInterval, opts.PingTimeout)
		}()
	}

	c.read(s)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	if fn := c.options().OnDisconnect; fn != nil {
		fn()
	}
}

func (c *Client) ping(s *session, every, timeout time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			err := s.write(func(conn *websocket.Conn) error {
				return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
			})
			if err != nil {
				s.close()
				return
			}
		}
	}
}

func (c *Client) read(s *session) {
	defer s.close()
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if c.stopCtx.Err() == nil {
				c.logger.Debug("Websocket session ended", "url", c.url, "error", err)
			}
			return
		}
		c.received.Add(c.stopCtx, 1)
		if c.handler != nil {
			c.handler(frame)
		}
	}
}
