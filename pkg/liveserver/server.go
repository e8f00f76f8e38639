package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	streamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_stream_active_connections",
		Help: "Open notification stream connections",
	})
	streamRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_stream_rejected_total",
		Help: "Notification stream connections refused before upgrade",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(streamConnections, streamRejected)
}

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingEvery    = idleTimeout * 9 / 10
)

// Limits bounds stream connections. Zero values take the defaults.
type Limits struct {
	MaxConnections int
	RatePerSecond  float64
	RateBurst      int
}

func (l Limits) withDefaults() Limits {
	if l.MaxConnections <= 0 {
		l.MaxConnections = 32
	}
	if l.RatePerSecond <= 0 {
		l.RatePerSecond = 2
	}
	if l.RateBurst <= 0 {
		l.RateBurst = 5
	}
	return l
}

// Server is the http.Handler behind /ws. Each accepted request becomes a hub
// subscriber for the life of the connection.
type Server struct {
	hub      *Hub
	logger   Logger
	origins  map[string]bool
	wildcard bool
	upgrader websocket.Upgrader

	slots      chan struct{}
	limits     Limits
	limiters   sync.Map // remote ip -> *rate.Limiter
	production atomic.Bool
}

func NewServer(hub *Hub, logger Logger, allowedOrigins []string, limits Limits) *Server {
	limits = limits.withDefaults()
	s := &Server{
		hub:     hub,
		logger:  logger,
		origins: make(map[string]bool, len(allowedOrigins)),
		slots:   make(chan struct{}, limits.MaxConnections),
		limits:  limits,
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			s.wildcard = true
			continue
		}
		s.origins[o] = true
	}
	s.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: s.checkOrigin}
	return s
}

// SetProduction makes the wildcard origin match nothing
func (s *Server) SetProduction(prod bool) {
	s.production.Store(prod)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	u, err := url.Parse(origin)
	switch {
	case origin == "":
		s.reject("invalid_origin", "Rejected stream connection with missing Origin header", "remote_addr", r.RemoteAddr)
		return false
	case err != nil:
		s.reject("invalid_origin", "Rejected stream connection with invalid Origin", "origin", origin, "error", err)
		return false
	case s.origins[u.Scheme+"://"+u.Host]:
		return true
	case s.wildcard && !s.production.Load():
		return true
	case s.wildcard:
		s.reject("invalid_origin", "Rejected wildcard origin in production mode", "origin", origin)
		return false
	}
	s.reject("invalid_origin", "Rejected stream connection from unauthorized origin", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ip := clientIP(r); !s.limiter(ip).Allow() {
		s.reject("rate_limit", "Stream rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.slots <- struct{}{}:
	default:
		s.reject("connection_limit", "Stream connection limit reached", "max", s.limits.MaxConnections)
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	streamConnections.Inc()
	defer func() {
		<-s.slots
		streamConnections.Dec()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	sub := NewSubscriber(uuid.NewString())
	s.hub.Subscribe(sub)
	s.info("Stream client connected", "client_id", sub.id, "remote_addr", r.RemoteAddr)

	go s.drain(conn, sub)
	s.pump(conn, sub)
	s.info("Stream client disconnected", "client_id", sub.id)
}

// pump writes hub messages until the subscriber closes or a write fails.
// Closing the connection on exit also ends drain.
func (s *Server) pump(conn *websocket.Conn, sub *Subscriber) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	defer s.hub.Unsubscribe(sub)

	for {
		var err error
		select {
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			err = conn.WriteJSON(msg)
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		}
		if err != nil {
			return
		}
	}
}

// drain reads control frames; the UI never sends data. A read error means the
// peer is gone, so the subscriber is removed and pump exits.
func (s *Server) drain(conn *websocket.Conn, sub *Subscriber) {
	defer s.hub.Unsubscribe(sub)
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.warn("Stream read error", "client_id", sub.id, "error", err)
			}
			return
		}
	}
}

// Broadcast queues msg for every connected client
func (s *Server) Broadcast(msg Message) bool {
	return s.hub.Broadcast(msg)
}

func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) limiter(ip string) *rate.Limiter {
	if l, ok := s.limiters.Load(ip); ok {
		return l.(*rate.Limiter)
	}
	l, _ := s.limiters.LoadOrStore(ip, rate.NewLimiter(rate.Limit(s.limits.RatePerSecond), s.limits.RateBurst))
	return l.(*rate.Limiter)
}

func (s *Server) reject(reason, msg string, kv ...interface{}) {
	streamRejected.WithLabelValues(reason).Inc()
	s.warn(msg, kv...)
}

func (s *Server) warn(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}

func (s *Server) info(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
