package push

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/config"
	"github.com/devicelocator/locator-relay/internal/metrics"
)

// Conn is the part of *websocket.Conn the registry writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// Registry holds the single active push connection. Registering a new
// connection supersedes the previous one without closing it. The mutex also
// serializes writes.
type Registry struct {
	mu           sync.Mutex
	conn         Conn
	generation   uint64
	writeTimeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{writeTimeout: config.PushWriteDeadline}
}

// Register makes conn the delivery target and returns its generation number
// for logging.
func (r *Registry) Register(conn Conn) uint64 {
	r.mu.Lock()
	superseded := r.conn != nil
	r.conn = conn
	r.generation++
	generation := r.generation
	r.mu.Unlock()

	metrics.PushConnections.WithLabelValues("registered").Inc()
	log.Info().
		Uint64("generation", generation).
		Bool("superseded", superseded).
		Msg("push connection registered")

	return generation
}

// Release clears the slot if conn is still the active connection. A
// superseded connection closing later leaves its successor in place.
func (r *Registry) Release(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn != conn {
		return false
	}
	r.conn = nil
	metrics.PushConnections.WithLabelValues("released").Inc()
	log.Info().Uint64("generation", r.generation).Msg("push connection released")
	return true
}

// Send writes message as JSON to the active connection. Without one the
// message is dropped. A failed write releases the connection.
func (r *Registry) Send(message any) bool {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal push message")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		metrics.EventsDropped.WithLabelValues(metrics.DropNoTransport).Inc()
		log.Debug().Msg("no push connection registered, dropping message")
		return false
	}

	if r.writeTimeout > 0 {
		_ = r.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	}
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().
			Err(err).
			Uint64("generation", r.generation).
			Msg("push write failed, releasing connection")
		r.conn = nil
		metrics.PushConnections.WithLabelValues("write_failed").Inc()
		metrics.EventsDropped.WithLabelValues(metrics.DropNoTransport).Inc()
		return false
	}

	metrics.MessagesPushed.Inc()
	log.Debug().RawJSON("message", data).Msg("push message sent")
	return true
}

func (r *Registry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}
