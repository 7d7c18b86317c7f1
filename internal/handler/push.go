package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/config"
	"github.com/devicelocator/locator-relay/internal/push"
)

const pushReadLimit = 4096

// PushHandler upgrades browser connections and hands them to the registry.
// The channel is outbound only; inbound frames are logged and discarded.
type PushHandler struct {
	registry     *push.Registry
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewPushHandler(registry *push.Registry, pingInterval time.Duration) *PushHandler {
	return &PushHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The map page is served from the HTTP port, so the push port
			// always sees a cross-origin request.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: pingInterval,
	}
}

func (h *PushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("push upgrade failed")
		return
	}

	generation := h.registry.Register(conn)
	logger := log.With().
		Uint64("generation", generation).
		Str("remoteAddr", r.RemoteAddr).
		Logger()
	logger.Info().Msg("push connection opened")

	done := make(chan struct{})
	defer func() {
		close(done)
		h.registry.Release(conn)
		conn.Close()
	}()

	conn.SetReadLimit(pushReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})

	go h.ping(conn, done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("push connection error")
			} else {
				logger.Info().Msg("push connection closed")
			}
			return
		}
		logger.Warn().
			Int("messageType", messageType).
			Int("size", len(data)).
			Msg("unexpected inbound push message")
	}
}

func (h *PushHandler) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(config.PushWriteDeadline)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Msg("push ping failed")
				return
			}
		}
	}
}
