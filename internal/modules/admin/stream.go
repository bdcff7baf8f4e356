package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Guillaume29200/esport-cms/internal/events"
)

const (
	writeWait      = 10 * time.Second
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	// Callers authenticate with a bearer token, never with cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// stream pushes every new journal event to the client as a JSON text frame.
// ?module= and ?type= narrow the stream.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	moduleID, eventType := q.Get("module"), events.Type(q.Get("type"))
	filter := func(e events.Event) bool {
		return (moduleID == "" || e.Module == moduleID) && (eventType == "" || e.Type == eventType)
	}

	buffer := h.opts.StreamBuffer
	if buffer <= 0 {
		buffer = 64
	}
	queue := make(chan events.Event, buffer)
	log := h.log.WithContext(r.Context())

	// Subscribe before the handshake so nothing logged after the client
	// connects is missed.
	unsubscribe := h.journal.SubscribeFiltered(filter, func(e events.Event) {
		select {
		case queue <- e:
		default:
			log.WithField("event_id", e.ID).Warn("event stream client too slow, dropping event")
		}
	})
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		log.WithError(err).Debug("event stream upgrade failed")
		return
	}
	defer conn.Close()

	ping := h.opts.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pongWait := ping * 2

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxClientFrame)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	log.Debug("event stream opened")
	for {
		select {
		case <-done:
			log.Debug("event stream closed by client")
			return
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.WithError(err).Debug("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
