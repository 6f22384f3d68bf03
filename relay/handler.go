package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/codeshare-dev/codeshare/internal"
)

// Inbound frames are full document snapshots, so they can be sizeable, but a
// frame bigger than this is abuse, not an edit.
const maxFrameSize = 1 << 20

// Handler upgrades HTTP requests onto the relay's websocket protocol. One
// goroutine per connection reads frames off the socket and feeds them to the
// dispatcher; a second one drains the connection's send queue.
type Handler struct {
	relay    *Relay
	upgrader websocket.Upgrader
}

func NewHandler(r *Relay) *Handler {
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the lifecycle API is open to any origin, so the relay is too
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		hlog.FromRequest(req).Err(err).Msg("failed to upgrade websocket")
		return
	}
	c := newConn(ws)
	internal.SetContextConnID(req.Context(), c.ID)
	if err := h.relay.connect(c); err != nil {
		ws.Close()
		return
	}
	go c.writeLoop()

	ws.SetReadLimit(maxFrameSize)
	numFrames := 0
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			// the protocol is plain structured text
			continue
		}
		if err := h.relay.receive(c, data); err != nil {
			break
		}
		numFrames++
	}
	// surfaces in the access log line written when the socket closes
	internal.SetContextNumEvents(req.Context(), numFrames)
	h.relay.disconnect(c)
	c.close()
}
