package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/mend/pkg/messages"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleEvents upgrades the connection and streams bus events to the
// client as JSON. An optional ?type= query filters by event type.
// GET /api/v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	var types []string
	if t := r.URL.Query().Get("type"); t != "" {
		types = append(types, t)
	}

	// The bus drains each subscriber on its own goroutine, so WriteJSON
	// needs no extra locking here.
	subID := s.bus.Subscribe(func(ev *messages.EventMessage) {
		if err := ws.WriteJSON(ev); err != nil {
			log.Printf("[API] Websocket write failed: %v", err)
		}
	}, types...)
	defer s.bus.Unsubscribe(subID)

	// Block until the client goes away; reads only serve to detect close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
