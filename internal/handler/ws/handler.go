// Package ws is the WebSocket intake: it upgrades the connection,
// registers the participant, takes the declared language, and parks the
// request until the matcher and session have run their course.
package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lingolab/pairchat/backend/internal/model/wire"
	"github.com/lingolab/pairchat/backend/internal/service/match"
	"github.com/lingolab/pairchat/backend/internal/service/registry"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler serves the /ws endpoint.
type Handler struct {
	reg      *registry.Registry
	matcher  *match.Matchmaker
	upgrader websocket.Upgrader
}

// New creates the intake handler.
func New(reg *registry.Registry, matcher *match.Matchmaker) *Handler {
	return &Handler{
		reg:     reg,
		matcher: matcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	log.Printf("[ws] new connection from %s", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.pingLoop(ctx, conn)

	// The first frame must declare the language; the registry's read loop
	// takes over the stream only after registration.
	var in wire.Inbound
	if err := conn.ReadJSON(&in); err != nil {
		log.Printf("[ws] initial read failed: %v", err)
		conn.Close()
		return
	}
	if in.Type != wire.TypeLanguage || strings.TrimSpace(in.Language) == "" {
		_ = conn.WriteJSON(wire.Error("a language message is required first"))
		conn.Close()
		return
	}

	client, err := h.reg.Register(conn, strings.TrimSpace(in.ParticipantID))
	if err != nil {
		log.Printf("[ws] register failed: %v", err)
		_ = conn.WriteJSON(wire.Error(err.Error()))
		conn.Close()
		return
	}
	defer h.reg.Release(client)

	language := strings.ToLower(strings.TrimSpace(in.Language))
	outcomes, err := h.matcher.Submit(client, language, in.Presurvey())
	if err != nil {
		log.Printf("[ws] submit participant=%s: %v", client.ID, err)
		_ = client.Send(wire.Error(err.Error()))
		return
	}

	select {
	case outcome := <-outcomes:
		if outcome.TimedOut {
			// The matcher already delivered the timeout notice.
			return
		}
		if outcome.Done != nil {
			<-outcome.Done
		}
	case <-client.Gone():
		// Dropped while waiting; if a match won the race the session will
		// observe the dead socket on its own.
		h.matcher.Withdraw(client.ID)
	case <-ctx.Done():
		h.matcher.Withdraw(client.ID)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
