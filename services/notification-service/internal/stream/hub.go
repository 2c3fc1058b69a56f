// Package stream pushes newly stored notifications to patients connected over a websocket.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/healthcenter/frontdesk/libs/httpx"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/storage"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingEvery  = pongWait * 9 / 10
)

type subscriber struct {
	patientID string
	send      chan []byte
}

// Hub fans notifications out to the connections of the patient they belong to.
type Hub struct {
	mu       sync.RWMutex
	patients map[string]map[*subscriber]struct{}
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHub accepts websocket upgrades from allowedOrigins, or from any origin when the list is
// empty.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		patients: make(map[string]map[*subscriber]struct{}),
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

func (h *Hub) subscribe(patientID string) *subscriber {
	s := &subscriber{patientID: patientID, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.patients[patientID] == nil {
		h.patients[patientID] = make(map[*subscriber]struct{})
	}
	h.patients[patientID][s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.patients[s.patientID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.patients, s.patientID)
	}
	close(s.send)
}

// Publish delivers n to every connection of its patient. Slow connections drop the message
// instead of blocking the caller; the inbox endpoint still has it.
func (h *Hub) Publish(n storage.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("notification marshal failed", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.patients[n.PatientID] {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("stream buffer full, dropping notification", "patient_id", n.PatientID, "notification_id", n.ID)
		}
	}
}

func (h *Hub) Subscribers(patientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.patients[patientID])
}

// ServeHTTP upgrades /stream?patient_id= requests and streams until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if patientID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "patient_id is required")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	s := h.subscribe(patientID)
	h.logger.Info("stream connected", "patient_id", patientID)
	go h.writePump(conn, s)
	h.readPump(conn, s)
}

// readPump only watches for close and pong frames.
func (h *Hub) readPump(conn *websocket.Conn, s *subscriber) {
	defer func() {
		h.unsubscribe(s)
		_ = conn.Close()
		h.logger.Info("stream disconnected", "patient_id", s.patientID)
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, s *subscriber) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
