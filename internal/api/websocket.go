package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
)

const writeTimeout = 5 * time.Second

// ScanEvent is what subscribers receive after each pass
type ScanEvent struct {
	Type      string           `json:"type"`
	Result    types.ScanResult `json:"result"`
	Findings  int              `json:"findings"`
	Persisted bool             `json:"persisted"`
}

// Hub fans scan reports out to websocket subscribers. It satisfies the
// emitter interface so the orchestrator can publish to it directly.
type Hub struct {
	mu             sync.RWMutex
	clients        map[*websocket.Conn]struct{}
	originPatterns []string
	logger         *telemetry.Logger
}

// NewHub creates a hub. originPatterns are passed to the websocket accept;
// empty means same-origin only.
func NewHub(logger *telemetry.Logger, originPatterns ...string) *Hub {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Hub{
		clients:        make(map[*websocket.Conn]struct{}),
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// Subscribe registers conn for broadcasts
func (h *Hub) Subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

// Unsubscribe removes conn
func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit broadcasts a summary of report. Slow or broken subscribers are dropped.
func (h *Hub) Emit(ctx context.Context, report types.ScanReport) error {
	event := ScanEvent{
		Type:      "scan_completed",
		Result:    report.Result,
		Findings:  len(report.Findings),
		Persisted: report.Persisted,
	}
	if !report.Persisted {
		event.Type = "scan_persist_failed"
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.WithContext(ctx).Debug().Err(err).Msg("ws write error")
			h.Unsubscribe(conn)
			_ = conn.Close(websocket.StatusPolicyViolation, "write failed")
		}
	}
	return nil
}

// Close disconnects every subscriber
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// ServeHTTP upgrades the request and holds the subscription until the
// client goes away. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.WithContext(r.Context()).Warn().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	h.Subscribe(conn)
	defer h.Unsubscribe(conn)

	<-conn.CloseRead(r.Context()).Done()
}
