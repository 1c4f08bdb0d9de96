package admin

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/primcluster/mesh/metrics"
)

const monitorPushInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// monitorHub holds every connected monitor websocket and periodically
// pushes a metrics snapshot to each of them, matching the teacher's habit
// of keeping the *websocket.Conn itself as the unit of session state
// rather than wrapping it further.
type monitorHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	done  chan struct{}
}

func newMonitorHub() *monitorHub {
	h := &monitorHub{
		conns: make(map[*websocket.Conn]struct{}),
		done:  make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *monitorHub) run() {
	ticker := time.NewTicker(monitorPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.broadcast(snapshot())
		}
	}
}

func (h *monitorHub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.Close()
			delete(h.conns, c)
		}
	}
}

func (h *monitorHub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *monitorHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Close stops the broadcaster and closes every connected monitor socket.
func (h *monitorHub) Close() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.Close()
		delete(h.conns, c)
	}
}

func snapshot() []byte {
	payload := map[string]int64{
		"cluster_leader":      metrics.ClusterLeader.Get(),
		"total_cluster_nodes": metrics.TotalClusterNodes.Get(),
		"live_cluster_nodes":  metrics.LiveClusterNodes.Get(),
		"sessions_live":       metrics.SessionsLive.Get(),
		"seqnum_assigned":     metrics.SeqnumAssigned.Get(),
		"messages_logged":     metrics.MessagesLogged.Get(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("admin: marshal monitor snapshot: %v", err)
		return []byte("{}")
	}
	return b
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("admin: monitor upgrade failed: %v", err)
		return
	}
	s.monitor.add(conn)

	conn.WriteMessage(websocket.TextMessage, snapshot())

	go func() {
		defer func() {
			s.monitor.remove(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
