// Package admin exposes the operator-facing HTTP surface: user and group
// relationship management, a WhichNode lookup against the Scheduler's
// routing table, and a live monitor feed over a websocket. Session's ws
// field shows the teacher keeping a raw *websocket.Conn per connection
// rather than wrapping it; the monitor feed here does the same.
package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/primcluster/mesh/cluster"
	"github.com/primcluster/mesh/relationship"
)

// Server is the admin HTTP surface.
type Server struct {
	Registry *cluster.Registry
	Rel      *relationship.Store

	monitor *monitorHub
}

// NewServer builds a Server bound to registry and rel. rel may be nil if
// this deployment has no relationship store configured, in which case
// the /user routes answer 503.
func NewServer(registry *cluster.Registry, rel *relationship.Store) *Server {
	return &Server{
		Registry: registry,
		Rel:      rel,
		monitor:  newMonitorHub(),
	}
}

// Router builds the chi mux for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/user", func(r chi.Router) {
		r.Put("/friend", s.handlePutFriend)
		r.Delete("/friend", s.handleDeleteFriend)
		r.Post("/group", s.handlePostGroup)
		r.Delete("/group", s.handleDeleteGroup)
	})

	r.Get("/which_node", s.handleWhichNode)
	r.Get("/monitor", s.handleMonitor)

	return r
}

// Close stops the background monitor broadcaster.
func (s *Server) Close() {
	s.monitor.Close()
}
