package httptransport

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"pong-realtime/internal/conn"
	"pong-realtime/internal/game"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type SessionInspector interface {
	Snapshot(gameID string) (game.Info, bool)
	SessionCount() int
}

type ConnInspector interface {
	Count() int
	Statuses() map[string]conn.HeartbeatStatus
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	WS          http.HandlerFunc
	Sessions    SessionInspector
	Conns       ConnInspector
	DB          Pinger
	AdminAPIKey string
}

func NewRouter(d Deps) *chi.Mux {
	ops := NewOpsHandlers(d.Sessions, d.Conns, d.DB)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// The socket endpoint is hijacked, so it stays outside the request logger.
	r.Get("/ws", d.WS)
	r.With(APILogMiddleware()).Get("/healthz", ops.Health())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Use(AdminAuthMiddleware(d.AdminAPIKey))
		r.Get("/sessions/{game_id}", ops.Session())
		r.Get("/connections", ops.Connections())
	})
	r.With(AdminAuthMiddleware(d.AdminAPIKey)).Get("/debug/vars", expvar.Handler().ServeHTTP)
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 16)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
