// Package api is the read-only introspection HTTP server: /health,
// /status, /events/tail, and /metrics, polled by the CLI/TUI display
// layer that sits outside this module.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wheelwright-dev/wheelwright/pkg/store"
	"github.com/wheelwright-dev/wheelwright/pkg/telemetry"
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// TicketSnapshot is one ticket's worktree-introspection shape: its
// worktree path, branch, current FSM phase, and last event.
type TicketSnapshot struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Phase        string `json:"phase"`
	WorktreePath string `json:"worktree_path"`
	Branch       string `json:"branch"`
	LastEvent    string `json:"last_event"`
}

// SessionSnapshot is the orchestrator's current state, as read by /status.
type SessionSnapshot struct {
	CycleCount        int              `json:"cycle_count"`
	SessionPhase      string           `json:"session_phase"`
	ShutdownRequested bool             `json:"shutdown_requested"`
	ShutdownReason    string           `json:"shutdown_reason,omitempty"`
	OpenPRCount       int              `json:"open_pr_count"`
	Tickets           []TicketSnapshot `json:"tickets"`
}

// StatusProvider supplies the live session state. The orchestrator's
// process entrypoint implements it; pkg/api stays decoupled from
// pkg/orchestrator's concrete Session type.
type StatusProvider interface {
	Snapshot() SessionSnapshot
}

// DBPinger reports database reachability for /health.
type DBPinger interface {
	Health(ctx context.Context) (string, error)
}

// Server is the introspection HTTP server.
type Server struct {
	provider StatusProvider
	events   *store.EventLog
	db       DBPinger
	router   *gin.Engine
}

// New builds the introspection server. db may be nil when running without
// a database-backed ticket repo.
func New(provider StatusProvider, events *store.EventLog, db DBPinger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{provider: provider, events: events, db: db, router: router}
	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/events/tail", s.handleEventsTail)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{})))
	return s
}

// Handler returns the server's handler wrapped with OpenTelemetry HTTP
// tracing, suitable for http.Server.Handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "wheelwright-api",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/health" }),
	)
}

// ListenAndServe runs the introspection server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "healthy"}
	code := http.StatusOK

	if s.db != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbStatus, err := s.db.Health(reqCtx)
		status["database"] = dbStatus
		if err != nil {
			status["status"] = "unhealthy"
			status["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, status)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Snapshot())
}

func (s *Server) handleEventsTail(c *gin.Context) {
	n := 50
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	if s.events == nil {
		c.JSON(http.StatusOK, gin.H{"events": []types.Event{}})
		return
	}

	all, err := s.events.ReadAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if len(all) > n {
		all = all[len(all)-n:]
	}
	c.JSON(http.StatusOK, gin.H{"events": all})
}
