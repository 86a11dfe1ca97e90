package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler runs the interaction with a single connected game. The
// Transport is closed once Handler returns.
type Handler func(ctx context.Context, id string, t Transport)

// ServerConfig describes a Server
type ServerConfig struct {
	Path            string        // WebSocket path, "/" by default
	ResponseTimeout time.Duration // Receive timeout of connections
}

// Server accepts WebSocket connections from games and runs a Handler
// for each. It also serves /metrics and /healthz.
type Server struct {
	engine   *gin.Engine
	upgrader websocket.Upgrader
	timeout  time.Duration
	handle   Handler
	health   func() map[string]any
	logger   *slog.Logger

	// Cancelled when Run returns, ending every connection
	base context.Context
}

// NewServer returns a new Server. Metrics are gathered from gatherer,
// and health is called to build the body of /healthz. Either may be
// nil.
func NewServer(c ServerConfig, handle Handler, gatherer prometheus.Gatherer,
	health func() map[string]any, logger *slog.Logger) *Server {
	path := c.Path
	if path == "" {
		path = "/"
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			// Browser games are served from arbitrary origins
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		timeout: c.ResponseTimeout,
		handle:  handle,
		health:  health,
		logger:  logger,
		base:    context.Background(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET(path, s.handleWebSocket)
	s.engine.GET("/healthz", s.handleHealth)
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer,
			promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the HTTP handler of the Server
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr until ctx is cancelled. Connected games are
// disconnected when Run returns.
func (s *Server) Run(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.base = ctx

	srv := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening for games", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("run: %w", err)

	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(),
			5*time.Second)
		defer stop()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run: %w", err)
		}
		return nil
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade the websocket", "error", err)
		return
	}

	id := uuid.New().String()
	conn := NewConn(ws, s.timeout)
	defer conn.Close()

	// Hijacked connections are not closed by http.Server.Shutdown
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	s.logger.Info("game connected", "session", id,
		"remote", c.Request.RemoteAddr)
	s.handle(ctx, id, conn)
	s.logger.Info("game disconnected", "session", id)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}
