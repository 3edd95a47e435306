// Package debugsrv hosts a tiny optional HTTP surface for operators:
// /healthz and /debug/state, separate from the IPC listener's framed-JSON
// protocol (spec SPEC_FULL.md §B.2 Domain Stack). It is never part of the
// core contract a client programs against.
package debugsrv

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oddjobs/oj/internal/bus"
	"github.com/oddjobs/oj/internal/logger"
	"github.com/oddjobs/oj/internal/state"
)

// Server wraps a gin.Engine bound to a single address.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// New builds the debug server. addr is typically "127.0.0.1:0" in tests or
// a configured loopback address in production; it is deliberately not the
// same port as the IPC listener's optional TCP endpoint.
func New(addr string, b *bus.EventBus, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "seq": b.Seq()})
	})

	r.GET("/debug/state", func(c *gin.Context) {
		var summary gin.H
		b.View(func(s *state.MaterializedState) {
			summary = gin.H{
				"jobs":      len(s.Jobs),
				"crews":     len(s.Crews),
				"agents":    len(s.Agents),
				"decisions": len(s.Decisions),
				"workers":   len(s.Workers),
				"crons":     len(s.Crons),
				"lastSeq":   s.LastSeq,
			}
		})
		c.JSON(http.StatusOK, summary)
	})

	return &Server{
		srv: &http.Server{Addr: addr, Handler: r},
		log: log.WithFields(zap.String("component", "debugsrv")),
	}
}

// Start runs the server in the background. The socket is bound inside that
// goroutine, so every ListenAndServe error, a bind failure included, is
// logged, not returned or fatal — this surface is a convenience, not
// load-bearing (spec: "not part of the core contract").
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("debugsrv: server exited")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
