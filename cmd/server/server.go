package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/config"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/history"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/hook"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/identity"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/session"
)

// Server bundles the HTTP surface with the session coordinator and its
// persistence.
type Server struct {
	cfg    *config.Config
	log    zerolog.Logger
	hooks  *hook.Engine
	store  *history.Store
	coord  *session.Coordinator
	router *gin.Engine
}

// NewServer wires all components from config. verifier may be nil, in which
// case authenticate requests always fail and only anonymous identities work.
func NewServer(cfg *config.Config, verifier identity.Verifier, log zerolog.Logger) (*Server, error) {
	hooks := hook.NewEngine(log)

	store, err := history.Open(cfg.HistoryDBPath, history.Options{
		MaxCount: cfg.MessageHistoryMaxCount,
		MaxAge:   cfg.HistoryMaxAge(),
	}, log)
	if err != nil {
		return nil, err
	}

	coord := session.NewCoordinator(session.Config{
		LockoutEnabled:   cfg.PTTLockoutEnabled,
		AnonymousEnabled: cfg.AnonymousModeEnabled,
		ScreenNameMinLen: cfg.ScreenNameMinLen,
		ScreenNameMaxLen: cfg.ScreenNameMaxLen,
	}, verifier, store, hooks, log)

	s := &Server{
		cfg:   cfg,
		log:   log,
		hooks: hooks,
		store: store,
		coord: coord,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Hooks exposes the hook engine so plugins can register before Run. It
// returns nil when plugins are disabled in config.
func (s *Server) Hooks() *hook.Engine {
	if !s.cfg.PluginsEnabled {
		return nil
	}
	return s.hooks
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.cidMiddleware())
	r.Use(s.otelMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "walkie-talkie"})
	})
	r.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.coord.Stats())
	})
	r.GET("/api/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"channels": s.coord.Channels()})
	})
	r.GET("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleWebSocket(c *gin.Context) {
	sock, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer sock.Close(websocket.StatusNormalClosure, "")

	s.coord.ServeConn(c.Request.Context(), sock, c.ClientIP())
}

// Run serves HTTP and drives the coordinator until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.router,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.coord.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
