// Package server wires the routing pipeline into the single listener: it
// mounts every sub-router in precedence order, splits WebSocket upgrades
// from plain HTTP at the root, and owns the http.Server lifecycle.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/internal/api"
	"github.com/parsecraft/devgate/internal/editor"
	"github.com/parsecraft/devgate/internal/heart"
	"github.com/parsecraft/devgate/internal/plugins"
	"github.com/parsecraft/devgate/internal/proxy"
	"github.com/parsecraft/devgate/internal/route"
	"github.com/parsecraft/devgate/pkg/config"
	"github.com/parsecraft/devgate/pkg/middleware"
)

// Server owns the listener and the composed pipeline.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *route.Pipeline
	heart    *heart.Heart
	httpSrv  *http.Server

	conns atomic.Int64
}

// New composes the pipeline from the configuration and the completed plugin
// discovery. Plugin loading happens before this point; the pipeline never
// re-mounts at runtime.
func New(cfg *config.Config, store heart.Store, registry *plugins.Registry, version string, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger.Named("server"),
	}

	idle := time.Duration(cfg.Heartbeat.IdleSeconds) * time.Second
	s.heart = heart.New(store, s.connCount, idle, logger)

	s.pipeline = s.buildPipeline(registry, version)

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.pipeline.WSHandler().ServeHTTP(w, r)
			return
		}
		s.pipeline.HTTPHandler().ServeHTTP(w, r)
	})

	s.httpSrv = &http.Server{
		Addr:        cfg.Server.Address(),
		Handler:     root,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		ConnState:   s.trackConn,
	}

	return s
}

// buildPipeline mounts every sub-router. Registration order is the
// precedence contract: first match wins, so earlier entries shadow later
// ones for the requests they also match.
func (s *Server) buildPipeline(registry *plugins.Registry, version string) *route.Pipeline {
	p := route.New(route.Config{
		TLSConfigured: s.cfg.TLS.Enabled(),
		Heart:         s.heart,
		Logger:        s.logger,
	})

	var sessions *middleware.Sessions
	secure := s.cfg.TLS.Enabled()
	if s.cfg.Auth.Mode == config.AuthPassword {
		expiry := time.Duration(s.cfg.Auth.SessionExpiryHours) * time.Hour
		sessions = middleware.NewSessions(s.cfg.Auth.SessionSecret, expiry, s.logger)
	}

	prx := proxy.New(s.cfg.Proxy.Domains, s.logger)
	p.Mount(route.Entry{
		Name:      "domain-proxy",
		Prefix:    "/",
		Host:      prx.MatchesHost,
		Protocols: route.Both,
		Handler:   route.HandlerFunc(prx.ServeDomain),
	})

	ed := editor.New(s.cfg.Editor.Root, s.cfg.Editor.BackendAddr, s.heart, s.logger)
	p.Mount(route.Entry{
		Name:      "editor",
		Prefix:    "/",
		Exact:     true,
		Protocols: route.Both,
		Handler:   route.HandlerFunc(ed.Serve),
		WSHandler: route.HandlerFunc(ed.ServeWS),
	})
	p.Mount(route.Entry{
		Name:      "editor-alias",
		Prefix:    editor.Alias,
		Protocols: route.Both,
		Handler:   route.HandlerFunc(ed.Serve),
		WSHandler: route.HandlerFunc(ed.ServeWS),
	})

	handlers := api.NewHandlers(s.cfg, s.heart, version, s.logger)
	p.Mount(route.Entry{
		Name:    "manifest",
		Prefix:  "/manifest.json",
		Exact:   true,
		Handler: route.HandlerFunc(handlers.Manifest),
	})
	p.Mount(route.Entry{
		Name:      "health",
		Prefix:    "/healthz",
		Protocols: route.Both,
		Handler:   route.HandlerFunc(handlers.Healthz),
		WSHandler: route.HandlerFunc(handlers.HealthzWS),
	})

	if sessions != nil {
		limiter := middleware.NewLoginRateLimiter(s.cfg.Auth.RateLimit, s.logger)
		login := api.NewLogin(s.cfg.Auth, sessions, limiter, secure, s.logger)
		p.Mount(route.Entry{
			Name:    "login",
			Prefix:  "/login",
			Handler: route.HandlerFunc(login.Serve),
		})
		p.Mount(route.Entry{
			Name:    "logout",
			Prefix:  "/logout",
			Handler: route.HandlerFunc(login.ServeLogout),
		})
	}

	p.Mount(route.Entry{
		Name:      "path-proxy",
		Prefix:    "/proxy",
		Protocols: route.Both,
		Handler:   route.HandlerFunc(prx.ServePath),
	})

	if s.cfg.Static.Root != "" {
		p.Mount(route.Entry{
			Name:    "static",
			Prefix:  "/static",
			Handler: route.HandlerFunc(handlers.Static),
		})
	}

	if s.cfg.LocalDir != "" {
		p.Mount(route.Entry{
			Name:    "local",
			Prefix:  "/local",
			Gate:    route.RequireAuth(sessions),
			Handler: route.HandlerFunc(handlers.Local),
		})
	}

	p.Mount(route.Entry{
		Name:    "update",
		Prefix:  "/update",
		Exact:   true,
		Handler: route.HandlerFunc(handlers.Update),
	})

	for _, d := range registry.Loaded() {
		p.Mount(route.Entry{
			Name:    "plugin:" + d.Name,
			Prefix:  d.MountPath,
			Handler: route.HandlerFunc(d.Serve),
		})
	}
	p.Mount(route.Entry{
		Name:    "plugin-api",
		Prefix:  plugins.APIPrefix,
		Handler: route.HandlerFunc(registry.APIHandler(s.cfg.CORS)),
	})

	return p
}

// Heart exposes the activity monitor for the idle-shutdown policy.
func (s *Server) Heart() *heart.Heart {
	return s.heart
}

// Handler exposes the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until the listener fails or is shut down.
func (s *Server) Run() error {
	if s.cfg.TLS.Enabled() {
		s.logger.Info("listening with TLS", zap.String("address", s.httpSrv.Addr))
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}
	s.logger.Info("listening", zap.String("address", s.httpSrv.Addr))
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) connCount(_ context.Context) (int, error) {
	return int(s.conns.Load()), nil
}

func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.conns.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.conns.Add(-1)
	}
}
