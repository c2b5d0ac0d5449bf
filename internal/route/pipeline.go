// Package route implements the front-door routing pipeline: an ordered
// table of mounted sub-routers walked first-match-wins, mirrored across the
// HTTP and WebSocket apps, with TLS enforcement, heartbeat recording and a
// single error-normalization boundary at the end of each chain.
package route

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/pkg/httperr"
	"github.com/parsecraft/devgate/pkg/middleware"
)

// Beater receives one beat per dispatched request, before any sub-router
// sees it.
type Beater interface {
	Beat()
}

// Protocol selects which of the two apps an entry is mounted into.
type Protocol int

const (
	// HTTP mounts the entry into the HTTP app only.
	HTTP Protocol = 1 << iota
	// WS mounts the entry into the WebSocket app only.
	WS
	// Both mounts the entry into both apps at the same prefix.
	Both = HTTP | WS
)

// Handler is a sub-router. A matched entry fully owns the request: the
// handler either writes a complete response or returns an error, which
// short-circuits to the terminal handler of the current protocol.
type Handler interface {
	Serve(c *gin.Context) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(c *gin.Context) error

// Serve calls f(c).
func (f HandlerFunc) Serve(c *gin.Context) error {
	return f(c)
}

// Predicate gates a matched entry. Returning (true, nil) lets the entry's
// handler serve the request. Returning (false, nil) means the gate already
// answered it, typically with a login redirect. A non-nil error
// short-circuits to the terminal handler.
type Predicate func(c *gin.Context) (bool, error)

// Entry is one row of the ordered mount table. Entries are registered once
// at startup and never mutated; precedence between overlapping prefixes is
// registration order, first match wins.
type Entry struct {
	// Name identifies the entry in mount and dispatch logs.
	Name string
	// Prefix is the owned path prefix; "/" claims every path.
	Prefix string
	// Exact restricts the entry to the exact Prefix path, so a router
	// mounted at the root does not shadow later root-level entries.
	Exact bool
	// Host, when set, matches on the request host instead of the path.
	Host func(host string) bool
	// Protocols selects the HTTP app, the WS app, or both.
	Protocols Protocol
	// Gate optionally guards the entry.
	Gate Predicate
	// Handler owns every request the entry matches.
	Handler Handler
	// WSHandler, when set, serves the entry's WebSocket counterpart;
	// otherwise Handler serves both apps.
	WSHandler Handler
}

func (e *Entry) matches(r *http.Request) bool {
	if e.Host != nil {
		return e.Host(r.Host)
	}
	path := r.URL.Path
	if e.Exact {
		return path == e.Prefix
	}
	if e.Prefix == "" || e.Prefix == "/" {
		return true
	}
	return path == e.Prefix || strings.HasPrefix(path, e.Prefix+"/")
}

// Config carries the pipeline's collaborators.
type Config struct {
	// TLSConfigured activates the HTTPS-redirect gate for unencrypted
	// connections.
	TLSConfigured bool
	Heart         Beater
	Logger        *zap.Logger
	// Robots overrides the built-in /robots.txt body.
	Robots []byte
}

// Pipeline is the composition root for both protocol apps.
type Pipeline struct {
	cfg     Config
	logger  *zap.Logger
	entries []Entry

	httpApp *gin.Engine
	wsApp   *gin.Engine
}

// New creates an empty pipeline. Mount entries in precedence order, then
// serve via HTTPHandler and WSHandler.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger.Named("route"),
	}

	p.httpApp = gin.New()
	p.httpApp.Use(gin.Recovery())
	p.httpApp.Use(middleware.Logger(cfg.Logger))
	p.httpApp.NoRoute(p.dispatchHTTP)

	p.wsApp = gin.New()
	p.wsApp.Use(gin.Recovery())
	p.wsApp.NoRoute(p.dispatchWS)

	return p
}

// Mount appends an entry to the table. Registration order is the precedence
// order: an earlier entry whose prefix also matches a request makes later
// overlapping entries unreachable for it.
func (p *Pipeline) Mount(e Entry) {
	if e.Protocols == 0 {
		e.Protocols = HTTP
	}
	p.entries = append(p.entries, e)
	p.logger.Info("mounted",
		zap.String("name", e.Name),
		zap.String("prefix", e.Prefix),
		zap.Bool("ws", e.Protocols&WS != 0),
	)
}

// HTTPHandler returns the HTTP app.
func (p *Pipeline) HTTPHandler() http.Handler {
	return p.httpApp
}

// WSHandler returns the WebSocket app.
func (p *Pipeline) WSHandler() http.Handler {
	return p.wsApp
}

func (p *Pipeline) dispatchHTTP(c *gin.Context) {
	if p.redirectToHTTPS(c) {
		return
	}
	p.cfg.Heart.Beat()

	if c.Request.URL.Path == "/robots.txt" {
		p.serveRobots(c)
		return
	}

	if err := p.walk(c, HTTP); err != nil {
		p.normalize(c, err)
	}
}

func (p *Pipeline) dispatchWS(c *gin.Context) {
	p.cfg.Heart.Beat()

	if err := p.walk(c, WS); err != nil {
		p.teardownWS(c, err)
	}
}

// walk offers the request to each mounted entry in order. The first entry
// whose prefix or host predicate matches owns it; if none match, a
// not-found failure is raised for the terminal handler.
func (p *Pipeline) walk(c *gin.Context, proto Protocol) error {
	for i := range p.entries {
		e := &p.entries[i]
		if e.Protocols&proto == 0 || !e.matches(c.Request) {
			continue
		}
		if e.Gate != nil {
			ok, err := e.Gate(c)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		h := e.Handler
		if proto == WS && e.WSHandler != nil {
			h = e.WSHandler
		}
		return h.Serve(c)
	}
	return httperr.NotFound("Not Found")
}

// redirectToHTTPS issues a scheme-swap redirect when TLS material is
// configured but the connection arrived unencrypted. Host, path and query
// are preserved verbatim. Known limitation: a reverse-proxy-rewritten base
// path is not accounted for, since the original scheme cannot be inferred
// without it.
func (p *Pipeline) redirectToHTTPS(c *gin.Context) bool {
	if !p.cfg.TLSConfigured || c.Request.TLS != nil {
		return false
	}
	u := *c.Request.URL
	u.Scheme = "https"
	u.Host = c.Request.Host
	c.Redirect(http.StatusFound, u.String())
	return true
}

var defaultRobots = []byte("User-agent: *\nDisallow: /\n")

func (p *Pipeline) serveRobots(c *gin.Context) {
	body := p.cfg.Robots
	if len(body) == 0 {
		body = defaultRobots
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", body)
}
