// Package proxy forwards requests to local development backends, selected
// either by the request host (domain proxy) or by a /proxy/<port> path
// prefix (path proxy). Upgrade requests pass through, so the same handlers
// back both the HTTP and WebSocket apps.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/pkg/httperr"
)

// Proxy owns the reverse proxies for both addressing schemes.
type Proxy struct {
	domains []string
	logger  *zap.Logger

	mu       sync.RWMutex
	backends map[int]*httputil.ReverseProxy
}

// New creates a Proxy matching hosts against the configured domain suffixes.
func New(domains []string, logger *zap.Logger) *Proxy {
	return &Proxy{
		domains:  domains,
		logger:   logger.Named("proxy"),
		backends: make(map[int]*httputil.ReverseProxy),
	}
}

// MatchesHost reports whether host is `<port>.<domain>` for one of the
// configured proxy domains. It is the host predicate of the domain proxy's
// route entry, which lets it claim requests ahead of every path-based
// router.
func (p *Proxy) MatchesHost(host string) bool {
	_, ok := p.portFromHost(host)
	return ok
}

func (p *Proxy) portFromHost(host string) (int, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, d := range p.domains {
		rest, found := strings.CutSuffix(host, "."+d)
		if !found || strings.Contains(rest, ".") {
			continue
		}
		if port, err := strconv.Atoi(rest); err == nil && port > 0 && port < 65536 {
			return port, true
		}
	}
	return 0, false
}

// ServeDomain forwards a request claimed by the host predicate. The full
// path is preserved.
func (p *Proxy) ServeDomain(c *gin.Context) error {
	port, ok := p.portFromHost(c.Request.Host)
	if !ok {
		return httperr.NotFound("Not Found")
	}
	p.backend(port).ServeHTTP(c.Writer, c.Request)
	return nil
}

// ServePath forwards `/proxy/<port>/rest...` to the backend on <port> with
// the prefix stripped.
func (p *Proxy) ServePath(c *gin.Context) error {
	rest := strings.TrimPrefix(c.Request.URL.Path, "/proxy")
	rest = strings.TrimPrefix(rest, "/")
	portStr, tail, _ := strings.Cut(rest, "/")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port >= 65536 {
		return httperr.NotFound("Not Found")
	}

	c.Request.URL.Path = "/" + tail
	p.backend(port).ServeHTTP(c.Writer, c.Request)
	return nil
}

func (p *Proxy) backend(port int) *httputil.ReverseProxy {
	p.mu.RLock()
	rp, ok := p.backends[port]
	p.mu.RUnlock()
	if ok {
		return rp
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	rp = httputil.NewSingleHostReverseProxy(target)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Warn("backend unreachable",
			zap.Int("port", port),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}

	p.mu.Lock()
	p.backends[port] = rp
	p.mu.Unlock()
	return rp
}
