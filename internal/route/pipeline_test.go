package route

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/pkg/httperr"
	"github.com/parsecraft/devgate/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingBeater struct {
	n atomic.Int32
}

func (b *countingBeater) Beat() {
	b.n.Add(1)
}

func newPipeline(tlsConfigured bool) (*Pipeline, *countingBeater) {
	beater := &countingBeater{}
	p := New(Config{
		TLSConfigured: tlsConfigured,
		Heart:         beater,
		Logger:        zap.NewNop(),
	})
	return p, beater
}

func textHandler(body string) Handler {
	return HandlerFunc(func(c *gin.Context) error {
		c.String(http.StatusOK, body)
		return nil
	})
}

func doHTTP(p *Pipeline, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(w, req)
	return w
}

func TestNotFoundJSON(t *testing.T) {
	p, _ := newPipeline(false)

	req := httptest.NewRequest(http.MethodGet, "/doesnotexist", nil)
	req.Header.Set("Accept", "application/json")
	w := doHTTP(p, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "Not Found" {
		t.Errorf("expected error \"Not Found\", got %v", body["error"])
	}
}

func TestNotFoundHTML(t *testing.T) {
	p, _ := newPipeline(false)

	req := httptest.NewRequest(http.MethodGet, "/doesnotexist", nil)
	req.Header.Set("Accept", "text/html")
	w := doHTTP(p, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("expected an HTML response, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "404") {
		t.Error("expected the HTML body to contain the status")
	}
}

func TestErrorPageHomeLink(t *testing.T) {
	p, _ := newPipeline(false)

	req := httptest.NewRequest(http.MethodGet, "/doesnotexist?to=/dashboard", nil)
	req.Header.Set("Accept", "text/html")
	w := doHTTP(p, req)

	if !strings.Contains(w.Body.String(), `href="/dashboard"`) {
		t.Errorf("expected home link from to parameter, body: %s", w.Body.String())
	}
}

func TestTLSRedirect(t *testing.T) {
	p, beater := newPipeline(true)
	p.Mount(Entry{Name: "root", Prefix: "/", Handler: textHandler("ok")})

	req := httptest.NewRequest(http.MethodGet, "/foo?x=1", nil)
	req.Host = "example.com"
	w := doHTTP(p, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://example.com/foo?x=1" {
		t.Errorf("expected scheme-swap redirect, got %q", loc)
	}
	if beater.n.Load() != 0 {
		t.Error("redirected request should not beat the heart")
	}
}

func TestNoRedirectWithoutTLSMaterial(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{Name: "root", Prefix: "/", Handler: textHandler("ok")})

	w := doHTTP(p, httptest.NewRequest(http.MethodGet, "/foo", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestBeatOncePerRequestBeforeHandler(t *testing.T) {
	p, beater := newPipeline(false)
	var seen int32
	p.Mount(Entry{
		Name:   "probe",
		Prefix: "/probe",
		Handler: HandlerFunc(func(c *gin.Context) error {
			seen = beater.n.Load()
			c.Status(http.StatusNoContent)
			return nil
		}),
	})

	doHTTP(p, httptest.NewRequest(http.MethodGet, "/probe", nil))

	if got := beater.n.Load(); got != 1 {
		t.Errorf("expected exactly one beat, got %d", got)
	}
	if seen != 1 {
		t.Errorf("expected the beat to land before the sub-router, saw %d", seen)
	}
}

func TestFirstMatchWins(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{Name: "first", Prefix: "/app", Handler: textHandler("first")})
	p.Mount(Entry{Name: "second", Prefix: "/app", Handler: textHandler("second")})

	w := doHTTP(p, httptest.NewRequest(http.MethodGet, "/app/page", nil))
	if w.Body.String() != "first" {
		t.Errorf("expected the earlier entry to own the request, got %q", w.Body.String())
	}
}

func TestHostEntryShadowsPathEntries(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:    "domain",
		Prefix:  "/",
		Host:    func(host string) bool { return host == "3000.dev.test" },
		Handler: textHandler("domain"),
	})
	p.Mount(Entry{Name: "editor", Prefix: "/", Handler: textHandler("editor")})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "3000.dev.test"
	if w := doHTTP(p, req); w.Body.String() != "domain" {
		t.Errorf("expected the host-matched entry to win, got %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "other.test"
	if w := doHTTP(p, req); w.Body.String() != "editor" {
		t.Errorf("expected fallthrough to the path entry, got %q", w.Body.String())
	}
}

func TestExactEntryLeavesSiblingsReachable(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{Name: "editor", Prefix: "/", Exact: true, Handler: textHandler("editor")})
	p.Mount(Entry{Name: "health", Prefix: "/healthz", Handler: textHandler("health")})

	if w := doHTTP(p, httptest.NewRequest(http.MethodGet, "/", nil)); w.Body.String() != "editor" {
		t.Errorf("expected the exact root entry, got %q", w.Body.String())
	}
	if w := doHTTP(p, httptest.NewRequest(http.MethodGet, "/healthz", nil)); w.Body.String() != "health" {
		t.Errorf("expected the later sibling to stay reachable, got %q", w.Body.String())
	}
}

func TestPrefixMatchIsSegmentAligned(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{Name: "proxy", Prefix: "/proxy", Handler: textHandler("proxy")})

	req := httptest.NewRequest(http.MethodGet, "/proxying", nil)
	req.Header.Set("Accept", "application/json")
	if w := doHTTP(p, req); w.Code != http.StatusNotFound {
		t.Errorf("expected /proxying not to match /proxy, got %d", w.Code)
	}
}

func TestGateRedirectsToLogin(t *testing.T) {
	sessions := middleware.NewSessions("secret", time.Hour, zap.NewNop())
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:    "local",
		Prefix:  "/local",
		Gate:    RequireAuth(sessions),
		Handler: textHandler("files"),
	})

	w := doHTTP(p, httptest.NewRequest(http.MethodGet, "/local/notes.txt", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("expected a login redirect, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login?to=%2Flocal%2Fnotes.txt" {
		t.Errorf("unexpected redirect target %q", loc)
	}

	token, err := sessions.Issue()
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/local/notes.txt", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
	if w := doHTTP(p, req); w.Body.String() != "files" {
		t.Errorf("expected the gated handler with a valid session, got %q", w.Body.String())
	}
}

func TestGateNilSessionsAdmitsAll(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{Name: "local", Prefix: "/local", Gate: RequireAuth(nil), Handler: textHandler("files")})

	if w := doHTTP(p, httptest.NewRequest(http.MethodGet, "/local", nil)); w.Body.String() != "files" {
		t.Errorf("expected access without auth configured, got %q", w.Body.String())
	}
}

func TestFilesystemFailureSurfacesAsNotFound(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:   "assets",
		Prefix: "/assets",
		Handler: HandlerFunc(func(c *gin.Context) error {
			return fmt.Errorf("open asset: %w", fs.ErrNotExist)
		}),
	})

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	req.Header.Set("Accept", "application/json")
	w := doHTTP(p, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected entry-missing to map to 404, got %d", w.Code)
	}
}

func TestLegacyStatusCodeResolved(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:   "legacy",
		Prefix: "/legacy",
		Handler: HandlerFunc(func(c *gin.Context) error {
			return &httperr.Error{LegacyStatus: http.StatusTeapot, Message: "short and stout"}
		}),
	})

	req := httptest.NewRequest(http.MethodGet, "/legacy", nil)
	req.Header.Set("Accept", "application/json")
	if w := doHTTP(p, req); w.Code != http.StatusTeapot {
		t.Errorf("expected the legacy status code, got %d", w.Code)
	}
}

func TestErrorDetailsMergedIntoJSON(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:   "detail",
		Prefix: "/detail",
		Handler: HandlerFunc(func(c *gin.Context) error {
			return httperr.NotFound("Not Found").WithDetails(map[string]any{"resource": "workspace"})
		}),
	})

	req := httptest.NewRequest(http.MethodGet, "/detail", nil)
	req.Header.Set("Accept", "application/json")
	w := doHTTP(p, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "Not Found" || body["resource"] != "workspace" {
		t.Errorf("expected details merged into the body, got %v", body)
	}
}

func TestRobots(t *testing.T) {
	p, beater := newPipeline(false)
	p.Mount(Entry{Name: "editor", Prefix: "/", Handler: textHandler("editor")})

	w := doHTTP(p, httptest.NewRequest(http.MethodGet, "/robots.txt", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "User-agent") {
		t.Errorf("unexpected robots body %q", w.Body.String())
	}
	if beater.n.Load() != 1 {
		t.Error("robots requests still count as activity")
	}
}

func TestWSAppUsesWSHandler(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:      "editor",
		Prefix:    "/",
		Exact:     true,
		Protocols: Both,
		Handler:   textHandler("http"),
		WSHandler: textHandler("ws"),
	})

	w := httptest.NewRecorder()
	p.WSHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Body.String() != "ws" {
		t.Errorf("expected the WS counterpart handler, got %q", w.Body.String())
	}
}

func TestWSOrderingMirrorsHTTP(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:      "domain",
		Prefix:    "/",
		Host:      func(host string) bool { return host == "3000.dev.test" },
		Protocols: Both,
		Handler:   textHandler("domain"),
	})
	p.Mount(Entry{Name: "editor", Prefix: "/", Exact: true, Protocols: Both, Handler: textHandler("editor")})
	p.Mount(Entry{Name: "path-proxy", Prefix: "/proxy", Protocols: Both, Handler: textHandler("proxy")})
	p.Mount(Entry{Name: "http-only", Prefix: "/static", Handler: textHandler("static")})

	req := httptest.NewRequest(http.MethodGet, "/proxy/3000", nil)
	w := httptest.NewRecorder()
	p.WSHandler().ServeHTTP(w, req)
	if w.Body.String() != "proxy" {
		t.Errorf("expected the path proxy in the WS app, got %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Host = "3000.dev.test"
	w = httptest.NewRecorder()
	p.WSHandler().ServeHTTP(w, req)
	if w.Body.String() != "domain" {
		t.Errorf("expected the domain proxy to claim by host in the WS app, got %q", w.Body.String())
	}

	// HTTP-only entries must not be reachable in the WS app.
	w = httptest.NewRecorder()
	p.WSHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	if w.Body.String() == "static" {
		t.Error("HTTP-only entry served a WebSocket request")
	}
}

func TestWSFailureClosesWithoutResponseBody(t *testing.T) {
	p, _ := newPipeline(false)
	p.Mount(Entry{
		Name:      "ws",
		Prefix:    "/ws",
		Protocols: WS,
		Handler: HandlerFunc(func(c *gin.Context) error {
			return httperr.ServerError("backend gone")
		}),
	})

	// The recorder cannot be hijacked, so teardown falls back to a bare
	// status with no negotiated body.
	w := httptest.NewRecorder()
	p.WSHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected a destroy signal status, got %d", w.Code)
	}
}
