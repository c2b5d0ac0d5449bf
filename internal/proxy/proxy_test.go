package proxy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/pkg/httperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testContext(req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestMatchesHost(t *testing.T) {
	p := New([]string{"dev.example.com"}, zap.NewNop())

	tests := []struct {
		host string
		want bool
	}{
		{"3000.dev.example.com", true},
		{"3000.dev.example.com:8080", true},
		{"dev.example.com", false},
		{"editor.dev.example.com", false},
		{"3000.other.example.com", false},
		{"a.3000.dev.example.com", false},
		{"0.dev.example.com", false},
	}
	for _, tt := range tests {
		if got := p.MatchesHost(tt.host); got != tt.want {
			t.Errorf("MatchesHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestMatchesHostNoDomains(t *testing.T) {
	p := New(nil, zap.NewNop())
	if p.MatchesHost("3000.dev.example.com") {
		t.Error("expected no match without configured domains")
	}
}

func TestServePathForwardsToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "echo %s", r.URL.Path)
	}))
	defer backend.Close()
	port := backendPort(t, backend)

	p := New(nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/proxy/%d/hello/world", port), nil)
	c, w := testContext(req)

	if err := p.ServePath(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "echo /hello/world" {
		t.Errorf("expected the prefix stripped, got %q", w.Body.String())
	}
}

func TestServePathBadPort(t *testing.T) {
	p := New(nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/proxy/notaport/x", nil)
	c, _ := testContext(req)

	err := p.ServePath(c)
	he := httperr.From(err)
	if he.Kind != httperr.KindNotFound {
		t.Errorf("expected a not-found failure, got %v", err)
	}
}

func TestServeDomainPreservesPath(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "at %s", r.URL.Path)
	}))
	defer backend.Close()
	port := backendPort(t, backend)

	p := New([]string{"dev.example.com"}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/app/index.html", nil)
	req.Host = fmt.Sprintf("%d.dev.example.com", port)
	c, w := testContext(req)

	if err := p.ServeDomain(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Body.String() != "at /app/index.html" {
		t.Errorf("expected the full path forwarded, got %q", w.Body.String())
	}
}

func TestUnreachableBackendIsBadGateway(t *testing.T) {
	p := New(nil, zap.NewNop())
	// Port 1 is reserved and should refuse connections.
	req := httptest.NewRequest(http.MethodGet, "/proxy/1/", nil)
	c, w := testContext(req)

	if err := p.ServePath(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}
