package editor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/internal/heart"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testEditor(t *testing.T, root string) *Editor {
	t.Helper()
	store := heart.NewFileStore(filepath.Join(t.TempDir(), "heartbeat"))
	probe := func(context.Context) (int, error) { return 0, nil }
	h := heart.New(store, probe, time.Minute, zap.NewNop())
	return New(root, "", h, zap.NewNop())
}

func serve(t *testing.T, e *Editor, path string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	return w, e.Serve(c)
}

func TestServeFallbackIndex(t *testing.T) {
	e := testEditor(t, "")

	w, err := serve(t, e, "/")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "devgate") {
		t.Errorf("expected the fallback index, got %d %q", w.Code, w.Body.String())
	}

	w, err = serve(t, e, "/vscode")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected the alias to serve the index, got %d", w.Code)
	}
}

func TestServeFromAssetRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<p>editor</p>"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "app.js"), []byte("js"), 0o600); err != nil {
		t.Fatal(err)
	}
	e := testEditor(t, root)

	w, err := serve(t, e, "/")
	if err != nil {
		t.Fatal(err)
	}
	if w.Body.String() != "<p>editor</p>" {
		t.Errorf("expected the root index, got %q", w.Body.String())
	}

	w, err = serve(t, e, "/app.js")
	if err != nil {
		t.Fatal(err)
	}
	if w.Body.String() != "js" {
		t.Errorf("expected the asset, got %q", w.Body.String())
	}
}

func TestServeMissingAssetReturnsRawError(t *testing.T) {
	e := testEditor(t, t.TempDir())

	_, err := serve(t, e, "/missing.js")
	if !os.IsNotExist(err) {
		t.Errorf("expected a raw entry-missing failure, got %v", err)
	}
}

func TestServeRejectsTraversal(t *testing.T) {
	e := testEditor(t, t.TempDir())

	_, err := serve(t, e, "/../../etc/passwd")
	if err == nil {
		t.Error("expected traversal to be rejected")
	}
}
