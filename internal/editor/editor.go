// Package editor serves the editor front-end mounted at / and /vscode, and
// bridges the editor WebSocket to the backend socket.
package editor

import (
	_ "embed"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/internal/heart"
	"github.com/parsecraft/devgate/internal/route"
	"github.com/parsecraft/devgate/pkg/httperr"
)

//go:embed index.html
var fallbackIndex []byte

// Alias is the secondary mount path of the editor router.
const Alias = "/vscode"

// Editor serves the front-end assets and the editor WebSocket.
type Editor struct {
	root        string
	backendAddr string
	heart       *heart.Heart
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

// New creates the editor router. root is the compiled asset directory;
// backendAddr is the editor backend the WebSocket bridges to.
func New(root, backendAddr string, h *heart.Heart, logger *zap.Logger) *Editor {
	return &Editor{
		root:        root,
		backendAddr: backendAddr,
		heart:       h,
		logger:      logger.Named("editor"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles an HTTP request for the front-end. Filesystem failures are
// returned raw so the terminal handler can map entry-missing and
// is-a-directory conditions to not-found.
func (e *Editor) Serve(c *gin.Context) error {
	rel := strings.TrimPrefix(c.Request.URL.Path, Alias)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "index.html"
	}

	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return httperr.NotFound("Not Found")
	}

	if e.root == "" {
		if clean != "index.html" {
			return httperr.NotFound("Not Found")
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", fallbackIndex)
		return nil
	}

	full := filepath.Join(e.root, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if info.IsDir() {
		full = filepath.Join(full, "index.html")
		if _, err := os.Stat(full); err != nil {
			return err
		}
	}
	c.File(full)
	return nil
}

// ServeWS upgrades the connection and bridges it to the editor backend.
// Inbound client messages beat the heart so the idle-shutdown policy sees
// editor activity, not just HTTP requests.
func (e *Editor) ServeWS(c *gin.Context) error {
	conn, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its failure response.
		return nil
	}

	if e.backendAddr == "" {
		return &route.CloseError{Conn: conn, Err: httperr.ServerError("editor backend is not configured")}
	}

	backendURL := "ws://" + e.backendAddr + c.Request.URL.RequestURI()
	backend, _, err := websocket.DefaultDialer.Dial(backendURL, nil)
	if err != nil {
		return &route.CloseError{Conn: conn, Err: err}
	}

	errc := make(chan error, 2)
	go e.pump(conn, backend, true, errc)
	go e.pump(backend, conn, false, errc)

	err = <-errc
	_ = conn.Close()
	_ = backend.Close()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		e.logger.Debug("editor bridge closed", zap.Error(err))
	}
	return nil
}

func (e *Editor) pump(src, dst *websocket.Conn, inbound bool, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if inbound {
			e.heart.Beat()
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}
