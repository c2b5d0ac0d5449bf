package route

import (
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/pkg/httperr"
)

//go:embed error.html
var errorPage string

var errorTmpl = template.Must(template.New("error").Parse(errorPage))

// normalize is the terminal HTTP handler. It converts any failure raised in
// the chain into a status code and a content-negotiated body. It must never
// fail itself; an internal failure degrades to a plain server-error status.
func (p *Pipeline) normalize(c *gin.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("error handler panicked", zap.Any("panic", r))
			c.Writer.WriteHeader(http.StatusInternalServerError)
		}
	}()

	he := httperr.From(err)
	status := he.ResolveStatus()

	if status >= http.StatusInternalServerError {
		p.logger.Error("request failed",
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.String("message", he.Message),
		)
	}

	if acceptsJSON(c.Request) {
		body := gin.H{"error": he.Message}
		for k, v := range he.Details {
			if k != "error" {
				body[k] = v
			}
		}
		c.JSON(status, body)
		return
	}

	// The home link honors a string `to` query parameter, else the root.
	home := "/"
	if to := c.Query("to"); to != "" {
		home = to
	}

	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	renderErr := errorTmpl.Execute(c.Writer, map[string]any{
		"HOME_PATH":    home,
		"ERROR_TITLE":  fmt.Sprintf("%d", status),
		"ERROR_HEADER": fmt.Sprintf("%d", status),
		"ERROR_BODY":   he.Message,
	})
	if renderErr != nil {
		p.logger.Error("failed to render error page", zap.Error(renderErr))
	}
}

func acceptsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") ||
		strings.Contains(accept, "*/*") && !strings.Contains(accept, "text/html")
}

// CloseError carries an upgraded WebSocket connection alongside the failure
// that ended it, so the teardown handler can deliver a close frame before
// destroying the socket.
type CloseError struct {
	Conn *websocket.Conn
	Err  error
}

func (e *CloseError) Error() string {
	return e.Err.Error()
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// teardownWS is the terminal WebSocket handler. No negotiated response is
// possible on this path; the contract is that the connection is never left
// open or silently dropped without a destroy signal.
func (p *Pipeline) teardownWS(c *gin.Context, err error) {
	he := httperr.From(err)
	p.logger.Error("websocket failure",
		zap.String("path", c.Request.URL.Path),
		zap.String("message", he.Message),
		zap.Stack("stack"),
	)

	var ce *CloseError
	if errors.As(err, &ce) && ce.Conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, he.Message)
		_ = ce.Conn.WriteControl(websocket.CloseMessage, msg, closeDeadline())
		_ = ce.Conn.Close()
		return
	}

	// Not yet upgraded: take over the raw connection and destroy it.
	if conn := hijack(c.Writer); conn != nil {
		_ = conn.Close()
		return
	}
	c.AbortWithStatus(he.ResolveStatus())
}

// hijack takes over the raw connection if the writer supports it. gin's
// writer claims http.Hijacker even when the underlying writer cannot be
// hijacked and panics on the attempt, so the panic is absorbed here.
func hijack(w http.ResponseWriter) (conn net.Conn) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil
	}
	defer func() {
		if recover() != nil {
			conn = nil
		}
	}()
	c, _, err := hj.Hijack()
	if err != nil {
		return nil
	}
	return c
}

func closeDeadline() time.Time {
	return time.Now().Add(5 * time.Second)
}
