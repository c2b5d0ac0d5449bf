// Package api implements the first-party sub-routers composed by the
// pipeline: health, manifest, update check, the local directory browser,
// static assets and the login router.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parsecraft/devgate/internal/heart"
	"github.com/parsecraft/devgate/pkg/config"
	"github.com/parsecraft/devgate/pkg/httperr"
)

// Handlers aggregates the first-party sub-routers.
type Handlers struct {
	cfg     *config.Config
	heart   *heart.Heart
	version string
	logger  *zap.Logger

	upgrader websocket.Upgrader

	updateMu      sync.Mutex
	updateVersion string
	updateChecked time.Time
}

// NewHandlers creates a new Handlers instance. version is the running
// build version reported by the update check.
func NewHandlers(cfg *config.Config, h *heart.Heart, version string, logger *zap.Logger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		heart:   h,
		version: version,
		logger:  logger.Named("handlers"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Healthz reports liveness from the heartbeat.
func (h *Handlers) Healthz(c *gin.Context) error {
	status := "alive"
	if h.heart.Expired() {
		status = "expired"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"lastHeartbeat": h.heart.LastBeat().UnixMilli(),
	})
	return nil
}

// HealthzWS pushes the liveness payload over a WebSocket on an interval
// until the client disconnects. Inbound messages beat the heart.
func (h *Handlers) HealthzWS(c *gin.Context) error {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			h.heart.Beat()
		}
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		status := "alive"
		if h.heart.Expired() {
			status = "expired"
		}
		payload, _ := json.Marshal(gin.H{
			"event":         "health",
			"status":        status,
			"lastHeartbeat": h.heart.LastBeat().UnixMilli(),
		})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return nil
		}
		select {
		case <-done:
			return nil
		case <-ticker.C:
		}
	}
}

// Manifest serves the PWA manifest at /manifest.json.
func (h *Handlers) Manifest(c *gin.Context) error {
	c.JSON(http.StatusOK, gin.H{
		"name":             "devgate",
		"short_name":       "devgate",
		"start_url":        "/",
		"display":          "fullscreen",
		"background-color": "#fff",
		"description":      "Run editors on a remote server.",
	})
	return nil
}

// Update answers /update with the latest known release, fetched from the
// configured URL and cached for the configured interval.
func (h *Handlers) Update(c *gin.Context) error {
	latest, checked, err := h.latestVersion(c)
	if err != nil {
		return httperr.ServerError(fmt.Sprintf("failed to check for update: %v", err))
	}
	c.JSON(http.StatusOK, gin.H{
		"checked":  checked.UnixMilli(),
		"version":  latest,
		"current":  h.version,
		"isLatest": latest == "" || latest == h.version,
	})
	return nil
}

func (h *Handlers) latestVersion(c *gin.Context) (string, time.Time, error) {
	if h.cfg.Update.URL == "" {
		return "", time.Now(), nil
	}

	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	interval := time.Duration(h.cfg.Update.IntervalHours) * time.Hour
	if h.updateVersion != "" && time.Since(h.updateChecked) < interval {
		return h.updateVersion, h.updateChecked, nil
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.cfg.Update.URL, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("unexpected status %d from update url", resp.StatusCode)
	}

	var release struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", time.Time{}, err
	}

	h.updateVersion = strings.TrimPrefix(release.Name, "v")
	h.updateChecked = time.Now()
	return h.updateVersion, h.updateChecked, nil
}

// Local serves the configured local directory under /local: files directly,
// directories as a JSON listing. Filesystem failures are returned raw for
// the terminal handler to map.
func (h *Handlers) Local(c *gin.Context) error {
	rel := strings.TrimPrefix(c.Request.URL.Path, "/local")
	rel = strings.TrimPrefix(rel, "/")
	clean := path.Clean(rel)
	if strings.HasPrefix(clean, "..") {
		return httperr.NotFound("Not Found")
	}
	if clean == "." {
		clean = ""
	}

	full := filepath.Join(h.cfg.LocalDir, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		c.File(full)
		return nil
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return err
	}
	listing := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		item := gin.H{"name": e.Name(), "isDir": e.IsDir()}
		if fi, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = fi.Size()
		}
		listing = append(listing, item)
	}
	c.JSON(http.StatusOK, gin.H{"path": "/" + clean, "entries": listing})
	return nil
}

// Static serves hashed assets under /static with long-lived caching.
func (h *Handlers) Static(c *gin.Context) error {
	rel := strings.TrimPrefix(c.Request.URL.Path, "/static")
	rel = strings.TrimPrefix(rel, "/")
	clean := path.Clean(rel)
	if clean == "." || strings.HasPrefix(clean, "..") {
		return httperr.NotFound("Not Found")
	}

	full := filepath.Join(h.cfg.Static.Root, filepath.FromSlash(clean))
	if _, err := os.Stat(full); err != nil {
		return err
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(full)
	return nil
}
