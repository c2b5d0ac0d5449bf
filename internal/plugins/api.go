package plugins

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/parsecraft/devgate/pkg/config"
	"github.com/parsecraft/devgate/pkg/httperr"
)

// pluginInfo is the JSON shape returned by the namespace listing.
type pluginInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	MountPath string `json:"mountPath,omitempty"`
	Loaded    bool   `json:"loaded"`
	Error     string `json:"error,omitempty"`
}

// APIHandler builds the shared namespace router: GET /api/applications
// lists every discovered plugin, and /api/applications/<name>/... routes
// into the named plugin's router.
func (r *Registry) APIHandler(corsCfg config.CORSConfig) func(c *gin.Context) error {
	engine := gin.New()
	engine.Use(cors.New(corsConfig(corsCfg)))
	engine.GET(APIPrefix, r.list)
	engine.Any(APIPrefix+"/:name/*rest", r.dispatch)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})

	return func(c *gin.Context) error {
		engine.ServeHTTP(c.Writer, c.Request)
		return nil
	}
}

func (r *Registry) list(c *gin.Context) {
	infos := make([]pluginInfo, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		info := pluginInfo{
			ID:        d.ID,
			Name:      d.Name,
			Version:   d.Version,
			MountPath: d.MountPath,
			Loaded:    d.Loaded(),
		}
		if d.Err != nil {
			info.Error = d.Err.Error()
		}
		infos = append(infos, info)
	}
	c.JSON(http.StatusOK, infos)
}

func (r *Registry) dispatch(c *gin.Context) {
	name := c.Param("name")
	for _, d := range r.Loaded() {
		if d.Name != name {
			continue
		}
		if err := d.ServeRel(c, c.Param("rest")); err != nil {
			he := httperr.From(err)
			c.JSON(he.ResolveStatus(), gin.H{"error": he.Message})
		}
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	out := cors.Config{
		AllowMethods:     cfg.AllowedMethods,
		AllowHeaders:     cfg.AllowedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           time.Duration(cfg.MaxAge) * time.Second,
	}
	if len(cfg.AllowedOrigins) == 0 {
		// cors.New rejects wildcard origins combined with credentials.
		out.AllowAllOrigins = true
		out.AllowCredentials = false
	} else {
		out.AllowOrigins = cfg.AllowedOrigins
	}
	if len(out.AllowMethods) == 0 {
		out.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(out.AllowHeaders) == 0 {
		out.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	}
	return out
}
