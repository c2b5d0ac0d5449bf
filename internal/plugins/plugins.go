// Package plugins discovers plugin manifests from configured search paths
// and mounts each loaded plugin's router at its declared mount path and
// under the shared /api/applications namespace.
//
// Discovery is best effort: a plugin that fails to load keeps its failure
// on the descriptor and does not prevent the remaining plugins from
// loading.
package plugins

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/parsecraft/devgate/pkg/config"
	"github.com/parsecraft/devgate/pkg/httperr"
)

// APIPrefix is the shared namespace every loaded plugin is also mounted
// under.
const APIPrefix = "/api/applications"

// ManifestName is the file looked for in each plugin directory.
const ManifestName = "plugin.yaml"

// Manifest is the on-disk plugin descriptor.
type Manifest struct {
	Name        string     `yaml:"name"`
	Version     string     `yaml:"version"`
	Description string     `yaml:"description"`
	Router      RouterSpec `yaml:"router"`
}

// RouterSpec declares what the plugin's router does. Exactly one of
// StaticRoot and Upstream must be set.
type RouterSpec struct {
	// MountPath is where the router is grafted onto the pipeline.
	MountPath string `yaml:"mount_path"`
	// StaticRoot is an asset directory relative to the plugin directory.
	StaticRoot string `yaml:"static_root"`
	// Upstream is a host:port the router reverse-proxies to.
	Upstream string `yaml:"upstream"`
}

// Descriptor is one discovered plugin. Err carries the load failure, if
// any; only descriptors with a nil Err are mounted.
type Descriptor struct {
	ID        string
	Name      string
	Version   string
	MountPath string
	Dir       string
	Err       error

	static   string
	upstream *httputil.ReverseProxy
}

// Loaded reports whether the plugin loaded successfully.
func (d *Descriptor) Loaded() bool {
	return d.Err == nil
}

// ServeRel serves a request routed to this plugin, with rel the path
// relative to whichever mount the request came in through.
func (d *Descriptor) ServeRel(c *gin.Context, rel string) error {
	if d.upstream != nil {
		c.Request.URL.Path = "/" + strings.TrimPrefix(rel, "/")
		d.upstream.ServeHTTP(c.Writer, c.Request)
		return nil
	}

	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "index.html"
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return httperr.NotFound("Not Found")
	}
	full := filepath.Join(d.static, filepath.FromSlash(clean))
	if _, err := os.Stat(full); err != nil {
		return err
	}
	c.File(full)
	return nil
}

// Serve handles a request that arrived via the plugin's own mount path.
func (d *Descriptor) Serve(c *gin.Context) error {
	return d.ServeRel(c, strings.TrimPrefix(c.Request.URL.Path, d.MountPath))
}

// Registry holds the discovery result, mounted once before the pipeline
// starts serving.
type Registry struct {
	descriptors []*Descriptor
	logger      *zap.Logger
}

// Discover loads every plugin named by the configuration: explicit paths
// first, then each search directory scanned one level deep.
func Discover(cfg config.PluginConfig, logger *zap.Logger) *Registry {
	r := &Registry{logger: logger.Named("plugins")}

	dirs := append([]string{}, cfg.Paths...)
	for _, search := range cfg.SearchDirs {
		entries, err := os.ReadDir(search)
		if err != nil {
			r.logger.Warn("failed to read plugin search dir",
				zap.String("dir", search),
				zap.Error(err),
			)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(search, e.Name()))
			}
		}
	}

	for _, dir := range dirs {
		d := load(dir)
		if d.Err != nil {
			r.logger.Warn("plugin failed to load",
				zap.String("dir", dir),
				zap.Error(d.Err),
			)
		} else {
			r.logger.Info("plugin loaded",
				zap.String("name", d.Name),
				zap.String("version", d.Version),
				zap.String("mount_path", d.MountPath),
			)
		}
		r.descriptors = append(r.descriptors, d)
	}

	return r
}

func load(dir string) *Descriptor {
	d := &Descriptor{ID: uuid.NewString(), Dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		d.Err = fmt.Errorf("read manifest: %w", err)
		return d
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		d.Err = fmt.Errorf("parse manifest: %w", err)
		return d
	}

	d.Name = m.Name
	d.Version = m.Version
	d.MountPath = m.Router.MountPath

	switch {
	case m.Name == "":
		d.Err = fmt.Errorf("manifest is missing name")
	case d.MountPath == "" || !strings.HasPrefix(d.MountPath, "/"):
		d.Err = fmt.Errorf("manifest mount_path %q must start with /", d.MountPath)
	case m.Router.StaticRoot != "" && m.Router.Upstream != "":
		d.Err = fmt.Errorf("manifest declares both static_root and upstream")
	case m.Router.StaticRoot != "":
		d.static = filepath.Join(dir, m.Router.StaticRoot)
		if _, err := os.Stat(d.static); err != nil {
			d.Err = fmt.Errorf("static root: %w", err)
		}
	case m.Router.Upstream != "":
		target := &url.URL{Scheme: "http", Host: m.Router.Upstream}
		d.upstream = httputil.NewSingleHostReverseProxy(target)
		d.upstream.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusBadGateway)
		}
	default:
		d.Err = fmt.Errorf("manifest declares neither static_root nor upstream")
	}

	return d
}

// Descriptors returns every discovered plugin, loaded or not.
func (r *Registry) Descriptors() []*Descriptor {
	return r.descriptors
}

// Loaded returns the successfully loaded plugins in discovery order.
func (r *Registry) Loaded() []*Descriptor {
	var out []*Descriptor
	for _, d := range r.descriptors {
		if d.Loaded() {
			out = append(out, d)
		}
	}
	return out
}
