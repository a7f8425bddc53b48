package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/podarchive/podarchive/pkg/archiver"
	"github.com/podarchive/podarchive/pkg/config"
	"github.com/podarchive/podarchive/pkg/health"
	"github.com/podarchive/podarchive/pkg/render"
)

// newServer wires the HTTP surface: feeds from the in-memory table, media
// from disk or the CDN, rendered pages from the renderer cache.
func newServer(
	cfg *config.Config,
	arc *archiver.Archiver,
	renderer *render.Renderer,
	registry *health.Registry,
	webRoot string,
	debug bool,
	reload func(),
) *http.Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	remote := cfg.App.StorageBackend == config.BackendS3
	cdnDomain := cfg.App.S3.CDNDomain

	r.GET("/rss/:feed", func(c *gin.Context) {
		name := c.Param("feed")
		if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
			notFound(c, renderer)
			return
		}

		content, ok := arc.FeedBytes(name)
		if !ok {
			notFound(c, renderer)
			return
		}

		c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", content)
	})

	r.GET("/content/*filepath", func(c *gin.Context) {
		rel := strings.TrimPrefix(c.Param("filepath"), "/")

		if rel == "" || strings.Contains(rel, "..") {
			notFound(c, renderer)
			return
		}

		if remote {
			c.Redirect(http.StatusTemporaryRedirect, cdnDomain+"content/"+rel)
			return
		}

		c.File(filepath.Join(webRoot, "content", filepath.FromSlash(rel)))
	})

	r.GET("/api/health", func(c *gin.Context) {
		snapshot, err := registry.Snapshot()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json; charset=utf-8", snapshot)
	})

	if debug {
		r.GET("/api/reload", func(c *gin.Context) {
			log.Info("reload requested over HTTP")
			go reload()
			c.JSON(http.StatusOK, gin.H{"status": "reloading"})
		})
	}

	// Everything else is a rendered page kept in the renderer cache.
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusMethodNotAllowed)
			return
		}

		servePage(c, renderer)
	})

	bind := cfg.Server.BindAddress
	if bind == "*" {
		bind = ""
	}

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", bind, cfg.Server.Port),
		Handler: r,
	}
}

func servePage(c *gin.Context, renderer *render.Renderer) {
	key := strings.TrimPrefix(c.Request.URL.Path, "/")

	switch key {
	case "", "index":
		key = "index.html"
	case "guide", "health", "webplayer", "filelist", "about", "error":
		key += ".html"
	}

	page, ok := renderer.Page(key)
	if !ok {
		notFound(c, renderer)
		return
	}

	c.Data(http.StatusOK, page.MIME, page.Content)
}

func notFound(c *gin.Context, renderer *render.Renderer) {
	if page, ok := renderer.Page("error.html"); ok {
		c.Data(http.StatusNotFound, page.MIME, page.Content)
		return
	}

	c.String(http.StatusNotFound, "not found")
}
