package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podarchive/podarchive/pkg/archiver"
	"github.com/podarchive/podarchive/pkg/config"
	"github.com/podarchive/podarchive/pkg/fs"
	"github.com/podarchive/podarchive/pkg/health"
	"github.com/podarchive/podarchive/pkg/render"
)

type serverFixture struct {
	srv      *httptest.Server
	arc      *archiver.Archiver
	webRoot  string
	reloaded chan struct{}
}

func newServerFixture(t *testing.T, cfg *config.Config, debug bool) *serverFixture {
	t.Helper()

	webRoot := t.TempDir()
	storage, err := fs.NewLocal(webRoot, cfg.App.InetPath)
	require.NoError(t, err)

	index := fs.NewPathIndex()
	registry := health.NewRegistry("test", debug)

	renderer, err := render.New(storage, index, registry, webRoot)
	require.NoError(t, err)
	require.NoError(t, renderer.RenderAll(context.Background(), cfg.App, cfg.Podcasts))

	arc := archiver.New(cfg, nil, renderer, storage, index, registry, webRoot)

	reloaded := make(chan struct{}, 1)
	httpSrv := newServer(cfg, arc, renderer, registry, webRoot, debug, func() {
		reloaded <- struct{}{}
	})

	srv := httptest.NewServer(httpSrv.Handler)
	t.Cleanup(srv.Close)

	return &serverFixture{srv: srv, arc: arc, webRoot: webRoot, reloaded: reloaded}
}

func localConfig() *config.Config {
	return &config.Config{
		App: config.App{
			InetPath:       "https://podcasts.example.com/",
			StorageBackend: config.BackendLocal,
			WebPage:        config.WebPage{Title: "Archive"},
		},
		Podcasts: []*config.Podcast{
			{NameOneWord: "show", URL: "https://up.example.com/feed.xml", Live: true},
		},
		Server: config.Server{Port: 0, BindAddress: "*"},
	}
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServer_Feed(t *testing.T) {
	f := newServerFixture(t, localConfig(), false)

	// Nothing published yet.
	resp := get(t, f.srv.URL+"/rss/show")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A feed persisted by a previous run is picked up from disk.
	require.NoError(t, os.MkdirAll(filepath.Join(f.webRoot, "rss"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(f.webRoot, "rss", "show"),
		[]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Disk Show</title></channel></rss>`),
		0644))

	resp = get(t, f.srv.URL+"/rss/show")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/rss+xml; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, readBody(t, resp), "Disk Show")
}

func TestServer_Content_Local(t *testing.T) {
	f := newServerFixture(t, localConfig(), false)

	path := filepath.Join(f.webRoot, "content", "show", "ep.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0644))

	resp := get(t, f.srv.URL+"/content/show/ep.mp3")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio", readBody(t, resp))

	resp = get(t, f.srv.URL+"/content/show/missing.mp3")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Content_S3Redirect(t *testing.T) {
	cfg := localConfig()
	cfg.App.StorageBackend = config.BackendS3
	cfg.App.S3 = fs.S3Config{Bucket: "archive", CDNDomain: "https://cdn.example.com/"}

	f := newServerFixture(t, cfg, false)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(f.srv.URL + "/content/show/ep.mp3")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "https://cdn.example.com/content/show/ep.mp3", resp.Header.Get("Location"))
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t, localConfig(), false)

	resp := get(t, f.srv.URL+"/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, `"alive": true`)
	assert.Contains(t, body, `"templates"`)
}

func TestServer_Pages(t *testing.T) {
	f := newServerFixture(t, localConfig(), false)

	for _, path := range []string{"/", "/guide", "/guide.html", "/webplayer", "/filelist", "/health.html", "/robots.txt", "/favicon.ico", "/static/style.css"} {
		resp := get(t, f.srv.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp := get(t, f.srv.URL+"/")
	assert.Contains(t, readBody(t, resp), "Archive")

	resp = get(t, f.srv.URL+"/no/such/page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Not Found")
}

func TestServer_Reload(t *testing.T) {
	// Reload endpoint exists only in debug mode.
	f := newServerFixture(t, localConfig(), false)
	resp := get(t, f.srv.URL+"/api/reload")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f = newServerFixture(t, localConfig(), true)
	resp = get(t, f.srv.URL+"/api/reload")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-f.reloaded:
	case <-time.After(time.Second):
		t.Fatal("reload callback was not invoked")
	}
}
