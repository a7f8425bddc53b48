package render

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podarchive/podarchive/pkg/config"
	"github.com/podarchive/podarchive/pkg/fs"
	"github.com/podarchive/podarchive/pkg/health"
)

//go:embed templates static
var assets embed.FS

const robotsTxt = "User-Agent: *\nDisallow: /\n"

// Page is one rendered artifact kept in memory for the HTTP surface.
type Page struct {
	MIME    string
	Content []byte
}

// Renderer produces the static pages (index, guide, health, webplayer,
// file list, robots.txt) and writes them to the storage backend. Rendered
// bytes are also cached in memory so the web tier never touches disk.
type Renderer struct {
	mu    sync.RWMutex
	pages map[string]Page

	templates *template.Template
	storage   fs.Storage
	index     *fs.PathIndex
	health    *health.Registry
	webRoot   string
}

func New(storage fs.Storage, index *fs.PathIndex, registry *health.Registry, webRoot string) (*Renderer, error) {
	templates, err := template.ParseFS(assets, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse templates")
	}

	return &Renderer{
		pages:     make(map[string]Page),
		templates: templates,
		storage:   storage,
		index:     index,
		health:    registry,
		webRoot:   webRoot,
	}, nil
}

// Page returns a cached rendered artifact.
func (r *Renderer) Page(path string) (Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	page, ok := r.pages[path]
	return page, ok
}

type podcastView struct {
	Name        string
	Title       string
	Description string
	FeedURL     string
}

type pageData struct {
	Title       string
	Description string
	Contact     string
	HasAbout    bool
	Podcasts    []podcastView
	Generated   string
}

type fileView struct {
	URL  string
	Size int64
}

type fileListData struct {
	pageData
	Files []fileView
}

// RenderAll regenerates every static page and uploads it.
func (r *Renderer) RenderAll(ctx context.Context, app config.App, podcasts []*config.Podcast) error {
	r.health.SetRendering(true)
	defer r.health.SetRendering(false)

	data := r.pageData(app, podcasts)

	for _, name := range []string{"index.html", "guide.html", "health.html", "webplayer.html", "error.html"} {
		if err := r.renderPage(ctx, name, data); err != nil {
			return err
		}
	}

	if err := r.RenderFileList(ctx, app, podcasts); err != nil {
		return err
	}

	if err := r.publish(ctx, "robots.txt", "text/plain", []byte(robotsTxt)); err != nil {
		return err
	}

	if err := r.publishStatic(ctx); err != nil {
		return err
	}

	r.loadAboutPage(ctx)

	return nil
}

// RenderFileList regenerates only the file listing, which changes on
// every tick that downloads something.
func (r *Renderer) RenderFileList(ctx context.Context, app config.App, podcasts []*config.Podcast) error {
	data := fileListData{pageData: r.pageData(app, podcasts)}

	for _, obj := range r.index.Objects() {
		data.Files = append(data.Files, fileView{
			URL:  r.storage.URL(obj.Key),
			Size: obj.Size,
		})
	}

	return r.renderPage(ctx, "filelist.html", data)
}

func (r *Renderer) pageData(app config.App, podcasts []*config.Podcast) pageData {
	data := pageData{
		Title:       app.WebPage.Title,
		Description: app.WebPage.Description,
		Contact:     app.WebPage.Contact,
		Generated:   time.Now().UTC().Format(time.RFC1123),
	}

	_, hasAbout := r.Page("about.html")
	data.HasAbout = hasAbout

	for _, podcast := range podcasts {
		data.Podcasts = append(data.Podcasts, podcastView{
			Name:        podcast.NameOneWord,
			Title:       podcast.NewName,
			Description: podcast.Description,
			FeedURL:     app.InetPath + "rss/" + podcast.NameOneWord,
		})
	}

	return data
}

func (r *Renderer) renderPage(ctx context.Context, name string, data interface{}) error {
	var buf bytes.Buffer

	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return errors.Wrapf(err, "failed to render template: %s", name)
	}

	if err := r.publish(ctx, name, "text/html; charset=utf-8", buf.Bytes()); err != nil {
		return err
	}

	r.health.SetTemplateRendered(name)
	return nil
}

func (r *Renderer) publish(ctx context.Context, key string, mime string, content []byte) error {
	r.mu.Lock()
	r.pages[key] = Page{MIME: mime, Content: content}
	r.mu.Unlock()

	if err := r.storage.PutBytes(ctx, key, content, mime); err != nil {
		return errors.Wrapf(err, "failed to publish page: %s", key)
	}

	log.Debugf("rendered %s, %d bytes", key, len(content))
	return nil
}

func (r *Renderer) publishStatic(ctx context.Context) error {
	entries, err := assets.ReadDir("static")
	if err != nil {
		return errors.Wrap(err, "failed to read embedded static assets")
	}

	for _, entry := range entries {
		content, err := assets.ReadFile("static/" + entry.Name())
		if err != nil {
			return errors.Wrapf(err, "failed to read static asset: %s", entry.Name())
		}

		key := "static/" + entry.Name()
		mime := "application/octet-stream"
		switch filepath.Ext(entry.Name()) {
		case ".css":
			mime = "text/css"
		case ".js":
			mime = "text/javascript"
		case ".ico":
			// Browsers expect the icon at the site root.
			key = entry.Name()
			mime = "image/x-icon"
		}

		if err := r.publish(ctx, key, mime, content); err != nil {
			return err
		}
	}

	return nil
}

// loadAboutPage picks up a hand-written about.html from the web root.
// The page is optional, its absence is not an error.
func (r *Renderer) loadAboutPage(ctx context.Context) {
	path := filepath.Join(r.webRoot, "about.html")

	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("failed to read about page: %s", path)
		}
		return
	}

	if err := r.publish(ctx, "about.html", "text/html; charset=utf-8", content); err != nil {
		log.WithError(err).Error("failed to publish about page")
	}
}
