package health

import (
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LatestEpisode describes the newest item of a published feed.
type LatestEpisode struct {
	Title   string `json:"title"`
	PubDate int64  `json:"pubdate"`
}

// PodcastStatus is the per-podcast health view.
type PodcastStatus struct {
	RSSAvailable    bool          `json:"rss_available"`
	RSSFetchingLive bool          `json:"rss_fetching_live"`
	LastFetched     int64         `json:"last_fetched"`
	HealthyFeed     bool          `json:"healthy_feed"`
	HealthyDownload bool          `json:"healthy_download"`
	EpisodeCount    int           `json:"episode_count"`
	LatestEpisode   LatestEpisode `json:"latest_episode"`
}

// CoreStatus is the process-wide health view.
type CoreStatus struct {
	Alive                  bool    `json:"alive"`
	LastRun                int64   `json:"last_run"`
	LastStartup            int64   `json:"last_startup"`
	CurrentlyRendering     bool    `json:"currently_rendering"`
	CurrentlyLoadingConfig bool    `json:"currently_loading_config"`
	MemoryMB               float64 `json:"memory_mb"`
	Debug                  bool    `json:"debug"`
}

// TemplateStatus tracks when a rendered page was last produced.
type TemplateStatus struct {
	LastRender int64 `json:"last_render"`
}

type snapshot struct {
	Core      CoreStatus                 `json:"core"`
	Podcasts  map[string]*PodcastStatus  `json:"podcasts"`
	Templates map[string]*TemplateStatus `json:"templates"`
	Version   string                     `json:"version"`
}

// Registry is the process-wide, thread-safe health view. All writes go
// through the typed setters below.
type Registry struct {
	mu        sync.RWMutex
	core      CoreStatus
	podcasts  map[string]*PodcastStatus
	templates map[string]*TemplateStatus
	version   string
}

func NewRegistry(version string, debug bool) *Registry {
	return &Registry{
		core: CoreStatus{
			Alive:       true,
			LastStartup: time.Now().Unix(),
			Debug:       debug,
		},
		podcasts:  make(map[string]*PodcastStatus),
		templates: make(map[string]*TemplateStatus),
		version:   version,
	}
}

// Snapshot returns the JSON health view. Memory is sampled on read.
func (r *Registry) Snapshot() ([]byte, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	r.mu.Lock()
	r.core.MemoryMB = float64(stats.Sys) / (1024 * 1024)
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot{
		Core:      r.core,
		Podcasts:  r.podcasts,
		Templates: r.templates,
		Version:   r.version,
	}, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal health snapshot")
	}

	return data, nil
}

func (r *Registry) podcast(name string) *PodcastStatus {
	if _, ok := r.podcasts[name]; !ok {
		r.podcasts[name] = &PodcastStatus{}
	}
	return r.podcasts[name]
}

func (r *Registry) SetRSSAvailable(name string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.podcast(name).RSSAvailable = available
}

func (r *Registry) SetFetchingLive(name string, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.podcast(name).RSSFetchingLive = live
}

func (r *Registry) SetLastFetched(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.podcast(name).LastFetched = time.Now().Unix()
}

func (r *Registry) SetHealthyFeed(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.podcast(name).HealthyFeed = healthy
}

func (r *Registry) SetHealthyDownload(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.podcast(name).HealthyDownload = healthy
}

// UpdateEpisodeInfo extracts episode count and latest episode details from
// published feed bytes.
func (r *Registry) UpdateEpisodeInfo(name string, feedBytes []byte) {
	feed, err := gofeed.NewParser().ParseString(string(feedBytes))
	if err != nil {
		log.WithError(err).Errorf("failed to parse published feed for health: %s", name)
		return
	}

	latest := LatestEpisode{Title: "Unknown"}
	if len(feed.Items) > 0 {
		item := feed.Items[0]
		if item.Title != "" {
			latest.Title = item.Title
		}
		if item.PublishedParsed != nil {
			latest.PubDate = item.PublishedParsed.Unix()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.podcast(name)
	status.EpisodeCount = len(feed.Items)
	status.LatestEpisode = latest
}

func (r *Registry) SetLastRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.core.LastRun = time.Now().Unix()
}

func (r *Registry) SetRendering(rendering bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.core.CurrentlyRendering = rendering
}

func (r *Registry) SetLoadingConfig(loading bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.core.CurrentlyLoadingConfig = loading
}

func (r *Registry) SetTemplateRendered(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[name]; !ok {
		r.templates[name] = &TemplateStatus{}
	}
	r.templates[name].LastRender = time.Now().Unix()
}

// Rendering reports whether a render pass is in flight.
func (r *Registry) Rendering() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.core.CurrentlyRendering
}
