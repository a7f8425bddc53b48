package health

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Snapshot(t *testing.T) {
	registry := NewRegistry("1.0.0", true)

	registry.SetRSSAvailable("show", true)
	registry.SetHealthyFeed("show", true)
	registry.SetHealthyDownload("show", false)
	registry.SetLastFetched("show")
	registry.SetLastRun()
	registry.SetTemplateRendered("index.html")

	data, err := registry.Snapshot()
	require.NoError(t, err)

	var parsed struct {
		Core struct {
			Alive       bool    `json:"alive"`
			LastRun     int64   `json:"last_run"`
			LastStartup int64   `json:"last_startup"`
			MemoryMB    float64 `json:"memory_mb"`
			Debug       bool    `json:"debug"`
		} `json:"core"`
		Podcasts map[string]struct {
			RSSAvailable    bool `json:"rss_available"`
			HealthyFeed     bool `json:"healthy_feed"`
			HealthyDownload bool `json:"healthy_download"`
			LastFetched     int64 `json:"last_fetched"`
		} `json:"podcasts"`
		Templates map[string]struct {
			LastRender int64 `json:"last_render"`
		} `json:"templates"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.True(t, parsed.Core.Alive)
	assert.True(t, parsed.Core.Debug)
	assert.NotZero(t, parsed.Core.LastRun)
	assert.NotZero(t, parsed.Core.LastStartup)
	assert.Greater(t, parsed.Core.MemoryMB, 0.0)
	assert.Equal(t, "1.0.0", parsed.Version)

	show, ok := parsed.Podcasts["show"]
	require.True(t, ok)
	assert.True(t, show.RSSAvailable)
	assert.True(t, show.HealthyFeed)
	assert.False(t, show.HealthyDownload)
	assert.NotZero(t, show.LastFetched)

	index, ok := parsed.Templates["index.html"]
	require.True(t, ok)
	assert.NotZero(t, index.LastRender)
}

func TestRegistry_UpdateEpisodeInfo(t *testing.T) {
	const feed = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0">
  <channel>
    <title>Show</title>
    <item>
      <title>Newest</title>
      <pubDate>Tue, 03 Jan 2023 15:04:05 GMT</pubDate>
      <enclosure url="https://example.com/2.mp3" length="2" type="audio/mpeg"/>
    </item>
    <item>
      <title>Older</title>
      <pubDate>Mon, 02 Jan 2023 15:04:05 GMT</pubDate>
      <enclosure url="https://example.com/1.mp3" length="1" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

	registry := NewRegistry("dev", false)
	registry.UpdateEpisodeInfo("show", []byte(feed))

	data, err := registry.Snapshot()
	require.NoError(t, err)

	var parsed struct {
		Podcasts map[string]struct {
			EpisodeCount  int `json:"episode_count"`
			LatestEpisode struct {
				Title   string `json:"title"`
				PubDate int64  `json:"pubdate"`
			} `json:"latest_episode"`
		} `json:"podcasts"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))

	show := parsed.Podcasts["show"]
	assert.Equal(t, 2, show.EpisodeCount)
	assert.Equal(t, "Newest", show.LatestEpisode.Title)
	assert.NotZero(t, show.LatestEpisode.PubDate)
}

func TestRegistry_UpdateEpisodeInfo_BadFeed(t *testing.T) {
	registry := NewRegistry("dev", false)
	registry.UpdateEpisodeInfo("show", []byte("not a feed"))

	data, err := registry.Snapshot()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"show"`)
}

func TestRegistry_Rendering(t *testing.T) {
	registry := NewRegistry("dev", false)

	assert.False(t, registry.Rendering())
	registry.SetRendering(true)
	assert.True(t, registry.Rendering())
	registry.SetRendering(false)
	assert.False(t, registry.Rendering())
}
