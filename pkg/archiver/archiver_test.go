package archiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podarchive/podarchive/pkg/config"
	"github.com/podarchive/podarchive/pkg/fs"
	"github.com/podarchive/podarchive/pkg/health"
	"github.com/podarchive/podarchive/pkg/render"
	"github.com/podarchive/podarchive/pkg/rewrite"
	"github.com/podarchive/podarchive/pkg/rss"
)

var testCtx = context.Background()

// fakeRewriter returns canned results per podcast name.
type fakeRewriter struct {
	feeds map[string]*rss.Feed
	errs  map[string]error
	calls map[string]int
}

func newFakeRewriter() *fakeRewriter {
	return &fakeRewriter{
		feeds: make(map[string]*rss.Feed),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeRewriter) Rewrite(_ context.Context, podcast *config.Podcast) (*rewrite.Result, error) {
	f.calls[podcast.NameOneWord]++

	if err := f.errs[podcast.NameOneWord]; err != nil {
		return nil, err
	}
	return &rewrite.Result{Feed: f.feeds[podcast.NameOneWord], DownloadHealthy: true}, nil
}

func testFeed(title string) *rss.Feed {
	return &rss.Feed{
		Version: "2.0",
		Channel: &rss.Channel{
			Title:       title,
			Link:        "https://podcasts.example.com/",
			Description: "archived",
			Items: []*rss.Item{
				{
					Title:     "Ep 1",
					PubDate:   "Mon, 02 Jan 2023 15:04:05 GMT",
					Enclosure: &rss.Enclosure{URL: "https://podcasts.example.com/content/show/ep1.mp3", Length: "10", Type: "audio/mpeg"},
				},
			},
		},
	}
}

type fixture struct {
	arc      *Archiver
	rewriter *fakeRewriter
	registry *health.Registry
	webRoot  string
}

func newFixture(t *testing.T, podcasts ...*config.Podcast) *fixture {
	t.Helper()

	webRoot := t.TempDir()
	storage, err := fs.NewLocal(webRoot, "https://podcasts.example.com/")
	require.NoError(t, err)

	index := fs.NewPathIndex()
	registry := health.NewRegistry("test", false)

	renderer, err := render.New(storage, index, registry, webRoot)
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.App{
			InetPath:       "https://podcasts.example.com/",
			StorageBackend: config.BackendLocal,
			WebPage:        config.WebPage{Title: "Archive"},
		},
		Podcasts: podcasts,
	}

	rewriter := newFakeRewriter()
	return &fixture{
		arc:      New(cfg, rewriter, renderer, storage, index, registry, webRoot),
		rewriter: rewriter,
		registry: registry,
		webRoot:  webRoot,
	}
}

func TestArchiver_Tick(t *testing.T) {
	f := newFixture(t, &config.Podcast{NameOneWord: "show", URL: "https://up.example.com/feed.xml", Live: true})
	f.rewriter.feeds["show"] = testFeed("The Show")

	require.NoError(t, f.arc.Tick(testCtx))

	// Feed is in the published table and on disk.
	content, ok := f.arc.FeedBytes("show")
	require.True(t, ok)
	assert.Contains(t, string(content), "The Show")

	disk, err := os.ReadFile(filepath.Join(f.webRoot, "rss", "show"))
	require.NoError(t, err)
	assert.Equal(t, content, disk)

	// The render pass ran.
	snapshot, err := f.registry.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), `"rss_available": true`)
	assert.Contains(t, string(snapshot), `"episode_count": 1`)
	assert.Contains(t, string(snapshot), "index.html")
}

func TestArchiver_Tick_UnchangedFeedNotRewritten(t *testing.T) {
	f := newFixture(t, &config.Podcast{NameOneWord: "show", URL: "https://up.example.com/feed.xml", Live: true})
	f.rewriter.feeds["show"] = testFeed("The Show")

	require.NoError(t, f.arc.Tick(testCtx))

	path := filepath.Join(f.webRoot, "rss", "show")
	first, err := os.Stat(path)
	require.NoError(t, err)

	// Make a second publish of identical bytes detectable.
	require.NoError(t, os.Chtimes(path, first.ModTime().Add(-1e9), first.ModTime().Add(-1e9)))
	stamped, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, f.arc.Tick(testCtx))

	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, stamped.ModTime(), second.ModTime())
	assert.Equal(t, 2, f.rewriter.calls["show"])
}

func TestArchiver_Tick_FetchFailureFallsBackToDisk(t *testing.T) {
	f := newFixture(t, &config.Podcast{NameOneWord: "show", URL: "https://up.example.com/feed.xml", Live: true})
	f.rewriter.feeds["show"] = testFeed("The Show")

	require.NoError(t, f.arc.Tick(testCtx))

	// Upstream goes away; the archived copy keeps being served.
	f.rewriter.errs["show"] = errors.Wrap(rewrite.ErrFeedUnavailable, "boom")

	err := f.arc.Tick(testCtx)
	assert.Error(t, err)

	content, ok := f.arc.FeedBytes("show")
	require.True(t, ok)
	assert.Contains(t, string(content), "The Show")

	snapshot, _ := f.registry.Snapshot()
	assert.Contains(t, string(snapshot), `"healthy_feed": false`)
	assert.Contains(t, string(snapshot), `"rss_available": true`)
}

func TestArchiver_Tick_NotLiveLoadsDisk(t *testing.T) {
	f := newFixture(t, &config.Podcast{NameOneWord: "show", URL: "https://up.example.com/feed.xml", Live: false})

	// A previous deployment left a feed on disk.
	require.NoError(t, os.MkdirAll(filepath.Join(f.webRoot, "rss"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(f.webRoot, "rss", "show"),
		testFeed("Old Show").Bytes(), 0644))

	require.NoError(t, f.arc.Tick(testCtx))

	assert.Zero(t, f.rewriter.calls["show"])

	content, ok := f.arc.FeedBytes("show")
	require.True(t, ok)
	assert.Contains(t, string(content), "Old Show")
}

func TestArchiver_Tick_NoDiskCopy(t *testing.T) {
	f := newFixture(t, &config.Podcast{NameOneWord: "show", URL: "https://up.example.com/feed.xml", Live: false})

	require.NoError(t, f.arc.Tick(testCtx))

	_, ok := f.arc.FeedBytes("show")
	assert.False(t, ok)

	snapshot, _ := f.registry.Snapshot()
	assert.Contains(t, string(snapshot), `"rss_available": false`)
}

func TestArchiver_Tick_PanicIsolated(t *testing.T) {
	f := newFixture(t,
		&config.Podcast{NameOneWord: "bad", URL: "https://up.example.com/bad.xml", Live: true},
		&config.Podcast{NameOneWord: "good", URL: "https://up.example.com/good.xml", Live: true},
	)

	// The bad podcast has no canned feed, so the fake returns a nil feed
	// and publishing panics; the good podcast must still archive.
	f.rewriter.feeds["good"] = testFeed("Good Show")

	err := f.arc.Tick(testCtx)
	assert.Error(t, err)

	_, ok := f.arc.FeedBytes("good")
	assert.True(t, ok)
}

func TestArchiver_SetConfig(t *testing.T) {
	f := newFixture(t, &config.Podcast{NameOneWord: "show", URL: "https://up.example.com/feed.xml", Live: true})
	f.rewriter.feeds["show"] = testFeed("The Show")

	next := &config.Config{
		App:      f.arc.Config().App,
		Podcasts: []*config.Podcast{{NameOneWord: "fresh", URL: "https://up.example.com/fresh.xml", Live: true}},
	}
	f.rewriter.feeds["fresh"] = testFeed("Fresh Show")

	f.arc.SetConfig(next)
	require.NoError(t, f.arc.Tick(testCtx))

	assert.Zero(t, f.rewriter.calls["show"])
	assert.Equal(t, 1, f.rewriter.calls["fresh"])
}
