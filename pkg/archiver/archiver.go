package archiver

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podarchive/podarchive/pkg/config"
	"github.com/podarchive/podarchive/pkg/fs"
	"github.com/podarchive/podarchive/pkg/health"
	"github.com/podarchive/podarchive/pkg/render"
	"github.com/podarchive/podarchive/pkg/rewrite"
)

// podcastTimeout bounds one podcast's fetch/download/transcode work so a
// stalled upstream can't wedge the whole archive run.
const podcastTimeout = 30 * time.Minute

// FeedRewriter produces an archived feed for one podcast.
type FeedRewriter interface {
	Rewrite(ctx context.Context, podcast *config.Podcast) (*rewrite.Result, error)
}

// Archiver drives the periodic archive runs and owns the published feed
// table served by the HTTP tier.
type Archiver struct {
	configMu sync.RWMutex
	cfg      *config.Config

	feedMu sync.RWMutex
	feeds  map[string][]byte

	rewriter FeedRewriter
	renderer *render.Renderer
	storage  fs.Storage
	index    *fs.PathIndex
	health   *health.Registry
	webRoot  string
	remote   bool
}

func New(
	cfg *config.Config,
	rewriter FeedRewriter,
	renderer *render.Renderer,
	storage fs.Storage,
	index *fs.PathIndex,
	registry *health.Registry,
	webRoot string,
) *Archiver {
	return &Archiver{
		cfg:      cfg,
		feeds:    make(map[string][]byte),
		rewriter: rewriter,
		renderer: renderer,
		storage:  storage,
		index:    index,
		health:   registry,
		webRoot:  webRoot,
		remote:   cfg.App.StorageBackend == config.BackendS3,
	}
}

// Config returns the active configuration.
func (a *Archiver) Config() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.cfg
}

// SetConfig swaps the active configuration. Takes effect on the next run.
func (a *Archiver) SetConfig(cfg *config.Config) {
	a.configMu.Lock()
	a.cfg = cfg
	a.configMu.Unlock()
}

// FeedBytes returns the published feed for a podcast name. Feeds not yet
// loaded this run are read from the on-disk copy of a previous run.
func (a *Archiver) FeedBytes(name string) ([]byte, bool) {
	a.feedMu.RLock()
	content, ok := a.feeds[name]
	a.feedMu.RUnlock()
	if ok {
		return content, true
	}

	content, err := os.ReadFile(a.feedPath(name))
	if err != nil {
		return nil, false
	}

	a.feedMu.Lock()
	a.feeds[name] = content
	a.feedMu.Unlock()
	return content, true
}

func (a *Archiver) feedPath(name string) string {
	return filepath.Join(a.webRoot, "rss", name)
}

// Tick runs one full archive pass: refresh the path index, process every
// podcast concurrently, then re-render the static pages.
func (a *Archiver) Tick(ctx context.Context) error {
	started := time.Now()
	a.health.SetLastRun()

	cfg := a.Config()

	if err := a.index.Refresh(ctx, a.storage); err != nil {
		log.WithError(err).Error("failed to refresh path index, continuing with stale entries")
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		merr  *multierror.Error
	)

	for _, podcast := range cfg.Podcasts {
		podcast := podcast
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := a.processPodcast(ctx, podcast); err != nil {
				errMu.Lock()
				merr = multierror.Append(merr, err)
				errMu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := a.renderer.RenderAll(ctx, cfg.App, cfg.Podcasts); err != nil {
		errMu.Lock()
		merr = multierror.Append(merr, err)
		errMu.Unlock()
	}

	log.Infof("archive run finished in %s", time.Since(started).Round(time.Millisecond))
	return merr.ErrorOrNil()
}

func (a *Archiver) processPodcast(ctx context.Context, podcast *config.Podcast) (err error) {
	name := podcast.NameOneWord
	logger := log.WithField("podcast", name)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic while archiving podcast: %v", r)
			err = errors.Errorf("panic while archiving %q: %v", name, r)
		}
	}()

	if !podcast.Live {
		a.loadFromDisk(podcast)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, podcastTimeout)
	defer cancel()

	a.health.SetFetchingLive(name, true)
	defer a.health.SetFetchingLive(name, false)

	result, rewriteErr := a.rewriter.Rewrite(ctx, podcast)
	a.health.SetLastFetched(name)

	if rewriteErr != nil {
		a.health.SetHealthyFeed(name, false)
		logger.WithError(rewriteErr).Error("failed to fetch live feed, serving archived copy")
		a.loadFromDisk(podcast)
		return errors.Wrapf(rewriteErr, "podcast %q", name)
	}

	a.health.SetHealthyFeed(name, true)
	a.health.SetHealthyDownload(name, result.DownloadHealthy)

	content := result.Feed.Bytes()
	if err := a.publish(ctx, name, content); err != nil {
		return errors.Wrapf(err, "podcast %q", name)
	}

	a.health.SetRSSAvailable(name, true)
	a.health.UpdateEpisodeInfo(name, content)
	return nil
}

// loadFromDisk serves a previously archived feed when the live fetch is
// skipped or failed.
func (a *Archiver) loadFromDisk(podcast *config.Podcast) {
	name := podcast.NameOneWord

	content, ok := a.FeedBytes(name)
	if !ok {
		log.Warnf("podcast %q has no archived feed yet", name)
		a.health.SetRSSAvailable(name, false)
		return
	}

	a.health.SetRSSAvailable(name, true)
	a.health.UpdateEpisodeInfo(name, content)
}

// publish stores the rendered feed in memory and on disk. The backend
// copy is only rewritten when the bytes actually changed.
func (a *Archiver) publish(ctx context.Context, name string, content []byte) error {
	a.feedMu.Lock()
	changed := !bytes.Equal(a.feeds[name], content)
	a.feeds[name] = content
	a.feedMu.Unlock()

	if !changed {
		return nil
	}

	path := a.feedPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create feed directory")
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return errors.Wrapf(err, "failed to write feed file: %s", path)
	}

	if a.remote {
		if err := a.storage.PutBytes(ctx, "rss/"+name, content, "application/rss+xml"); err != nil {
			return errors.Wrapf(err, "failed to upload feed: %s", name)
		}
	}

	log.Infof("published feed %q, %d bytes", name, len(content))
	return nil
}
