package download

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podarchive/podarchive/pkg/fs"
)

const (
	// MaxAttempts bounds retries for one asset within one tick.
	MaxAttempts = 3

	// userAgent mirrors a desktop browser; some podcast CDNs reject
	// anything that looks like a bot.
	userAgent = "Mozilla/5.0"

	// slowFetchWarn is informational only, media fetches are unbounded.
	slowFetchWarn = 50 * time.Second
)

// Result reports what a Download call did.
type Result int

const (
	// Downloaded means the asset was fetched and stored this call.
	Downloaded Result = iota
	// AlreadyPresent means the path index already had the key.
	AlreadyPresent
)

// Downloader fetches remote assets into the storage backend under
// computed relative keys, deduplicating against the path index.
type Downloader struct {
	client  *http.Client
	storage fs.Storage
	index   *fs.PathIndex
	webRoot string
	remote  bool
}

// New creates a downloader. remote is true when the backend is an object
// store, in which case downloads are staged locally and uploaded.
func New(storage fs.Storage, index *fs.PathIndex, webRoot string, remote bool) *Downloader {
	return &Downloader{
		client:  &http.Client{},
		storage: storage,
		index:   index,
		webRoot: webRoot,
		remote:  remote,
	}
}

// Options tweak a single download.
type Options struct {
	// KeepLocal retains the staged file after a successful upload.
	// Used for cover art, which is re-read on later ticks.
	KeepLocal bool
	// Stage skips the upload and the index insertion; the caller owns
	// the staged file. Used for WAV episodes awaiting transcode.
	Stage bool
}

// LocalPath returns where the staged copy of key lives on disk.
func (d *Downloader) LocalPath(key string) string {
	return filepath.Join(d.webRoot, filepath.FromSlash(key))
}

// Download fetches srcURL into the backend under key.
func (d *Downloader) Download(ctx context.Context, srcURL string, key string, contentType string, opts Options) (Result, error) {
	if !opts.Stage && d.index.Contains(key) {
		log.Debugf("already downloaded: %s", key)
		return AlreadyPresent, nil
	}

	localPath := d.LocalPath(key)

	size, err := d.fetch(ctx, srcURL, localPath)
	if err != nil {
		return 0, err
	}

	if opts.Stage {
		return Downloaded, nil
	}

	if d.remote {
		if err := d.storage.PutFile(ctx, key, localPath, contentType); err != nil {
			// Keep the staged file so the next tick can retry the upload.
			return 0, &Error{Kind: KindUpload, cause: err}
		}

		if opts.KeepLocal {
			log.Debugf("upload successful, keeping local copy of %s", key)
		} else if err := os.Remove(localPath); err != nil {
			log.WithError(err).Warnf("failed to remove staged file: %s", localPath)
		}
	}

	d.index.Add(key, size)
	return Downloaded, nil
}

// fetch GETs srcURL into localPath with retry and jittered backoff.
func (d *Downloader) fetch(ctx context.Context, srcURL string, localPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, &Error{Kind: KindWrite, cause: err}
	}

	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := Backoff(ctx, attempt-1); err != nil {
				return 0, &Error{Kind: KindNetwork, cause: err}
			}
		}

		size, err := d.fetchOnce(ctx, srcURL, localPath)
		if err == nil {
			return size, nil
		}

		if KindOf(err) == KindPermanent {
			return 0, err
		}

		log.WithError(err).Warnf("download attempt %d/%d failed: %s", attempt, MaxAttempts, srcURL)
		lastErr = err
	}

	return 0, lastErr
}

func (d *Downloader) fetchOnce(ctx context.Context, srcURL string, localPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return 0, &Error{Kind: KindHTTP, cause: err}
	}
	req.Header.Set("User-Agent", userAgent)

	started := time.Now()

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &Error{Kind: KindNetwork, cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// proceed
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return 0, &Error{Kind: KindPermanent, cause: errors.Errorf("HTTP %d from %s", resp.StatusCode, srcURL)}
	default:
		return 0, &Error{Kind: KindHTTP, cause: errors.Errorf("HTTP %d from %s", resp.StatusCode, srcURL)}
	}

	file, err := os.Create(localPath)
	if err != nil {
		return 0, &Error{Kind: KindWrite, cause: err}
	}

	size, err := io.Copy(file, resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return 0, &Error{Kind: KindWrite, cause: err}
	}

	if elapsed := time.Since(started); elapsed > slowFetchWarn {
		log.Warnf("slow fetch, %s took %s", srcURL, elapsed)
	}

	log.Debugf("downloaded %d bytes to %s", size, localPath)
	return size, nil
}

// Backoff sleeps for rand(0.1..1.0) + 0.5*attempt seconds, honoring ctx.
func Backoff(ctx context.Context, attempt int) error {
	delay := time.Duration((0.1+rand.Float64()*0.9+0.5*float64(attempt))*1000) * time.Millisecond

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
