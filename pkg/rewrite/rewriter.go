package rewrite

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podarchive/podarchive/pkg/config"
	"github.com/podarchive/podarchive/pkg/download"
	"github.com/podarchive/podarchive/pkg/fs"
	"github.com/podarchive/podarchive/pkg/media"
	"github.com/podarchive/podarchive/pkg/rss"
)

// feedTimeout bounds one fetch of an upstream RSS document.
const feedTimeout = 5 * time.Second

// Result is a successfully rewritten feed.
type Result struct {
	Feed *rss.Feed
	// DownloadHealthy is false when at least one asset download failed.
	// The feed itself is still publishable.
	DownloadHealthy bool
}

// report accumulates per-rewrite state across the channel and item passes.
type report struct {
	downloadHealthy bool
	seenKeys        map[string]bool
}

// Rewriter turns one upstream feed into its archived form: every
// URL-bearing element is pointed at the archiver's origin or CDN and the
// referenced media is downloaded into the storage backend.
type Rewriter struct {
	client     *http.Client
	downloader *download.Downloader
	transcoder media.Transcoder
	storage    fs.Storage
	index      *fs.PathIndex
	inetPath   string
	remote     bool
}

func New(
	downloader *download.Downloader,
	transcoder media.Transcoder,
	storage fs.Storage,
	index *fs.PathIndex,
	inetPath string,
	remote bool,
) *Rewriter {
	return &Rewriter{
		client:     &http.Client{},
		downloader: downloader,
		transcoder: transcoder,
		storage:    storage,
		index:      index,
		inetPath:   inetPath,
		remote:     remote,
	}
}

// Rewrite fetches, rewrites and archives one podcast. The podcast config
// is mutated in memory when empty override fields adopt upstream values;
// nothing is ever written back to the config file.
func (r *Rewriter) Rewrite(ctx context.Context, podcast *config.Podcast) (*Result, error) {
	data, err := r.fetchFeed(ctx, podcast.URL)
	if err != nil {
		return nil, err
	}

	feed, err := rss.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(ErrFeedMalformed, "%s: %v", podcast.URL, err)
	}

	rep := &report{
		downloadHealthy: true,
		seenKeys:        make(map[string]bool),
	}

	// Channel-level rewrites must complete before items: they settle the
	// adopted title used for the cover art slug.
	r.rewriteChannel(ctx, feed.Channel, podcast, rep)

	kept := feed.Channel.Items[:0]
	for _, item := range feed.Channel.Items {
		if r.rewriteItem(ctx, item, podcast, rep) {
			kept = append(kept, item)
		}
	}
	feed.Channel.Items = kept

	if len(kept) == 0 {
		return nil, errors.Wrapf(ErrNoEpisodes, "%s", podcast.NameOneWord)
	}

	return &Result{Feed: feed, DownloadHealthy: rep.downloadHealthy}, nil
}

func (r *Rewriter) rssURL(podcast *config.Podcast) string {
	return r.inetPath + "rss/" + podcast.NameOneWord
}

func contentKey(name string, fileName string) string {
	return "content/" + name + "/" + fileName
}

func (r *Rewriter) rewriteChannel(ctx context.Context, ch *rss.Channel, podcast *config.Podcast, rep *report) {
	// One-shot bootstrap: empty overrides adopt the upstream values.
	if podcast.NewName == "" {
		podcast.NewName = ch.Title
	}
	if podcast.Description == "" {
		podcast.Description = ch.Description
	}
	if podcast.ContactEmail == "" && ch.ItunesOwner != nil {
		podcast.ContactEmail = ch.ItunesOwner.Email
	}

	ch.Title = podcast.NewName
	ch.Link = r.inetPath
	ch.Description = podcast.Description

	for _, link := range ch.AtomLinks {
		link.Href = r.rssURL(podcast)
	}

	if ch.ItunesNewFeed != "" {
		ch.ItunesNewFeed = r.rssURL(podcast)
	}

	if ch.ItunesAuthor != "" {
		ch.ItunesAuthor = podcast.NewName
	}

	if ch.ItunesOwner != nil {
		ch.ItunesOwner.Name = podcast.NewName
		ch.ItunesOwner.Email = podcast.ContactEmail
	}

	if ch.ItunesImage != nil && ch.ItunesImage.Href != "" {
		if url, ok := r.archiveCover(ctx, ch.ItunesImage.Href, podcast, rep); ok {
			ch.ItunesImage.Href = url
		}
	}

	if ch.Image != nil {
		ch.Image.Title = podcast.NewName
		ch.Image.Link = r.inetPath
		if ch.Image.URL != "" {
			if url, ok := r.archiveCover(ctx, ch.Image.URL, podcast, rep); ok {
				ch.Image.URL = url
			}
		}
	}
}

// archiveCover downloads podcast cover art and returns its public URL.
// The staged local copy is kept even in object-store mode so the art can
// be re-uploaded if the bucket is ever cleared.
func (r *Rewriter) archiveCover(ctx context.Context, srcURL string, podcast *config.Podcast, rep *report) (string, bool) {
	slug := rss.Clean(podcast.NewName)

	for _, ext := range media.ImageFormats {
		if !strings.Contains(srcURL, ext) {
			continue
		}

		key := contentKey(podcast.NameOneWord, slug+ext)

		_, err := r.downloader.Download(ctx, srcURL, key, media.ContentType(ext), download.Options{KeepLocal: true})
		if err != nil {
			rep.downloadHealthy = false
			log.WithError(err).Errorf("failed to archive cover art: %s", srcURL)

			if r.index.Contains(key) {
				// An older copy is already archived, point at that.
				return r.storage.URL(key), true
			}
			return "", false
		}

		return r.storage.URL(key), true
	}

	return "", false
}

// rewriteItem archives one episode. Returns false when the item must be
// dropped from this tick (failed WAV transcode).
func (r *Rewriter) rewriteItem(ctx context.Context, item *rss.Item, podcast *config.Podcast, rep *report) bool {
	fileDate := rss.FileDate(item.PubDate)
	slug := rss.Clean(item.Title)

	if item.Enclosure != nil && item.Enclosure.URL != "" {
		url, size, isWAV, err := r.archiveAudio(ctx, item.Enclosure.URL, podcast, slug, fileDate, rep)
		if err != nil {
			return false
		}
		if url != "" {
			item.Enclosure.URL = url
			if isWAV {
				item.Enclosure.Type = "audio/mpeg"
				item.Enclosure.Length = strconv.FormatInt(size, 10)
			}
		}
	}

	if item.MediaContent != nil && item.MediaContent.URL != "" {
		url, size, isWAV, err := r.archiveAudio(ctx, item.MediaContent.URL, podcast, slug, fileDate, rep)
		if err != nil {
			return false
		}
		if url != "" {
			item.MediaContent.URL = url
			if isWAV {
				item.MediaContent.Type = "audio/mpeg"
				item.MediaContent.FileSize = strconv.FormatInt(size, 10)
			}
		}
	}

	if item.ItunesImage != nil && item.ItunesImage.Href != "" {
		for _, ext := range media.ImageFormats {
			if !strings.Contains(item.ItunesImage.Href, ext) {
				continue
			}

			key := contentKey(podcast.NameOneWord, fileDate+"-"+slug+ext)
			_, err := r.downloader.Download(ctx, item.ItunesImage.Href, key, media.ContentType(ext), download.Options{})
			if err != nil {
				rep.downloadHealthy = false
				log.WithError(err).Errorf("failed to archive episode image: %s", item.ItunesImage.Href)
				if !r.index.Contains(key) {
					break
				}
			}
			item.ItunesImage.Href = r.inetPath + key
			break
		}
	}

	return true
}

// archiveAudio downloads the episode audio referenced by srcURL and
// returns its rewritten URL. WAV episodes are transcoded to MP3 and their
// new byte size returned. A failed transcode is returned as an error so
// the caller drops the item; any other failure keeps the feed publishable.
func (r *Rewriter) archiveAudio(
	ctx context.Context,
	srcURL string,
	podcast *config.Podcast,
	slug string,
	fileDate string,
	rep *report,
) (string, int64, bool, error) {
	for _, ext := range media.AudioFormats {
		if !strings.Contains(srcURL, ext) {
			continue
		}

		if ext == ".wav" {
			mp3Key := contentKey(podcast.NameOneWord, fileDate+"-"+slug+".mp3")

			size, err := r.handleWAV(ctx, srcURL, podcast, slug, fileDate)
			if err != nil {
				rep.downloadHealthy = false
				if stderrors.Is(err, ErrTranscode) {
					log.WithError(err).Errorf("dropping episode %q", slug)
					return "", 0, true, err
				}

				log.WithError(err).Errorf("failed to archive wav episode: %s", srcURL)
				if size, ok := r.index.Size(mp3Key); ok {
					return r.inetPath + mp3Key, size, true, nil
				}
				return "", 0, true, nil
			}

			return r.inetPath + mp3Key, size, true, nil
		}

		key := contentKey(podcast.NameOneWord, fileDate+"-"+slug+ext)

		if rep.seenKeys[key] {
			// Two episode titles cleaned up to the same slug; the second
			// one reuses the first download.
			log.Warnf("slug collision on %q, reusing archived copy", key)
		}
		rep.seenKeys[key] = true

		_, err := r.downloader.Download(ctx, srcURL, key, media.ContentType(ext), download.Options{})
		if err != nil {
			rep.downloadHealthy = false
			log.WithError(err).Errorf("failed to archive episode audio: %s", srcURL)

			if r.index.Contains(key) {
				return r.inetPath + key, 0, false, nil
			}
			// No archived copy, leave the upstream URL in place.
			return "", 0, false, nil
		}

		return r.inetPath + key, 0, false, nil
	}

	// Unknown extension, leave the element untouched.
	return "", 0, false, nil
}

// handleWAV archives a WAV episode as MP3: download, transcode, replace.
// WAV files are transient, only the derived MP3 is retained.
func (r *Rewriter) handleWAV(
	ctx context.Context,
	srcURL string,
	podcast *config.Podcast,
	slug string,
	fileDate string,
) (int64, error) {
	wavKey := contentKey(podcast.NameOneWord, fileDate+"-"+slug+".wav")
	mp3Key := contentKey(podcast.NameOneWord, fileDate+"-"+slug+".mp3")

	if size, ok := r.index.Size(mp3Key); ok {
		return size, nil
	}

	if _, err := r.downloader.Download(ctx, srcURL, wavKey, "audio/wav", download.Options{Stage: true}); err != nil {
		return 0, err
	}

	wavPath := r.downloader.LocalPath(wavKey)
	mp3Path := r.downloader.LocalPath(mp3Key)

	log.Infof("transcoding %s to mp3", wavPath)
	if err := r.transcoder.Transcode(ctx, wavPath, mp3Path); err != nil {
		// Keep the WAV so the next tick skips the download.
		return 0, errors.Wrapf(ErrTranscode, "%s: %v", wavPath, err)
	}

	if err := os.Remove(wavPath); err != nil {
		log.WithError(err).Warnf("failed to remove transcoded wav: %s", wavPath)
	}

	var size int64

	if r.remote {
		if err := r.storage.PutFile(ctx, mp3Key, mp3Path, "audio/mpeg"); err != nil {
			return 0, errors.Wrapf(err, "failed to upload: %s", mp3Key)
		}
		if err := os.Remove(mp3Path); err != nil {
			log.WithError(err).Warnf("failed to remove staged mp3: %s", mp3Path)
		}

		remoteSize, err := r.storage.Size(ctx, mp3Key)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to head: %s", mp3Key)
		}
		size = remoteSize
	} else {
		info, err := os.Stat(mp3Path)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to stat: %s", mp3Path)
		}
		size = info.Size()
	}

	r.index.Add(mp3Key, size)
	return size, nil
}

// fetchFeed GETs the upstream RSS document with the same retry policy as
// asset downloads. 404 and 403 abort immediately.
func (r *Rewriter) fetchFeed(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= download.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := download.Backoff(ctx, attempt-1); err != nil {
				return nil, errors.Wrapf(ErrFeedUnavailable, "%v", err)
			}
		}

		data, err := r.fetchFeedOnce(ctx, url)
		if err == nil {
			return data, nil
		}

		if stderrors.Is(err, ErrFeedPermanent) {
			return nil, err
		}

		log.WithError(err).Warnf("feed fetch attempt %d/%d failed: %s", attempt, download.MaxAttempts, url)
		lastErr = err
	}

	return nil, errors.Wrapf(ErrFeedUnavailable, "%s: %v", url, lastErr)
}

func (r *Rewriter) fetchFeedOnce(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build feed request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch feed: %s", url)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(ErrFeedPermanent, "HTTP %d from %s", resp.StatusCode, url)
	default:
		return nil, errors.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read feed body")
	}

	return data, nil
}
