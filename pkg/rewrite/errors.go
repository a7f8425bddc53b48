package rewrite

import (
	"github.com/pkg/errors"
)

var (
	// ErrFeedPermanent is a 404/403 from upstream; the feed is gone.
	ErrFeedPermanent = errors.New("upstream feed gone")

	// ErrFeedUnavailable is a network or server failure after retries.
	ErrFeedUnavailable = errors.New("upstream feed unavailable")

	// ErrFeedMalformed means the upstream document did not parse.
	ErrFeedMalformed = errors.New("upstream feed malformed")

	// ErrNoEpisodes means the rewritten feed would have zero items.
	ErrNoEpisodes = errors.New("rewritten feed has no episodes")

	// ErrTranscode means the WAV to MP3 conversion failed; the affected
	// item is dropped from this tick and the WAV kept for the next one.
	ErrTranscode = errors.New("wav transcode failed")
)
