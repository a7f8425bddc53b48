package media

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const TranscodeTimeout = 30 * time.Minute

// Transcoder converts a downloaded WAV episode into an MP3.
type Transcoder interface {
	Transcode(ctx context.Context, wavPath string, mp3Path string) error
}

// FFmpeg shells out to the ffmpeg binary for transcoding.
type FFmpeg struct {
	path string
}

// NewFFmpeg resolves the ffmpeg binary and verifies it runs.
// A missing binary is a startup failure: WAV episodes can't be archived without it.
func NewFFmpeg(ctx context.Context) (*FFmpeg, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg binary not found")
	}

	log.Debugf("found ffmpeg binary at %q", path)

	output, err := exec.CommandContext(ctx, path, "-version").CombinedOutput()
	if err != nil {
		return nil, errors.Wrap(err, "could not run ffmpeg")
	}

	version := string(output)
	if idx := strings.IndexByte(version, '\n'); idx > 0 {
		version = version[:idx]
	}
	log.Infof("using %s", version)

	return &FFmpeg{path: path}, nil
}

func (f *FFmpeg) Transcode(ctx context.Context, wavPath string, mp3Path string) error {
	ctx, cancel := context.WithTimeout(ctx, TranscodeTimeout)
	defer cancel()

	// VBR quality 4, good enough for speech
	cmd := exec.CommandContext(ctx, f.path,
		"-y",
		"-i", wavPath,
		"-codec:a", "libmp3lame",
		"-qscale:a", "4",
		mp3Path,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "ffmpeg error: %s", string(output))
	}

	return nil
}
