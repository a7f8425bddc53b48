package fs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Local keeps objects as plain files under the web root and serves them
// from the archiver's own origin.
type Local struct {
	webRoot  string
	inetPath string
}

func NewLocal(webRoot string, inetPath string) (*Local, error) {
	if webRoot == "" {
		return nil, errors.New("web root can't be empty")
	}
	if inetPath == "" {
		return nil, errors.New("inet path can't be empty")
	}

	if !strings.HasSuffix(inetPath, "/") {
		inetPath += "/"
	}

	if err := os.MkdirAll(webRoot, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create web root: %s", webRoot)
	}

	return &Local{webRoot: webRoot, inetPath: inetPath}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.webRoot, filepath.FromSlash(key))
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat: %s", key)
	}
	return !info.IsDir(), nil
}

func (l *Local) Size(_ context.Context, key string) (int64, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *Local) PutBytes(_ context.Context, key string, data []byte, _ string) error {
	path := l.path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for: %s", key)
	}

	log.Debugf("writing %d bytes to %s", len(data), path)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write: %s", key)
	}

	return nil
}

func (l *Local) PutFile(ctx context.Context, key string, localPath string, contentType string) error {
	if l.path(key) == localPath {
		// Downloads land directly at their final location in local mode.
		return nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open: %s", localPath)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return errors.Wrapf(err, "failed to read: %s", localPath)
	}

	return l.PutBytes(ctx, key, data, contentType)
}

func (l *Local) Delete(_ context.Context, key string) error {
	return os.Remove(l.path(key))
}

func (l *Local) List(_ context.Context) ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(l.webRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(l.webRoot, path)
		if err != nil {
			return err
		}

		objects = append(objects, Object{
			Key:  filepath.ToSlash(rel),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk web root")
	}

	return objects, nil
}

func (l *Local) URL(key string) string {
	return l.inetPath + key
}
