package fs

import (
	"context"
	"strings"
)

// Object is one stored file as reported by List.
type Object struct {
	Key  string
	Size int64
}

// Storage is the backend that hosts rewritten feeds, media and rendered pages.
// Keys are relative, slash-separated and never start with "/".
// Implementations must be safe for concurrent use.
type Storage interface {
	// Exists reports whether the object is present in the backend.
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the object size in bytes.
	Size(ctx context.Context, key string) (int64, error)

	// PutBytes stores data under key with the given content type.
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error

	// PutFile uploads a local file under key with the given content type.
	PutFile(ctx context.Context, key string, localPath string, contentType string) error

	// Delete removes the object.
	Delete(ctx context.Context, key string) error

	// List enumerates every object in the backend.
	List(ctx context.Context) ([]Object, error)

	// URL returns the public URL clients use to fetch the object.
	URL(key string) string
}

// ValidKey reports whether a relative key is well formed.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	if strings.HasPrefix(key, "/") {
		return false
	}
	return !strings.Contains(key, "//")
}
