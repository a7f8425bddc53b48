package fs

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// PathIndex is the in-memory set of relative keys known to exist in the
// backend, with sizes. It is rebuilt at the start of each tick and only
// grows during one; a stale entry costs at most a redundant HEAD.
type PathIndex struct {
	mu    sync.RWMutex
	paths map[string]int64
}

func NewPathIndex() *PathIndex {
	return &PathIndex{paths: make(map[string]int64)}
}

// Refresh replaces the index contents with a fresh backend listing.
func (i *PathIndex) Refresh(ctx context.Context, storage Storage) error {
	objects, err := storage.List(ctx)
	if err != nil {
		return err
	}

	paths := make(map[string]int64, len(objects))
	for _, obj := range objects {
		paths[obj.Key] = obj.Size
	}

	i.mu.Lock()
	i.paths = paths
	i.mu.Unlock()

	log.Debugf("path index refreshed, %d objects", len(paths))
	return nil
}

func (i *PathIndex) Contains(key string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.paths[key]
	return ok
}

// Size returns the recorded size for a key, if present.
func (i *PathIndex) Size(key string) (int64, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	size, ok := i.paths[key]
	return size, ok
}

func (i *PathIndex) Add(key string, size int64) {
	i.mu.Lock()
	i.paths[key] = size
	i.mu.Unlock()
}

func (i *PathIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.paths)
}

// Objects returns a sorted snapshot of the index, for file listings.
func (i *PathIndex) Objects() []Object {
	i.mu.RLock()
	objects := make([]Object, 0, len(i.paths))
	for key, size := range i.paths {
		objects = append(objects, Object{Key: key, Size: size})
	}
	i.mu.RUnlock()

	sort.Slice(objects, func(a, b int) bool {
		return objects[a].Key < objects[b].Key
	})
	return objects
}
