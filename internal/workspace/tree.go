// Package workspace is the console's view of the backend workspace file
// tree. Directory listings are fetched lazily, the first time a directory
// is expanded, and cached for the life of the view.
package workspace

import (
	"context"
	"sync"

	"github.com/renjiyun06/mosaic-sub001/internal/client"
)

// Tree is the collaborator interface the rest of the console depends on.
type Tree interface {
	ListChildren(ctx context.Context, path string) ([]client.DirEntry, error)
	FileContent(ctx context.Context, path string) (string, error)
}

// Source fetches listings and file content. *client.HTTPClient satisfies
// it.
type Source interface {
	ListDir(ctx context.Context, path string) ([]client.DirEntry, error)
	FileContent(ctx context.Context, path string) (string, error)
}

// CachingTree is a Tree that remembers every listing it has fetched.
// Create a fresh one per view; dropping the view drops the cache.
type CachingTree struct {
	src Source

	mu    sync.Mutex
	cache map[string][]client.DirEntry
}

// NewCachingTree creates an empty tree over src.
func NewCachingTree(src Source) *CachingTree {
	return &CachingTree{src: src, cache: make(map[string][]client.DirEntry)}
}

// ListChildren returns the directory's entries, fetching at most once per
// path. Failed fetches are not cached, so expanding again retries.
func (t *CachingTree) ListChildren(ctx context.Context, path string) ([]client.DirEntry, error) {
	t.mu.Lock()
	if entries, ok := t.cache[path]; ok {
		t.mu.Unlock()
		return entries, nil
	}
	t.mu.Unlock()

	entries, err := t.src.ListDir(ctx, path)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.cache[path] = entries
	t.mu.Unlock()
	return entries, nil
}

// FileContent fetches file content. Content is never cached; files change
// under running sessions.
func (t *CachingTree) FileContent(ctx context.Context, path string) (string, error) {
	return t.src.FileContent(ctx, path)
}
