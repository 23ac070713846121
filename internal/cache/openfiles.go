package cache

import (
	"container/list"
	"os"
	"sync"
)

// openFiles is a small LRU of already-opened span files, so a burst of
// extractor requests hitting the same hot span doesn't pay an open(2) per
// request. Adapted from the open-handle LRU idiom: a capacity-bounded
// container/list plus a name-keyed map, but refcounted per open call instead
// of tracking a removed-but-in-use set. Capacity eviction only closes
// handles with a zero refcount; Forget is the one path that closes a handle
// regardless of its refcount.
type openFiles struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

type openFilesEntry struct {
	path string
	f    *os.File
	refs int
}

func newOpenFiles(capacity int) *openFiles {
	return &openFiles{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Open returns an open handle for path, reusing a cached one if present.
// Every successful Open must be paired with exactly one Release.
func (c *openFiles) Open(path string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[path]; ok {
		c.ll.MoveToFront(elem)
		ent := elem.Value.(*openFilesEntry)
		ent.refs++
		return ent.f, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c.index[path] = c.ll.PushFront(&openFilesEntry{path: path, f: f, refs: 1})
	if c.capacity > 0 && c.ll.Len() > c.capacity {
		c.evictOldestUnused()
	}
	return f, nil
}

// Release decrements path's reference count. It never closes a file still
// in the cache; eviction (on the next Open past capacity) closes handles
// with a zero refcount.
func (c *openFiles) Release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.index[path]; ok {
		ent := elem.Value.(*openFilesEntry)
		if ent.refs > 0 {
			ent.refs--
		}
	}
}

// Forget closes and drops path immediately regardless of refcount, used by
// the manager's retire when a span file superseded by a grown span is about
// to be unlinked or marked for deletion.
func (c *openFiles) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.index[path]; ok {
		ent := elem.Value.(*openFilesEntry)
		c.ll.Remove(elem)
		delete(c.index, path)
		ent.f.Close()
	}
}

// evictOldestUnused walks from the back of the LRU list looking for the
// first zero-refcount entry to close and drop; assumes c.mu held.
func (c *openFiles) evictOldestUnused() {
	for elem := c.ll.Back(); elem != nil; elem = elem.Prev() {
		ent := elem.Value.(*openFilesEntry)
		if ent.refs == 0 {
			c.ll.Remove(elem)
			delete(c.index, ent.path)
			ent.f.Close()
			return
		}
	}
}

// CloseAll closes every cached handle unconditionally, for shutdown.
func (c *openFiles) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, elem := range c.index {
		elem.Value.(*openFilesEntry).f.Close()
	}
	c.ll.Init()
	c.index = make(map[string]*list.Element)
}
