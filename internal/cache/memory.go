package cache

import (
	"container/list"
	"image"
	"sync"
)

// SizeFunc reports how many bytes a decoded image occupies.
type SizeFunc func(img image.Image) int64

type memoryEntry struct {
	key  string
	img  image.Image
	size int64
}

// MemoryCache is a size-bounded LRU of decoded images.
// Capacity is measured in bytes, not entries. Safe for concurrent use.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	sizeOf   SizeFunc
	items    map[string]*list.Element
	order    *list.List // front = most recently used

	// OnEvict, when set, is called with the lock held for every entry
	// dropped to make room.
	OnEvict func(key string, size int64)
}

// NewMemoryCache creates a cache holding at most capacity bytes.
// A nil sizeOf falls back to four bytes per pixel.
func NewMemoryCache(capacity int64, sizeOf SizeFunc) *MemoryCache {
	if sizeOf == nil {
		sizeOf = defaultSizeOf
	}
	return &MemoryCache{
		capacity: capacity,
		sizeOf:   sizeOf,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the image stored under key and marks it most recently used.
func (c *MemoryCache) Get(key string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).img, true
}

// Contains reports whether key is cached without touching its recency.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.Lock()
	_, ok := c.items[key]
	c.mu.Unlock()
	return ok
}

// Put stores img under key unless an entry already exists (first writer
// wins) or img alone is larger than the whole capacity. It reports whether
// the image was stored. Least recently used entries are evicted until the
// new total fits.
func (c *MemoryCache) Put(key string, img image.Image) bool {
	if img == nil {
		return false
	}
	size := c.sizeOf(img)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; exists {
		return false
	}
	if size > c.capacity {
		return false
	}

	elem := c.order.PushFront(&memoryEntry{key: key, img: img, size: size})
	c.items[key] = elem
	c.size += size
	c.evictLocked()
	return true
}

// Remove drops key from the cache.
func (c *MemoryCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Clear removes all entries.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
	c.mu.Unlock()
}

// Len returns the number of cached images.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the bytes currently accounted to cached images.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured byte budget.
func (c *MemoryCache) Capacity() int64 {
	return c.capacity
}

func (c *MemoryCache) evictLocked() {
	for c.size > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		entry := oldest.Value.(*memoryEntry)
		c.removeLocked(oldest)
		if c.OnEvict != nil {
			c.OnEvict(entry.key, entry.size)
		}
	}
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	entry := c.order.Remove(elem).(*memoryEntry)
	delete(c.items, entry.key)
	c.size -= entry.size
}

func defaultSizeOf(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
