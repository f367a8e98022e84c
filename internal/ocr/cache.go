package ocr

import (
	"sync"

	"github.com/minio/highwayhash"
)

var cacheKey = []byte("loan-extractor/ocr-page-cache/v1")

// PageCache remembers OCR text by page image content, so a page re-rendered
// for a retried document is not sent to the GPU service twice.
type PageCache struct {
	mu      sync.Mutex
	max     int
	entries map[uint64]string
	order   []uint64
}

// NewPageCache keeps at most max entries, evicting the oldest first.
func NewPageCache(max int) *PageCache {
	if max <= 0 {
		max = 512
	}
	return &PageCache{max: max, entries: make(map[uint64]string, max)}
}

// Key hashes an image with HighwayHash-64.
func Key(image []byte) (uint64, error) {
	h, err := highwayhash.New64(cacheKey)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(image); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func (c *PageCache) Get(image []byte) (string, bool) {
	if c == nil {
		return "", false
	}
	k, err := Key(image)
	if err != nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	txt, ok := c.entries[k]
	return txt, ok
}

func (c *PageCache) Put(image []byte, text string) {
	if c == nil {
		return
	}
	k, err := Key(image)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; !ok {
		c.order = append(c.order, k)
	}
	c.entries[k] = text
	for len(c.order) > c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
