// Package cache implements the Response Cache (spec §4.6): a
// bounded-size in-memory store mapping a request fingerprint to a
// cached body, with least-recently-inserted eviction and Range slicing
// on hit.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// representationHeaders is the stable, sorted projection of request
// headers that influence the cached representation — deliberately
// excluding Range, per spec §3/§4.6. Accept-Encoding is excluded too:
// every cached body is the fully decompressed, already-rewritten
// representation (maybeCache only stores after a successful decode),
// so varying the key by it would just split one entry into several
// byte-identical ones.
var representationHeaders = []string{"Accept", "Accept-Language"}

// Fingerprint derives a cache key from the target URL, the externally
// visible base URL the proxy was reached on, and the stable subset of
// request headers relevant to representation. proxyBase is folded in
// because a cached playlist or subtitle body bakes in proxy-relative
// self-referencing URLs (rewrite.PlaylistOptions.ProxyBaseURL) derived
// from the request's Host/X-Forwarded-Host — without it, a response
// cached for one externally-visible hostname would be served unchanged
// to a request arriving on a different one.
func Fingerprint(targetURL, proxyBase string, headers http.Header) string {
	var b strings.Builder
	b.WriteString(targetURL)
	b.WriteByte('\x00')
	b.WriteString(proxyBase)
	for _, name := range representationHeaders {
		v := headers.Get(name)
		if v == "" {
			continue
		}
		b.WriteByte('\x00')
		b.WriteString(strings.ToLower(name))
		b.WriteByte('=')
		b.WriteString(v)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Entry is a cached response body (spec §3 "Cache Entry"). ID is an
// internal bookkeeping identifier stamped at insertion; it is not
// included in Stats and plays no part in lookup, which is keyed by
// Fingerprint.
type Entry struct {
	ID         string
	Bytes      []byte
	Size       int64
	InsertedAt time.Time
}

// Stats is a point-in-time snapshot of cache telemetry.
type Stats struct {
	Entries    int
	TotalBytes int64
	SoftCap    int64
	EntryCap   int64
	Hits       int64
	Misses     int64
	Evictions  int64
	Rejections int64
}

// Cache is a bounded-size, insertion-ordered response cache. Reads do
// not take the write lock's exclusive path; writes and evictions are
// serialized under a single mutex so insertion+eviction is atomic.
type Cache struct {
	mu sync.RWMutex

	entries   map[string]*Entry
	order     []string // insertion order, oldest first
	totalSize int64

	softCapBytes  int64
	entryCapBytes int64

	hits       atomic.Int64
	misses     atomic.Int64
	evictions  int64
	rejections int64
}

// New creates a Cache with the given soft aggregate cap and absolute
// per-entry cap (both in bytes).
func New(softCapBytes, entryCapBytes int64) *Cache {
	return &Cache{
		entries:       make(map[string]*Entry),
		softCapBytes:  softCapBytes,
		entryCapBytes: entryCapBytes,
	}
}

// Get returns the full cached body for key, if present.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e, true
}

// Put stores bytes under key. Entries exceeding the absolute per-entry
// cap are rejected (no-op). Insertion and any resulting eviction happen
// atomically under the write lock.
func (c *Cache) Put(key string, data []byte) {
	size := int64(len(data))
	if size > c.entryCapBytes {
		c.mu.Lock()
		c.rejections++
		c.mu.Unlock()
		return
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	entry := &Entry{ID: uuid.New().String(), Bytes: cp, Size: size, InsertedAt: time.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.entries[key]; exists {
		c.totalSize -= old.Size
		c.removeFromOrder(key)
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
	c.totalSize += size

	c.evictLocked()
}

// evictLocked evicts least-recently-inserted entries until total
// resident size is under the soft cap. Must be called with c.mu held.
func (c *Cache) evictLocked() {
	for c.totalSize > c.softCapBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[oldest]; ok {
			c.totalSize -= e.Size
			delete(c.entries, oldest)
			c.evictions++
		}
	}
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// RangeResult is the outcome of slicing a cached entry against a
// requested byte range.
type RangeResult struct {
	Data        []byte
	Start       int64
	End         int64
	Total       int64
	Satisfiable bool
}

// Slice validates and applies a Range request (spec §4.6, §8): start >=
// 0, end < size, start <= end. An unsatisfiable range yields the full
// body with Satisfiable=false so the caller can fall back to a 200.
func (e *Entry) Slice(start, end int64) RangeResult {
	size := int64(len(e.Bytes))
	if start < 0 || end < 0 || start > end || end >= size {
		return RangeResult{Data: e.Bytes, Start: 0, End: size - 1, Total: size, Satisfiable: false}
	}
	return RangeResult{Data: e.Bytes[start : end+1], Start: start, End: end, Total: size, Satisfiable: true}
}

// Stats returns a snapshot of cache telemetry.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Entries:    len(c.entries),
		TotalBytes: c.totalSize,
		SoftCap:    c.softCapBytes,
		EntryCap:   c.entryCapBytes,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions,
		Rejections: c.rejections,
	}
}

// Clear drops all cache entries (spec §6 "POST /cache/clear").
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.order = nil
	c.totalSize = 0
}
