package ner

// Cached memoizes successful extractions in memory behind an S3-FIFO
// eviction policy (Yang et al., 2023):
//
//   - S (small, ~10% of capacity): every new key lands here.
//   - M (main): keys read at least once while in S are promoted here.
//   - G (ghost): recently evicted S keys; a ghost key re-inserted goes
//     straight to M.
//
// Keys are SHA-256 digests of the input text, so the cache never holds the
// raw message. Nothing is written to disk.

import (
	"container/list"
	"context"
	"crypto/sha256"
	"sync"
)

type cacheKey [sha256.Size]byte

type cacheEntry struct {
	ents []Entity
	freq uint8 // saturating, max 3
	elem *list.Element
	inM  bool
}

// Cached wraps an Extractor with a bounded result cache.
type Cached struct {
	next Extractor

	mu       sync.Mutex
	capacity int
	sTarget  int
	entries  map[cacheKey]*cacheEntry
	small    *list.List
	main     *list.List

	ghostBuf   []cacheKey
	ghostSet   map[cacheKey]struct{}
	ghostHead  int
	ghostCount int

	hits, misses int64
}

// NewCached returns next wrapped in a cache holding up to capacity results.
// capacity < 2 is clamped to 2.
func NewCached(next Extractor, capacity int) *Cached {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := max(1, capacity/10)
	ghostCap := max(4, 2*sTarget)
	return &Cached{
		next:     next,
		capacity: capacity,
		sTarget:  sTarget,
		entries:  make(map[cacheKey]*cacheEntry, capacity),
		small:    list.New(),
		main:     list.New(),
		ghostBuf: make([]cacheKey, ghostCap),
		ghostSet: make(map[cacheKey]struct{}, ghostCap),
	}
}

func (c *Cached) Name() string { return c.next.Name() }

// Extract serves text from the cache or asks the wrapped extractor. Errors
// are never cached.
func (c *Cached) Extract(ctx context.Context, text string) ([]Entity, error) {
	key := cacheKey(sha256.Sum256([]byte(text)))
	if ents, ok := c.get(key); ok {
		return ents, nil
	}
	ents, err := c.next.Extract(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, ents)
	return append([]Entity(nil), ents...), nil
}

// Stats reports cache hits, misses and resident entries.
func (c *Cached) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

func (c *Cached) get(key cacheKey) ([]Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	if e.freq < 3 {
		e.freq++
	}
	return append([]Entity(nil), e.ents...), true
}

func (c *Cached) put(key cacheKey, ents []Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.ents = ents
		return
	}
	_, inM := c.ghostSet[key]
	e := &cacheEntry{ents: ents, inM: inM}
	if inM {
		e.elem = c.main.PushBack(key)
	} else {
		e.elem = c.small.PushBack(key)
	}
	c.entries[key] = e

	for c.small.Len()+c.main.Len() > c.capacity {
		if c.small.Len() > 0 {
			c.evictSmall()
		} else {
			c.evictMain()
		}
	}
}

// evictSmall pops the oldest S entry, promoting it to M if it was read.
func (c *Cached) evictSmall() {
	front := c.small.Front()
	key := front.Value.(cacheKey)
	c.small.Remove(front)
	e := c.entries[key]

	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.main.PushBack(key)
		if c.main.Len() > c.capacity-c.sTarget {
			c.evictMain()
		}
		return
	}
	delete(c.entries, key)
	c.ghostAdd(key)
}

func (c *Cached) evictMain() {
	front := c.main.Front()
	if front == nil {
		return
	}
	key := front.Value.(cacheKey)
	c.main.Remove(front)
	delete(c.entries, key)
}

func (c *Cached) ghostAdd(key cacheKey) {
	if _, ok := c.ghostSet[key]; ok {
		return
	}
	n := len(c.ghostBuf)
	if c.ghostCount == n {
		delete(c.ghostSet, c.ghostBuf[c.ghostHead])
		c.ghostHead = (c.ghostHead + 1) % n
		c.ghostCount--
	}
	c.ghostBuf[(c.ghostHead+c.ghostCount)%n] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
