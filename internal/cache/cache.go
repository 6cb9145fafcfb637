// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package cache holds the two bounded, in-process caches the runtime
// consults before touching the database: a plain LRU over compiled artifact
// source (ArtifactSourceCache) and a size/TTL-bounded LRU over resolved
// function programs (FunctionProgramCache).
//
// No third-party LRU library appears anywhere in the retrieval pack, so both
// caches are a justified standard-library implementation (container/list +
// sync.Mutex).
package cache

import (
	"container/list"
	"sync"
	"time"
)

// ArtifactSourceCacheCapacity is the maximum number of entries held by an
// ArtifactSourceCache.
const ArtifactSourceCacheCapacity = 256

// ArtifactSourceCache is a plain capacity-bounded LRU mapping an artifact
// hash to its compiled JS source.
type ArtifactSourceCache struct {
	mu       sync.Mutex
	capacity int
	byHash   map[string]*list.Element
	lru      *list.List // front = least recently used, back = most recently used
}

type artifactEntry struct {
	hash   string
	source string
}

// NewArtifactSourceCache constructs an ArtifactSourceCache at the standard capacity.
func NewArtifactSourceCache() *ArtifactSourceCache {
	return &ArtifactSourceCache{
		capacity: ArtifactSourceCacheCapacity,
		byHash:   make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached source for artifactHash, promoting it to
// most-recently-used, or ("", false) on a miss.
func (c *ArtifactSourceCache) Get(artifactHash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byHash[artifactHash]
	if !ok {
		return "", false
	}
	c.lru.MoveToBack(el)
	return el.Value.(*artifactEntry).source, true
}

// Insert stores (or updates and promotes) the source for artifactHash,
// evicting the least-recently-used entry if the cache is at capacity.
func (c *ArtifactSourceCache) Insert(artifactHash, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byHash[artifactHash]; ok {
		el.Value.(*artifactEntry).source = source
		c.lru.MoveToBack(el)
		return
	}

	if len(c.byHash) >= c.capacity {
		if front := c.lru.Front(); front != nil {
			c.lru.Remove(front)
			delete(c.byHash, front.Value.(*artifactEntry).hash)
		}
	}

	el := c.lru.PushBack(&artifactEntry{hash: artifactHash, source: source})
	c.byHash[artifactHash] = el
}

// FunctionProgramCacheCapacity is the maximum entry count of a FunctionProgramCache.
const FunctionProgramCacheCapacity = 256

// FunctionProgramCacheMaxSourceBytes is the aggregate estimated-byte budget
// of a FunctionProgramCache.
const FunctionProgramCacheMaxSourceBytes = 4 * 1024 * 1024

// FunctionProgramCacheTTL is the time an entry remains valid after insertion.
const FunctionProgramCacheTTL = 30 * time.Second

// FunctionProgram is the resolved, ready-to-run source for a PL/TS function,
// plus the bare-specifier rewrites collected from its artifact pointer or
// leading directive comment.
type FunctionProgram struct {
	OID              uint32
	Schema           string
	Name             string
	Source           string
	BareSpecifierMap map[string]string
}

func estimateProgramSizeBytes(p FunctionProgram) int {
	total := len(p.Schema) + len(p.Name) + len(p.Source)
	for k, v := range p.BareSpecifierMap {
		total += len(k) + len(v)
	}
	return total
}

type cachedProgram struct {
	oid                  uint32
	program              FunctionProgram
	estimatedSourceBytes int
	expiresAt            time.Time
}

// FunctionProgramCache is an LRU over FunctionProgram keyed by function OID,
// additionally bounded by a total estimated-byte budget and a per-entry TTL
// checked lazily on Get.
type FunctionProgramCache struct {
	mu               sync.Mutex
	byOID            map[uint32]*list.Element
	lru              *list.List
	totalSourceBytes int
	maxEntries       int
	maxSourceBytes   int
	ttl              time.Duration
	now              func() time.Time
}

// NewFunctionProgramCache constructs a FunctionProgramCache at the standard
// capacity, byte budget, and TTL.
func NewFunctionProgramCache() *FunctionProgramCache {
	return NewFunctionProgramCacheWithLimits(FunctionProgramCacheCapacity, FunctionProgramCacheMaxSourceBytes, FunctionProgramCacheTTL)
}

// NewFunctionProgramCacheWithLimits constructs a FunctionProgramCache with
// explicit limits, used by tests to exercise eviction and expiry without
// waiting on the production TTL.
func NewFunctionProgramCacheWithLimits(maxEntries, maxSourceBytes int, ttl time.Duration) *FunctionProgramCache {
	return &FunctionProgramCache{
		byOID:          make(map[uint32]*list.Element),
		lru:            list.New(),
		maxEntries:     maxEntries,
		maxSourceBytes: maxSourceBytes,
		ttl:            ttl,
		now:            time.Now,
	}
}

// Get returns the cached program for fnOID, promoting it to
// most-recently-used, or (FunctionProgram{}, false) on a miss or expiry.
func (c *FunctionProgramCache) Get(fnOID uint32) (FunctionProgram, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byOID[fnOID]
	if !ok {
		return FunctionProgram{}, false
	}

	cached := el.Value.(*cachedProgram)
	if !cached.expiresAt.After(c.now()) {
		c.removeElement(el)
		return FunctionProgram{}, false
	}

	c.lru.MoveToBack(el)
	return cached.program, true
}

// Insert stores program, estimating its size and evicting
// least-recently-used entries until both the entry-count and byte-budget
// constraints are satisfied. A program whose own estimated size exceeds the
// byte budget is rejected outright (and any stale entry for the same OID
// removed) rather than inserted.
func (c *FunctionProgramCache) Insert(program FunctionProgram) {
	c.mu.Lock()
	defer c.mu.Unlock()

	estimated := estimateProgramSizeBytes(program)
	if estimated > c.maxSourceBytes {
		c.removeKey(program.OID)
		return
	}

	if el, ok := c.byOID[program.OID]; ok {
		previous := el.Value.(*cachedProgram)
		c.totalSourceBytes -= previous.estimatedSourceBytes
		el.Value = &cachedProgram{
			oid:                  program.OID,
			program:              program,
			estimatedSourceBytes: estimated,
			expiresAt:            c.now().Add(c.ttl),
		}
		c.totalSourceBytes += estimated
		c.lru.MoveToBack(el)
		return
	}

	for len(c.byOID) >= c.maxEntries || c.totalSourceBytes+estimated > c.maxSourceBytes {
		front := c.lru.Front()
		if front == nil {
			break
		}
		c.removeElement(front)
	}

	el := c.lru.PushBack(&cachedProgram{
		oid:                  program.OID,
		program:              program,
		estimatedSourceBytes: estimated,
		expiresAt:            c.now().Add(c.ttl),
	})
	c.byOID[program.OID] = el
	c.totalSourceBytes += estimated
}

func (c *FunctionProgramCache) removeElement(el *list.Element) {
	cached := el.Value.(*cachedProgram)
	c.totalSourceBytes -= cached.estimatedSourceBytes
	delete(c.byOID, cached.oid)
	c.lru.Remove(el)
}

func (c *FunctionProgramCache) removeKey(oid uint32) {
	if el, ok := c.byOID[oid]; ok {
		c.removeElement(el)
	}
}
