// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides a bounded, generic LRU cache with build
// deduplication, used to memoize analyses of identical code units.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 128

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// LRU is a thread-safe least-recently-used cache.
//
// Description:
//
//	Holds at most Capacity() entries; inserting into a full cache evicts
//	the least recently used entry. GetOrCompute collapses concurrent misses
//	for the same key into a single computation.
//
// Thread Safety: All methods are safe for concurrent use.
//
// Performance:
//
//	| Operation    | Complexity |
//	|--------------|------------|
//	| Get          | O(1)       |
//	| Put          | O(1)       |
//	| Remove       | O(1)       |
//	| Clear        | O(n)       |
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	order    *list.List // Front = most recent

	flight singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates an LRU cache holding up to capacity entries.
//
// Example:
//
//	results := cache.New[uint64, *analysis.Result](256)
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// Capacity returns the maximum number of entries.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*entry[K, V]).value, true
	}

	c.misses.Add(1)
	var zero V
	return zero, false
}

// Put inserts or replaces the value for key.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*entry[K, V]).value = value
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions.Add(1)
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result.
//
// Description:
//
//	Concurrent callers missing on the same key share one compute call.
//	Errors are returned to every waiting caller and are not cached.
//
// Outputs:
//
//	V - The cached or computed value.
//	bool - True if the value came from the cache.
//	error - The error returned by compute, if any.
//
// Thread Safety: Safe for concurrent use.
func (c *LRU[K, V]) GetOrCompute(ctx context.Context, key K, compute ComputeFunc[V]) (V, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}

	result, err, _ := c.flight.Do(fmt.Sprint(key), func() (interface{}, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	value, _ := result.(V)
	return value, false, nil
}

// Remove deletes key from the cache. Returns true if it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
		return true
	}
	return false
}

// Clear removes every entry and resets the statistics.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns the counters since creation or the last Clear.
//
// Thread Safety: Safe for concurrent use (lock-free).
func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// removeElement unlinks elem. Caller must hold the lock.
func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
