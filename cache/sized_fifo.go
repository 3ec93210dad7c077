// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import "sync"

var _ Cacher[struct{}, any] = (*sizedFIFO[struct{}, any])(nil)

// sizedFIFO is a key value store with a bounded aggregate size. If an
// insertion would exceed the bound, the oldest inserted elements are removed
// until the bound is honored again. Lookups do not affect the eviction order.
//
// Unlike an LRU, a sizedFIFO admits a single element larger than the bound;
// it remains the sole resident until a later insertion evicts it. This keeps
// the cache useful when one unusually large value dominates the workload.
type sizedFIFO[K comparable, V any] struct {
	lock        sync.Mutex
	queue       []K
	elements    map[K]V
	maxSize     int
	currentSize int
	size        func(V) int
}

// NewSizedFIFO returns a cache with [maxSize] aggregate size. The size of an
// element is calculated with [size] when it is inserted.
func NewSizedFIFO[K comparable, V any](maxSize int, size func(V) int) Cacher[K, V] {
	return &sizedFIFO[K, V]{
		elements: make(map[K]V),
		maxSize:  maxSize,
		size:     size,
	}
}

func (c *sizedFIFO[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.put(key, value)
}

func (c *sizedFIFO[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	value, ok := c.elements[key]
	return value, ok
}

func (c *sizedFIFO[K, V]) Evict(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()

	value, ok := c.elements[key]
	if !ok {
		return
	}
	delete(c.elements, key)
	c.currentSize -= c.size(value)
	for i, queued := range c.queue {
		if queued == key {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
}

func (c *sizedFIFO[K, V]) Flush() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.queue = nil
	c.elements = make(map[K]V)
	c.currentSize = 0
}

// PortionFilled returns the fraction of the size bound currently in use.
func (c *sizedFIFO[K, V]) PortionFilled() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return float64(c.currentSize) / float64(c.maxSize)
}

func (c *sizedFIFO[K, V]) put(key K, value V) {
	if _, ok := c.elements[key]; ok {
		// Reinsertion must not requeue the key, the original insertion order
		// determines eviction.
		return
	}

	valueSize := c.size(value)

	// Remove the oldest elements until the new value fits. If the new value
	// alone exceeds the bound, the queue drains entirely and the value is
	// admitted as the sole resident.
	for c.currentSize+valueSize > c.maxSize && len(c.queue) > 0 {
		oldestKey := c.queue[0]
		c.queue[0] = *new(K)
		c.queue = c.queue[1:]

		oldestValue := c.elements[oldestKey]
		delete(c.elements, oldestKey)
		c.currentSize -= c.size(oldestValue)
	}

	c.queue = append(c.queue, key)
	c.elements[key] = value
	c.currentSize += valueSize
}
