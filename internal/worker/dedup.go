/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package worker

import (
	"container/list"
	"sync"
)

// DedupSet is a bounded, recently-seen-keys set: the Worker's idempotency
// guard against redeliveries and handler restarts. Oldest keys are
// evicted once the set exceeds its capacity — an exactly-once
// guarantee is not needed, only "good enough to tolerate redelivery and
// restart", so an LRU bound is simpler than a time-windowed sweep.
type DedupSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedupSet constructs a DedupSet holding at most capacity keys.
func NewDedupSet(capacity int) *DedupSet {
	if capacity <= 0 {
		capacity = 10000
	}
	return &DedupSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Seen reports whether key has already been marked. It does not record
// key itself — a message being retried must keep seeing false until it
// actually completes, or a nak'd redelivery would be silently dropped.
func (d *DedupSet) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.MoveToFront(el)
		return true
	}
	return false
}

// Mark records key as seen, evicting the oldest entry once capacity is
// exceeded.
func (d *DedupSet) Mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.MoveToFront(el)
		return
	}

	el := d.order.PushFront(key)
	d.index[key] = el

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}
}
