package node

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"sync"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"
)

// WatcherBufferSize is the number of ownership changes buffered for each
// watcher. Changes are dropped for a watcher whose buffer is full.
const WatcherBufferSize = 64

// OwnershipBroadcaster fans directory changes out to watchers. Publish is
// called from the raft apply loop and never blocks.
type OwnershipBroadcaster struct {
	watchers map[uint64]chan bucket.OwnershipChange
	nextID   uint64
	lock     sync.Mutex
}

func NewOwnershipBroadcaster() *OwnershipBroadcaster {
	return &OwnershipBroadcaster{
		watchers: make(map[uint64]chan bucket.OwnershipChange),
	}
}

func (broadcaster *OwnershipBroadcaster) Publish(change bucket.OwnershipChange) {
	broadcaster.lock.Lock()
	defer broadcaster.lock.Unlock()

	for id, watcher := range broadcaster.watchers {
		select {
		case watcher <- change:
		default:
			Log.Warningf("Watcher %d is not keeping up. Dropping ownership change of bucket %v", id, change.ID)
		}
	}
}

// Subscribe registers a new watcher. The returned function unregisters it
// and closes its channel. It may be called more than once.
func (broadcaster *OwnershipBroadcaster) Subscribe() (<-chan bucket.OwnershipChange, func()) {
	broadcaster.lock.Lock()
	defer broadcaster.lock.Unlock()

	id := broadcaster.nextID
	watcher := make(chan bucket.OwnershipChange, WatcherBufferSize)
	broadcaster.nextID++
	broadcaster.watchers[id] = watcher

	return watcher, func() {
		broadcaster.lock.Lock()
		defer broadcaster.lock.Unlock()

		if _, ok := broadcaster.watchers[id]; ok {
			delete(broadcaster.watchers, id)
			close(watcher)
		}
	}
}

// Close unregisters every watcher
func (broadcaster *OwnershipBroadcaster) Close() {
	broadcaster.lock.Lock()
	defer broadcaster.lock.Unlock()

	for id, watcher := range broadcaster.watchers {
		delete(broadcaster.watchers, id)
		close(watcher)
	}
}
