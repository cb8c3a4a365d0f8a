package shared

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
	"time"

	. "github.com/PelionIoT/devicecache/logging"
)

// Compactable is storage that can reclaim the space of deleted content
type Compactable interface {
	Compact() error
}

// StorageCompactor periodically compacts node storage. Dropped buckets and
// deleted caches leave tombstones behind until storage is compacted.
type StorageCompactor struct {
	storage  Compactable
	interval time.Duration
	done     chan bool
}

func NewStorageCompactor(storage Compactable, interval time.Duration) *StorageCompactor {
	return &StorageCompactor{
		storage:  storage,
		interval: interval,
		done:     make(chan bool),
	}
}

func (compactor *StorageCompactor) Start() {
	go func() {
		for {
			select {
			case <-compactor.done:
				return
			case <-time.After(compactor.interval):
				Log.Infof("Performing storage compaction")

				if err := compactor.storage.Compact(); err != nil {
					Log.Warningf("Storage compaction failed: %v", err.Error())
				}
			}
		}
	}()
}

func (compactor *StorageCompactor) Stop() {
	close(compactor.done)
}
