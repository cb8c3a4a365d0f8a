package storage

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
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/util"
)

var (
	ENotServing   = errors.New("The bucket is not being served by this node")
	EEmptyKey     = errors.New("Keys must not be empty")
	DataPrefix    = []byte{0}
	StagedPrefix  = []byte{1}
	cacheNameStop = byte(0)
)

// Entry is one key and its opaque value
type Entry struct {
	Key   []byte `json:"key" cbor:"1,keyasint"`
	Value []byte `json:"value" cbor:"2,keyasint"`
}

// BucketStore keeps the key/value content of every local bucket. Each bucket
// has a live key space that client reads and writes go to while the bucket
// is served, and a staged key space that incoming transfers fill before the
// content is committed.
type BucketStore struct {
	driver      StorageDriver
	data        *PrefixedStorageDriver
	staged      *PrefixedStorageDriver
	serving     map[bucket.BucketID]bool
	servingLock sync.RWMutex
	bucketLocks *util.MultiLock
}

func NewBucketStore(driver StorageDriver) *BucketStore {
	return &BucketStore{
		driver:      driver,
		data:        NewPrefixedStorageDriver(DataPrefix, driver),
		staged:      NewPrefixedStorageDriver(StagedPrefix, driver),
		serving:     make(map[bucket.BucketID]bool),
		bucketLocks: util.NewMultiLock(),
	}
}

func (store *BucketStore) Open() error {
	return store.driver.Open()
}

func (store *BucketStore) Close() error {
	return store.driver.Close()
}

func cachePrefix(cacheName string) []byte {
	prefix := make([]byte, 0, len(cacheName)+1)
	prefix = append(prefix, []byte(cacheName)...)

	return append(prefix, cacheNameStop)
}

func bucketPrefix(id bucket.BucketID) []byte {
	prefix := cachePrefix(id.CacheName)
	var numbers [16]byte

	binary.BigEndian.PutUint64(numbers[:8], id.Storage)
	binary.BigEndian.PutUint64(numbers[8:], id.Bucket)

	return append(prefix, numbers[:]...)
}

func bucketKey(id bucket.BucketID, key []byte) []byte {
	return append(bucketPrefix(id), key...)
}

func (store *BucketStore) lock(id bucket.BucketID) []byte {
	lockKey := bucketPrefix(id)
	store.bucketLocks.Lock(lockKey)

	return lockKey
}

// BeginServing makes the bucket accessible to Get, Put and Delete
func (store *BucketStore) BeginServing(id bucket.BucketID) error {
	store.servingLock.Lock()
	defer store.servingLock.Unlock()

	if !store.serving[id] {
		store.serving[id] = true
		prometheusServingBuckets.Inc()
	}

	Log.Debugf("Begin serving bucket %v", id)

	return nil
}

// StopServing makes client access to the bucket fail with ENotServing. Its
// content is kept.
func (store *BucketStore) StopServing(id bucket.BucketID) error {
	store.servingLock.Lock()
	defer store.servingLock.Unlock()

	if store.serving[id] {
		delete(store.serving, id)
		prometheusServingBuckets.Dec()
	}

	Log.Debugf("Stop serving bucket %v", id)

	return nil
}

func (store *BucketStore) IsServing(id bucket.BucketID) bool {
	store.servingLock.RLock()
	defer store.servingLock.RUnlock()

	return store.serving[id]
}

// ServingBuckets lists the served buckets ordered by cache, storage and bucket
func (store *BucketStore) ServingBuckets() []bucket.BucketID {
	store.servingLock.RLock()
	ids := make([]bucket.BucketID, 0, len(store.serving))

	for id := range store.serving {
		ids = append(ids, id)
	}

	store.servingLock.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].CacheName != ids[j].CacheName {
			return ids[i].CacheName < ids[j].CacheName
		}

		if ids[i].Storage != ids[j].Storage {
			return ids[i].Storage < ids[j].Storage
		}

		return ids[i].Bucket < ids[j].Bucket
	})

	return ids
}

func (store *BucketStore) Get(id bucket.BucketID, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, EEmptyKey
	}

	if !store.IsServing(id) {
		return nil, ENotServing
	}

	values, err := store.data.Get([][]byte{bucketKey(id, key)})

	if err != nil {
		Log.Errorf("Unable to read key from bucket %v: %v", id, err.Error())

		return nil, err
	}

	return values[0], nil
}

func (store *BucketStore) Put(id bucket.BucketID, key []byte, value []byte) error {
	if len(key) == 0 {
		return EEmptyKey
	}

	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	if !store.IsServing(id) {
		return ENotServing
	}

	return store.data.Batch(NewBatch().Put(bucketKey(id, key), value))
}

func (store *BucketStore) Delete(id bucket.BucketID, key []byte) error {
	if len(key) == 0 {
		return EEmptyKey
	}

	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	if !store.IsServing(id) {
		return ENotServing
	}

	return store.data.Batch(NewBatch().Delete(bucketKey(id, key)))
}

func (store *BucketStore) entries(driver StorageDriver, id bucket.BucketID) ([]Entry, error) {
	prefix := bucketPrefix(id)
	iter, err := driver.Scan(prefix)

	if err != nil {
		return nil, err
	}

	defer iter.Release()

	entries := make([]Entry, 0)

	for iter.Next() {
		key := iter.Key()[len(prefix):]
		entry := Entry{
			Key:   append([]byte{}, key...),
			Value: append([]byte{}, iter.Value()...),
		}

		entries = append(entries, entry)
	}

	if iter.Error() != nil {
		return nil, iter.Error()
	}

	return entries, nil
}

func prefixed(prefix []byte, key []byte) []byte {
	result := make([]byte, 0, len(prefix)+len(key))
	result = append(result, prefix...)

	return append(result, key...)
}

// clearPrefix adds a delete to batch for every key of driver under prefix
func clearPrefix(driver StorageDriver, prefix []byte, batch *Batch) error {
	iter, err := driver.Scan(prefix)

	if err != nil {
		return err
	}

	defer iter.Release()

	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}

	return iter.Error()
}

// Entries returns the live content of a bucket in key order whether or
// not it is being served
func (store *BucketStore) Entries(id bucket.BucketID) ([]Entry, error) {
	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	return store.entries(store.data, id)
}

// StagedEntries returns the staged content of a bucket in key order
func (store *BucketStore) StagedEntries(id bucket.BucketID) ([]Entry, error) {
	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	return store.entries(store.staged, id)
}

// Drop deletes the live content of a bucket
func (store *BucketStore) Drop(id bucket.BucketID) error {
	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	batch := NewBatch()

	if err := clearPrefix(store.data, bucketPrefix(id), batch); err != nil {
		Log.Errorf("Unable to drop bucket %v: %v", id, err.Error())

		return err
	}

	return store.data.Batch(batch)
}

// Stage adds entries to the staged key space of a bucket. Stage may be
// called several times for one transfer.
func (store *BucketStore) Stage(id bucket.BucketID, entries []Entry) error {
	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	batch := NewBatch()

	for _, entry := range entries {
		if len(entry.Key) == 0 {
			return EEmptyKey
		}

		batch.Put(bucketKey(id, entry.Key), entry.Value)
	}

	return store.staged.Batch(batch)
}

// CommitStaged replaces the live content of a bucket with its staged
// content and empties the staged key space
func (store *BucketStore) CommitStaged(id bucket.BucketID) error {
	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	stagedEntries, err := store.entries(store.staged, id)

	if err != nil {
		Log.Errorf("Unable to read staged content of bucket %v: %v", id, err.Error())

		return err
	}

	batch := NewBatch()

	if err := clearPrefix(store.driver, prefixed(DataPrefix, bucketPrefix(id)), batch); err != nil {
		return err
	}

	if err := clearPrefix(store.driver, prefixed(StagedPrefix, bucketPrefix(id)), batch); err != nil {
		return err
	}

	for _, entry := range stagedEntries {
		batch.Put(prefixed(DataPrefix, bucketKey(id, entry.Key)), entry.Value)
	}

	if err := store.driver.Batch(batch); err != nil {
		Log.Errorf("Unable to commit staged content of bucket %v: %v", id, err.Error())

		return err
	}

	Log.Debugf("Committed %d staged entries to bucket %v", len(stagedEntries), id)

	return nil
}

// DiscardStaged deletes the staged content of a bucket
func (store *BucketStore) DiscardStaged(id bucket.BucketID) error {
	lockKey := store.lock(id)
	defer store.bucketLocks.Unlock(lockKey)

	batch := NewBatch()

	if err := clearPrefix(store.staged, bucketPrefix(id), batch); err != nil {
		return err
	}

	return store.staged.Batch(batch)
}

// CopyLocal stages the live content of one local bucket into another. The
// copy becomes visible once the destination is committed.
func (store *BucketStore) CopyLocal(from bucket.BucketID, to bucket.BucketID) (int, error) {
	entries, err := store.Entries(from)

	if err != nil {
		return 0, err
	}

	if err := store.Stage(to, entries); err != nil {
		return 0, err
	}

	return len(entries), nil
}

// DropCache deletes all live and staged content of a cache and stops
// serving its buckets
func (store *BucketStore) DropCache(cacheName string) error {
	store.servingLock.Lock()

	for id := range store.serving {
		if id.CacheName == cacheName {
			delete(store.serving, id)
			prometheusServingBuckets.Dec()
		}
	}

	store.servingLock.Unlock()

	batch := NewBatch()

	for _, prefix := range [][]byte{DataPrefix, StagedPrefix} {
		if err := clearPrefix(store.driver, prefixed(prefix, cachePrefix(cacheName)), batch); err != nil {
			return err
		}
	}

	return store.driver.Batch(batch)
}
