package bucket

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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ENoSuchCache = errors.New("The cache is not registered in the bucket directory")
var ECacheExists = errors.New("A cache with this name is already registered with different settings")
var EInvalidCacheSettings = errors.New("A cache needs at least one bucket and one storage number")
var EBucketOutOfRange = errors.New("The bucket number is outside of the range of the cache")
var EStorageOutOfRange = errors.New("The storage number is outside of the range of the cache")
var EDirectoryCorrupted = errors.New("The bucket directory violates its invariants")

// Owner is either the address of the node that owns a bucket or the
// ORPHANED mark. It is never both and never neither.
type Owner struct {
	Address  NodeAddress `json:"address"`
	Orphaned bool        `json:"orphaned"`
}

// Orphaned marks a bucket that has no live owner
var Orphaned = Owner{Orphaned: true}

func OwnedBy(address NodeAddress) Owner {
	return Owner{Address: address}
}

func (owner Owner) IsOrphaned() bool {
	return owner.Orphaned
}

func (owner Owner) Is(address NodeAddress) bool {
	return !owner.Orphaned && owner.Address == address
}

func (owner Owner) String() string {
	if owner.Orphaned {
		return "ORPHANED"
	}

	return owner.Address.String()
}

// Transfer is the in-flight handoff of a bucket. It is recorded next to
// the owner, which keeps naming From until the transfer finishes.
type Transfer struct {
	From               NodeAddress `json:"from"`
	To                 NodeAddress `json:"to"`
	DestinationStorage uint64      `json:"destinationStorage"`
}

type BucketState int

const (
	StateOwned        BucketState = iota
	StateTransferring BucketState = iota
	StateOrphaned     BucketState = iota
)

func (state BucketState) String() string {
	switch state {
	case StateOwned:
		return "OWNED"
	case StateTransferring:
		return "TRANSFERRING"
	case StateOrphaned:
		return "ORPHANED"
	}

	return "UNKNOWN"
}

type DirectoryEntry struct {
	Owner    Owner     `json:"owner"`
	Transfer *Transfer `json:"transfer,omitempty"`
}

func (entry DirectoryEntry) State() BucketState {
	if entry.Owner.IsOrphaned() {
		return StateOrphaned
	}

	if entry.Transfer != nil {
		return StateTransferring
	}

	return StateOwned
}

func (entry DirectoryEntry) copy() DirectoryEntry {
	if entry.Transfer != nil {
		transfer := *entry.Transfer
		entry.Transfer = &transfer
	}

	return entry
}

func (entry DirectoryEntry) String() string {
	switch entry.State() {
	case StateOwned:
		return fmt.Sprintf("OWNED(%v)", entry.Owner.Address)
	case StateTransferring:
		return fmt.Sprintf("TRANSFERRING(%v, %v)", entry.Transfer.From, entry.Transfer.To)
	}

	return "ORPHANED"
}

type CacheSettings struct {
	Name     string `json:"name"`
	Buckets  uint64 `json:"buckets"`
	Storages uint64 `json:"storages"`
}

func (settings CacheSettings) Validate() error {
	if settings.Name == "" {
		return EMissingCacheName
	}

	if settings.Buckets == 0 || settings.Storages == 0 {
		return EInvalidCacheSettings
	}

	return nil
}

// OwnershipChange describes a single entry mutation. Listeners receive
// the state before and after as copies.
type OwnershipChange struct {
	ID     BucketID       `json:"id"`
	Before DirectoryEntry `json:"before"`
	After  DirectoryEntry `json:"after"`
}

type cacheDirectory struct {
	Settings CacheSettings      `json:"settings"`
	Entries  [][]DirectoryEntry `json:"entries"`
}

func newCacheDirectory(settings CacheSettings) *cacheDirectory {
	entries := make([][]DirectoryEntry, settings.Storages)

	for storage := range entries {
		entries[storage] = make([]DirectoryEntry, settings.Buckets)

		for bucket := range entries[storage] {
			entries[storage][bucket] = DirectoryEntry{Owner: Orphaned}
		}
	}

	return &cacheDirectory{Settings: settings, Entries: entries}
}

// Directory is the node's record of which node owns each bucket of each
// cache at each storage number. Reads may happen from any goroutine and
// always observe an entry either wholly before or wholly after a mutation.
type Directory struct {
	caches    map[string]*cacheDirectory
	listeners []func(OwnershipChange)
	lock      sync.RWMutex
}

func NewDirectory() *Directory {
	return &Directory{
		caches: make(map[string]*cacheDirectory),
	}
}

// OnChange registers a listener for entry mutations. Listeners run on the
// goroutine that applied the mutation after the directory lock is released.
func (directory *Directory) OnChange(listener func(OwnershipChange)) {
	directory.lock.Lock()
	defer directory.lock.Unlock()

	directory.listeners = append(directory.listeners, listener)
}

// RegisterCache creates one ORPHANED entry for every bucket at every storage
// number. Registering the same settings twice is a no-op.
func (directory *Directory) RegisterCache(settings CacheSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	directory.lock.Lock()
	defer directory.lock.Unlock()

	if existing, ok := directory.caches[settings.Name]; ok {
		if existing.Settings != settings {
			return ECacheExists
		}

		return nil
	}

	directory.caches[settings.Name] = newCacheDirectory(settings)

	return nil
}

func (directory *Directory) DeleteCache(cacheName string) bool {
	directory.lock.Lock()
	defer directory.lock.Unlock()

	if _, ok := directory.caches[cacheName]; !ok {
		return false
	}

	delete(directory.caches, cacheName)

	return true
}

func (directory *Directory) Cache(cacheName string) (CacheSettings, bool) {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	cache, ok := directory.caches[cacheName]

	if !ok {
		return CacheSettings{}, false
	}

	return cache.Settings, true
}

func (directory *Directory) Caches() []CacheSettings {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	caches := make([]CacheSettings, 0, len(directory.caches))

	for _, cache := range directory.caches {
		caches = append(caches, cache.Settings)
	}

	sort.Slice(caches, func(i, j int) bool { return caches[i].Name < caches[j].Name })

	return caches
}

func (directory *Directory) OwnerOf(cacheName string, storage uint64, bucket uint64) (Owner, error) {
	entry, err := directory.EntryOf(cacheName, storage, bucket)

	if err != nil {
		return Owner{}, err
	}

	return entry.Owner, nil
}

func (directory *Directory) TransferOf(cacheName string, storage uint64, bucket uint64) (*Transfer, error) {
	entry, err := directory.EntryOf(cacheName, storage, bucket)

	if err != nil {
		return nil, err
	}

	return entry.Transfer, nil
}

func (directory *Directory) EntryOf(cacheName string, storage uint64, bucket uint64) (DirectoryEntry, error) {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	entry, err := directory.entry(cacheName, storage, bucket)

	if err != nil {
		return DirectoryEntry{}, err
	}

	return entry.copy(), nil
}

// Buckets returns a copy of every entry of a cache at one storage number
// indexed by bucket number
func (directory *Directory) Buckets(cacheName string, storage uint64) ([]DirectoryEntry, error) {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	cache, ok := directory.caches[cacheName]

	if !ok {
		return nil, ENoSuchCache
	}

	if storage >= cache.Settings.Storages {
		return nil, EStorageOutOfRange
	}

	entries := make([]DirectoryEntry, len(cache.Entries[storage]))

	for bucket, entry := range cache.Entries[storage] {
		entries[bucket] = entry.copy()
	}

	return entries, nil
}

// SetOwner records address as the owner of a bucket. It returns false and
// notifies no one if address already owns it.
func (directory *Directory) SetOwner(cacheName string, storage uint64, bucket uint64, address NodeAddress) (bool, error) {
	return directory.mutate(cacheName, storage, bucket, func(entry *DirectoryEntry) {
		entry.Owner = OwnedBy(address)
	})
}

// MarkOrphaned records that a bucket has no live owner. It returns false
// and notifies no one if the bucket is already ORPHANED.
func (directory *Directory) MarkOrphaned(cacheName string, storage uint64, bucket uint64) (bool, error) {
	return directory.mutate(cacheName, storage, bucket, func(entry *DirectoryEntry) {
		entry.Owner = Orphaned
		entry.Transfer = nil
	})
}

func (directory *Directory) mutate(cacheName string, storage uint64, bucket uint64, update func(entry *DirectoryEntry)) (bool, error) {
	directory.lock.Lock()

	entry, err := directory.entry(cacheName, storage, bucket)

	if err != nil {
		directory.lock.Unlock()

		return false, err
	}

	before := entry.copy()
	update(entry)

	if entriesEqual(before, *entry) {
		directory.lock.Unlock()

		return false, nil
	}

	change := OwnershipChange{ID: BucketID{CacheName: cacheName, Storage: storage, Bucket: bucket}, Before: before, After: entry.copy()}
	listeners := directory.listeners
	directory.lock.Unlock()

	notify(listeners, []OwnershipChange{change})

	return true, nil
}

func (directory *Directory) entry(cacheName string, storage uint64, bucket uint64) (*DirectoryEntry, error) {
	cache, ok := directory.caches[cacheName]

	if !ok {
		return nil, ENoSuchCache
	}

	if storage >= cache.Settings.Storages {
		return nil, EStorageOutOfRange
	}

	if bucket >= cache.Settings.Buckets {
		return nil, EBucketOutOfRange
	}

	return &cache.Entries[storage][bucket], nil
}

// PendingTransfer is a transfer recorded in the directory along with the
// bucket it moves
type PendingTransfer struct {
	ID       BucketID
	Transfer Transfer
}

// TransfersInvolving lists every in-flight transfer whose source or
// destination is address
func (directory *Directory) TransfersInvolving(address NodeAddress) []PendingTransfer {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	pendingTransfers := make([]PendingTransfer, 0)

	for cacheName, cache := range directory.caches {
		for storage, entries := range cache.Entries {
			for bucket, entry := range entries {
				if entry.Transfer == nil {
					continue
				}

				if entry.Transfer.From == address || entry.Transfer.To == address {
					pendingTransfers = append(pendingTransfers, PendingTransfer{
						ID:       BucketID{CacheName: cacheName, Storage: uint64(storage), Bucket: uint64(bucket)},
						Transfer: *entry.Transfer,
					})
				}
			}
		}
	}

	return pendingTransfers
}

// OwnedBy lists the buckets a node owns in a cache at a storage number
func (directory *Directory) OwnedBy(cacheName string, storage uint64, address NodeAddress) []uint64 {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	cache, ok := directory.caches[cacheName]

	if !ok || storage >= cache.Settings.Storages {
		return []uint64{}
	}

	buckets := make([]uint64, 0)

	for bucket, entry := range cache.Entries[storage] {
		if entry.Owner.Is(address) {
			buckets = append(buckets, uint64(bucket))
		}
	}

	return buckets
}

// CheckInvariants returns EDirectoryCorrupted if any entry has neither an
// owner nor the ORPHANED mark, has both, or records a transfer that does
// not start at its owner
func (directory *Directory) CheckInvariants() error {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	for cacheName, cache := range directory.caches {
		if uint64(len(cache.Entries)) != cache.Settings.Storages {
			return fmt.Errorf("%w: cache %s has %d storage tiers instead of %d", EDirectoryCorrupted, cacheName, len(cache.Entries), cache.Settings.Storages)
		}

		for storage, entries := range cache.Entries {
			if uint64(len(entries)) != cache.Settings.Buckets {
				return fmt.Errorf("%w: cache %s storage %d has %d buckets instead of %d", EDirectoryCorrupted, cacheName, storage, len(entries), cache.Settings.Buckets)
			}

			for bucket, entry := range entries {
				if err := checkEntry(entry); err != nil {
					return fmt.Errorf("%w: cache %s storage %d bucket %d: %s", EDirectoryCorrupted, cacheName, storage, bucket, err.Error())
				}
			}
		}
	}

	return nil
}

func checkEntry(entry DirectoryEntry) error {
	if entry.Owner.Orphaned && !entry.Owner.Address.IsEmpty() {
		return errors.New("entry is both owned and orphaned")
	}

	if !entry.Owner.Orphaned && entry.Owner.Address.IsEmpty() {
		return errors.New("entry has no owner and is not orphaned")
	}

	if entry.Transfer != nil {
		if entry.Owner.Orphaned {
			return errors.New("orphaned entry has a transfer in flight")
		}

		if entry.Transfer.From != entry.Owner.Address {
			return errors.New("transfer does not start at the owner")
		}
	}

	return nil
}

type directorySnapshot struct {
	Caches map[string]*cacheDirectory `json:"caches"`
}

func (directory *Directory) MarshalJSON() ([]byte, error) {
	directory.lock.RLock()
	defer directory.lock.RUnlock()

	return json.Marshal(directorySnapshot{Caches: directory.caches})
}

// UnmarshalJSON replaces the directory contents with a snapshot. Registered
// listeners are kept but not notified.
func (directory *Directory) UnmarshalJSON(encoded []byte) error {
	var snapshot directorySnapshot

	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return err
	}

	if snapshot.Caches == nil {
		snapshot.Caches = make(map[string]*cacheDirectory)
	}

	directory.lock.Lock()
	defer directory.lock.Unlock()

	directory.caches = snapshot.Caches

	return nil
}

func entriesEqual(a DirectoryEntry, b DirectoryEntry) bool {
	if a.Owner != b.Owner {
		return false
	}

	if a.Transfer == nil || b.Transfer == nil {
		return a.Transfer == nil && b.Transfer == nil
	}

	return *a.Transfer == *b.Transfer
}

func notify(listeners []func(OwnershipChange), changes []OwnershipChange) {
	for _, change := range changes {
		for _, listener := range listeners {
			listener(change)
		}
	}
}
