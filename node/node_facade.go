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
	"context"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/cluster"
	. "github.com/PelionIoT/devicecache/error"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/membership"
	"github.com/PelionIoT/devicecache/routes"
	"github.com/PelionIoT/devicecache/storage"
)

// ClusterNodeFacade exposes cluster membership, cache registration and
// the bucket directory to the HTTP routes
type ClusterNodeFacade struct {
	node *ClusterNode
}

func (clusterFacade *ClusterNodeFacade) controller() *cluster.ClusterController {
	return clusterFacade.node.configController.ClusterController()
}

// AddNode is idempotent for a node that is already a member with the same
// address. A member ID reused with another address is refused.
func (clusterFacade *ClusterNodeFacade) AddNode(ctx context.Context, nodeConfig cluster.NodeConfig) error {
	if existing, ok := clusterFacade.controller().NodeConfig(nodeConfig.Address.NodeID); ok {
		if existing.Address == nodeConfig.Address {
			return nil
		}

		return EDuplicateNodeID
	}

	return clusterFacade.node.configController.AddNode(ctx, nodeConfig)
}

func (clusterFacade *ClusterNodeFacade) RemoveNode(ctx context.Context, nodeID uint64) error {
	return clusterFacade.node.configController.RemoveNode(ctx, nodeID)
}

func (clusterFacade *ClusterNodeFacade) LocalNodeID() uint64 {
	return clusterFacade.node.ID()
}

func (clusterFacade *ClusterNodeFacade) Nodes() []cluster.NodeConfig {
	return clusterFacade.controller().Nodes()
}

func (clusterFacade *ClusterNodeFacade) View() membership.ClusterView {
	return clusterFacade.controller().View()
}

func (clusterFacade *ClusterNodeFacade) GateState() membership.GateState {
	return clusterFacade.controller().Gate.State()
}

func (clusterFacade *ClusterNodeFacade) SubmitBucketCommand(ctx context.Context, command bucket.BucketCommand) error {
	return clusterFacade.node.Proposer().BucketCommand(ctx, command)
}

func (clusterFacade *ClusterNodeFacade) CreateCache(ctx context.Context, settings bucket.CacheSettings) error {
	directory := clusterFacade.controller().Directory()

	if existing, ok := directory.Cache(settings.Name); ok {
		if existing == settings {
			return nil
		}

		return ECacheExists
	}

	if err := clusterFacade.node.Proposer().ClusterCommand(ctx, cluster.ClusterCreateCacheBody{Settings: settings}); err != nil {
		return err
	}

	// another node may have registered the name first with other settings
	if existing, ok := directory.Cache(settings.Name); !ok || existing != settings {
		return ECacheExists
	}

	return nil
}

func (clusterFacade *ClusterNodeFacade) DeleteCache(ctx context.Context, cacheName string) error {
	if _, ok := clusterFacade.controller().Directory().Cache(cacheName); !ok {
		return ENoSuchCache
	}

	return clusterFacade.node.Proposer().ClusterCommand(ctx, cluster.ClusterDeleteCacheBody{CacheName: cacheName})
}

func (clusterFacade *ClusterNodeFacade) Caches() []bucket.CacheSettings {
	return clusterFacade.controller().Directory().Caches()
}

func (clusterFacade *ClusterNodeFacade) Directory(cacheName string, storage uint64) ([]bucket.DirectoryEntry, error) {
	return clusterFacade.controller().Directory().Buckets(cacheName, storage)
}

func (clusterFacade *ClusterNodeFacade) WatchOwnership() (<-chan bucket.OwnershipChange, func()) {
	return clusterFacade.node.broadcaster.Subscribe()
}

// CacheNodeFacade serves key reads and writes. Keys map to a bucket of
// storage number 0, which is the tier clients read from. Writes are
// replicated to the owners of the same bucket at the other storage
// numbers on a best effort basis so that a restore finds the content.
type CacheNodeFacade struct {
	node *ClusterNode
}

func cacheError(err error) error {
	switch err {
	case storage.ENotServing:
		return ENotAccessible
	case storage.EEmptyKey:
		return EEmpty
	}

	return err
}

// owned resolves the bucket of key and checks that the local node owns it
func (cacheFacade *CacheNodeFacade) owned(cacheName string, key string) (bucket.BucketID, bucket.CacheSettings, error) {
	directory := cacheFacade.node.configController.ClusterController().Directory()
	settings, ok := directory.Cache(cacheName)

	if !ok {
		return bucket.BucketID{}, settings, ENoSuchCache
	}

	if key == "" {
		return bucket.BucketID{}, settings, EEmpty
	}

	id := bucket.BucketID{CacheName: cacheName, Storage: 0, Bucket: cluster.BucketForKey(key, settings.Buckets)}
	owner, err := directory.OwnerOf(id.CacheName, id.Storage, id.Bucket)

	if err != nil {
		return id, settings, err
	}

	if owner.IsOrphaned() {
		return id, settings, ENotAccessible
	}

	if owner.Address != cacheFacade.node.Address() {
		return id, settings, routes.NotOwnerError{Owner: owner.Address}
	}

	return id, settings, nil
}

func (cacheFacade *CacheNodeFacade) Get(ctx context.Context, cacheName string, key string) ([]byte, error) {
	id, _, err := cacheFacade.owned(cacheName, key)

	if err != nil {
		return nil, err
	}

	value, err := cacheFacade.node.store.Get(id, []byte(key))

	return value, cacheError(err)
}

func (cacheFacade *CacheNodeFacade) Put(ctx context.Context, cacheName string, key string, value []byte) error {
	id, settings, err := cacheFacade.owned(cacheName, key)

	if err != nil {
		return err
	}

	if err := cacheFacade.node.store.Put(id, []byte(key), value); err != nil {
		return cacheError(err)
	}

	cacheFacade.replicate(ctx, settings, id, func(ctx context.Context, replica bucket.BucketID, owner bucket.NodeAddress) error {
		if owner == cacheFacade.node.Address() {
			return cacheFacade.node.store.Put(replica, []byte(key), value)
		}

		return cacheFacade.node.interClusterClient.ReplicatePut(ctx, owner, replica, key, value)
	})

	return nil
}

func (cacheFacade *CacheNodeFacade) Delete(ctx context.Context, cacheName string, key string) error {
	id, settings, err := cacheFacade.owned(cacheName, key)

	if err != nil {
		return err
	}

	if err := cacheFacade.node.store.Delete(id, []byte(key)); err != nil {
		return cacheError(err)
	}

	cacheFacade.replicate(ctx, settings, id, func(ctx context.Context, replica bucket.BucketID, owner bucket.NodeAddress) error {
		if owner == cacheFacade.node.Address() {
			return cacheFacade.node.store.Delete(replica, []byte(key))
		}

		return cacheFacade.node.interClusterClient.ReplicateDelete(ctx, owner, replica, key)
	})

	return nil
}

// replicate applies a write to every other storage number of the bucket
// that has an owner. Failures are logged and otherwise ignored.
func (cacheFacade *CacheNodeFacade) replicate(ctx context.Context, settings bucket.CacheSettings, id bucket.BucketID, write func(ctx context.Context, replica bucket.BucketID, owner bucket.NodeAddress) error) {
	directory := cacheFacade.node.configController.ClusterController().Directory()

	for storageNumber := uint64(1); storageNumber < settings.Storages; storageNumber++ {
		replica := bucket.BucketID{CacheName: id.CacheName, Storage: storageNumber, Bucket: id.Bucket}
		owner, err := directory.OwnerOf(replica.CacheName, replica.Storage, replica.Bucket)

		if err != nil || owner.IsOrphaned() {
			continue
		}

		if err := write(ctx, replica, owner.Address); err != nil {
			Log.Warningf("Local node (id = %d) unable to replicate a write to bucket %v at %v: %v", cacheFacade.node.ID(), replica, owner.Address, err)
		}
	}
}

func (cacheFacade *CacheNodeFacade) LocalPut(id bucket.BucketID, key string, value []byte) error {
	return cacheError(cacheFacade.node.store.Put(id, []byte(key), value))
}

func (cacheFacade *CacheNodeFacade) LocalDelete(id bucket.BucketID, key string) error {
	return cacheError(cacheFacade.node.store.Delete(id, []byte(key)))
}
