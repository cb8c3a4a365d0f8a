package routes

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
	"fmt"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/cluster"
	"github.com/PelionIoT/devicecache/membership"
)

type ClusterFacade interface {
	AddNode(ctx context.Context, nodeConfig cluster.NodeConfig) error
	RemoveNode(ctx context.Context, nodeID uint64) error
	LocalNodeID() uint64
	Nodes() []cluster.NodeConfig
	View() membership.ClusterView
	GateState() membership.GateState
	SubmitBucketCommand(ctx context.Context, command bucket.BucketCommand) error
	CreateCache(ctx context.Context, settings bucket.CacheSettings) error
	DeleteCache(ctx context.Context, cacheName string) error
	Caches() []bucket.CacheSettings
	Directory(cacheName string, storage uint64) ([]bucket.DirectoryEntry, error)
	// WatchOwnership streams directory changes until the returned function
	// is called
	WatchOwnership() (<-chan bucket.OwnershipChange, func())
}

type CacheFacade interface {
	Get(ctx context.Context, cacheName string, key string) ([]byte, error)
	Put(ctx context.Context, cacheName string, key string, value []byte) error
	Delete(ctx context.Context, cacheName string, key string) error
	// LocalPut and LocalDelete write to the local copy of a bucket. They are
	// used to replicate writes to backup storage numbers.
	LocalPut(id bucket.BucketID, key string, value []byte) error
	LocalDelete(id bucket.BucketID, key string) error
}

// NotOwnerError is returned by a CacheFacade when another node owns the
// bucket of the requested key
type NotOwnerError struct {
	Owner bucket.NodeAddress
}

func (notOwnerError NotOwnerError) Error() string {
	return fmt.Sprintf("bucket is owned by %v", notOwnerError.Owner)
}
