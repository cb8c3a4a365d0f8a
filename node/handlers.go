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
	"sync"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"
)

// Proposer submits commands to the replicated cluster log and waits for
// the local node to apply them
type Proposer interface {
	ClusterCommand(ctx context.Context, commandBody interface{}) error
	BucketCommand(ctx context.Context, command bucket.BucketCommand) error
}

// BucketStorage controls which local buckets are served and what content
// they hold
type BucketStorage interface {
	BeginServing(id bucket.BucketID) error
	StopServing(id bucket.BucketID) error
	Drop(id bucket.BucketID) error
	CommitStaged(id bucket.BucketID) error
	DiscardStaged(id bucket.BucketID) error
	DropCache(cacheName string) error
}

// BucketCopier moves bucket content between nodes
type BucketCopier interface {
	CopyBucketContent(ctx context.Context, source bucket.BucketID, destination bucket.BucketID, to bucket.NodeAddress) error
	Restore(ctx context.Context, source bucket.BucketID, destination bucket.BucketID) (int, error)
	Cancel(id bucket.BucketID) bool
	StopAllTransfers()
}

// OutcomeProposer reports the result of a content copy for a begun
// transfer as a Finish or a Cancel. Propose submits any other command a
// handler needs to report, such as an Orphan for a failed restore.
type OutcomeProposer interface {
	ProposeOutcome(ctx context.Context, begin bucket.BucketCommand, transferErr error) error
	Propose(ctx context.Context, command bucket.BucketCommand) error
}

// BucketMessageHandler carries out the local part of bucket commands. It
// is only ever called by the CommandExecutor, one message at a time.
type BucketMessageHandler struct {
	Storage  BucketStorage
	Copier   BucketCopier
	Outcomes OutcomeProposer
	copies   sync.WaitGroup
}

func NewBucketMessageHandler(storage BucketStorage, copier BucketCopier, outcomes OutcomeProposer) *BucketMessageHandler {
	return &BucketMessageHandler{
		Storage:  storage,
		Copier:   copier,
		Outcomes: outcomes,
	}
}

func sourceID(message bucket.BucketMessage, bucketNumber uint64) bucket.BucketID {
	return bucket.BucketID{CacheName: message.CacheName, Storage: message.SourceStorage, Bucket: bucketNumber}
}

func destinationID(message bucket.BucketMessage, bucketNumber uint64) bucket.BucketID {
	return bucket.BucketID{CacheName: message.CacheName, Storage: message.DestinationStorage, Bucket: bucketNumber}
}

func (handler *BucketMessageHandler) Handle(ctx context.Context, message bucket.BucketMessage) {
	Log.Debugf("Local node (%v) executing %v", message.Receiver, message)

	switch message.Kind {
	case bucket.AssignBucket:
		handler.assign(message)
	case bucket.BeginBucketTransfer:
		handler.begin(ctx, message)
	case bucket.FinishBucketTransfer:
		handler.finish(message)
	case bucket.CancelBucketTransfer:
		handler.cancel(message)
	case bucket.OrphanBucket:
		handler.orphan(message)
	case bucket.RestoreBucket:
		handler.restore(ctx, message)
	default:
		Log.Warningf("Local node (%v) ignoring message of unknown kind: %v", message.Receiver, message)
	}
}

func (handler *BucketMessageHandler) assign(message bucket.BucketMessage) {
	if message.Role != bucket.RoleOwner {
		return
	}

	for _, bucketNumber := range message.Buckets {
		id := sourceID(message, bucketNumber)

		if err := handler.Storage.BeginServing(id); err != nil {
			Log.Errorf("Local node (%v) unable to serve assigned bucket %v: %v", message.Receiver, id, err.Error())
		}
	}
}

// begin stops client access to each source bucket and copies its content
// to the new owner in the background. The outcome of every copy is
// proposed as its own Finish or Cancel. The new owner takes no action on
// Begin. It stages whatever content is pushed to it.
func (handler *BucketMessageHandler) begin(ctx context.Context, message bucket.BucketMessage) {
	if message.Role != bucket.RoleCurrentOwner {
		return
	}

	command := message.Command()

	for _, bucketNumber := range message.Buckets {
		source := sourceID(message, bucketNumber)
		destination := destinationID(message, bucketNumber)

		if err := handler.Storage.StopServing(source); err != nil {
			Log.Errorf("Local node (%v) unable to stop serving bucket %v: %v", message.Receiver, source, err.Error())
		}

		handler.copies.Add(1)

		go func(bucketNumber uint64) {
			defer handler.copies.Done()

			err := handler.Copier.CopyBucketContent(ctx, source, destination, message.Roles.NewOwner)

			if err := handler.Outcomes.ProposeOutcome(ctx, command.WithBuckets([]uint64{bucketNumber}), err); err != nil {
				Log.Errorf("Local node (%v) unable to report the outcome of the transfer of bucket %v: %v", message.Receiver, source, err.Error())
			}
		}(bucketNumber)
	}
}

// Wait blocks until every content copy started by a Begin message and
// every orphaned restore has been reported or given up
func (handler *BucketMessageHandler) Wait() {
	handler.copies.Wait()
}

func (handler *BucketMessageHandler) finish(message bucket.BucketMessage) {
	for _, bucketNumber := range message.Buckets {
		source := sourceID(message, bucketNumber)
		destination := destinationID(message, bucketNumber)

		switch message.Role {
		case bucket.RolePreviousOwner:
			handler.Copier.Cancel(source)

			if err := handler.Storage.StopServing(source); err != nil {
				Log.Errorf("Local node (%v) unable to stop serving bucket %v: %v", message.Receiver, source, err.Error())
			}

			if err := handler.Storage.Drop(source); err != nil {
				Log.Errorf("Local node (%v) unable to drop the content of bucket %v: %v", message.Receiver, source, err.Error())
			}
		case bucket.RoleNewOwner:
			if err := handler.Storage.CommitStaged(destination); err != nil {
				Log.Errorf("Local node (%v) unable to commit the transferred content of bucket %v: %v", message.Receiver, destination, err.Error())
			}

			if err := handler.Storage.BeginServing(destination); err != nil {
				Log.Errorf("Local node (%v) unable to serve bucket %v: %v", message.Receiver, destination, err.Error())
			}
		}
	}
}

func (handler *BucketMessageHandler) cancel(message bucket.BucketMessage) {
	for _, bucketNumber := range message.Buckets {
		source := sourceID(message, bucketNumber)
		destination := destinationID(message, bucketNumber)

		switch message.Role {
		case bucket.RolePreviousOwner:
			handler.Copier.Cancel(source)

			if err := handler.Storage.BeginServing(source); err != nil {
				Log.Errorf("Local node (%v) unable to resume serving bucket %v: %v", message.Receiver, source, err.Error())
			}
		case bucket.RoleNewOwner:
			handler.Copier.Cancel(destination)

			if err := handler.Storage.DiscardStaged(destination); err != nil {
				Log.Errorf("Local node (%v) unable to discard the staged content of bucket %v: %v", message.Receiver, destination, err.Error())
			}
		}
	}
}

func (handler *BucketMessageHandler) orphan(message bucket.BucketMessage) {
	if message.Role != bucket.RoleOwner {
		return
	}

	for _, bucketNumber := range message.Buckets {
		id := sourceID(message, bucketNumber)

		handler.Copier.Cancel(id)

		if err := handler.Storage.StopServing(id); err != nil {
			Log.Errorf("Local node (%v) unable to stop serving bucket %v: %v", message.Receiver, id, err.Error())
		}

		if err := handler.Storage.Drop(id); err != nil {
			Log.Errorf("Local node (%v) unable to drop the content of bucket %v: %v", message.Receiver, id, err.Error())
		}
	}
}

// restore pulls the content of each bucket from the storage number named
// by the message before serving it. A bucket whose restore fails stays
// unserved and is reported back to the cluster as orphaned.
func (handler *BucketMessageHandler) restore(ctx context.Context, message bucket.BucketMessage) {
	if message.Role != bucket.RoleTarget {
		return
	}

	for _, bucketNumber := range message.Buckets {
		source := sourceID(message, bucketNumber)
		destination := destinationID(message, bucketNumber)

		count, err := handler.Copier.Restore(ctx, source, destination)

		if err != nil {
			Log.Errorf("Local node (%v) unable to restore bucket %v from bucket %v. It will be orphaned: %v", message.Receiver, destination, source, err.Error())

			if err := handler.Storage.DiscardStaged(destination); err != nil {
				Log.Errorf("Local node (%v) unable to discard the staged content of bucket %v: %v", message.Receiver, destination, err.Error())
			}

			handler.orphanRestored(ctx, message, bucketNumber)

			continue
		}

		Log.Infof("Local node (%v) restored %d entries into bucket %v from bucket %v", message.Receiver, count, destination, source)

		if err := handler.Storage.CommitStaged(destination); err != nil {
			Log.Errorf("Local node (%v) unable to commit the restored content of bucket %v: %v", message.Receiver, destination, err.Error())
		}

		if err := handler.Storage.BeginServing(destination); err != nil {
			Log.Errorf("Local node (%v) unable to serve bucket %v: %v", message.Receiver, destination, err.Error())
		}
	}
}

func (handler *BucketMessageHandler) orphanRestored(ctx context.Context, message bucket.BucketMessage, bucketNumber uint64) {
	command := bucket.NewOrphanBucketCommand(message.CacheName, message.Receiver, message.DestinationStorage, bucketNumber)

	handler.copies.Add(1)

	go func() {
		defer handler.copies.Done()

		if err := handler.Outcomes.Propose(ctx, command); err != nil {
			Log.Errorf("Local node (%v) unable to orphan bucket %v after a failed restore: %v", message.Receiver, destinationID(message, bucketNumber), err.Error())
		}
	}()
}
