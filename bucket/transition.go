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
	"fmt"
)

// ProtocolAnomaly describes a command, or one bucket of a command, that
// does not name a legal transition from the current directory state. The
// command is expected to be a duplicate or to have been reordered, so the
// anomaly is reported and the bucket left as it was.
type ProtocolAnomaly struct {
	Kind   BucketCommandKind
	ID     BucketID
	Reason string
}

func (anomaly *ProtocolAnomaly) Error() string {
	return fmt.Sprintf("protocol anomaly: %s on bucket %v: %s", anomaly.Kind, anomaly.ID, anomaly.Reason)
}

// MembershipTest reports whether a node is a member of the authoritative
// cluster view
type MembershipTest func(address NodeAddress) bool

// ApplyResult lists the buckets whose entries a command changed and the
// anomalies it caused. A bucket whose entry already reflected the command
// appears in neither list.
type ApplyResult struct {
	Applied   []uint64
	Anomalies []*ProtocolAnomaly
}

func (result ApplyResult) Changed() bool {
	return len(result.Applied) > 0
}

// Apply runs the transfer state machine for every bucket listed in the
// command:
//
//	ORPHANED        --Assign(A)--> OWNED(A)
//	OWNED(A)        --Begin(A,B)--> TRANSFERRING(A,B)
//	TRANSFERRING(A,B) --Finish--> OWNED(B)
//	TRANSFERRING(A,B) --Cancel--> OWNED(A)
//	OWNED(A)        --Orphan(A)--> ORPHANED
//	ORPHANED        --Restore(C)--> OWNED(C)
//
// A Restore also takes over a bucket whose owner is no longer a member
// according to isMember. All buckets of one command are applied while
// holding the directory lock so readers never see a half applied command.
func (directory *Directory) Apply(command BucketCommand, isMember MembershipTest) ApplyResult {
	var result ApplyResult

	if err := command.Validate(); err != nil {
		for _, bucket := range command.Buckets {
			result.Anomalies = append(result.Anomalies, &ProtocolAnomaly{
				Kind:   command.Kind,
				ID:     BucketID{CacheName: command.CacheName, Storage: command.SourceStorage, Bucket: bucket},
				Reason: err.Error(),
			})
		}

		return result
	}

	if isMember == nil {
		isMember = func(NodeAddress) bool { return true }
	}

	directory.lock.Lock()

	changes := make([]OwnershipChange, 0, len(command.Buckets))

	for _, bucket := range command.Buckets {
		bucketChanges, anomaly := directory.applyOne(command, bucket, isMember)

		if anomaly != nil {
			result.Anomalies = append(result.Anomalies, anomaly)

			continue
		}

		if len(bucketChanges) > 0 {
			result.Applied = append(result.Applied, bucket)
			changes = append(changes, bucketChanges...)
		}
	}

	listeners := directory.listeners
	directory.lock.Unlock()

	notify(listeners, changes)

	return result
}

func (directory *Directory) applyOne(command BucketCommand, bucket uint64, isMember MembershipTest) ([]OwnershipChange, *ProtocolAnomaly) {
	storage := command.SourceStorage

	if command.Kind == RestoreBucket {
		storage = command.DestinationStorage
	}

	id := BucketID{CacheName: command.CacheName, Storage: storage, Bucket: bucket}
	anomaly := func(format string, args ...interface{}) *ProtocolAnomaly {
		return &ProtocolAnomaly{Kind: command.Kind, ID: id, Reason: fmt.Sprintf(format, args...)}
	}

	entry, err := directory.entry(command.CacheName, storage, bucket)

	if err != nil {
		return nil, anomaly("%s", err.Error())
	}

	switch command.Kind {
	case BeginBucketTransfer, FinishBucketTransfer, CancelBucketTransfer, RestoreBucket:
		// the other storage number named by the command must exist too
		other := command.DestinationStorage

		if command.Kind == RestoreBucket {
			other = command.SourceStorage
		}

		if _, err := directory.entry(command.CacheName, other, bucket); err != nil {
			return nil, anomaly("%s", err.Error())
		}
	}

	before := entry.copy()
	changes := make([]OwnershipChange, 0, 2)
	record := func(storage uint64, before DirectoryEntry, after DirectoryEntry) {
		changes = append(changes, OwnershipChange{
			ID:     BucketID{CacheName: command.CacheName, Storage: storage, Bucket: bucket},
			Before: before,
			After:  after.copy(),
		})
	}

	switch command.Kind {
	case AssignBucket:
		owner := command.Roles.Owner

		if entry.Transfer != nil {
			return nil, anomaly("bucket is %v", *entry)
		}

		if entry.Owner.Is(owner) {
			return nil, nil
		}

		if !entry.Owner.IsOrphaned() {
			return nil, anomaly("bucket is already %v", *entry)
		}

		entry.Owner = OwnedBy(owner)
		record(storage, before, *entry)
	case BeginBucketTransfer:
		transfer := Transfer{From: command.Roles.CurrentOwner, To: command.Roles.NewOwner, DestinationStorage: command.DestinationStorage}

		if entry.Owner.IsOrphaned() {
			return nil, anomaly("bucket is ORPHANED")
		}

		if !entry.Owner.Is(transfer.From) {
			return nil, anomaly("stale current owner %v, bucket is %v", transfer.From, *entry)
		}

		if entry.Transfer != nil {
			if *entry.Transfer == transfer {
				return nil, nil
			}

			return nil, anomaly("bucket is already %v", *entry)
		}

		if reason, ok := directory.destinationFree(command, bucket, transfer.To); !ok {
			return nil, anomaly("%s", reason)
		}

		entry.Transfer = &transfer
		record(storage, before, *entry)
	case FinishBucketTransfer:
		transfer := Transfer{From: command.Roles.PreviousOwner, To: command.Roles.NewOwner, DestinationStorage: command.DestinationStorage}

		if entry.Transfer == nil || *entry.Transfer != transfer {
			return nil, anomaly("no matching transfer, bucket is %v", *entry)
		}

		if reason, ok := directory.destinationFree(command, bucket, transfer.To); !ok {
			return nil, anomaly("%s", reason)
		}

		entry.Transfer = nil

		if command.DestinationStorage == storage {
			entry.Owner = OwnedBy(transfer.To)
			record(storage, before, *entry)

			break
		}

		// the bucket moves to another storage number. The source
		// tier is left without an owner until it is restored or assigned.
		destination, err := directory.entry(command.CacheName, command.DestinationStorage, bucket)

		if err != nil {
			return nil, anomaly("%s", err.Error())
		}

		destinationBefore := destination.copy()
		entry.Owner = Orphaned
		destination.Owner = OwnedBy(transfer.To)
		record(storage, before, *entry)
		record(command.DestinationStorage, destinationBefore, *destination)
	case CancelBucketTransfer:
		transfer := Transfer{From: command.Roles.PreviousOwner, To: command.Roles.NewOwner, DestinationStorage: command.DestinationStorage}

		if entry.Transfer == nil || *entry.Transfer != transfer {
			return nil, anomaly("no matching transfer, bucket is %v", *entry)
		}

		entry.Transfer = nil
		record(storage, before, *entry)
	case OrphanBucket:
		owner := command.Roles.Owner

		if entry.Owner.IsOrphaned() {
			return nil, nil
		}

		if entry.Transfer != nil {
			return nil, anomaly("a transfer is in flight, bucket is %v", *entry)
		}

		if !entry.Owner.Is(owner) {
			return nil, anomaly("stale owner %v, bucket is %v", owner, *entry)
		}

		entry.Owner = Orphaned
		record(storage, before, *entry)
	case RestoreBucket:
		target := command.Roles.Target

		if entry.Transfer != nil {
			return nil, anomaly("a transfer is in flight, bucket is %v", *entry)
		}

		if entry.Owner.Is(target) {
			return nil, nil
		}

		if !entry.Owner.IsOrphaned() && isMember(entry.Owner.Address) {
			return nil, anomaly("bucket is %v and its owner is still a cluster member", *entry)
		}

		entry.Owner = OwnedBy(target)
		record(storage, before, *entry)
	default:
		return nil, anomaly("unknown command kind")
	}

	return changes, nil
}

// destinationFree reports whether a transfer to another storage number may
// take over the destination entry. The entry must have no transfer in
// flight and be ORPHANED or already owned by the new owner.
func (directory *Directory) destinationFree(command BucketCommand, bucket uint64, newOwner NodeAddress) (string, bool) {
	if command.DestinationStorage == command.SourceStorage {
		return "", true
	}

	destination, err := directory.entry(command.CacheName, command.DestinationStorage, bucket)

	if err != nil {
		return err.Error(), false
	}

	if destination.Transfer != nil {
		return fmt.Sprintf("destination storage %d has a transfer in flight, bucket is %v", command.DestinationStorage, *destination), false
	}

	if !destination.Owner.IsOrphaned() && !destination.Owner.Is(newOwner) {
		return fmt.Sprintf("destination storage %d is owned by another node, bucket is %v", command.DestinationStorage, *destination), false
	}

	return "", true
}
