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
	"errors"
	"fmt"
)

var EUnknownCommandKind = errors.New("The bucket command kind is not recognized")
var EMissingCacheName = errors.New("The bucket command does not name a cache")
var ENoBuckets = errors.New("The bucket command does not list any buckets")
var EDuplicateBucket = errors.New("The bucket command lists the same bucket more than once")
var ESingleBucket = errors.New("The bucket command must list exactly one bucket")
var EMissingRole = errors.New("The bucket command is missing a role address")
var ESelfTransfer = errors.New("A bucket cannot be transferred to its current owner at the same storage number")
var ESameStorage = errors.New("A restore must read from a different storage number than the one it restores")

type BucketCommandKind int

const (
	AssignBucket         BucketCommandKind = iota
	BeginBucketTransfer  BucketCommandKind = iota
	FinishBucketTransfer BucketCommandKind = iota
	CancelBucketTransfer BucketCommandKind = iota
	OrphanBucket         BucketCommandKind = iota
	RestoreBucket        BucketCommandKind = iota
)

var commandKindNames = map[BucketCommandKind]string{
	AssignBucket:         "assign",
	BeginBucketTransfer:  "begin",
	FinishBucketTransfer: "finish",
	CancelBucketTransfer: "cancel",
	OrphanBucket:         "orphan",
	RestoreBucket:        "restore",
}

func (kind BucketCommandKind) String() string {
	if name, ok := commandKindNames[kind]; ok {
		return name
	}

	return fmt.Sprintf("unknown(%d)", int(kind))
}

func (kind BucketCommandKind) MarshalText() ([]byte, error) {
	if _, ok := commandKindNames[kind]; !ok {
		return nil, EUnknownCommandKind
	}

	return []byte(kind.String()), nil
}

func (kind *BucketCommandKind) UnmarshalText(text []byte) error {
	for k, name := range commandKindNames {
		if name == string(text) {
			*kind = k

			return nil
		}
	}

	return EUnknownCommandKind
}

// BucketPayload holds the protocol parameters shared by every command
// and message kind. DestinationStorage is only meaningful for transfers
// and restores.
type BucketPayload struct {
	CacheName          string   `json:"cacheName"`
	Buckets            []uint64 `json:"buckets"`
	SourceStorage      uint64   `json:"sourceStorage"`
	DestinationStorage uint64   `json:"destinationStorage"`
}

// RoleAddresses carries the nodes named by a command. Which fields are
// set depends on the command kind.
type RoleAddresses struct {
	Owner         NodeAddress `json:"owner"`
	CurrentOwner  NodeAddress `json:"currentOwner"`
	NewOwner      NodeAddress `json:"newOwner"`
	PreviousOwner NodeAddress `json:"previousOwner"`
	Target        NodeAddress `json:"target"`
}

// BucketCommand is a cluster-wide decision about bucket ownership. The
// same command is delivered to every node.
type BucketCommand struct {
	Kind BucketCommandKind `json:"kind"`
	BucketPayload
	Roles RoleAddresses `json:"roles"`
}

func NewAssignBucketCommand(cacheName string, owner NodeAddress, storage uint64, bucket uint64) BucketCommand {
	return BucketCommand{
		Kind:          AssignBucket,
		BucketPayload: BucketPayload{CacheName: cacheName, Buckets: []uint64{bucket}, SourceStorage: storage, DestinationStorage: storage},
		Roles:         RoleAddresses{Owner: owner},
	}
}

func NewBeginBucketTransferCommand(cacheName string, currentOwner NodeAddress, newOwner NodeAddress, sourceStorage uint64, destinationStorage uint64, buckets []uint64) BucketCommand {
	return BucketCommand{
		Kind:          BeginBucketTransfer,
		BucketPayload: BucketPayload{CacheName: cacheName, Buckets: copyBuckets(buckets), SourceStorage: sourceStorage, DestinationStorage: destinationStorage},
		Roles:         RoleAddresses{CurrentOwner: currentOwner, NewOwner: newOwner},
	}
}

func NewFinishBucketTransferCommand(cacheName string, previousOwner NodeAddress, newOwner NodeAddress, sourceStorage uint64, destinationStorage uint64, buckets []uint64) BucketCommand {
	return BucketCommand{
		Kind:          FinishBucketTransfer,
		BucketPayload: BucketPayload{CacheName: cacheName, Buckets: copyBuckets(buckets), SourceStorage: sourceStorage, DestinationStorage: destinationStorage},
		Roles:         RoleAddresses{PreviousOwner: previousOwner, NewOwner: newOwner},
	}
}

func NewCancelBucketTransferCommand(cacheName string, previousOwner NodeAddress, newOwner NodeAddress, sourceStorage uint64, destinationStorage uint64, buckets []uint64) BucketCommand {
	return BucketCommand{
		Kind:          CancelBucketTransfer,
		BucketPayload: BucketPayload{CacheName: cacheName, Buckets: copyBuckets(buckets), SourceStorage: sourceStorage, DestinationStorage: destinationStorage},
		Roles:         RoleAddresses{PreviousOwner: previousOwner, NewOwner: newOwner},
	}
}

func NewOrphanBucketCommand(cacheName string, owner NodeAddress, storage uint64, bucket uint64) BucketCommand {
	return BucketCommand{
		Kind:          OrphanBucket,
		BucketPayload: BucketPayload{CacheName: cacheName, Buckets: []uint64{bucket}, SourceStorage: storage, DestinationStorage: storage},
		Roles:         RoleAddresses{Owner: owner},
	}
}

// NewRestoreBucketCommand restores the primary copy (storage 0) of the listed
// buckets at target, reading their contents from fromStorage
func NewRestoreBucketCommand(cacheName string, target NodeAddress, fromStorage uint64, buckets []uint64) BucketCommand {
	return BucketCommand{
		Kind:          RestoreBucket,
		BucketPayload: BucketPayload{CacheName: cacheName, Buckets: copyBuckets(buckets), SourceStorage: fromStorage, DestinationStorage: 0},
		Roles:         RoleAddresses{Target: target},
	}
}

// WithBuckets returns a copy of the command narrowed to the given buckets
func (command BucketCommand) WithBuckets(buckets []uint64) BucketCommand {
	command.Buckets = copyBuckets(buckets)

	return command
}

// Validate checks that the command is well formed on its own. It says
// nothing about whether the command applies to the current directory state.
func (command BucketCommand) Validate() error {
	if _, ok := commandKindNames[command.Kind]; !ok {
		return EUnknownCommandKind
	}

	if command.CacheName == "" {
		return EMissingCacheName
	}

	if len(command.Buckets) == 0 {
		return ENoBuckets
	}

	seen := make(map[uint64]bool, len(command.Buckets))

	for _, bucket := range command.Buckets {
		if seen[bucket] {
			return EDuplicateBucket
		}

		seen[bucket] = true
	}

	switch command.Kind {
	case AssignBucket, OrphanBucket:
		if len(command.Buckets) != 1 {
			return ESingleBucket
		}

		if command.Roles.Owner.IsEmpty() {
			return EMissingRole
		}
	case BeginBucketTransfer:
		if command.Roles.CurrentOwner.IsEmpty() || command.Roles.NewOwner.IsEmpty() {
			return EMissingRole
		}

		if command.Roles.CurrentOwner == command.Roles.NewOwner && command.SourceStorage == command.DestinationStorage {
			return ESelfTransfer
		}
	case FinishBucketTransfer, CancelBucketTransfer:
		if command.Roles.PreviousOwner.IsEmpty() || command.Roles.NewOwner.IsEmpty() {
			return EMissingRole
		}

		if command.Roles.PreviousOwner == command.Roles.NewOwner && command.SourceStorage == command.DestinationStorage {
			return ESelfTransfer
		}
	case RestoreBucket:
		if command.Roles.Target.IsEmpty() {
			return EMissingRole
		}

		if command.SourceStorage == command.DestinationStorage {
			return ESameStorage
		}
	}

	return nil
}

// IDs lists the bucket ids this command acts on at the given storage number
func (payload BucketPayload) IDs(storage uint64) []BucketID {
	ids := make([]BucketID, 0, len(payload.Buckets))

	for _, bucket := range payload.Buckets {
		ids = append(ids, BucketID{CacheName: payload.CacheName, Storage: storage, Bucket: bucket})
	}

	return ids
}

func (command BucketCommand) String() string {
	switch command.Kind {
	case AssignBucket, OrphanBucket:
		return fmt.Sprintf("%s(cache = %s, owner = %v, storage = %d, buckets = %v)", command.Kind, command.CacheName, command.Roles.Owner, command.SourceStorage, command.Buckets)
	case BeginBucketTransfer:
		return fmt.Sprintf("%s(cache = %s, %v -> %v, storage %d -> %d, buckets = %v)", command.Kind, command.CacheName, command.Roles.CurrentOwner, command.Roles.NewOwner, command.SourceStorage, command.DestinationStorage, command.Buckets)
	case FinishBucketTransfer, CancelBucketTransfer:
		return fmt.Sprintf("%s(cache = %s, %v -> %v, storage %d -> %d, buckets = %v)", command.Kind, command.CacheName, command.Roles.PreviousOwner, command.Roles.NewOwner, command.SourceStorage, command.DestinationStorage, command.Buckets)
	case RestoreBucket:
		return fmt.Sprintf("%s(cache = %s, target = %v, from storage %d, buckets = %v)", command.Kind, command.CacheName, command.Roles.Target, command.SourceStorage, command.Buckets)
	}

	return command.Kind.String()
}

func copyBuckets(buckets []uint64) []uint64 {
	if buckets == nil {
		return nil
	}

	c := make([]uint64, len(buckets))
	copy(c, buckets)

	return c
}
