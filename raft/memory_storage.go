package raft

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
	"github.com/coreos/etcd/raft"
	"github.com/coreos/etcd/raft/raftpb"
)

// RaftMemoryStorage keeps the raft log, hard state and snapshots in
// memory. A node restarted with the same storage replays its log.
type RaftMemoryStorage struct {
	*raft.MemoryStorage
	isEmpty bool
}

func NewRaftMemoryStorage() *RaftMemoryStorage {
	return &RaftMemoryStorage{
		MemoryStorage: raft.NewMemoryStorage(),
		isEmpty:       true,
	}
}

func (raftStorage *RaftMemoryStorage) Open() error {
	return nil
}

func (raftStorage *RaftMemoryStorage) Close() error {
	return nil
}

func (raftStorage *RaftMemoryStorage) IsEmpty() bool {
	return raftStorage.isEmpty
}

// ApplyAll saves the output of one raft Ready batch
func (raftStorage *RaftMemoryStorage) ApplyAll(hs raftpb.HardState, ents []raftpb.Entry, snap raftpb.Snapshot) error {
	// apply snapshot first so that entries following it can be appended
	if !raft.IsEmptySnap(snap) {
		if err := raftStorage.ApplySnapshot(snap); err != nil && err != raft.ErrSnapOutOfDate {
			return err
		}

		raftStorage.isEmpty = false
	}

	if err := raftStorage.Append(ents); err != nil {
		return err
	}

	if len(ents) > 0 {
		raftStorage.isEmpty = false
	}

	// update hard state if set
	if !raft.IsEmptyHardState(hs) {
		if err := raftStorage.SetHardState(hs); err != nil {
			return err
		}

		raftStorage.isEmpty = false
	}

	return nil
}

// CreateSnapshot records a snapshot of the state at index and discards the
// log entries it covers
func (raftStorage *RaftMemoryStorage) CreateSnapshot(index uint64, cs *raftpb.ConfState, data []byte) (raftpb.Snapshot, error) {
	snap, err := raftStorage.MemoryStorage.CreateSnapshot(index, cs, data)

	if err != nil {
		return raftpb.Snapshot{}, err
	}

	if err := raftStorage.Compact(index); err != nil && err != raft.ErrCompacted {
		return raftpb.Snapshot{}, err
	}

	return snap, nil
}

// CommitIndex is the highest log index known to be committed
func (raftStorage *RaftMemoryStorage) CommitIndex() uint64 {
	hs, _, _ := raftStorage.InitialState()

	return hs.Commit
}
