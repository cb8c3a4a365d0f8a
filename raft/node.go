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
	"errors"
	"math"
	"time"

	. "github.com/PelionIoT/devicecache/logging"

	"github.com/coreos/etcd/raft"
	"github.com/coreos/etcd/raft/raftpb"
	"golang.org/x/net/context"
)

var EStopped = errors.New("The raft node has been stopped")

// LogCompactionSize is the number of applied entries that may accumulate
// after the last snapshot before a new snapshot replaces them
const LogCompactionSize = 1000

const DefaultTickInterval = time.Millisecond * 100

const (
	electionTicks   = 10
	heartbeatTicks  = 1
	maxInflightMsgs = 256
)

type RaftNodeStorage interface {
	raft.Storage
	Open() error
	Close() error
	IsEmpty() bool
	ApplyAll(hs raftpb.HardState, ents []raftpb.Entry, snap raftpb.Snapshot) error
	CreateSnapshot(index uint64, cs *raftpb.ConfState, data []byte) (raftpb.Snapshot, error)
	CommitIndex() uint64
}

type RaftNodeConfig struct {
	ID                      uint64
	CreateClusterIfNotExist bool
	// Context is attached to the conf change that adds this node when it
	// creates a new cluster
	Context      []byte
	Storage      RaftNodeStorage
	GetSnapshot  func() ([]byte, error)
	TickInterval time.Duration
}

// RaftNode drives one etcd raft state machine. Committed entries and
// snapshots are handed to the callbacks in log order from a single
// goroutine.
type RaftNode struct {
	config         *RaftNodeConfig
	node           raft.Node
	stop           chan int
	done           chan int
	applied        uint64
	replayTarget   uint64
	replayed       bool
	confState      raftpb.ConfState
	onMessagesCB   func([]raftpb.Message) error
	onSnapshotCB   func(raftpb.Snapshot) error
	onEntryCB      func(raftpb.Entry) error
	onErrorCB      func(error) error
	onReplayDoneCB func() error
}

func NewRaftNode(config *RaftNodeConfig) *RaftNode {
	if config.TickInterval == 0 {
		config.TickInterval = DefaultTickInterval
	}

	return &RaftNode{config: config}
}

func (raftNode *RaftNode) ID() uint64 {
	return raftNode.config.ID
}

func (raftNode *RaftNode) proposeConfChange(ctx context.Context, changeType raftpb.ConfChangeType, nodeID uint64, confContext []byte) error {
	err := raftNode.node.ProposeConfChange(ctx, raftpb.ConfChange{
		ID:      nodeID,
		Type:    changeType,
		NodeID:  nodeID,
		Context: confContext,
	})

	if err != nil {
		Log.Errorf("Node %d was unable to propose %v for node %d: %s", raftNode.config.ID, changeType, nodeID, err.Error())
	}

	return err
}

func (raftNode *RaftNode) AddNode(ctx context.Context, nodeID uint64, confContext []byte) error {
	Log.Infof("Node %d proposing addition of node %d to its cluster", raftNode.config.ID, nodeID)

	return raftNode.proposeConfChange(ctx, raftpb.ConfChangeAddNode, nodeID, confContext)
}

func (raftNode *RaftNode) RemoveNode(ctx context.Context, nodeID uint64, confContext []byte) error {
	Log.Infof("Node %d proposing removal of node %d from its cluster", raftNode.config.ID, nodeID)

	return raftNode.proposeConfChange(ctx, raftpb.ConfChangeRemoveNode, nodeID, confContext)
}

func (raftNode *RaftNode) Propose(ctx context.Context, proposition []byte) error {
	return raftNode.node.Propose(ctx, proposition)
}

func (raftNode *RaftNode) LastSnapshot() (raftpb.Snapshot, error) {
	return raftNode.config.Storage.Snapshot()
}

func (raftNode *RaftNode) CommittedIndex() uint64 {
	return raftNode.applied
}

// Start opens the storage and starts the node. A node with an empty
// storage either bootstraps a single member cluster or waits to be added
// to an existing one, depending on CreateClusterIfNotExist. A node with a
// saved log replays it and calls OnReplayDone once caught up.
func (raftNode *RaftNode) Start() error {
	if err := raftNode.config.Storage.Open(); err != nil {
		return err
	}

	raftNode.stop = make(chan int)
	raftNode.done = make(chan int)
	raftNode.replayed = false
	raftNode.replayTarget = 0

	config := &raft.Config{
		ID:              raftNode.config.ID,
		ElectionTick:    electionTicks,
		HeartbeatTick:   heartbeatTicks,
		Storage:         raftNode.config.Storage,
		MaxSizePerMsg:   math.MaxUint16,
		MaxInflightMsgs: maxInflightMsgs,
	}

	snapshot, _ := raftNode.LastSnapshot()

	if !raft.IsEmptySnap(snapshot) {
		if err := raftNode.installSnapshot(snapshot); err != nil {
			return err
		}

		config.Applied = snapshot.Metadata.Index
	}

	switch {
	case !raftNode.config.Storage.IsEmpty():
		raftNode.replayTarget = raftNode.config.Storage.CommitIndex()
		raftNode.node = raft.RestartNode(config)
	case raftNode.config.CreateClusterIfNotExist:
		raftNode.node = raft.StartNode(config, []raft.Peer{{ID: raftNode.config.ID, Context: raftNode.config.Context}})
	default:
		raftNode.node = raft.StartNode(config, nil)
	}

	if err := raftNode.checkReplayDone(); err != nil {
		return err
	}

	go raftNode.run()

	return nil
}

func (raftNode *RaftNode) Receive(ctx context.Context, msg raftpb.Message) error {
	return raftNode.node.Step(ctx, msg)
}

func (raftNode *RaftNode) run() {
	ticker := time.NewTicker(raftNode.config.TickInterval)

	defer func() {
		ticker.Stop()
		raftNode.config.Storage.Close()
		raftNode.node.Stop()
		raftNode.confState = raftpb.ConfState{}
		close(raftNode.done)
	}()

	for {
		select {
		case <-ticker.C:
			raftNode.node.Tick()
		case rd := <-raftNode.node.Ready():
			if err := raftNode.handleReady(rd); err != nil {
				raftNode.onErrorCB(err)

				return
			}

			raftNode.node.Advance()
		case <-raftNode.stop:
			return
		}
	}
}

// handleReady persists a Ready batch before its messages go out, then
// applies what it committed
func (raftNode *RaftNode) handleReady(rd raft.Ready) error {
	if err := raftNode.config.Storage.ApplyAll(rd.HardState, rd.Entries, rd.Snapshot); err != nil {
		return err
	}

	if len(rd.Messages) != 0 {
		raftNode.onMessagesCB(rd.Messages)
	}

	if !raft.IsEmptySnap(rd.Snapshot) {
		if err := raftNode.installSnapshot(rd.Snapshot); err != nil {
			return err
		}
	}

	if err := raftNode.applyCommitted(rd.CommittedEntries); err != nil {
		return err
	}

	if err := raftNode.checkReplayDone(); err != nil {
		return err
	}

	return raftNode.compactIfNeeded()
}

func (raftNode *RaftNode) installSnapshot(snapshot raftpb.Snapshot) error {
	if err := raftNode.onSnapshotCB(snapshot); err != nil {
		return err
	}

	raftNode.applied = snapshot.Metadata.Index
	raftNode.confState = snapshot.Metadata.ConfState

	return nil
}

func (raftNode *RaftNode) applyCommitted(entries []raftpb.Entry) error {
	for _, entry := range entries {
		if entry.Index <= raftNode.applied {
			continue
		}

		if entry.Type == raftpb.EntryConfChange {
			var confChange raftpb.ConfChange

			if err := confChange.Unmarshal(entry.Data); err != nil {
				return err
			}

			raftNode.confState = *raftNode.node.ApplyConfChange(confChange)
		}

		if err := raftNode.onEntryCB(entry); err != nil {
			return err
		}

		raftNode.applied = entry.Index
	}

	return nil
}

func (raftNode *RaftNode) checkReplayDone() error {
	if raftNode.replayed || raftNode.applied < raftNode.replayTarget {
		return nil
	}

	raftNode.replayed = true

	if raftNode.onReplayDoneCB == nil {
		return nil
	}

	return raftNode.onReplayDoneCB()
}

func (raftNode *RaftNode) compactIfNeeded() error {
	if raftNode.config.GetSnapshot == nil {
		return nil
	}

	snapshot, err := raftNode.config.Storage.Snapshot()

	if err != nil {
		return err
	}

	if raftNode.applied < snapshot.Metadata.Index || raftNode.applied-snapshot.Metadata.Index < LogCompactionSize {
		return nil
	}

	data, err := raftNode.config.GetSnapshot()

	if err != nil {
		return err
	}

	Log.Infof("Node %d compacting entries up to %d", raftNode.config.ID, raftNode.applied)

	_, err = raftNode.config.Storage.CreateSnapshot(raftNode.applied, &raftNode.confState, data)

	return err
}

// Stop halts the run loop and waits for it to exit
func (raftNode *RaftNode) Stop() {
	if raftNode.done == nil {
		return
	}

	select {
	case raftNode.stop <- 1:
	case <-raftNode.done:
	}

	<-raftNode.done
}

func (raftNode *RaftNode) OnMessages(cb func([]raftpb.Message) error) {
	raftNode.onMessagesCB = cb
}

func (raftNode *RaftNode) OnSnapshot(cb func(raftpb.Snapshot) error) {
	raftNode.onSnapshotCB = cb
}

func (raftNode *RaftNode) OnCommittedEntry(cb func(raftpb.Entry) error) {
	raftNode.onEntryCB = cb
}

func (raftNode *RaftNode) OnError(cb func(error) error) {
	raftNode.onErrorCB = cb
}

func (raftNode *RaftNode) OnReplayDone(cb func() error) {
	raftNode.onReplayDoneCB = cb
}

func (raftNode *RaftNode) ReportUnreachable(id uint64) {
	raftNode.node.ReportUnreachable(id)
}

func (raftNode *RaftNode) ReportSnapshot(id uint64, status raft.SnapshotStatus) {
	raftNode.node.ReportSnapshot(id, status)
}
