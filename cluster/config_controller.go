// This module bridges the gap between the cluster configuration controller
// and the raft library
package cluster

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
	"errors"
	"sync"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/membership"
	"github.com/PelionIoT/devicecache/raft"
	"github.com/PelionIoT/devicecache/util"

	"github.com/coreos/etcd/raft/raftpb"
)

var ERaftNodeStartup = errors.New("Encountered an error while starting up raft controller")
var ERaftProtocolError = errors.New("Raft controller encountered a protocol error")
var EBucketSubsystemHalted = errors.New("The bucket subsystem has halted")

// ClusterConfigController proposes changes to the replicated cluster state
// and waits for them to be applied locally
type ClusterConfigController interface {
	AddNode(ctx context.Context, nodeConfig NodeConfig) error
	RemoveNode(ctx context.Context, nodeID uint64) error
	ClusterCommand(ctx context.Context, commandBody interface{}) error
	ClusterController() *ClusterController
	OnHalt(cb func(err error))
	Start() error
	Stop()
}

type ConfigController struct {
	raftNode          *raft.RaftNode
	raftTransport     *raft.TransportHub
	clusterController *ClusterController
	gate              *membership.Gate
	requestMap        map[uint64]chan error
	requestsLock      sync.Mutex
	onHaltCB          func(err error)
	stopped           chan int
	stopOnce          *sync.Once
}

func NewConfigController(raftNode *raft.RaftNode, raftTransport *raft.TransportHub, clusterController *ClusterController) *ConfigController {
	configController := &ConfigController{
		raftNode:          raftNode,
		raftTransport:     raftTransport,
		clusterController: clusterController,
		gate:              clusterController.Gate,
		requestMap:        make(map[uint64]chan error),
	}

	return configController
}

func (cc *ConfigController) ClusterController() *ClusterController {
	return cc.clusterController
}

// OnHalt registers a callback invoked once if the raft node stops because
// of an unrecoverable error, including a corrupted bucket directory
func (cc *ConfigController) OnHalt(cb func(err error)) {
	cc.onHaltCB = cb
}

// AddNode blocks the membership gate while the addition is negotiated and
// returns once the addition has been applied locally
func (cc *ConfigController) AddNode(ctx context.Context, nodeConfig NodeConfig) error {
	command, err := CreateClusterCommand(ClusterAddNode, ClusterAddNodeBody{NodeID: nodeConfig.Address.NodeID, NodeConfig: nodeConfig})

	if err != nil {
		return err
	}

	return cc.proposeConfChange(ctx, command, func(ctx context.Context, confContext []byte) error {
		return cc.raftNode.AddNode(ctx, nodeConfig.Address.NodeID, confContext)
	})
}

func (cc *ConfigController) RemoveNode(ctx context.Context, nodeID uint64) error {
	command, err := CreateClusterCommand(ClusterRemoveNode, ClusterRemoveNodeBody{NodeID: nodeID})

	if err != nil {
		return err
	}

	return cc.proposeConfChange(ctx, command, func(ctx context.Context, confContext []byte) error {
		return cc.raftNode.RemoveNode(ctx, nodeID, confContext)
	})
}

func (cc *ConfigController) proposeConfChange(ctx context.Context, command ClusterCommand, propose func(ctx context.Context, confContext []byte) error) error {
	if cc.gate != nil {
		cc.gate.Block()
		defer cc.gate.Unblock()
	}

	command.SubmitterID = cc.clusterController.LocalNodeID
	command.CommandID = util.UUID64()
	confContext, err := EncodeClusterCommand(command)

	if err != nil {
		return err
	}

	respCh := cc.register(command.CommandID)

	if err := propose(ctx, confContext); err != nil {
		cc.unregister(command.CommandID)

		return err
	}

	return cc.wait(ctx, command.CommandID, respCh)
}

// ClusterCommand proposes a command and returns once it has been applied
// locally. The error is the one returned when applying it.
func (cc *ConfigController) ClusterCommand(ctx context.Context, commandBody interface{}) error {
	commandType, err := CommandTypeOf(commandBody)

	if err != nil {
		return err
	}

	if commandType == ClusterAddNode || commandType == ClusterRemoveNode {
		return ENoSuchCommand
	}

	command, err := CreateClusterCommand(commandType, commandBody)

	if err != nil {
		return err
	}

	command.SubmitterID = cc.clusterController.LocalNodeID
	command.CommandID = util.UUID64()
	encodedCommand, err := EncodeClusterCommand(command)

	if err != nil {
		return err
	}

	respCh := cc.register(command.CommandID)

	if err := cc.raftNode.Propose(ctx, encodedCommand); err != nil {
		cc.unregister(command.CommandID)

		return err
	}

	return cc.wait(ctx, command.CommandID, respCh)
}

func (cc *ConfigController) register(commandID uint64) chan error {
	cc.requestsLock.Lock()
	defer cc.requestsLock.Unlock()

	respCh := make(chan error, 1)
	cc.requestMap[commandID] = respCh

	return respCh
}

func (cc *ConfigController) unregister(commandID uint64) {
	cc.requestsLock.Lock()
	defer cc.requestsLock.Unlock()

	delete(cc.requestMap, commandID)
}

func (cc *ConfigController) wait(ctx context.Context, commandID uint64, respCh chan error) error {
	select {
	case err := <-respCh:
		return err
	case <-ctx.Done():
		cc.unregister(commandID)

		return ctx.Err()
	case <-cc.stopped:
		cc.unregister(commandID)

		return EBucketSubsystemHalted
	}
}

func (cc *ConfigController) respond(clusterCommand ClusterCommand, err error) {
	if clusterCommand.SubmitterID != cc.clusterController.LocalNodeID {
		return
	}

	cc.requestsLock.Lock()
	respCh, ok := cc.requestMap[clusterCommand.CommandID]
	delete(cc.requestMap, clusterCommand.CommandID)
	cc.requestsLock.Unlock()

	if ok {
		respCh <- err
	}
}

func (cc *ConfigController) decodeEntry(entry raftpb.Entry) (ClusterCommand, bool, error) {
	switch entry.Type {
	case raftpb.EntryConfChange:
		var confChange raftpb.ConfChange

		if err := confChange.Unmarshal(entry.Data); err != nil {
			return ClusterCommand{}, false, err
		}

		clusterCommand, err := DecodeClusterCommand(confChange.Context)

		if err != nil {
			return ClusterCommand{}, false, err
		}

		return clusterCommand, true, nil
	case raftpb.EntryNormal:
		if len(entry.Data) == 0 {
			// raft appends an empty entry whenever a new leader is elected
			return ClusterCommand{}, false, nil
		}

		clusterCommand, err := DecodeClusterCommand(entry.Data)

		if err != nil {
			return ClusterCommand{}, false, err
		}

		return clusterCommand, true, nil
	}

	return ClusterCommand{}, false, nil
}

// updateTransport keeps the raft transport's peer table in line with the
// cluster membership so that messages can reach newly added nodes
func (cc *ConfigController) updateTransport(clusterCommand ClusterCommand) {
	body, err := DecodeClusterCommandBody(clusterCommand)

	if err != nil {
		return
	}

	switch clusterCommand.Type {
	case ClusterAddNode:
		addNodeBody := body.(ClusterAddNodeBody)
		peerAddress := addNodeBody.NodeConfig.Address
		peerAddress.NodeID = addNodeBody.NodeID

		cc.raftTransport.AddPeer(peerAddress)
	case ClusterRemoveNode:
		removeNodeBody := body.(ClusterRemoveNodeBody)

		if removeNodeBody.NodeID != cc.clusterController.LocalNodeID {
			cc.raftTransport.RemovePeer(raft.PeerAddress{NodeID: removeNodeBody.NodeID})
		}
	}
}

func (cc *ConfigController) Start() error {
	restored := make(chan int, 1)
	cc.stopped = make(chan int)
	cc.stopOnce = &sync.Once{}

	cc.raftTransport.OnReceive(func(ctx context.Context, msg raftpb.Message) error {
		return cc.raftNode.Receive(ctx, msg)
	})

	cc.raftNode.OnMessages(func(messages []raftpb.Message) error {
		for _, msg := range messages {
			go func(msg raftpb.Message) {
				err := cc.raftTransport.Send(context.TODO(), msg)

				if err != nil {
					Log.Debugf("Unable to send raft message from %d to %d: %v", msg.From, msg.To, err)

					cc.raftNode.ReportUnreachable(msg.To)
				}
			}(msg)
		}

		return nil
	})

	cc.raftNode.OnSnapshot(func(snap raftpb.Snapshot) error {
		if err := cc.clusterController.ApplySnapshot(snap.Data); err != nil {
			return err
		}

		for _, nodeConfig := range cc.clusterController.Nodes() {
			cc.raftTransport.AddPeer(nodeConfig.Address)
		}

		return nil
	})

	cc.raftNode.OnCommittedEntry(func(entry raftpb.Entry) error {
		Log.Debugf("New entry [%d]: %v", entry.Index, entry)

		clusterCommand, ok, err := cc.decodeEntry(entry)

		if err != nil {
			Log.Errorf("Unable to decode entry %d: %v. Skipping it", entry.Index, err)

			return nil
		}

		if !ok {
			return nil
		}

		cc.updateTransport(clusterCommand)

		err = cc.clusterController.Step(clusterCommand)

		if err != nil && IsCorrupted(err) {
			cc.respond(clusterCommand, EBucketSubsystemHalted)

			return err
		}

		if err != nil {
			Log.Warningf("Unable to apply %v command from node %d: %v", clusterCommand.Type, clusterCommand.SubmitterID, err)
		}

		cc.respond(clusterCommand, err)

		return nil
	})

	cc.raftNode.OnError(func(err error) error {
		// indicates that raft node is shutting down
		Log.Criticalf("Raft node encountered an unrecoverable error and will now shut down: %v", err)

		cc.halt(err)

		return nil
	})

	cc.raftNode.OnReplayDone(func() error {
		Log.Debug("OnReplayDone() called")
		restored <- 1

		return nil
	})

	if err := cc.raftNode.Start(); err != nil {
		Log.Criticalf("Unable to start the config controller due to an error while starting up raft node: %v", err.Error())

		return ERaftNodeStartup
	}

	Log.Info("Config controller started up raft node. It is now waiting for log replay...")

	<-restored

	Log.Info("Config controller log replay complete")

	return nil
}

func (cc *ConfigController) halt(err error) {
	cc.stopOnce.Do(func() {
		close(cc.stopped)

		if cc.onHaltCB != nil {
			cc.onHaltCB(err)
		}
	})
}

func (cc *ConfigController) Stop() {
	cc.raftNode.Stop()

	if cc.stopOnce != nil {
		cc.stopOnce.Do(func() {
			close(cc.stopped)
		})
	}
}

// BucketCommand proposes a bucket command and waits for it to be applied
func (cc *ConfigController) BucketCommand(ctx context.Context, command bucket.BucketCommand) error {
	return cc.ClusterCommand(ctx, ClusterBucketCommandBody{Command: command})
}
