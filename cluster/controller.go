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
	"errors"
	"sort"
	"sync"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/membership"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheusProtocolAnomalies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicecache",
		Subsystem: "bucket",
		Name:      "protocol_anomalies_total",
		Help:      "Bucket commands that named no legal transition and were discarded",
	}, []string{
		"kind",
	})

	prometheusAppliedCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicecache",
		Subsystem: "cluster",
		Name:      "applied_commands_total",
		Help:      "Cluster commands applied from the replicated log",
	}, []string{
		"type",
	})
)

func init() {
	prometheus.MustRegister(prometheusProtocolAnomalies, prometheusAppliedCommands)
}

// BucketDispatcher hands accepted bucket commands to the roles the local
// node plays in them
type BucketDispatcher interface {
	Dispatch(command bucket.BucketCommand) int
}

// ClusterController applies committed cluster commands to the replicated
// state. Every node applies the same commands in the same order from a
// single goroutine.
type ClusterController struct {
	LocalNodeID  uint64
	State        ClusterState
	Gate         *membership.Gate
	Dispatcher   BucketDispatcher
	LocalUpdates chan ClusterStateDelta
	stateLock    sync.RWMutex
}

func (clusterController *ClusterController) Step(clusterCommand ClusterCommand) error {
	body, err := DecodeClusterCommandBody(clusterCommand)

	if err != nil {
		return ECouldNotParseCommand
	}

	prometheusAppliedCommands.WithLabelValues(clusterCommand.Type.String()).Inc()

	switch clusterCommand.Type {
	case ClusterAddNode:
		clusterController.AddNode(body.(ClusterAddNodeBody))
	case ClusterRemoveNode:
		clusterController.RemoveNode(body.(ClusterRemoveNodeBody))
	case ClusterCreateCache:
		clusterController.CreateCache(body.(ClusterCreateCacheBody))
	case ClusterDeleteCache:
		clusterController.DeleteCache(body.(ClusterDeleteCacheBody))
	case ClusterBucketCommand:
		return clusterController.ApplyBucketCommand(body.(ClusterBucketCommandBody).Command)
	default:
		return ENoSuchCommand
	}

	return nil
}

// ApplySnapshot replaces the state with a snapshot and notifies the local
// node of the changes that concern it
func (clusterController *ClusterController) ApplySnapshot(snap []byte) error {
	clusterController.stateLock.Lock()
	_, localNodeWasPresentBefore := clusterController.State.Nodes[clusterController.LocalNodeID]

	if err := clusterController.State.Recover(snap); err != nil {
		clusterController.stateLock.Unlock()

		return err
	}

	nodeConfig, localNodeIsPresentNow := clusterController.State.Nodes[clusterController.LocalNodeID]
	view := clusterController.State.View()
	clusterController.stateLock.Unlock()

	if err := clusterController.State.Directory.CheckInvariants(); err != nil {
		Log.Criticalf("Local node (id = %d) received a snapshot with a corrupted bucket directory: %v", clusterController.LocalNodeID, err)

		return err
	}

	if clusterController.Gate != nil {
		clusterController.Gate.Reset(view)
	}

	if !localNodeWasPresentBefore && localNodeIsPresentNow {
		// This node was added. Provide an add node delta
		clusterController.notifyLocalNode(DeltaNodeAdd, NodeAdd{NodeID: clusterController.LocalNodeID, NodeConfig: *nodeConfig})
	}

	for _, settings := range clusterController.State.Directory.Caches() {
		clusterController.notifyLocalNode(DeltaCacheCreate, CacheCreate{Settings: settings})
	}

	if localNodeWasPresentBefore && !localNodeIsPresentNow {
		// This node was removed. Provide a remove node delta
		clusterController.notifyLocalNode(DeltaNodeRemove, NodeRemove{NodeID: clusterController.LocalNodeID})
	}

	return nil
}

func (clusterController *ClusterController) AddNode(clusterCommand ClusterAddNodeBody) {
	clusterController.stateLock.Lock()

	if _, ok := clusterController.State.Nodes[clusterCommand.NodeID]; ok {
		clusterController.stateLock.Unlock()

		return
	}

	clusterCommand.NodeConfig.Address.NodeID = clusterCommand.NodeID
	clusterController.State.AddNode(clusterCommand.NodeConfig)
	view := clusterController.State.View()
	clusterController.stateLock.Unlock()

	Log.Infof("Local node (id = %d) applying addition of node %d at %v. The cluster view is now %d", clusterController.LocalNodeID, clusterCommand.NodeID, clusterCommand.NodeConfig.BucketAddress(), view.ID)

	clusterController.changeView(view, nil)

	if clusterCommand.NodeID == clusterController.LocalNodeID {
		// notify the local node that it has been added to the cluster
		clusterController.notifyLocalNode(DeltaNodeAdd, NodeAdd{NodeID: clusterController.LocalNodeID, NodeConfig: clusterCommand.NodeConfig})
	}
}

func (clusterController *ClusterController) RemoveNode(clusterCommand ClusterRemoveNodeBody) {
	clusterController.stateLock.Lock()

	nodeConfig, ok := clusterController.State.Nodes[clusterCommand.NodeID]

	if !ok {
		clusterController.stateLock.Unlock()

		return
	}

	departed := nodeConfig.BucketAddress()
	clusterController.State.RemoveNode(clusterCommand.NodeID)
	view := clusterController.State.View()
	clusterController.stateLock.Unlock()

	Log.Infof("Local node (id = %d) applying removal of node %d at %v. The cluster view is now %d", clusterController.LocalNodeID, clusterCommand.NodeID, departed, view.ID)

	clusterController.changeView(view, &departed)

	if clusterCommand.NodeID == clusterController.LocalNodeID {
		// notify the local node that it has been removed from the cluster
		clusterController.notifyLocalNode(DeltaNodeRemove, NodeRemove{NodeID: clusterController.LocalNodeID})
	}
}

// changeView walks the membership gate through a membership change. While
// recovering, transfers that involve a departed node are cancelled by the
// surviving party.
func (clusterController *ClusterController) changeView(view membership.ClusterView, departed *bucket.NodeAddress) {
	if clusterController.Gate == nil {
		return
	}

	if err := clusterController.Gate.EnterRecovery(view); err != nil {
		Log.Warningf("Local node (id = %d) could not enter recovery for cluster view %d: %v. Resetting the membership gate", clusterController.LocalNodeID, view.ID, err)

		clusterController.Gate.Reset(view)

		return
	}

	if departed != nil {
		clusterController.recoverTransfers(view, *departed)
	}

	clusterController.Gate.EnterCleanup()
	clusterController.Gate.MarkOperational()
}

func (clusterController *ClusterController) recoverTransfers(view membership.ClusterView, departed bucket.NodeAddress) {
	for _, pendingTransfer := range clusterController.State.Directory.TransfersInvolving(departed) {
		survivor := pendingTransfer.Transfer.From

		if survivor == departed {
			survivor = pendingTransfer.Transfer.To
		}

		responsibleNodeID, ok := view.NodeIDOf(survivor)

		if !ok {
			// neither party is left. The lowest remaining node cancels
			nodeIDs := view.NodeIDs()

			if len(nodeIDs) == 0 {
				continue
			}

			responsibleNodeID = nodeIDs[0]
		}

		if responsibleNodeID != clusterController.LocalNodeID {
			continue
		}

		command := bucket.NewCancelBucketTransferCommand(
			pendingTransfer.ID.CacheName,
			pendingTransfer.Transfer.From,
			pendingTransfer.Transfer.To,
			pendingTransfer.ID.Storage,
			pendingTransfer.Transfer.DestinationStorage,
			[]uint64{pendingTransfer.ID.Bucket},
		)

		Log.Infof("Local node (id = %d) will cancel %v since %v left the cluster", clusterController.LocalNodeID, pendingTransfer.ID, departed)

		clusterController.notifyLocalNode(DeltaRecoveryCancel, RecoveryCancel{Command: command})
	}
}

func (clusterController *ClusterController) CreateCache(clusterCommand ClusterCreateCacheBody) {
	if err := clusterController.State.Directory.RegisterCache(clusterCommand.Settings); err != nil {
		Log.Warningf("Local node (id = %d) could not register cache %s: %v", clusterController.LocalNodeID, clusterCommand.Settings.Name, err)

		return
	}

	clusterController.notifyLocalNode(DeltaCacheCreate, CacheCreate{Settings: clusterCommand.Settings})
}

func (clusterController *ClusterController) DeleteCache(clusterCommand ClusterDeleteCacheBody) {
	if !clusterController.State.Directory.DeleteCache(clusterCommand.CacheName) {
		return
	}

	clusterController.notifyLocalNode(DeltaCacheDelete, CacheDelete{CacheName: clusterCommand.CacheName})
}

// ApplyBucketCommand runs a bucket command through the transfer state
// machine and dispatches the part of it that changed the directory.
// Anomalies are logged and discarded. A corrupted directory is returned as
// an error since the bucket subsystem cannot continue safely.
func (clusterController *ClusterController) ApplyBucketCommand(command bucket.BucketCommand) error {
	result := clusterController.State.Directory.Apply(command, clusterController.isMember)

	for _, anomaly := range result.Anomalies {
		Log.Warningf("Local node (id = %d) discarding %v: %v", clusterController.LocalNodeID, command, anomaly)

		prometheusProtocolAnomalies.WithLabelValues(command.Kind.String()).Inc()
	}

	if err := clusterController.State.Directory.CheckInvariants(); err != nil {
		Log.Criticalf("Local node (id = %d) bucket directory is corrupted after applying %v: %v", clusterController.LocalNodeID, command, err)

		return err
	}

	if !result.Changed() {
		return nil
	}

	if clusterController.Dispatcher != nil {
		clusterController.Dispatcher.Dispatch(command.WithBuckets(result.Applied))
	}

	return nil
}

func (clusterController *ClusterController) isMember(address bucket.NodeAddress) bool {
	if clusterController.Gate == nil {
		return clusterController.View().Contains(address)
	}

	return clusterController.Gate.AuthoritativeView().Contains(address)
}

// View is the cluster view described by the replicated state
func (clusterController *ClusterController) View() membership.ClusterView {
	clusterController.stateLock.RLock()
	defer clusterController.stateLock.RUnlock()

	return clusterController.State.View()
}

// Nodes lists the cluster members ordered by node id
func (clusterController *ClusterController) Nodes() []NodeConfig {
	clusterController.stateLock.RLock()
	defer clusterController.stateLock.RUnlock()

	nodes := make([]NodeConfig, 0, len(clusterController.State.Nodes))

	for _, nodeConfig := range clusterController.State.Nodes {
		nodes = append(nodes, *nodeConfig)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Address.NodeID < nodes[j].Address.NodeID })

	return nodes
}

func (clusterController *ClusterController) NodeConfig(nodeID uint64) (NodeConfig, bool) {
	clusterController.stateLock.RLock()
	defer clusterController.stateLock.RUnlock()

	nodeConfig, ok := clusterController.State.Nodes[nodeID]

	if !ok {
		return NodeConfig{}, false
	}

	return *nodeConfig, true
}

func (clusterController *ClusterController) Directory() *bucket.Directory {
	return clusterController.State.Directory
}

// Snapshot encodes the replicated state
func (clusterController *ClusterController) Snapshot() ([]byte, error) {
	clusterController.stateLock.RLock()
	defer clusterController.stateLock.RUnlock()

	return clusterController.State.Snapshot()
}

// IsCorrupted reports whether err means the bucket subsystem must halt
func IsCorrupted(err error) bool {
	return errors.Is(err, bucket.EDirectoryCorrupted)
}

// A channel that provides notifications for updates to configuration affecting the local node
// This includes being added to or removed from the cluster, caches being created or deleted
// and transfers the local node must cancel after another node left
func (clusterController *ClusterController) notifyLocalNode(deltaType ClusterStateDeltaType, delta interface{}) {
	if clusterController.LocalUpdates != nil {
		clusterController.LocalUpdates <- ClusterStateDelta{Type: deltaType, Delta: delta}
	}
}
