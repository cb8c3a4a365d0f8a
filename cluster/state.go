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
	"encoding/json"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/membership"
)

// ClusterState is the replicated state every node derives from the log
type ClusterState struct {
	// Cluster members and their addresses
	Nodes map[uint64]*NodeConfig `json:"nodes"`
	// Incremented by every membership change
	ViewID uint64 `json:"viewID"`
	// Replica of the bucket ownership directory
	Directory *bucket.Directory `json:"directory"`
}

func NewClusterState() ClusterState {
	return ClusterState{
		Nodes:     make(map[uint64]*NodeConfig),
		Directory: bucket.NewDirectory(),
	}
}

func (clusterState *ClusterState) AddNode(nodeConfig NodeConfig) {
	clusterState.Nodes[nodeConfig.Address.NodeID] = &nodeConfig
	clusterState.ViewID++
}

func (clusterState *ClusterState) RemoveNode(nodeID uint64) {
	delete(clusterState.Nodes, nodeID)
	clusterState.ViewID++
}

// View is the cluster view described by the state
func (clusterState *ClusterState) View() membership.ClusterView {
	members := make(map[uint64]bucket.NodeAddress, len(clusterState.Nodes))

	for nodeID, nodeConfig := range clusterState.Nodes {
		members[nodeID] = nodeConfig.BucketAddress()
	}

	return membership.NewClusterView(clusterState.ViewID, members)
}

func (clusterState *ClusterState) Snapshot() ([]byte, error) {
	return json.Marshal(clusterState)
}

// Recover replaces the state with a snapshot. The directory object is
// reused so that its change listeners stay registered.
func (clusterState *ClusterState) Recover(snapshot []byte) error {
	directory := clusterState.Directory

	if directory == nil {
		directory = bucket.NewDirectory()
	}

	cs := ClusterState{Directory: directory}

	if err := json.Unmarshal(snapshot, &cs); err != nil {
		return err
	}

	if cs.Nodes == nil {
		cs.Nodes = make(map[uint64]*NodeConfig)
	}

	*clusterState = cs

	return nil
}
