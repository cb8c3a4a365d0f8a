package membership

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
	"sort"

	"github.com/PelionIoT/devicecache/bucket"
)

// ClusterView is an immutable snapshot of the cluster members. Every
// membership change produces a view with a larger ID.
type ClusterView struct {
	ID      uint64                        `json:"id"`
	Members map[uint64]bucket.NodeAddress `json:"members"`
}

func NewClusterView(id uint64, members map[uint64]bucket.NodeAddress) ClusterView {
	view := ClusterView{ID: id, Members: make(map[uint64]bucket.NodeAddress, len(members))}

	for nodeID, address := range members {
		view.Members[nodeID] = address
	}

	return view
}

// With returns the successor of this view that includes nodeID
func (view ClusterView) With(nodeID uint64, address bucket.NodeAddress) ClusterView {
	next := NewClusterView(view.ID+1, view.Members)
	next.Members[nodeID] = address

	return next
}

// Without returns the successor of this view that excludes nodeID
func (view ClusterView) Without(nodeID uint64) ClusterView {
	next := NewClusterView(view.ID+1, view.Members)
	delete(next.Members, nodeID)

	return next
}

func (view ClusterView) AddressOf(nodeID uint64) (bucket.NodeAddress, bool) {
	address, ok := view.Members[nodeID]

	return address, ok
}

func (view ClusterView) NodeIDOf(address bucket.NodeAddress) (uint64, bool) {
	for nodeID, memberAddress := range view.Members {
		if memberAddress == address {
			return nodeID, true
		}
	}

	return 0, false
}

func (view ClusterView) Contains(address bucket.NodeAddress) bool {
	_, ok := view.NodeIDOf(address)

	return ok
}

// NodeIDs lists the members in ascending order
func (view ClusterView) NodeIDs() []uint64 {
	nodeIDs := make([]uint64, 0, len(view.Members))

	for nodeID := range view.Members {
		nodeIDs = append(nodeIDs, nodeID)
	}

	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	return nodeIDs
}

func (view ClusterView) Size() int {
	return len(view.Members)
}
