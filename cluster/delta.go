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
	"github.com/PelionIoT/devicecache/bucket"
)

type ClusterStateDeltaType int

const (
	DeltaNodeAdd        ClusterStateDeltaType = iota
	DeltaNodeRemove     ClusterStateDeltaType = iota
	DeltaCacheCreate    ClusterStateDeltaType = iota
	DeltaCacheDelete    ClusterStateDeltaType = iota
	DeltaRecoveryCancel ClusterStateDeltaType = iota
)

// ClusterStateDelta notifies the local node of a change it must react to
type ClusterStateDelta struct {
	Type  ClusterStateDeltaType
	Delta interface{}
}

type NodeAdd struct {
	NodeID     uint64
	NodeConfig NodeConfig
}

type NodeRemove struct {
	NodeID uint64
}

type CacheCreate struct {
	Settings bucket.CacheSettings
}

type CacheDelete struct {
	CacheName string
}

// RecoveryCancel asks the local node to propose Command, which cancels a
// transfer left behind by a node that departed
type RecoveryCancel struct {
	Command bucket.BucketCommand
}
