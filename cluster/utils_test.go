package cluster_test

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
	"sync"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/cluster"
	"github.com/PelionIoT/devicecache/raft"
)

type MockBucketDispatcher struct {
	commands []bucket.BucketCommand
	lock     sync.Mutex
}

func NewMockBucketDispatcher() *MockBucketDispatcher {
	return &MockBucketDispatcher{
		commands: make([]bucket.BucketCommand, 0),
	}
}

func (dispatcher *MockBucketDispatcher) Dispatch(command bucket.BucketCommand) int {
	dispatcher.lock.Lock()
	defer dispatcher.lock.Unlock()

	dispatcher.commands = append(dispatcher.commands, command)

	return 1
}

func (dispatcher *MockBucketDispatcher) Commands() []bucket.BucketCommand {
	dispatcher.lock.Lock()
	defer dispatcher.lock.Unlock()

	commands := make([]bucket.BucketCommand, len(dispatcher.commands))
	copy(commands, dispatcher.commands)

	return commands
}

func nodeConfig(nodeID uint64, host string) NodeConfig {
	return NodeConfig{Address: raft.PeerAddress{NodeID: nodeID, Host: host, Port: 9090}}
}

func mustCommand(commandType ClusterCommandType, body interface{}) ClusterCommand {
	command, err := CreateClusterCommand(commandType, body)

	if err != nil {
		panic(err)
	}

	return command
}

func bucketCommand(command bucket.BucketCommand) ClusterCommand {
	return mustCommand(ClusterBucketCommand, ClusterBucketCommandBody{Command: command})
}

// drain collects every delta currently buffered in updates
func drain(updates chan ClusterStateDelta) []ClusterStateDelta {
	deltas := make([]ClusterStateDelta, 0)

	for {
		select {
		case delta := <-updates:
			deltas = append(deltas, delta)
		default:
			return deltas
		}
	}
}
