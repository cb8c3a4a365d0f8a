package dispatch_test

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
	. "github.com/PelionIoT/devicecache/dispatch"
	"github.com/PelionIoT/devicecache/membership"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("BucketEventDispatcher", func() {
	node1 := bucket.NodeAddress{Host: "node1", Port: 9090}
	node2 := bucket.NodeAddress{Host: "node2", Port: 9090}
	node3 := bucket.NodeAddress{Host: "node3", Port: 9090}
	node4 := bucket.NodeAddress{Host: "node4", Port: 9090}
	view := membership.NewClusterView(4, map[uint64]bucket.NodeAddress{1: node1, 2: node2, 3: node3, 4: node4})

	commands := []bucket.BucketCommand{
		bucket.NewAssignBucketCommand("orders", node1, 0, 0),
		bucket.NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}),
		bucket.NewFinishBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}),
		bucket.NewCancelBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}),
		bucket.NewOrphanBucketCommand("orders", node2, 0, 2),
		bucket.NewRestoreBucketCommand("orders", node4, 1, []uint64{2, 3}),
	}

	// expected[i][nodeID] lists the roles node plays in commands[i]
	expected := []map[uint64][]bucket.Role{
		{1: {bucket.RoleOwner}},
		{1: {bucket.RoleCurrentOwner}},
		{1: {bucket.RolePreviousOwner}, 3: {bucket.RoleNewOwner}},
		{1: {bucket.RolePreviousOwner}, 3: {bucket.RoleNewOwner}},
		{2: {bucket.RoleOwner}},
		{4: {bucket.RoleTarget}},
	}

	dispatchers := func() (map[uint64]*BucketEventDispatcher, map[uint64]*MockMessageQueue) {
		dispatchers := make(map[uint64]*BucketEventDispatcher)
		queues := make(map[uint64]*MockMessageQueue)

		for _, nodeID := range view.NodeIDs() {
			queues[nodeID] = NewMockMessageQueue()
			dispatchers[nodeID] = NewBucketEventDispatcher(nodeID, &MockViewSource{view: view}, queues[nodeID])
		}

		return dispatchers, queues
	}

	It("should post messages only at the nodes that play a role in each command", func() {
		for i, command := range commands {
			dispatchers, queues := dispatchers()

			for _, nodeID := range view.NodeIDs() {
				posted := dispatchers[nodeID].Dispatch(command)
				roles := expected[i][nodeID]

				Expect(posted).Should(Equal(len(roles)), "command %v at node %d", command, nodeID)
				Expect(len(queues[nodeID].Messages())).Should(Equal(len(roles)))

				for j, message := range queues[nodeID].Messages() {
					address, _ := view.AddressOf(nodeID)

					Expect(message.Role).Should(Equal(roles[j]))
					Expect(message.Receiver).Should(Equal(address))
					Expect(message.Command()).Should(Equal(command))
				}
			}
		}
	})

	It("should post one message per role when a node plays two roles", func() {
		dispatchers, queues := dispatchers()
		command := bucket.NewFinishBucketTransferCommand("orders", node2, node2, 0, 1, []uint64{3})

		Expect(dispatchers[2].Dispatch(command)).Should(Equal(2))

		messages := queues[2].Messages()

		Expect(messages[0].Role).Should(Equal(bucket.RolePreviousOwner))
		Expect(messages[1].Role).Should(Equal(bucket.RoleNewOwner))
	})

	It("should discard every command at a node outside of the authoritative view", func() {
		queue := NewMockMessageQueue()
		dispatcher := NewBucketEventDispatcher(5, &MockViewSource{view: view}, queue)

		for _, command := range commands {
			Expect(dispatcher.Dispatch(command)).Should(Equal(0))
		}

		Expect(queue.Messages()).Should(BeEmpty())
	})

	It("should resolve the local address through the last operational view while a change is in progress", func() {
		gate := membership.NewGate(view)
		queue := NewMockMessageQueue()
		dispatcher := NewBucketEventDispatcher(2, gate, queue)

		Expect(gate.EnterRecovery(view.Without(2))).Should(BeNil())
		Expect(dispatcher.Dispatch(commands[4])).Should(Equal(1))
		Expect(gate.EnterCleanup()).Should(BeNil())
		Expect(gate.MarkOperational()).Should(BeNil())
		Expect(dispatcher.Dispatch(commands[4])).Should(Equal(0))
		Expect(len(queue.Messages())).Should(Equal(1))
	})

	It("should post a message for every command delivered concurrently", func() {
		queue := NewMockMessageQueue()
		dispatcher := NewBucketEventDispatcher(1, &MockViewSource{view: view}, queue)
		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(1)

			go func(bucketNumber uint64) {
				defer wg.Done()

				dispatcher.Dispatch(bucket.NewAssignBucketCommand("orders", node1, 0, bucketNumber))
			}(uint64(i))
		}

		wg.Wait()

		Expect(len(queue.Messages())).Should(Equal(8))
	})

	Describe("Roles", func() {
		It("should match no role for an empty address", func() {
			for _, command := range commands {
				Expect(Roles(command, bucket.NodeAddress{})).Should(BeEmpty())
			}
		})
	})
})
