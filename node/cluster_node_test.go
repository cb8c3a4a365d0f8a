package node_test

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
	"fmt"
	"time"

	. "github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/client"
	devicecacheerrors "github.com/PelionIoT/devicecache/error"
	. "github.com/PelionIoT/devicecache/node"
	"github.com/PelionIoT/devicecache/raft"
	"github.com/PelionIoT/devicecache/server"
	"github.com/PelionIoT/devicecache/storage"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type runningNode struct {
	node        *ClusterNode
	address     NodeAddress
	initialized chan int
	stopped     chan error
}

func startNode(nodeID uint64, port int, options NodeInitializationOptions) *runningNode {
	options.ClusterHost = "localhost"
	options.ClusterPort = port

	running := &runningNode{
		node: New(ClusterNodeConfig{
			NodeID:           nodeID,
			StorageDriver:    storage.NewLevelDBStorageDriver("", nil),
			Server:           server.NewServer(server.ServerConfig{Host: "localhost", Port: port}),
			TransferTimeout:  time.Second * 10,
			RaftTickInterval: time.Millisecond * 10,
		}),
		address:     NodeAddress{Host: "localhost", Port: port},
		initialized: make(chan int, 1),
		stopped:     make(chan error, 1),
	}

	running.node.OnInitialized(func() {
		running.initialized <- 1
	})

	go func() {
		running.stopped <- running.node.Start(options)
	}()

	Eventually(running.initialized, time.Second*10).Should(Receive())

	return running
}

func startFirstNode(nodeID uint64, port int) *runningNode {
	return startNode(nodeID, port, NodeInitializationOptions{StartCluster: true})
}

func joinNode(nodeID uint64, port int, seedPort int) *runningNode {
	return startNode(nodeID, port, NodeInitializationOptions{JoinCluster: true, SeedNodeHost: "localhost", SeedNodePort: seedPort})
}

func (running *runningNode) stop() {
	running.node.Stop()

	Eventually(running.stopped, time.Second*10).Should(Receive())
}

func submit(apiClient *client.APIClient, command BucketCommand) {
	Eventually(func() error {
		return apiClient.SubmitBucketCommand(context.Background(), command)
	}, time.Second*5).Should(Succeed())
}

func ownersOf(apiClient *client.APIClient, cacheName string, storage uint64) func() []string {
	return func() []string {
		ownership, err := apiClient.Directory(context.Background(), cacheName, storage)

		if err != nil {
			return nil
		}

		owners := make([]string, len(ownership))

		for i, entry := range ownership {
			owners[i] = entry.State + " " + entry.Owner
		}

		return owners
	}
}

func putKeys(apiClient *client.APIClient, cacheName string, count int) {
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("key-%d", i)

		Eventually(func() error {
			return apiClient.Put(context.Background(), cacheName, key, []byte("value-"+key))
		}, time.Second*5).Should(Succeed())
	}
}

func expectKeys(apiClient *client.APIClient, cacheName string, count int) {
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("key-%d", i)

		Eventually(func() ([]byte, error) {
			return apiClient.Get(context.Background(), cacheName, key)
		}, time.Second*5).Should(Equal([]byte("value-" + key)))
	}
}

var _ = Describe("ClusterNode", func() {
	Describe("#Start", func() {
		Context("The initialization options are set to create a new cluster", func() {
			It("should create a new cluster with the local node as its only member", func() {
				node1 := startFirstNode(1, 18101)
				defer node1.stop()

				apiClient := client.New(client.APIClientConfig{Servers: []string{"localhost:18101"}})
				view, err := apiClient.View(context.Background())

				Expect(err).Should(BeNil())
				Expect(view.LocalNode).Should(Equal(uint64(1)))
				Expect(view.GateState).Should(Equal("normal"))
				Expect(view.Nodes).Should(HaveLen(1))
			})
		})

		Context("The initialization options are set to join an existing cluster", func() {
			It("should add the node to that cluster", func() {
				node1 := startFirstNode(1, 18111)
				defer node1.stop()
				node2 := joinNode(2, 18112, 18111)
				defer node2.stop()

				apiClient := client.New(client.APIClientConfig{Servers: []string{"localhost:18111"}})

				Eventually(func() int {
					view, _ := apiClient.View(context.Background())

					return len(view.Nodes)
				}, time.Second*5).Should(Equal(2))
			})

			It("should refuse to join with an ID that another member already has", func() {
				node1 := startFirstNode(1, 18121)
				defer node1.stop()

				duplicate := New(ClusterNodeConfig{
					NodeID:           1,
					StorageDriver:    storage.NewLevelDBStorageDriver("", nil),
					Server:           server.NewServer(server.ServerConfig{Host: "localhost", Port: 18122}),
					RaftTickInterval: time.Millisecond * 10,
				})

				Expect(duplicate.Start(NodeInitializationOptions{
					JoinCluster:  true,
					SeedNodeHost: "localhost",
					SeedNodePort: 18121,
					ClusterHost:  "localhost",
					ClusterPort:  18122,
				})).Should(HaveOccurred())
			})
		})

		Context("The node is removed from the cluster", func() {
			It("should return ERemoved", func() {
				node1 := startFirstNode(1, 18131)
				defer node1.stop()
				node2 := joinNode(2, 18132, 18131)

				ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
				defer cancel()

				Expect(node2.node.LeaveCluster(ctx)).Should(Succeed())
				Eventually(node2.stopped, time.Second*10).Should(Receive(Equal(devicecacheerrors.ERemoved)))
			})
		})
	})

	Describe("bucket ownership", func() {
		It("should move bucket content to a new owner with a begin transfer", func() {
			node1 := startFirstNode(1, 18141)
			defer node1.stop()
			node2 := joinNode(2, 18142, 18141)
			defer node2.stop()

			apiClient := client.New(client.APIClientConfig{Servers: []string{"localhost:18141"}})

			Expect(apiClient.CreateCache(context.Background(), CacheSettings{Name: "orders", Buckets: 4, Storages: 1})).Should(Succeed())

			for b := uint64(0); b < 4; b++ {
				submit(apiClient, NewAssignBucketCommand("orders", node1.address, 0, b))
			}

			Eventually(ownersOf(apiClient, "orders", 0), time.Second*5).Should(Equal([]string{
				"OWNED localhost:18141",
				"OWNED localhost:18141",
				"OWNED localhost:18141",
				"OWNED localhost:18141",
			}))

			putKeys(apiClient, "orders", 20)

			submit(apiClient, NewBeginBucketTransferCommand("orders", node1.address, node2.address, 0, 0, []uint64{0, 1, 2, 3}))

			// the current owner proposes a finish for every bucket it copied
			Eventually(ownersOf(apiClient, "orders", 0), time.Second*10).Should(Equal([]string{
				"OWNED localhost:18142",
				"OWNED localhost:18142",
				"OWNED localhost:18142",
				"OWNED localhost:18142",
			}))

			expectKeys(client.New(client.APIClientConfig{Servers: []string{"localhost:18142"}}), "orders", 20)

			for b := uint64(0); b < 4; b++ {
				Eventually(func() bool {
					return node1.node.Store().IsServing(BucketID{CacheName: "orders", Storage: 0, Bucket: b})
				}).Should(BeFalse())
			}
		})

		It("should restore the buckets of a failed node from another storage number", func() {
			node1 := startFirstNode(1, 18151)
			defer node1.stop()
			node2 := joinNode(2, 18152, 18151)
			node3 := joinNode(3, 18153, 18151)
			defer node3.stop()

			apiClient := client.New(client.APIClientConfig{Servers: []string{"localhost:18151"}})

			Expect(apiClient.CreateCache(context.Background(), CacheSettings{Name: "orders", Buckets: 4, Storages: 2})).Should(Succeed())

			submit(apiClient, NewAssignBucketCommand("orders", node1.address, 0, 0))
			submit(apiClient, NewAssignBucketCommand("orders", node1.address, 0, 1))
			submit(apiClient, NewAssignBucketCommand("orders", node2.address, 0, 2))
			submit(apiClient, NewAssignBucketCommand("orders", node2.address, 0, 3))

			for b := uint64(0); b < 4; b++ {
				submit(apiClient, NewAssignBucketCommand("orders", node3.address, 1, b))
			}

			Eventually(ownersOf(apiClient, "orders", 1), time.Second*5).Should(HaveLen(4))
			putKeys(apiClient, "orders", 20)

			node2.stop()

			Eventually(func() error {
				return client.NewClient(client.ClientConfig{}).RemoveNode(context.Background(), raft.PeerAddress{Host: "localhost", Port: 18151}, 2)
			}, time.Second*10).Should(Succeed())

			submit(apiClient, NewOrphanBucketCommand("orders", node2.address, 0, 2))
			submit(apiClient, NewOrphanBucketCommand("orders", node2.address, 0, 3))
			submit(apiClient, NewRestoreBucketCommand("orders", node1.address, 1, []uint64{2, 3}))

			Eventually(ownersOf(apiClient, "orders", 0), time.Second*5).Should(Equal([]string{
				"OWNED localhost:18151",
				"OWNED localhost:18151",
				"OWNED localhost:18151",
				"OWNED localhost:18151",
			}))

			expectKeys(apiClient, "orders", 20)
		})
	})
})
