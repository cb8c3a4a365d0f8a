package bucket_test

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
	. "github.com/PelionIoT/devicecache/bucket"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func snapshot(directory *Directory, cacheName string, storages uint64) [][]DirectoryEntry {
	entries := make([][]DirectoryEntry, storages)

	for storage := uint64(0); storage < storages; storage++ {
		entries[storage], _ = directory.Buckets(cacheName, storage)
	}

	return entries
}

func expectOwners(directory *Directory, cacheName string, storage uint64, owners ...Owner) {
	entries, err := directory.Buckets(cacheName, storage)

	Expect(err).Should(BeNil())
	Expect(len(entries)).Should(Equal(len(owners)))

	for bucket, owner := range owners {
		Expect(entries[bucket].Owner).Should(Equal(owner), "bucket %d", bucket)
	}
}

var _ = Describe("Directory.Apply", func() {
	var directory *Directory
	node1 := NodeAddress{Host: "node1", Port: 9090}
	node2 := NodeAddress{Host: "node2", Port: 9090}
	node3 := NodeAddress{Host: "node3", Port: 9090}
	node4 := NodeAddress{Host: "node4", Port: 9090}

	allMembers := func(NodeAddress) bool { return true }

	assignOrders := func() {
		for _, command := range []BucketCommand{
			NewAssignBucketCommand("orders", node1, 0, 0),
			NewAssignBucketCommand("orders", node1, 0, 1),
			NewAssignBucketCommand("orders", node2, 0, 2),
			NewAssignBucketCommand("orders", node2, 0, 3),
		} {
			Expect(directory.Apply(command, allMembers).Changed()).Should(BeTrue())
		}
	}

	BeforeEach(func() {
		directory = NewDirectory()
		Expect(directory.RegisterCache(CacheSettings{Name: "orders", Buckets: 4, Storages: 2})).Should(BeNil())
	})

	AfterEach(func() {
		Expect(directory.CheckInvariants()).Should(BeNil())
	})

	Describe("Assign", func() {
		It("should give an ORPHANED bucket its initial owner", func() {
			assignOrders()

			expectOwners(directory, "orders", 0, OwnedBy(node1), OwnedBy(node1), OwnedBy(node2), OwnedBy(node2))
			expectOwners(directory, "orders", 1, Orphaned, Orphaned, Orphaned, Orphaned)
		})

		It("should be a no-op when redelivered", func() {
			assignOrders()
			result := directory.Apply(NewAssignBucketCommand("orders", node1, 0, 0), allMembers)

			Expect(result.Changed()).Should(BeFalse())
			Expect(result.Anomalies).Should(BeEmpty())
		})

		It("should be rejected as an anomaly when the bucket already has another owner", func() {
			assignOrders()
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewAssignBucketCommand("orders", node3, 0, 0), allMembers)

			Expect(result.Changed()).Should(BeFalse())
			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(result.Anomalies[0].ID).Should(Equal(BucketID{CacheName: "orders", Storage: 0, Bucket: 0}))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))
		})
	})

	Describe("Begin", func() {
		BeforeEach(assignOrders)

		It("should record the transfer but keep reporting the current owner", func() {
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)

			Expect(result.Applied).Should(Equal([]uint64{0}))

			entry, _ := directory.EntryOf("orders", 0, 0)
			Expect(entry.State()).Should(Equal(StateTransferring))
			Expect(entry.Owner).Should(Equal(OwnedBy(node1)))
			Expect(*entry.Transfer).Should(Equal(Transfer{From: node1, To: node3, DestinationStorage: 0}))
		})

		It("should leave the directory unchanged when it names a stale owner", func() {
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node4, node3, 0, 0, []uint64{0}), allMembers)

			Expect(result.Changed()).Should(BeFalse())
			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(result.Anomalies[0].Kind).Should(Equal(BeginBucketTransfer))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))
		})

		It("should be idempotent", func() {
			command := NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0, 1})
			directory.Apply(command, allMembers)
			once := snapshot(directory, "orders", 2)
			result := directory.Apply(command, allMembers)

			Expect(result.Changed()).Should(BeFalse())
			Expect(result.Anomalies).Should(BeEmpty())
			Expect(snapshot(directory, "orders", 2)).Should(Equal(once))
		})

		It("should refuse a second transfer of a bucket already in flight", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node1, node4, 0, 0, []uint64{0}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(directory.TransferOf("orders", 0, 0)).Should(Equal(&Transfer{From: node1, To: node3}))
		})

		It("should apply to the buckets it can and report the rest", func() {
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{1, 2}), allMembers)

			Expect(result.Applied).Should(Equal([]uint64{1}))
			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(result.Anomalies[0].ID.Bucket).Should(Equal(uint64(2)))
		})

		It("should refuse a transfer to another storage number whose entry is owned by another node", func() {
			directory.Apply(NewAssignBucketCommand("orders", node4, 1, 3), allMembers)
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)

			Expect(result.Changed()).Should(BeFalse())
			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))
		})

		It("should refuse a transfer to another storage number whose entry has a transfer in flight", func() {
			directory.Apply(NewAssignBucketCommand("orders", node3, 1, 2), allMembers)
			directory.Apply(NewBeginBucketTransferCommand("orders", node3, node4, 1, 1, []uint64{2}), allMembers)
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{2}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))

			result = directory.Apply(NewCancelBucketTransferCommand("orders", node3, node4, 1, 1, []uint64{2}), allMembers)

			Expect(result.Applied).Should(Equal([]uint64{2}))
			Expect(directory.OwnerOf("orders", 1, 2)).Should(Equal(OwnedBy(node3)))
		})

		It("should refuse to transfer an ORPHANED bucket", func() {
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 1, 1, []uint64{0}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
		})
	})

	Describe("Finish", func() {
		BeforeEach(assignOrders)

		It("should move bucket 0 of orders to node3 and leave the others untouched", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)
			result := directory.Apply(NewFinishBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)

			Expect(result.Applied).Should(Equal([]uint64{0}))
			expectOwners(directory, "orders", 0, OwnedBy(node3), OwnedBy(node1), OwnedBy(node2), OwnedBy(node2))

			entry, _ := directory.EntryOf("orders", 0, 0)
			Expect(entry.Transfer).Should(BeNil())
		})

		It("should be rejected when the bucket is not transferring", func() {
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewFinishBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))
		})

		It("should be rejected when it names a different pair than the transfer in flight", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewFinishBucketTransferCommand("orders", node1, node4, 0, 0, []uint64{0}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))
		})

		It("should leave the same state when redelivered", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)
			finish := NewFinishBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0})
			directory.Apply(finish, allMembers)
			once := snapshot(directory, "orders", 2)
			result := directory.Apply(finish, allMembers)

			Expect(result.Changed()).Should(BeFalse())
			Expect(snapshot(directory, "orders", 2)).Should(Equal(once))
		})

		It("should move ownership to the destination storage number and orphan the source", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)
			directory.Apply(NewFinishBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)

			Expect(directory.OwnerOf("orders", 0, 3)).Should(Equal(Orphaned))
			Expect(directory.OwnerOf("orders", 1, 3)).Should(Equal(OwnedBy(node3)))
		})
	})

	Describe("Finish to another storage number", func() {
		BeforeEach(assignOrders)

		It("should be rejected when the destination entry changed hands after Begin", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)
			directory.Apply(NewAssignBucketCommand("orders", node4, 1, 3), allMembers)
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewFinishBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))
			Expect(directory.OwnerOf("orders", 1, 3)).Should(Equal(OwnedBy(node4)))

			result = directory.Apply(NewCancelBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)

			Expect(result.Applied).Should(Equal([]uint64{3}))
			Expect(directory.OwnerOf("orders", 0, 3)).Should(Equal(OwnedBy(node2)))
		})

		It("should be rejected when the destination entry has a transfer in flight", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)
			directory.Apply(NewAssignBucketCommand("orders", node3, 1, 3), allMembers)
			directory.Apply(NewBeginBucketTransferCommand("orders", node3, node4, 1, 1, []uint64{3}), allMembers)
			before := snapshot(directory, "orders", 2)
			result := directory.Apply(NewFinishBucketTransferCommand("orders", node2, node3, 0, 1, []uint64{3}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))

			entry, _ := directory.EntryOf("orders", 1, 3)
			Expect(entry.Transfer).ShouldNot(BeNil())
		})
	})

	Describe("Cancel", func() {
		BeforeEach(assignOrders)

		It("should revert to a state equal to the state before Begin", func() {
			before := snapshot(directory, "orders", 2)
			directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0, 1}), allMembers)
			result := directory.Apply(NewCancelBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0, 1}), allMembers)

			Expect(result.Applied).Should(Equal([]uint64{0, 1}))
			Expect(snapshot(directory, "orders", 2)).Should(Equal(before))
		})

		It("should be rejected after the transfer has finished", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)
			directory.Apply(NewFinishBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)
			result := directory.Apply(NewCancelBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(directory.OwnerOf("orders", 0, 0)).Should(Equal(OwnedBy(node3)))
		})
	})

	Describe("Orphan and Restore", func() {
		BeforeEach(func() {
			assignOrders()

			for bucket := uint64(0); bucket < 4; bucket++ {
				directory.Apply(NewAssignBucketCommand("orders", node3, 1, bucket), allMembers)
			}
		})

		It("should restore buckets 2 and 3 to node4 after node2 fails", func() {
			withoutNode2 := func(address NodeAddress) bool { return address != node2 }

			Expect(directory.Apply(NewOrphanBucketCommand("orders", node2, 0, 2), withoutNode2).Applied).Should(Equal([]uint64{2}))
			Expect(directory.OwnerOf("orders", 0, 2)).Should(Equal(Orphaned))

			result := directory.Apply(NewRestoreBucketCommand("orders", node4, 1, []uint64{2, 3}), withoutNode2)

			Expect(result.Anomalies).Should(BeEmpty())
			Expect(result.Applied).Should(Equal([]uint64{2, 3}))
			expectOwners(directory, "orders", 0, OwnedBy(node1), OwnedBy(node1), OwnedBy(node4), OwnedBy(node4))
			expectOwners(directory, "orders", 1, OwnedBy(node3), OwnedBy(node3), OwnedBy(node3), OwnedBy(node3))
		})

		It("should refuse to restore a bucket whose owner is still a member", func() {
			result := directory.Apply(NewRestoreBucketCommand("orders", node4, 1, []uint64{3}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(directory.OwnerOf("orders", 0, 3)).Should(Equal(OwnedBy(node2)))
		})

		It("should refuse to orphan a bucket on behalf of a node that does not own it", func() {
			result := directory.Apply(NewOrphanBucketCommand("orders", node1, 0, 2), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(directory.OwnerOf("orders", 0, 2)).Should(Equal(OwnedBy(node2)))
		})

		It("should refuse to orphan a bucket with a transfer in flight", func() {
			directory.Apply(NewBeginBucketTransferCommand("orders", node2, node3, 0, 0, []uint64{2}), allMembers)
			result := directory.Apply(NewOrphanBucketCommand("orders", node2, 0, 2), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
			Expect(directory.OwnerOf("orders", 0, 2)).Should(Equal(OwnedBy(node2)))
		})

		It("should treat redelivered orphan and restore commands as no-ops", func() {
			orphan := NewOrphanBucketCommand("orders", node2, 0, 2)
			restore := NewRestoreBucketCommand("orders", node4, 1, []uint64{2})

			directory.Apply(orphan, allMembers)
			Expect(directory.Apply(orphan, allMembers).Changed()).Should(BeFalse())
			directory.Apply(restore, allMembers)
			Expect(directory.Apply(restore, allMembers).Changed()).Should(BeFalse())
			Expect(directory.OwnerOf("orders", 0, 2)).Should(Equal(OwnedBy(node4)))
		})
	})

	Describe("malformed commands", func() {
		It("should report every listed bucket and change nothing", func() {
			result := directory.Apply(NewBeginBucketTransferCommand("orders", node1, node1, 0, 0, []uint64{0, 1}), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(2))
			Expect(result.Changed()).Should(BeFalse())
		})

		It("should report buckets outside of the cache", func() {
			result := directory.Apply(NewAssignBucketCommand("orders", node1, 0, 9), allMembers)

			Expect(len(result.Anomalies)).Should(Equal(1))
		})
	})

	It("should never report two owners for a bucket across a sequence of commands", func() {
		assignOrders()

		commands := []BucketCommand{
			NewBeginBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0, 1}),
			NewBeginBucketTransferCommand("orders", node2, node4, 0, 0, []uint64{2}),
			NewFinishBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{0}),
			NewCancelBucketTransferCommand("orders", node1, node3, 0, 0, []uint64{1}),
			NewCancelBucketTransferCommand("orders", node2, node4, 0, 0, []uint64{2}),
			NewOrphanBucketCommand("orders", node2, 0, 3),
			NewRestoreBucketCommand("orders", node4, 1, []uint64{3}),
		}

		for _, command := range commands {
			directory.Apply(command, allMembers)
			directory.Apply(command, allMembers)
			Expect(directory.CheckInvariants()).Should(BeNil())
		}

		expectOwners(directory, "orders", 0, OwnedBy(node3), OwnedBy(node1), OwnedBy(node2), OwnedBy(node4))
	})
})
