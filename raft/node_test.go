package raft_test

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
	"sync"
	"time"

	. "github.com/PelionIoT/devicecache/raft"

	"github.com/coreos/etcd/raft/raftpb"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type entryRecorder struct {
	entries []raftpb.Entry
	lock    sync.Mutex
}

func (recorder *entryRecorder) record(entry raftpb.Entry) error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()

	recorder.entries = append(recorder.entries, entry)

	return nil
}

func (recorder *entryRecorder) normalEntries() []string {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()

	data := make([]string, 0)

	for _, entry := range recorder.entries {
		if entry.Type == raftpb.EntryNormal && len(entry.Data) > 0 {
			data = append(data, string(entry.Data))
		}
	}

	return data
}

func newTestRaftNode(storage *RaftMemoryStorage, recorder *entryRecorder, replayed chan int) *RaftNode {
	raftNode := NewRaftNode(&RaftNodeConfig{
		ID:                      0x1,
		CreateClusterIfNotExist: true,
		Storage:                 storage,
		TickInterval:            time.Millisecond * 10,
		GetSnapshot: func() ([]byte, error) {
			return []byte{}, nil
		},
	})

	raftNode.OnMessages(func(messages []raftpb.Message) error { return nil })
	raftNode.OnSnapshot(func(snap raftpb.Snapshot) error { return nil })
	raftNode.OnError(func(err error) error { return nil })
	raftNode.OnCommittedEntry(recorder.record)
	raftNode.OnReplayDone(func() error {
		replayed <- 1

		return nil
	})

	return raftNode
}

var _ = Describe("RaftNode", func() {
	It("should commit proposals in a single node cluster and replay them after a restart", func() {
		storage := NewRaftMemoryStorage()
		recorder := &entryRecorder{}
		replayed := make(chan int, 1)
		raftNode := newTestRaftNode(storage, recorder, replayed)

		Expect(raftNode.Start()).Should(BeNil())
		Eventually(replayed).Should(Receive())

		// the node needs to elect itself leader before it accepts proposals
		Eventually(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
			defer cancel()

			return raftNode.Propose(ctx, []byte("a"))
		}, time.Second*5).Should(BeNil())

		Expect(raftNode.Propose(context.TODO(), []byte("b"))).Should(BeNil())
		Eventually(recorder.normalEntries, time.Second*5).Should(ContainElement("b"))

		raftNode.Stop()

		restartedRecorder := &entryRecorder{}
		restarted := newTestRaftNode(storage, restartedRecorder, replayed)

		Expect(storage.IsEmpty()).Should(BeFalse())
		Expect(restarted.Start()).Should(BeNil())
		Eventually(replayed, time.Second*5).Should(Receive())
		Expect(restartedRecorder.normalEntries()).Should(ContainElement("b"))

		restarted.Stop()
	})
})
