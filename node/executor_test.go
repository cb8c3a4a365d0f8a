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

	. "github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/node"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("CommandExecutor", func() {
	owner := NodeAddress{Host: "localhost", Port: 9000}

	message := func(bucket uint64) BucketMessage {
		return NewBucketMessage(NewAssignBucketCommand("orders", owner, 0, bucket), owner, RoleOwner)
	}

	var handler *MockMessageHandler
	var executor *CommandExecutor
	var ctx context.Context
	var cancel context.CancelFunc

	BeforeEach(func() {
		handler = NewMockMessageHandler()
		executor = NewCommandExecutor(handler)
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	Describe("#Post", func() {
		It("should not block when nothing is running the executor", func() {
			for i := uint64(0); i < 10; i++ {
				executor.Post(message(i))
			}

			Expect(executor.Pending()).Should(Equal(10))
		})
	})

	Describe("#Run", func() {
		It("should execute messages in the order they were posted", func() {
			for i := uint64(0); i < 5; i++ {
				executor.Post(message(i))
			}

			go executor.Run(ctx)

			for i := uint64(0); i < 5; i++ {
				var handled BucketMessage

				Eventually(handler.handled).Should(Receive(&handled))
				Expect(handled.Buckets).Should(Equal([]uint64{i}))
			}

			Eventually(executor.Executed).Should(Equal(uint64(5)))
			Expect(executor.Pending()).Should(Equal(0))
		})

		It("should execute messages posted while it is running", func() {
			go executor.Run(ctx)

			executor.Post(message(3))
			Eventually(handler.handled).Should(Receive())

			executor.Post(message(4))
			Eventually(handler.handled).Should(Receive())
		})

		It("should execute one message at a time", func() {
			handler.block = make(chan int)

			executor.Post(message(0))
			executor.Post(message(1))

			go executor.Run(ctx)

			Eventually(executor.Pending).Should(Equal(1))
			Consistently(handler.handled).ShouldNot(Receive())

			handler.block <- 1
			Eventually(handler.handled).Should(Receive())
			Consistently(handler.handled).ShouldNot(Receive())

			handler.block <- 1
			Eventually(handler.handled).Should(Receive())
		})

		It("should return once its context is cancelled", func() {
			done := make(chan error)

			go func() {
				done <- executor.Run(ctx)
			}()

			cancel()

			Eventually(done).Should(Receive(BeNil()))
		})

		It("should discard queued messages once its context is cancelled", func() {
			executor.Post(message(0))
			cancel()

			Expect(executor.Run(ctx)).Should(BeNil())
			Expect(executor.Pending()).Should(Equal(0))
			Expect(executor.Executed()).Should(Equal(uint64(0)))
			Expect(handler.handled).ShouldNot(Receive())
		})
	})
})
