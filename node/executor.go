package node

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

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheusQueuedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devicecache",
		Subsystem: "node",
		Name:      "queued_bucket_messages",
		Help:      "Bucket messages waiting to be executed by the local node",
	})

	prometheusExecutedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicecache",
		Subsystem: "node",
		Name:      "executed_bucket_messages_total",
		Help:      "Bucket messages executed by the local node",
	}, []string{
		"kind",
		"role",
	})
)

func init() {
	prometheus.MustRegister(prometheusQueuedMessages, prometheusExecutedMessages)
}

// MessageHandler executes one bucket message addressed to the local node
type MessageHandler interface {
	Handle(ctx context.Context, message bucket.BucketMessage)
}

// CommandExecutor is the local node's queue of bucket messages. Messages
// are executed one at a time in the order they were posted. Post never
// blocks so that the raft apply loop is never held up by bucket work.
type CommandExecutor struct {
	handler  MessageHandler
	queue    []bucket.BucketMessage
	lock     sync.Mutex
	wakeup   chan int
	executed uint64
}

func NewCommandExecutor(handler MessageHandler) *CommandExecutor {
	return &CommandExecutor{
		handler: handler,
		queue:   make([]bucket.BucketMessage, 0),
		wakeup:  make(chan int, 1),
	}
}

func (executor *CommandExecutor) Post(message bucket.BucketMessage) {
	executor.lock.Lock()
	executor.queue = append(executor.queue, message)
	executor.lock.Unlock()

	prometheusQueuedMessages.Inc()

	select {
	case executor.wakeup <- 1:
	default:
	}
}

// Pending returns the number of messages posted but not yet executed
func (executor *CommandExecutor) Pending() int {
	executor.lock.Lock()
	defer executor.lock.Unlock()

	return len(executor.queue)
}

// Executed returns the number of messages executed so far
func (executor *CommandExecutor) Executed() uint64 {
	executor.lock.Lock()
	defer executor.lock.Unlock()

	return executor.executed
}

func (executor *CommandExecutor) next() (bucket.BucketMessage, bool) {
	executor.lock.Lock()
	defer executor.lock.Unlock()

	if len(executor.queue) == 0 {
		return bucket.BucketMessage{}, false
	}

	message := executor.queue[0]
	executor.queue[0] = bucket.BucketMessage{}
	executor.queue = executor.queue[1:]

	return message, true
}

func (executor *CommandExecutor) markExecuted() {
	executor.lock.Lock()
	defer executor.lock.Unlock()

	executor.executed++
}

// Run executes posted messages until ctx is cancelled. Messages still
// queued at that point are discarded.
func (executor *CommandExecutor) Run(ctx context.Context) error {
	for {
		for {
			message, ok := executor.next()

			if !ok {
				break
			}

			prometheusQueuedMessages.Dec()

			if ctx.Err() != nil {
				Log.Debugf("Discarding %v since the command executor is stopping", message)

				continue
			}

			executor.handler.Handle(ctx, message)
			executor.markExecuted()
			prometheusExecutedMessages.WithLabelValues(message.Kind.String(), message.Role.String()).Inc()
		}

		select {
		case <-executor.wakeup:
		case <-ctx.Done():
			return nil
		}
	}
}
