package dispatch

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
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/membership"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheusMessagesPosted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicecache",
		Subsystem: "dispatch",
		Name:      "messages_posted_total",
		Help:      "Bucket messages posted to the local command execution queue",
	}, []string{
		"kind",
		"role",
	})

	prometheusCommandsDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicecache",
		Subsystem: "dispatch",
		Name:      "commands_discarded_total",
		Help:      "Bucket commands in which the local node plays no role",
	}, []string{
		"kind",
	})
)

func init() {
	prometheus.MustRegister(prometheusMessagesPosted, prometheusCommandsDiscarded)
}

// MessageQueue accepts messages for asynchronous execution on the local
// node. Post must not block and must preserve the order of posted messages.
type MessageQueue interface {
	Post(message bucket.BucketMessage)
}

// ViewSource supplies the cluster view used to resolve the local address
type ViewSource interface {
	AuthoritativeView() membership.ClusterView
}

// BucketEventDispatcher turns cluster-wide bucket commands into messages
// for the roles the local node plays in them
type BucketEventDispatcher struct {
	LocalNodeID uint64
	Views       ViewSource
	Queue       MessageQueue
}

func NewBucketEventDispatcher(localNodeID uint64, views ViewSource, queue MessageQueue) *BucketEventDispatcher {
	return &BucketEventDispatcher{
		LocalNodeID: localNodeID,
		Views:       views,
		Queue:       queue,
	}
}

// Roles lists the roles local plays in command, in the order messages
// for them are posted
func Roles(command bucket.BucketCommand, local bucket.NodeAddress) []bucket.Role {
	roles := make([]bucket.Role, 0, 2)

	if local.IsEmpty() {
		return roles
	}

	switch command.Kind {
	case bucket.BeginBucketTransfer:
		if command.Roles.CurrentOwner == local {
			roles = append(roles, bucket.RoleCurrentOwner)
		}
	case bucket.FinishBucketTransfer, bucket.CancelBucketTransfer:
		if command.Roles.PreviousOwner == local {
			roles = append(roles, bucket.RolePreviousOwner)
		}

		if command.Roles.NewOwner == local {
			roles = append(roles, bucket.RoleNewOwner)
		}
	case bucket.AssignBucket, bucket.OrphanBucket:
		if command.Roles.Owner == local {
			roles = append(roles, bucket.RoleOwner)
		}
	case bucket.RestoreBucket:
		if command.Roles.Target == local {
			roles = append(roles, bucket.RoleTarget)
		}
	}

	return roles
}

// LocalAddress resolves the local node in the authoritative view. It
// returns false if the local node is not a member of that view.
func (dispatcher *BucketEventDispatcher) LocalAddress() (bucket.NodeAddress, bool) {
	return dispatcher.Views.AuthoritativeView().AddressOf(dispatcher.LocalNodeID)
}

// Dispatch posts one message per role the local node plays in command and
// returns the number of messages posted. A command in which the local
// node plays no role is discarded.
func (dispatcher *BucketEventDispatcher) Dispatch(command bucket.BucketCommand) int {
	local, ok := dispatcher.LocalAddress()

	if !ok {
		Log.Debugf("Local node (id = %d) is not part of the authoritative cluster view. Discarding %v", dispatcher.LocalNodeID, command)

		prometheusCommandsDiscarded.WithLabelValues(command.Kind.String()).Inc()

		return 0
	}

	roles := Roles(command, local)

	if len(roles) == 0 {
		prometheusCommandsDiscarded.WithLabelValues(command.Kind.String()).Inc()

		return 0
	}

	for _, role := range roles {
		Log.Debugf("Local node (id = %d) plays the %v role in %v", dispatcher.LocalNodeID, role, command)

		dispatcher.Queue.Post(bucket.NewBucketMessage(command, local, role))
		prometheusMessagesPosted.WithLabelValues(command.Kind.String(), role.String()).Inc()
	}

	return len(roles)
}
