package bucket

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
	"fmt"
)

// Role is the part a node plays in a bucket command
type Role int

const (
	RoleOwner         Role = iota
	RoleCurrentOwner  Role = iota
	RoleNewOwner      Role = iota
	RolePreviousOwner Role = iota
	RoleTarget        Role = iota
)

func (role Role) String() string {
	switch role {
	case RoleOwner:
		return "owner"
	case RoleCurrentOwner:
		return "current owner"
	case RoleNewOwner:
		return "new owner"
	case RolePreviousOwner:
		return "previous owner"
	case RoleTarget:
		return "target"
	}

	return fmt.Sprintf("unknown(%d)", int(role))
}

// BucketMessage is the node-addressed counterpart of a BucketCommand. It is
// executed only by Receiver, which plays Role in the originating command.
type BucketMessage struct {
	Kind BucketCommandKind `json:"kind"`
	BucketPayload
	Roles    RoleAddresses `json:"roles"`
	Receiver NodeAddress   `json:"receiver"`
	Role     Role          `json:"role"`
}

func NewBucketMessage(command BucketCommand, receiver NodeAddress, role Role) BucketMessage {
	return BucketMessage{
		Kind: command.Kind,
		BucketPayload: BucketPayload{
			CacheName:          command.CacheName,
			Buckets:            copyBuckets(command.Buckets),
			SourceStorage:      command.SourceStorage,
			DestinationStorage: command.DestinationStorage,
		},
		Roles:    command.Roles,
		Receiver: receiver,
		Role:     role,
	}
}

// Command rebuilds the command this message was derived from
func (message BucketMessage) Command() BucketCommand {
	return BucketCommand{
		Kind:          message.Kind,
		BucketPayload: message.BucketPayload,
		Roles:         message.Roles,
	}
}

func (message BucketMessage) String() string {
	return fmt.Sprintf("%v for %v as %v", message.Command(), message.Receiver, message.Role)
}
