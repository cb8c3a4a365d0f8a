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
	"encoding/json"
	"errors"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/raft"
)

var ENoSuchCommand = errors.New("The cluster command type is not supported")
var ENoSuchNode = errors.New("The node specified in the update does not exist")
var ECouldNotParseCommand = errors.New("The cluster command data was not properly formatted. Unable to parse it.")

type ClusterCommandType int

const (
	ClusterAddNode       ClusterCommandType = iota
	ClusterRemoveNode    ClusterCommandType = iota
	ClusterCreateCache   ClusterCommandType = iota
	ClusterDeleteCache   ClusterCommandType = iota
	ClusterBucketCommand ClusterCommandType = iota
)

func (commandType ClusterCommandType) String() string {
	switch commandType {
	case ClusterAddNode:
		return "add node"
	case ClusterRemoveNode:
		return "remove node"
	case ClusterCreateCache:
		return "create cache"
	case ClusterDeleteCache:
		return "delete cache"
	case ClusterBucketCommand:
		return "bucket command"
	}

	return "unknown"
}

// ClusterCommand is the envelope of every entry in the replicated log.
// CommandID lets the submitter recognize its own entry once committed.
type ClusterCommand struct {
	Type        ClusterCommandType `json:"type"`
	SubmitterID uint64             `json:"submitter"`
	CommandID   uint64             `json:"commandID"`
	Data        []byte             `json:"data"`
}

type NodeConfig struct {
	Address raft.PeerAddress `json:"address"`
}

func (nodeConfig NodeConfig) BucketAddress() bucket.NodeAddress {
	return bucket.NodeAddress{Host: nodeConfig.Address.Host, Port: nodeConfig.Address.Port}
}

type ClusterAddNodeBody struct {
	NodeID     uint64     `json:"nodeID"`
	NodeConfig NodeConfig `json:"nodeConfig"`
}

type ClusterRemoveNodeBody struct {
	NodeID uint64 `json:"nodeID"`
}

type ClusterCreateCacheBody struct {
	Settings bucket.CacheSettings `json:"settings"`
}

type ClusterDeleteCacheBody struct {
	CacheName string `json:"cacheName"`
}

type ClusterBucketCommandBody struct {
	Command bucket.BucketCommand `json:"command"`
}

func EncodeClusterCommand(command ClusterCommand) ([]byte, error) {
	encodedCommand, err := json.Marshal(command)

	if err != nil {
		return nil, err
	}

	return encodedCommand, nil
}

func DecodeClusterCommand(encodedCommand []byte) (ClusterCommand, error) {
	var command ClusterCommand

	err := json.Unmarshal(encodedCommand, &command)

	if err != nil {
		return ClusterCommand{}, err
	}

	return command, nil
}

func CreateClusterCommand(commandType ClusterCommandType, body interface{}) (ClusterCommand, error) {
	encodedBody, err := EncodeClusterCommandBody(body)

	if err != nil {
		return ClusterCommand{}, ECouldNotParseCommand
	}

	switch commandType {
	case ClusterAddNode:
		if _, ok := body.(ClusterAddNodeBody); !ok {
			return ClusterCommand{}, ECouldNotParseCommand
		}
	case ClusterRemoveNode:
		if _, ok := body.(ClusterRemoveNodeBody); !ok {
			return ClusterCommand{}, ECouldNotParseCommand
		}
	case ClusterCreateCache:
		if _, ok := body.(ClusterCreateCacheBody); !ok {
			return ClusterCommand{}, ECouldNotParseCommand
		}
	case ClusterDeleteCache:
		if _, ok := body.(ClusterDeleteCacheBody); !ok {
			return ClusterCommand{}, ECouldNotParseCommand
		}
	case ClusterBucketCommand:
		if _, ok := body.(ClusterBucketCommandBody); !ok {
			return ClusterCommand{}, ECouldNotParseCommand
		}
	default:
		return ClusterCommand{}, ENoSuchCommand
	}

	return ClusterCommand{Type: commandType, Data: encodedBody}, nil
}

// CommandTypeOf returns the command type that carries body
func CommandTypeOf(body interface{}) (ClusterCommandType, error) {
	switch body.(type) {
	case ClusterAddNodeBody:
		return ClusterAddNode, nil
	case ClusterRemoveNodeBody:
		return ClusterRemoveNode, nil
	case ClusterCreateCacheBody:
		return ClusterCreateCache, nil
	case ClusterDeleteCacheBody:
		return ClusterDeleteCache, nil
	case ClusterBucketCommandBody:
		return ClusterBucketCommand, nil
	}

	return 0, ENoSuchCommand
}

func EncodeClusterCommandBody(body interface{}) ([]byte, error) {
	encodedBody, err := json.Marshal(body)

	if err != nil {
		return nil, err
	}

	return encodedBody, nil
}

func DecodeClusterCommandBody(command ClusterCommand) (interface{}, error) {
	switch command.Type {
	case ClusterAddNode:
		var body ClusterAddNodeBody

		if err := json.Unmarshal(command.Data, &body); err != nil {
			break
		}

		return body, nil
	case ClusterRemoveNode:
		var body ClusterRemoveNodeBody

		if err := json.Unmarshal(command.Data, &body); err != nil {
			break
		}

		return body, nil
	case ClusterCreateCache:
		var body ClusterCreateCacheBody

		if err := json.Unmarshal(command.Data, &body); err != nil {
			break
		}

		return body, nil
	case ClusterDeleteCache:
		var body ClusterDeleteCacheBody

		if err := json.Unmarshal(command.Data, &body); err != nil {
			break
		}

		return body, nil
	case ClusterBucketCommand:
		var body ClusterBucketCommandBody

		if err := json.Unmarshal(command.Data, &body); err != nil {
			break
		}

		return body, nil
	default:
		return nil, ENoSuchCommand
	}

	return nil, ECouldNotParseCommand
}
