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
	"fmt"

	"github.com/PelionIoT/devicecache/shared"
)

// NodeInitializationOptions decides how a node with no cluster state
// becomes a member. A node that already has cluster state ignores them.
type NodeInitializationOptions struct {
	StartCluster bool
	JoinCluster  bool
	SeedNodeHost string
	SeedNodePort int
	ClusterHost  string
	ClusterPort  int
}

// OptionsFromConfig joins the cluster through the configured seed node or
// starts a new cluster if there is none
func OptionsFromConfig(config shared.YAMLServerConfig) NodeInitializationOptions {
	options := NodeInitializationOptions{
		ClusterHost: config.Host,
		ClusterPort: config.Port,
	}

	if config.Seed == nil {
		options.StartCluster = true

		return options
	}

	options.JoinCluster = true
	options.SeedNodeHost = config.Seed.Host
	options.SeedNodePort = config.Seed.Port

	return options
}

func (options NodeInitializationOptions) ShouldStartCluster() bool {
	return options.StartCluster
}

func (options NodeInitializationOptions) ShouldJoinCluster() bool {
	return options.JoinCluster && !options.StartCluster
}

func (options NodeInitializationOptions) ClusterAddress() (host string, port int) {
	return options.ClusterHost, options.ClusterPort
}

func (options NodeInitializationOptions) SeedNode() (host string, port int) {
	return options.SeedNodeHost, options.SeedNodePort
}

func (options NodeInitializationOptions) String() string {
	if options.ShouldStartCluster() {
		return fmt.Sprintf("start a new cluster at %s:%d", options.ClusterHost, options.ClusterPort)
	}

	if options.ShouldJoinCluster() {
		return fmt.Sprintf("join the cluster at %s:%d through %s:%d", options.ClusterHost, options.ClusterPort, options.SeedNodeHost, options.SeedNodePort)
	}

	return fmt.Sprintf("wait to be added to a cluster at %s:%d", options.ClusterHost, options.ClusterPort)
}
