package main

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

var templateConfig string = `# The ID of this node. It must be unique within the cluster and
# must not change once the node has joined a cluster
# **REQUIRED**
nodeID: 1

# The address other nodes and clients reach this node at. The node
# listens on all interfaces at this port
# **REQUIRED**
host: localhost
port: 55555

# A node configured with a seed joins the cluster that the seed node
# belongs to. A node without a seed creates a new cluster
#seed:
#    host: localhost
#    port: 55555

# The directory that holds bucket content. Leave it empty to keep all
# content in memory. Relative paths are relative to this file
store: /var/lib/devicecache

# The log level can be one of the following
# critical
# error
# warning
# notice
# info
# debug
logLevel: info

# A transfer or restore of a single bucket that takes longer than this
# is abandoned. Defaults to 300 seconds
transferTimeoutSeconds: 300

# The number of entries sent in one chunk of a bucket transfer.
# Defaults to 1000
transferChunkSize: 1000

# The raft tick interval. Election and heartbeat timeouts are multiples
# of it. Defaults to 100 milliseconds
raftTickMilliseconds: 100

# How often storage is compacted to reclaim the space of dropped buckets.
# Zero disables compaction
compactionIntervalSeconds: 3600

# Bounds reading a request and writing its response. Zero means 330 seconds
requestTimeoutSeconds: 0
`
