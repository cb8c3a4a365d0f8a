package routes

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
	"github.com/PelionIoT/devicecache/cluster"
)

type ClusterViewResponse struct {
	ViewID    uint64               `json:"viewID"`
	GateState string               `json:"gateState"`
	LocalNode uint64               `json:"localNode"`
	Nodes     []cluster.NodeConfig `json:"nodes"`
}

// BucketOwnership is the directory entry of one bucket as reported to
// request routers
type BucketOwnership struct {
	Bucket   uint64           `json:"bucket"`
	Storage  uint64           `json:"storage"`
	State    string           `json:"state"`
	Owner    string           `json:"owner,omitempty"`
	Transfer *bucket.Transfer `json:"transfer,omitempty"`
}

func NewBucketOwnership(storage uint64, bucketNumber uint64, entry bucket.DirectoryEntry) BucketOwnership {
	ownership := BucketOwnership{
		Bucket:   bucketNumber,
		Storage:  storage,
		State:    entry.State().String(),
		Transfer: entry.Transfer,
	}

	if !entry.Owner.IsOrphaned() {
		ownership.Owner = entry.Owner.Address.String()
	}

	return ownership
}
