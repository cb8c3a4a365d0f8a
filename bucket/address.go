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

// NodeAddress is the unit of bucket ownership. Two addresses name the
// same node if and only if they are equal as values.
type NodeAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (nodeAddress NodeAddress) IsEmpty() bool {
	return nodeAddress.Host == "" && nodeAddress.Port == 0
}

func (nodeAddress NodeAddress) String() string {
	return fmt.Sprintf("%s:%d", nodeAddress.Host, nodeAddress.Port)
}

func (nodeAddress NodeAddress) ToHTTPURL(endpoint string) string {
	return fmt.Sprintf("http://%s:%d%s", nodeAddress.Host, nodeAddress.Port, endpoint)
}

// BucketID names one bucket of one cache at one storage number
type BucketID struct {
	CacheName string `json:"cacheName"`
	Storage   uint64 `json:"storage"`
	Bucket    uint64 `json:"bucket"`
}

func (bucketID BucketID) String() string {
	return fmt.Sprintf("%s/%d/%d", bucketID.CacheName, bucketID.Storage, bucketID.Bucket)
}
