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
	"github.com/cespare/xxhash/v2"
)

// KeyPartitioner maps keys to the bucket that holds them
type KeyPartitioner interface {
	Bucket(key []byte, buckets uint64) uint64
}

type XXHashPartitioner struct {
}

func (partitioner XXHashPartitioner) Bucket(key []byte, buckets uint64) uint64 {
	if buckets == 0 {
		return 0
	}

	return xxhash.Sum64(key) % buckets
}

// BucketForKey is the bucket of a cache with the given bucket count that
// holds key
func BucketForKey(key string, buckets uint64) uint64 {
	return XXHashPartitioner{}.Bucket([]byte(key), buckets)
}
