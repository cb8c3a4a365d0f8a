package transfer

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
)

// RestoreSourceStrategy picks the node to read the content of a bucket from
// when restoring another storage number of the same bucket
type RestoreSourceStrategy interface {
	ChooseRestoreSource(source bucket.BucketID) (bucket.NodeAddress, bool)
}

// OwnerRestoreSourceStrategy reads from the owner of the source bucket as
// recorded by the local directory replica. An orphaned source has no
// content to offer.
type OwnerRestoreSourceStrategy struct {
	directory *bucket.Directory
}

func NewOwnerRestoreSourceStrategy(directory *bucket.Directory) *OwnerRestoreSourceStrategy {
	return &OwnerRestoreSourceStrategy{
		directory: directory,
	}
}

func (sourceStrategy *OwnerRestoreSourceStrategy) ChooseRestoreSource(source bucket.BucketID) (bucket.NodeAddress, bool) {
	owner, err := sourceStrategy.directory.OwnerOf(source.CacheName, source.Storage, source.Bucket)

	if err != nil || owner.IsOrphaned() {
		return bucket.NodeAddress{}, false
	}

	return owner.Address, true
}
