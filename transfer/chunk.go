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
	"encoding/binary"
	"errors"

	"github.com/PelionIoT/devicecache/storage"

	"github.com/cespare/xxhash/v2"
)

var EChecksumMismatch = errors.New("Chunk contents do not match its checksum")

const DefaultChunkSize = 1000

// BucketChunk is one numbered slice of the entries of a bucket. Chunk
// indexes start at 1.
type BucketChunk struct {
	Index    uint64          `cbor:"1,keyasint"`
	Entries  []storage.Entry `cbor:"2,keyasint"`
	Checksum uint64          `cbor:"3,keyasint"`
}

func NewBucketChunk(index uint64, entries []storage.Entry) BucketChunk {
	return BucketChunk{
		Index:    index,
		Entries:  entries,
		Checksum: ChecksumOf(entries),
	}
}

// ChecksumOf hashes the length prefixed keys and values of entries in order
func ChecksumOf(entries []storage.Entry) uint64 {
	digest := xxhash.New()
	var length [8]byte

	for _, entry := range entries {
		binary.BigEndian.PutUint64(length[:], uint64(len(entry.Key)))
		digest.Write(length[:])
		digest.Write(entry.Key)
		binary.BigEndian.PutUint64(length[:], uint64(len(entry.Value)))
		digest.Write(length[:])
		digest.Write(entry.Value)
	}

	return digest.Sum64()
}

func (bucketChunk *BucketChunk) IsEmpty() bool {
	return len(bucketChunk.Entries) == 0
}

func (bucketChunk *BucketChunk) Verify() error {
	if ChecksumOf(bucketChunk.Entries) != bucketChunk.Checksum {
		return EChecksumMismatch
	}

	return nil
}
