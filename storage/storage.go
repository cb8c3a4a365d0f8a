package storage

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

// StorageIterator walks the keys under one prefix in key order. It reads
// from a snapshot taken when the scan started.
type StorageIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// StorageDriver is the key value store that holds bucket content on a node
type StorageDriver interface {
	Open() error
	Close() error
	Compact() error
	// Get returns one value per key. Missing keys have a nil value.
	Get(keys [][]byte) ([][]byte, error)
	Scan(prefix []byte) (StorageIterator, error)
	// Batch applies every write of the batch atomically
	Batch(batch *Batch) error
}

type OpType int

const (
	OpPut    OpType = iota
	OpDelete OpType = iota
)

type Op struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// Batch is an ordered list of writes. A later write to a key replaces any
// earlier write to the same key.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{ops: make([]Op, 0)}
}

func (batch *Batch) Put(key []byte, value []byte) *Batch {
	batch.ops = append(batch.ops, Op{Type: OpPut, Key: key, Value: value})

	return batch
}

func (batch *Batch) Delete(key []byte) *Batch {
	batch.ops = append(batch.ops, Op{Type: OpDelete, Key: key})

	return batch
}

func (batch *Batch) Len() int {
	return len(batch.ops)
}

func (batch *Batch) Ops() []Op {
	return batch.ops
}
