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

// PrefixedStorageDriver scopes every key of an underlying driver under a
// fixed prefix so the live and staged key spaces of a node can share one
// database. Opening and closing it is a no-op. The underlying driver is
// owned by the caller.
type PrefixedStorageDriver struct {
	prefix        []byte
	storageDriver StorageDriver
}

func NewPrefixedStorageDriver(prefix []byte, storageDriver StorageDriver) *PrefixedStorageDriver {
	return &PrefixedStorageDriver{prefix: prefix, storageDriver: storageDriver}
}

func (psd *PrefixedStorageDriver) Open() error {
	return nil
}

func (psd *PrefixedStorageDriver) Close() error {
	return nil
}

func (psd *PrefixedStorageDriver) Compact() error {
	return psd.storageDriver.Compact()
}

func (psd *PrefixedStorageDriver) Get(keys [][]byte) ([][]byte, error) {
	prefixedKeys := make([][]byte, len(keys))

	for i, key := range keys {
		if key != nil {
			prefixedKeys[i] = prefixed(psd.prefix, key)
		}
	}

	return psd.storageDriver.Get(prefixedKeys)
}

func (psd *PrefixedStorageDriver) Scan(prefix []byte) (StorageIterator, error) {
	iter, err := psd.storageDriver.Scan(prefixed(psd.prefix, prefix))

	if err != nil {
		return nil, err
	}

	return &prefixedIterator{prefixLength: len(psd.prefix), iterator: iter}, nil
}

func (psd *PrefixedStorageDriver) Batch(batch *Batch) error {
	prefixedBatch := NewBatch()

	for _, op := range batch.Ops() {
		prefixedBatch.ops = append(prefixedBatch.ops, Op{Type: op.Type, Key: prefixed(psd.prefix, op.Key), Value: op.Value})
	}

	return psd.storageDriver.Batch(prefixedBatch)
}

// prefixedIterator strips the driver prefix from the keys it returns
type prefixedIterator struct {
	prefixLength int
	iterator     StorageIterator
}

func (it *prefixedIterator) Next() bool {
	return it.iterator.Next()
}

func (it *prefixedIterator) Key() []byte {
	key := it.iterator.Key()

	if len(key) < it.prefixLength {
		return nil
	}

	return key[it.prefixLength:]
}

func (it *prefixedIterator) Value() []byte {
	return it.iterator.Value()
}

func (it *prefixedIterator) Release() {
	it.iterator.Release()
}

func (it *prefixedIterator) Error() error {
	return it.iterator.Error()
}
