package storage_test

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
	. "github.com/PelionIoT/devicecache/storage"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func collect(iter StorageIterator) map[string]string {
	result := make(map[string]string)

	for iter.Next() {
		result[string(iter.Key())] = string(iter.Value())
	}

	Expect(iter.Error()).Should(BeNil())
	iter.Release()

	return result
}

var _ = Describe("LevelDBStorageDriver", func() {
	var driver *LevelDBStorageDriver

	BeforeEach(func() {
		driver = NewLevelDBStorageDriver("", nil)
		Expect(driver.Open()).Should(BeNil())
	})

	AfterEach(func() {
		driver.Close()
	})

	It("should return nil values for missing keys", func() {
		Expect(driver.Batch(NewBatch().Put([]byte("a"), []byte("1")))).Should(BeNil())

		values, err := driver.Get([][]byte{[]byte("a"), []byte("b"), nil})

		Expect(err).Should(BeNil())
		Expect(values).Should(Equal([][]byte{[]byte("1"), nil, nil}))
	})

	It("should apply deletes in a batch", func() {
		Expect(driver.Batch(NewBatch().Put([]byte("a"), []byte("1")).Put([]byte("b"), []byte("2")))).Should(BeNil())
		Expect(driver.Batch(NewBatch().Delete([]byte("a")))).Should(BeNil())

		values, err := driver.Get([][]byte{[]byte("a"), []byte("b")})

		Expect(err).Should(BeNil())
		Expect(values).Should(Equal([][]byte{nil, []byte("2")}))
	})

	It("should scan only the keys under a prefix", func() {
		Expect(driver.Batch(NewBatch().Put([]byte("aa"), []byte("1")).Put([]byte("ab"), []byte("2")).Put([]byte("b"), []byte("3")))).Should(BeNil())

		iter, err := driver.Scan([]byte("a"))

		Expect(err).Should(BeNil())
		Expect(collect(iter)).Should(Equal(map[string]string{"aa": "1", "ab": "2"}))
	})

	It("should apply the writes of a batch in order", func() {
		Expect(driver.Batch(NewBatch().Put([]byte("a"), []byte("1")).Delete([]byte("a")).Put([]byte("b"), []byte("2")).Delete([]byte("b")).Put([]byte("b"), []byte("3")))).Should(BeNil())

		values, err := driver.Get([][]byte{[]byte("a"), []byte("b")})

		Expect(err).Should(BeNil())
		Expect(values).Should(Equal([][]byte{nil, []byte("3")}))
	})

	It("should not see writes made after a scan started", func() {
		Expect(driver.Batch(NewBatch().Put([]byte("a1"), []byte("1")))).Should(BeNil())

		iter, err := driver.Scan([]byte("a"))

		Expect(err).Should(BeNil())
		Expect(driver.Batch(NewBatch().Put([]byte("a2"), []byte("2")))).Should(BeNil())
		Expect(collect(iter)).Should(Equal(map[string]string{"a1": "1"}))
	})

	It("should refuse operations once closed", func() {
		Expect(driver.Close()).Should(BeNil())

		_, err := driver.Get([][]byte{[]byte("a")})

		Expect(err).Should(Equal(EDriverClosed))
		Expect(driver.Batch(NewBatch())).Should(Equal(EDriverClosed))
	})
})

var _ = Describe("PrefixedStorageDriver", func() {
	It("should keep the key spaces of two prefixes apart", func() {
		driver := NewLevelDBStorageDriver("", nil)
		Expect(driver.Open()).Should(BeNil())
		defer driver.Close()

		left := NewPrefixedStorageDriver([]byte("l/"), driver)
		right := NewPrefixedStorageDriver([]byte("r/"), driver)

		Expect(left.Batch(NewBatch().Put([]byte("k"), []byte("left")))).Should(BeNil())
		Expect(right.Batch(NewBatch().Put([]byte("k"), []byte("right")))).Should(BeNil())

		values, err := left.Get([][]byte{[]byte("k")})

		Expect(err).Should(BeNil())
		Expect(values[0]).Should(Equal([]byte("left")))

		iter, err := right.Scan([]byte(""))

		Expect(err).Should(BeNil())
		Expect(collect(iter)).Should(Equal(map[string]string{"k": "right"}))
	})
})
