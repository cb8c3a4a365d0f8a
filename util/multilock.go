package util

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
	"sync"
)

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// MultiLock serializes callers that lock the same key while letting
// callers with different keys proceed in parallel
type MultiLock struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func NewMultiLock() *MultiLock {
	return &MultiLock{
		locks: make(map[string]*refMutex),
	}
}

func (multiLock *MultiLock) Lock(key []byte) {
	multiLock.mu.Lock()

	lock, ok := multiLock.locks[string(key)]

	if !ok {
		lock = &refMutex{}
		multiLock.locks[string(key)] = lock
	}

	lock.refs++
	multiLock.mu.Unlock()

	lock.mu.Lock()
}

func (multiLock *MultiLock) Unlock(key []byte) {
	multiLock.mu.Lock()
	defer multiLock.mu.Unlock()

	lock, ok := multiLock.locks[string(key)]

	if !ok {
		return
	}

	lock.refs--

	if lock.refs == 0 {
		delete(multiLock.locks, string(key))
	}

	lock.mu.Unlock()
}
