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

import (
	"errors"

	. "github.com/PelionIoT/devicecache/error"
	. "github.com/PelionIoT/devicecache/logging"

	"github.com/syndtr/goleveldb/leveldb"
	levelErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	levelStorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var EDriverClosed = errors.New("Driver is closed")

// levelDBIterator scans one key prefix of a snapshot
type levelDBIterator struct {
	snapshot *leveldb.Snapshot
	it       iterator.Iterator
	err      error
}

func (it *levelDBIterator) Next() bool {
	if it.it == nil {
		return false
	}

	if it.it.Next() {
		return true
	}

	if it.it.Error() != nil {
		prometheusRecordStorageError("iterator.next()", "")
		it.err = it.it.Error()
	}

	it.it.Release()
	it.it = nil

	return false
}

func (it *levelDBIterator) Key() []byte {
	if it.it == nil {
		return nil
	}

	return it.it.Key()
}

func (it *levelDBIterator) Value() []byte {
	if it.it == nil {
		return nil
	}

	return it.it.Value()
}

func (it *levelDBIterator) Release() {
	if it.it != nil {
		it.it.Release()
		it.it = nil
	}

	if it.snapshot != nil {
		it.snapshot.Release()
		it.snapshot = nil
	}
}

func (it *levelDBIterator) Error() error {
	return it.err
}

type LevelDBStorageDriver struct {
	file    string
	options *opt.Options
	db      *leveldb.DB
}

// NewLevelDBStorageDriver creates a driver for the database at file. An
// empty file name keeps the database in memory.
func NewLevelDBStorageDriver(file string, options *opt.Options) *LevelDBStorageDriver {
	return &LevelDBStorageDriver{file: file, options: options}
}

func (levelDriver *LevelDBStorageDriver) Open() error {
	levelDriver.Close()

	var db *leveldb.DB
	var err error

	if levelDriver.file == "" {
		db, err = leveldb.Open(levelStorage.NewMemStorage(), levelDriver.options)
	} else {
		db, err = leveldb.OpenFile(levelDriver.file, levelDriver.options)
	}

	if err != nil {
		prometheusRecordStorageError("open()", levelDriver.file)

		if levelErrors.IsCorrupted(err) {
			Log.Criticalf("Bucket storage at %s is corrupted: %v", levelDriver.file, err.Error())

			return ECorrupted
		}

		return err
	}

	levelDriver.db = db

	return nil
}

func (levelDriver *LevelDBStorageDriver) Close() error {
	if levelDriver.db == nil {
		return nil
	}

	err := levelDriver.db.Close()
	levelDriver.db = nil

	return err
}

func (levelDriver *LevelDBStorageDriver) Compact() error {
	if levelDriver.db == nil {
		return EDriverClosed
	}

	if err := levelDriver.db.CompactRange(util.Range{}); err != nil {
		prometheusRecordStorageError("compact()", levelDriver.file)

		return err
	}

	return nil
}

func (levelDriver *LevelDBStorageDriver) Get(keys [][]byte) ([][]byte, error) {
	if levelDriver.db == nil {
		return nil, EDriverClosed
	}

	snapshot, err := levelDriver.db.GetSnapshot()

	if err != nil {
		prometheusRecordStorageError("get()", levelDriver.file)

		return nil, err
	}

	defer snapshot.Release()

	values := make([][]byte, len(keys))

	for i, key := range keys {
		if key == nil {
			continue
		}

		value, err := snapshot.Get(key, nil)

		if err == leveldb.ErrNotFound {
			continue
		}

		if err != nil {
			prometheusRecordStorageError("get()", levelDriver.file)

			return nil, err
		}

		values[i] = value
	}

	return values, nil
}

func (levelDriver *LevelDBStorageDriver) Scan(prefix []byte) (StorageIterator, error) {
	if levelDriver.db == nil {
		return nil, EDriverClosed
	}

	snapshot, err := levelDriver.db.GetSnapshot()

	if err != nil {
		prometheusRecordStorageError("scan()", levelDriver.file)

		return nil, err
	}

	return &levelDBIterator{
		snapshot: snapshot,
		it:       snapshot.NewIterator(util.BytesPrefix(prefix), nil),
	}, nil
}

func (levelDriver *LevelDBStorageDriver) Batch(batch *Batch) error {
	if levelDriver.db == nil {
		return EDriverClosed
	}

	if batch == nil || batch.Len() == 0 {
		return nil
	}

	levelBatch := new(leveldb.Batch)

	for _, op := range batch.Ops() {
		switch op.Type {
		case OpPut:
			levelBatch.Put(op.Key, op.Value)
		case OpDelete:
			levelBatch.Delete(op.Key)
		}
	}

	if err := levelDriver.db.Write(levelBatch, nil); err != nil {
		prometheusRecordStorageError("batch()", levelDriver.file)

		return err
	}

	return nil
}
