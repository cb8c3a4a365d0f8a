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
	"errors"
	"io"

	"github.com/PelionIoT/devicecache/storage"

	"github.com/fxamacker/cbor/v2"
)

var ETransferCancelled = errors.New("Cancelled")

type BucketTransfer interface {
	NextChunk() (BucketChunk, error)
	Cancel()
}

// IncomingTransfer decodes a stream of CBOR encoded chunks. NextChunk
// returns io.EOF once the stream is exhausted.
type IncomingTransfer struct {
	decoder *cbor.Decoder
	err     error
}

func NewIncomingTransfer(reader io.Reader) *IncomingTransfer {
	return &IncomingTransfer{
		decoder: cbor.NewDecoder(reader),
	}
}

func (transfer *IncomingTransfer) NextChunk() (BucketChunk, error) {
	if transfer.err != nil {
		return BucketChunk{}, transfer.err
	}

	var nextChunk BucketChunk

	if err := transfer.decoder.Decode(&nextChunk); err != nil {
		transfer.err = err

		return BucketChunk{}, transfer.err
	}

	if err := nextChunk.Verify(); err != nil {
		transfer.err = err

		return BucketChunk{}, transfer.err
	}

	return nextChunk, nil
}

func (transfer *IncomingTransfer) Cancel() {
	transfer.err = ETransferCancelled
}

// OutgoingTransfer splits a snapshot of the entries of a bucket into chunks
type OutgoingTransfer struct {
	entries        []storage.Entry
	chunkSize      int
	nextChunkIndex uint64
	err            error
}

func NewOutgoingTransfer(entries []storage.Entry, chunkSize int) *OutgoingTransfer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &OutgoingTransfer{
		entries:        entries,
		chunkSize:      chunkSize,
		nextChunkIndex: 1,
	}
}

func (transfer *OutgoingTransfer) NextChunk() (BucketChunk, error) {
	if transfer.err != nil {
		return BucketChunk{}, transfer.err
	}

	if len(transfer.entries) == 0 {
		transfer.err = io.EOF

		return BucketChunk{}, transfer.err
	}

	size := transfer.chunkSize

	if size > len(transfer.entries) {
		size = len(transfer.entries)
	}

	index := transfer.nextChunkIndex
	transfer.nextChunkIndex++
	entries := transfer.entries[:size]
	transfer.entries = transfer.entries[size:]

	return NewBucketChunk(index, entries), nil
}

func (transfer *OutgoingTransfer) Cancel() {
	if transfer.err == nil {
		transfer.err = ETransferCancelled
	}

	transfer.entries = nil
}

// TransferEncoder exposes a transfer as a reader of CBOR encoded chunks
type TransferEncoder struct {
	transfer BucketTransfer
	reader   io.Reader
}

func NewTransferEncoder(transfer BucketTransfer) *TransferEncoder {
	return &TransferEncoder{
		transfer: transfer,
	}
}

func (encoder *TransferEncoder) Encode() (io.Reader, error) {
	if encoder.reader != nil {
		return encoder.reader, nil
	}

	encoder.reader = &CBORBucketReader{
		BucketTransfer: encoder.transfer,
	}

	return encoder.reader, nil
}

type CBORBucketReader struct {
	BucketTransfer BucketTransfer
	currentChunk   []byte
	done           bool
}

func (bucketReader *CBORBucketReader) Read(p []byte) (n int, err error) {
	for len(p) > 0 {
		if len(bucketReader.currentChunk) == 0 {
			if bucketReader.done {
				return n, io.EOF
			}

			chunk, err := bucketReader.nextChunk()

			if err == io.EOF {
				bucketReader.done = true

				continue
			}

			if err != nil {
				return n, err
			}

			bucketReader.currentChunk = chunk
		}

		nCopied := copy(p, bucketReader.currentChunk)
		p = p[nCopied:]
		n += nCopied
		bucketReader.currentChunk = bucketReader.currentChunk[nCopied:]
	}

	return n, nil
}

func (bucketReader *CBORBucketReader) nextChunk() ([]byte, error) {
	nextChunk, err := bucketReader.BucketTransfer.NextChunk()

	if err != nil {
		return nil, err
	}

	prometheusRecordChunk("outgoing")

	return cbor.Marshal(nextChunk)
}
