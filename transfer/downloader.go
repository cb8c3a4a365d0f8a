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
	"context"
	"errors"
	"io"
	"time"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/storage"
	. "github.com/PelionIoT/devicecache/logging"
)

const RetryTimeoutMax = 32

var ENoRestoreSource = errors.New("No node holds the content of the source bucket")

// ContentStore is the part of the local bucket store that transfers read
// from and stage into
type ContentStore interface {
	Entries(id bucket.BucketID) ([]storage.Entry, error)
	Stage(id bucket.BucketID, entries []storage.Entry) error
	DiscardStaged(id bucket.BucketID) error
	CopyLocal(from bucket.BucketID, to bucket.BucketID) (int, error)
}

type BucketDownloader interface {
	// Download stages the content of source into destination. It retries
	// failed attempts until ctx is done.
	Download(ctx context.Context, source bucket.BucketID, destination bucket.BucketID) (int, error)
}

type Downloader struct {
	localAddress      bucket.NodeAddress
	transferTransport BucketTransferTransport
	sourceStrategy    RestoreSourceStrategy
	store             ContentStore
	downloadStopCB    func(destination bucket.BucketID)
}

func NewDownloader(localAddress bucket.NodeAddress, transferTransport BucketTransferTransport, sourceStrategy RestoreSourceStrategy, store ContentStore) *Downloader {
	return &Downloader{
		localAddress:      localAddress,
		transferTransport: transferTransport,
		sourceStrategy:    sourceStrategy,
		store:             store,
	}
}

// OnDownloadStop registers a callback invoked after every download attempt
// sequence ends. Used by tests to follow the downloader.
func (downloader *Downloader) OnDownloadStop(cb func(destination bucket.BucketID)) {
	downloader.downloadStopCB = cb
}

func (downloader *Downloader) notifyDownloadStop(destination bucket.BucketID) {
	if downloader.downloadStopCB != nil {
		downloader.downloadStopCB(destination)
	}
}

func (downloader *Downloader) Download(ctx context.Context, source bucket.BucketID, destination bucket.BucketID) (int, error) {
	defer downloader.notifyDownloadStop(destination)

	retryTimeoutSeconds := 0

	for {
		if retryTimeoutSeconds != 0 {
			Log.Infof("Local node (%v) will attempt to download bucket %v again in %d seconds", downloader.localAddress, source, retryTimeoutSeconds)

			select {
			case <-time.After(time.Second * time.Duration(retryTimeoutSeconds)):
			case <-ctx.Done():
				Log.Infof("Local node (%v) cancelled the download of bucket %v", downloader.localAddress, source)

				return 0, ETransferCancelled
			}
		}

		partner, ok := downloader.sourceStrategy.ChooseRestoreSource(source)

		if !ok {
			return 0, ENoRestoreSource
		}

		if partner == downloader.localAddress {
			Log.Infof("Local node (%v) copying bucket %v into bucket %v", downloader.localAddress, source, destination)

			if err := downloader.store.DiscardStaged(destination); err != nil {
				return 0, err
			}

			return downloader.store.CopyLocal(source, destination)
		}

		Log.Infof("Local node (%v) starting download of bucket %v from node %v", downloader.localAddress, source, partner)

		count, err := downloader.downloadFrom(ctx, partner, source, destination)

		if err == nil {
			Log.Infof("Local node (%v) downloaded %d entries of bucket %v from node %v", downloader.localAddress, count, source, partner)

			return count, nil
		}

		if ctx.Err() != nil {
			return 0, ETransferCancelled
		}

		Log.Warningf("Local node (%v) unable to download bucket %v from node %v: %v", downloader.localAddress, source, partner, err.Error())

		if retryTimeoutSeconds == 0 {
			retryTimeoutSeconds = 1
		} else if retryTimeoutSeconds != RetryTimeoutMax {
			retryTimeoutSeconds *= 2
		}
	}
}

func (downloader *Downloader) downloadFrom(ctx context.Context, partner bucket.NodeAddress, source bucket.BucketID, destination bucket.BucketID) (int, error) {
	reader, err := downloader.transferTransport.Get(ctx, partner, source)

	if err != nil {
		return 0, err
	}

	defer reader.Close()

	if err := downloader.store.DiscardStaged(destination); err != nil {
		return 0, err
	}

	return stageTransfer(ctx, NewIncomingTransfer(reader), downloader.store, destination)
}

// stageTransfer stages every chunk of transfer into destination and
// returns the number of staged entries
func stageTransfer(ctx context.Context, transfer BucketTransfer, store ContentStore, destination bucket.BucketID) (int, error) {
	count := 0

	for {
		if ctx.Err() != nil {
			transfer.Cancel()

			return count, ETransferCancelled
		}

		chunk, err := transfer.NextChunk()

		if err == io.EOF {
			return count, nil
		}

		if err != nil {
			return count, err
		}

		prometheusRecordChunk("incoming")
		Log.Debugf("Received chunk %d of bucket %v", chunk.Index, destination)

		if err := store.Stage(destination, chunk.Entries); err != nil {
			Log.Criticalf("Unable to stage chunk %d of bucket %v: %v", chunk.Index, destination, err.Error())

			return count, err
		}

		count += len(chunk.Entries)
	}
}
