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
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/util"

	mapset "github.com/deckarep/golang-set"
	"github.com/gorilla/mux"
)

const DefaultTransferTimeout = 300 * time.Second

var (
	ETransferTimeout   = errors.New("The transfer did not complete before its deadline")
	ERestoreInProgress = errors.New("A restore of this bucket is already in progress")
)

type TransferAgentConfig struct {
	LocalAddress   bucket.NodeAddress
	Store          ContentStore
	Transport      BucketTransferTransport
	SourceStrategy RestoreSourceStrategy
	ChunkSize      int
	// Timeout bounds every transfer, download and restore. Zero means
	// DefaultTransferTimeout.
	Timeout time.Duration
}

type session struct {
	transferID string
	direction  string
	cancel     context.CancelFunc
}

// TransferAgent copies bucket content between nodes. Outgoing transfers
// are keyed by the source bucket and incoming transfers and restores by
// the destination bucket. Starting a session for a bucket that already
// has one cancels the older session.
type TransferAgent struct {
	localAddress bucket.NodeAddress
	store        ContentStore
	transport    BucketTransferTransport
	downloader   BucketDownloader
	chunkSize    int
	timeout      time.Duration
	sessions     map[bucket.BucketID]*session
	restoring    mapset.Set
	lock         sync.Mutex
}

func NewTransferAgent(config TransferAgentConfig) *TransferAgent {
	timeout := config.Timeout

	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}

	return &TransferAgent{
		localAddress: config.LocalAddress,
		store:        config.Store,
		transport:    config.Transport,
		downloader:   NewDownloader(config.LocalAddress, config.Transport, config.SourceStrategy, config.Store),
		chunkSize:    config.ChunkSize,
		timeout:      timeout,
		sessions:     make(map[bucket.BucketID]*session),
		restoring:    mapset.NewSet(),
	}
}

// UseDownloader replaces the downloader used by Restore
func (transferAgent *TransferAgent) UseDownloader(downloader BucketDownloader) *TransferAgent {
	transferAgent.downloader = downloader

	return transferAgent
}

func (transferAgent *TransferAgent) startSession(ctx context.Context, id bucket.BucketID, direction string, transferID string) (context.Context, *session) {
	ctx, cancel := context.WithTimeout(ctx, transferAgent.timeout)
	s := &session{transferID: transferID, direction: direction, cancel: cancel}

	transferAgent.lock.Lock()
	defer transferAgent.lock.Unlock()

	if previous, ok := transferAgent.sessions[id]; ok {
		Log.Infof("Local node (%v) cancelling %s transfer %s of bucket %v in favor of transfer %s", transferAgent.localAddress, previous.direction, previous.transferID, id, transferID)

		previous.cancel()
	} else {
		prometheusActiveTransfers.Inc()
	}

	transferAgent.sessions[id] = s

	return ctx, s
}

func (transferAgent *TransferAgent) endSession(id bucket.BucketID, s *session) {
	s.cancel()

	transferAgent.lock.Lock()
	defer transferAgent.lock.Unlock()

	if transferAgent.sessions[id] == s {
		delete(transferAgent.sessions, id)
		prometheusActiveTransfers.Dec()
	}
}

func sessionError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ETransferTimeout
	case context.Canceled:
		return ETransferCancelled
	}

	return err
}

// CopyBucketContent copies the live content of the local bucket source
// into the staged content of destination at node to. It returns once the
// receiver has staged every entry, or with an error if the copy failed,
// timed out or was cancelled.
func (transferAgent *TransferAgent) CopyBucketContent(ctx context.Context, source bucket.BucketID, destination bucket.BucketID, to bucket.NodeAddress) error {
	transferID := util.NewTransferID()
	ctx, s := transferAgent.startSession(ctx, source, "outgoing", transferID)
	defer transferAgent.endSession(source, s)

	Log.Infof("Local node (%v) starting transfer %s of bucket %v to bucket %v at node %v", transferAgent.localAddress, transferID, source, destination, to)

	err := sessionError(ctx, transferAgent.copyBucketContent(ctx, source, destination, to, transferID))

	prometheusRecordTransfer("outgoing", err)

	if err != nil {
		Log.Warningf("Local node (%v) transfer %s of bucket %v to node %v failed: %v", transferAgent.localAddress, transferID, source, to, err.Error())

		return err
	}

	Log.Infof("Local node (%v) finished transfer %s of bucket %v to node %v", transferAgent.localAddress, transferID, source, to)

	return nil
}

func (transferAgent *TransferAgent) copyBucketContent(ctx context.Context, source bucket.BucketID, destination bucket.BucketID, to bucket.NodeAddress, transferID string) error {
	if to == transferAgent.localAddress {
		if err := transferAgent.store.DiscardStaged(destination); err != nil {
			return err
		}

		_, err := transferAgent.store.CopyLocal(source, destination)

		return err
	}

	entries, err := transferAgent.store.Entries(source)

	if err != nil {
		return err
	}

	reader, err := NewTransferEncoder(NewOutgoingTransfer(entries, transferAgent.chunkSize)).Encode()

	if err != nil {
		return err
	}

	return transferAgent.transport.Push(ctx, to, destination, transferID, transferAgent.localAddress, reader)
}

// Restore stages the content of source into the local bucket destination.
// An orphaned source restores an empty bucket.
func (transferAgent *TransferAgent) Restore(ctx context.Context, source bucket.BucketID, destination bucket.BucketID) (int, error) {
	if !transferAgent.restoring.Add(destination) {
		return 0, ERestoreInProgress
	}

	defer transferAgent.restoring.Remove(destination)

	transferID := util.NewTransferID()
	ctx, s := transferAgent.startSession(ctx, destination, "restore", transferID)
	defer transferAgent.endSession(destination, s)

	Log.Infof("Local node (%v) starting restore %s of bucket %v from bucket %v", transferAgent.localAddress, transferID, destination, source)

	count, err := transferAgent.downloader.Download(ctx, source, destination)

	if err == ENoRestoreSource {
		Log.Warningf("Local node (%v) found no holder of bucket %v. Bucket %v is restored empty", transferAgent.localAddress, source, destination)

		count, err = 0, transferAgent.store.DiscardStaged(destination)
	}

	err = sessionError(ctx, err)
	prometheusRecordTransfer("restore", err)

	if err != nil {
		Log.Warningf("Local node (%v) restore %s of bucket %v failed: %v", transferAgent.localAddress, transferID, destination, err.Error())

		return 0, err
	}

	return count, nil
}

// Cancel stops the transfer or restore of the bucket if one is in
// progress at this node
func (transferAgent *TransferAgent) Cancel(id bucket.BucketID) bool {
	transferAgent.lock.Lock()
	defer transferAgent.lock.Unlock()

	s, ok := transferAgent.sessions[id]

	if !ok {
		return false
	}

	Log.Infof("Local node (%v) cancelling %s transfer %s of bucket %v", transferAgent.localAddress, s.direction, s.transferID, id)

	s.cancel()

	return true
}

// IsTransferring reports whether a transfer or restore of the bucket is in
// progress at this node
func (transferAgent *TransferAgent) IsTransferring(id bucket.BucketID) bool {
	transferAgent.lock.Lock()
	defer transferAgent.lock.Unlock()

	_, ok := transferAgent.sessions[id]

	return ok
}

// Restoring lists the buckets being restored at this node
func (transferAgent *TransferAgent) Restoring() []bucket.BucketID {
	ids := make([]bucket.BucketID, 0, transferAgent.restoring.Cardinality())

	for _, id := range transferAgent.restoring.ToSlice() {
		ids = append(ids, id.(bucket.BucketID))
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	return ids
}

// StopAllTransfers cancels every session at this node
func (transferAgent *TransferAgent) StopAllTransfers() {
	transferAgent.lock.Lock()
	defer transferAgent.lock.Unlock()

	for _, s := range transferAgent.sessions {
		s.cancel()
	}
}

func bucketIDFromVars(req *http.Request) (bucket.BucketID, error) {
	storage, err := strconv.ParseUint(mux.Vars(req)["storage"], 10, 64)

	if err != nil {
		return bucket.BucketID{}, err
	}

	bucketNumber, err := strconv.ParseUint(mux.Vars(req)["bucket"], 10, 64)

	if err != nil {
		return bucket.BucketID{}, err
	}

	return bucket.BucketID{CacheName: mux.Vars(req)["cache"], Storage: storage, Bucket: bucketNumber}, nil
}

func (transferAgent *TransferAgent) receive(ctx context.Context, destination bucket.BucketID, transferID string, body io.Reader) (int, error) {
	ctx, s := transferAgent.startSession(ctx, destination, "incoming", transferID)
	defer transferAgent.endSession(destination, s)

	if err := transferAgent.store.DiscardStaged(destination); err != nil {
		return 0, err
	}

	count, err := stageTransfer(ctx, NewIncomingTransfer(body), transferAgent.store, destination)
	err = sessionError(ctx, err)

	prometheusRecordTransfer("incoming", err)

	if err != nil {
		transferAgent.store.DiscardStaged(destination)

		return 0, err
	}

	return count, nil
}

func (transferAgent *TransferAgent) Attach(router *mux.Router) {
	router.HandleFunc("/transfers/{cache}/{storage}/{bucket}", func(w http.ResponseWriter, req *http.Request) {
		destination, err := bucketIDFromVars(req)

		if err != nil {
			Log.Warningf("Invalid bucket specified in bucket transfer HTTP request: %v", err.Error())

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "\n")

			return
		}

		transferID := req.Header.Get(TransferIDHeader)
		sender := req.Header.Get(TransferSenderHeader)

		Log.Infof("Local node (%v) receiving transfer %s of bucket %v from node %s", transferAgent.localAddress, transferID, destination, sender)

		count, err := transferAgent.receive(req.Context(), destination, transferID, req.Body)

		if err != nil {
			Log.Warningf("Local node (%v) unable to receive transfer %s of bucket %v: %v", transferAgent.localAddress, transferID, destination, err.Error())

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "\n")

			return
		}

		Log.Infof("Local node (%v) staged %d entries of transfer %s into bucket %v", transferAgent.localAddress, count, transferID, destination)

		w.Header().Set("Content-Type", "application/json; charset=utf8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "\n")
	}).Methods("POST")

	router.HandleFunc("/buckets/{cache}/{storage}/{bucket}/content", func(w http.ResponseWriter, req *http.Request) {
		source, err := bucketIDFromVars(req)

		if err != nil {
			Log.Warningf("Invalid bucket specified in bucket content HTTP request: %v", err.Error())

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "\n")

			return
		}

		entries, err := transferAgent.store.Entries(source)

		if err != nil {
			Log.Warningf("An error occurred while reading bucket %v. Unable to fulfill content request: %v", source, err.Error())

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "\n")

			return
		}

		r, _ := NewTransferEncoder(NewOutgoingTransfer(entries, transferAgent.chunkSize)).Encode()

		Log.Infof("Start sending bucket %v to remote node...", source)

		w.Header().Set("Content-Type", ChunkStreamContentType)
		w.WriteHeader(http.StatusOK)
		written, err := io.Copy(w, r)

		if err != nil {
			Log.Errorf("An error occurred while sending bucket %v to requesting node after sending %d bytes: %v", source, written, err.Error())

			return
		}

		Log.Infof("Done sending bucket %v to remote node. Bytes written: %d", source, written)
	}).Methods("GET")
}
