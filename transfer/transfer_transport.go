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
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"

	"github.com/PelionIoT/devicecache/bucket"
)

const (
	PushEndpointPattern    = "/transfers/%s/%d/%d"
	ContentEndpointPattern = "/buckets/%s/%d/%d/content"
	TransferIDHeader       = "X-Transfer-Id"
	TransferSenderHeader   = "X-Transfer-Sender"
	ChunkStreamContentType = "application/cbor-seq"
)

var EBadResponse = errors.New("Node responded with a bad response")

// BucketTransferTransport moves encoded bucket content between nodes.
// Push sends the content of a bucket to the node that will own it. Get
// fetches the content of a bucket from the node that holds it. Closing the
// reader returned by Get ends the download.
type BucketTransferTransport interface {
	Push(ctx context.Context, to bucket.NodeAddress, destination bucket.BucketID, transferID string, from bucket.NodeAddress, body io.Reader) error
	Get(ctx context.Context, from bucket.NodeAddress, source bucket.BucketID) (io.ReadCloser, error)
}

type HTTPTransferTransport struct {
	httpClient *http.Client
}

func NewHTTPTransferTransport(httpClient *http.Client) *HTTPTransferTransport {
	return &HTTPTransferTransport{httpClient: httpClient}
}

func bucketURL(address bucket.NodeAddress, pattern string, id bucket.BucketID) string {
	return address.ToHTTPURL(fmt.Sprintf(pattern, url.PathEscape(id.CacheName), id.Storage, id.Bucket))
}

// badResponse drains the body of a response that was not 200 OK into an
// error
func badResponse(resp *http.Response) error {
	errorMessage, _ := ioutil.ReadAll(resp.Body)

	return fmt.Errorf("%v: %d %s", EBadResponse, resp.StatusCode, string(errorMessage))
}

func (transferTransport *HTTPTransferTransport) Push(ctx context.Context, to bucket.NodeAddress, destination bucket.BucketID, transferID string, from bucket.NodeAddress, body io.Reader) error {
	if to.IsEmpty() {
		return EBadResponse
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, bucketURL(to, PushEndpointPattern, destination), body)

	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", ChunkStreamContentType)
	request.Header.Set(TransferIDHeader, transferID)
	request.Header.Set(TransferSenderHeader, from.String())

	resp, err := transferTransport.httpClient.Do(request)

	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return badResponse(resp)
	}

	return nil
}

// contentStream ends its request when closed
type contentStream struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (stream *contentStream) Close() error {
	stream.cancel()

	return stream.ReadCloser.Close()
}

func (transferTransport *HTTPTransferTransport) Get(ctx context.Context, from bucket.NodeAddress, source bucket.BucketID) (io.ReadCloser, error) {
	if from.IsEmpty() {
		return nil, EBadResponse
	}

	ctx, cancel := context.WithCancel(ctx)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, bucketURL(from, ContentEndpointPattern, source), nil)

	if err != nil {
		cancel()

		return nil, err
	}

	resp, err := transferTransport.httpClient.Do(request)

	if err != nil {
		cancel()

		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()

		return nil, badResponse(resp)
	}

	return &contentStream{ReadCloser: resp.Body, cancel: cancel}, nil
}
