package client

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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/cluster"
	. "github.com/PelionIoT/devicecache/error"
	"github.com/PelionIoT/devicecache/raft"
	"github.com/PelionIoT/devicecache/routes"
)

const DefaultClientTimeout = time.Second * 10

var EClientTimeout = errors.New("Client request timed out")

// ErrorStatusCode is returned for any response other than 200 OK. Owner is
// set when the request reached a node that does not own the bucket of a key.
type ErrorStatusCode struct {
	StatusCode int
	Message    string
	Owner      string
}

func (errorStatus *ErrorStatusCode) Error() string {
	return fmt.Sprintf("(%d) %s", errorStatus.StatusCode, errorStatus.Message)
}

// CacheError decodes the response body as a CacheError if it is one
func (errorStatus *ErrorStatusCode) CacheError() (*CacheError, bool) {
	cacheError, err := CacheErrorFromJSON([]byte(errorStatus.Message))

	if err != nil || cacheError.Msg == "" {
		return nil, false
	}

	return cacheError, true
}

// doRequest sends one request and returns the response body of a 200 OK
// response
func doRequest(ctx context.Context, httpClient *http.Client, method string, endpointURL string, body []byte) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, method, endpointURL, bytes.NewReader(body))

	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(request)

	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, EClientTimeout
		}

		return nil, err
	}

	defer resp.Body.Close()

	responseBody, err := ioutil.ReadAll(resp.Body)

	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ErrorStatusCode{
			StatusCode: resp.StatusCode,
			Message:    string(responseBody),
			Owner:      resp.Header.Get(routes.BucketOwnerHeader),
		}
	}

	return responseBody, nil
}

type ClientConfig struct {
	Timeout time.Duration
}

// Client sends requests from one cluster member to another
type Client struct {
	httpClient *http.Client
}

func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultClientTimeout
	}

	return &Client{httpClient: &http.Client{Timeout: config.Timeout}}
}

// AddNode asks a cluster member to add a new node to the cluster
func (client *Client) AddNode(ctx context.Context, memberAddress raft.PeerAddress, newMemberConfig cluster.NodeConfig) error {
	encodedNodeConfig, err := json.Marshal(newMemberConfig)

	if err != nil {
		return err
	}

	_, err = doRequest(ctx, client.httpClient, http.MethodPost, memberAddress.ToHTTPURL("/cluster/nodes"), encodedNodeConfig)

	return err
}

func (client *Client) RemoveNode(ctx context.Context, memberAddress raft.PeerAddress, nodeID uint64) error {
	_, err := doRequest(ctx, client.httpClient, http.MethodDelete, memberAddress.ToHTTPURL(fmt.Sprintf("/cluster/nodes/%d", nodeID)), nil)

	return err
}

func replicaURL(address bucket.NodeAddress, id bucket.BucketID, key string) string {
	return address.ToHTTPURL(fmt.Sprintf("/buckets/%s/%d/%d/keys/%s", url.PathEscape(id.CacheName), id.Storage, id.Bucket, url.PathEscape(key)))
}

// ReplicatePut writes a key to the copy of a bucket held by another node
func (client *Client) ReplicatePut(ctx context.Context, address bucket.NodeAddress, id bucket.BucketID, key string, value []byte) error {
	_, err := doRequest(ctx, client.httpClient, http.MethodPut, replicaURL(address, id, key), value)

	return err
}

// ReplicateDelete deletes a key from the copy of a bucket held by another node
func (client *Client) ReplicateDelete(ctx context.Context, address bucket.NodeAddress, id bucket.BucketID, key string) error {
	_, err := doRequest(ctx, client.httpClient, http.MethodDelete, replicaURL(address, id, key), nil)

	return err
}
