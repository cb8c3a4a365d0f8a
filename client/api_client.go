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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/routes"
)

type APIClientConfig struct {
	Servers []string
}

// APIClient talks to the public endpoints of a cluster. Requests rotate
// over the configured servers. Key requests that reach a node that does not
// own the key's bucket are retried once at the owner.
type APIClient struct {
	servers         []string
	nextServerIndex int
	httpClient      *http.Client
}

func New(config APIClientConfig) *APIClient {
	return &APIClient{
		servers:         config.Servers,
		nextServerIndex: 0,
		httpClient:      &http.Client{},
	}
}

func (client *APIClient) nextServer() (server string) {
	if len(client.servers) == 0 {
		return
	}

	server = client.servers[client.nextServerIndex]
	client.nextServerIndex = (client.nextServerIndex + 1) % len(client.servers)

	return
}

func (client *APIClient) sendRequest(ctx context.Context, httpVerb string, endpointURL string, body []byte) ([]byte, error) {
	return doRequest(ctx, client.httpClient, httpVerb, fmt.Sprintf("http://%s%s", client.nextServer(), endpointURL), body)
}

func (client *APIClient) sendKeyRequest(ctx context.Context, httpVerb string, cacheName string, key string, body []byte) ([]byte, error) {
	endpointURL := fmt.Sprintf("/caches/%s/keys/%s", url.PathEscape(cacheName), url.PathEscape(key))
	responseBody, err := client.sendRequest(ctx, httpVerb, endpointURL, body)

	if errorStatus, ok := err.(*ErrorStatusCode); ok && errorStatus.StatusCode == http.StatusMisdirectedRequest && errorStatus.Owner != "" {
		return doRequest(ctx, client.httpClient, httpVerb, fmt.Sprintf("http://%s%s", errorStatus.Owner, endpointURL), body)
	}

	return responseBody, err
}

// Get returns the value of a key. A missing key has a nil value.
func (client *APIClient) Get(ctx context.Context, cacheName string, key string) ([]byte, error) {
	responseBody, err := client.sendKeyRequest(ctx, "GET", cacheName, key, nil)

	if err != nil {
		if errorStatus, ok := err.(*ErrorStatusCode); ok && errorStatus.StatusCode == http.StatusNotFound {
			if _, isCacheError := errorStatus.CacheError(); !isCacheError {
				return nil, nil
			}
		}

		return nil, err
	}

	return responseBody, nil
}

func (client *APIClient) Put(ctx context.Context, cacheName string, key string, value []byte) error {
	_, err := client.sendKeyRequest(ctx, "PUT", cacheName, key, value)

	return err
}

func (client *APIClient) Delete(ctx context.Context, cacheName string, key string) error {
	_, err := client.sendKeyRequest(ctx, "DELETE", cacheName, key, nil)

	return err
}

func (client *APIClient) CreateCache(ctx context.Context, settings bucket.CacheSettings) error {
	encodedSettings, _ := json.Marshal(settings)
	_, err := client.sendRequest(ctx, "POST", "/caches", encodedSettings)

	return err
}

func (client *APIClient) DeleteCache(ctx context.Context, cacheName string) error {
	_, err := client.sendRequest(ctx, "DELETE", "/caches/"+url.PathEscape(cacheName), nil)

	return err
}

func (client *APIClient) Caches(ctx context.Context) ([]bucket.CacheSettings, error) {
	responseBody, err := client.sendRequest(ctx, "GET", "/caches", nil)

	if err != nil {
		return nil, err
	}

	var caches []bucket.CacheSettings

	if err := json.Unmarshal(responseBody, &caches); err != nil {
		return nil, err
	}

	return caches, nil
}

// Directory lists the ownership of every bucket of a cache at one storage number
func (client *APIClient) Directory(ctx context.Context, cacheName string, storage uint64) ([]routes.BucketOwnership, error) {
	responseBody, err := client.sendRequest(ctx, "GET", fmt.Sprintf("/caches/%s/directory?storage=%d", url.PathEscape(cacheName), storage), nil)

	if err != nil {
		return nil, err
	}

	var ownership []routes.BucketOwnership

	if err := json.Unmarshal(responseBody, &ownership); err != nil {
		return nil, err
	}

	return ownership, nil
}

// SubmitBucketCommand submits a bucket command to the cluster and returns
// once the receiving node has applied it
func (client *APIClient) SubmitBucketCommand(ctx context.Context, command bucket.BucketCommand) error {
	encodedCommand, err := json.Marshal(command)

	if err != nil {
		return err
	}

	_, err = client.sendRequest(ctx, "POST", "/cluster/commands", encodedCommand)

	return err
}

func (client *APIClient) View(ctx context.Context) (routes.ClusterViewResponse, error) {
	responseBody, err := client.sendRequest(ctx, "GET", "/cluster/view", nil)

	if err != nil {
		return routes.ClusterViewResponse{}, err
	}

	var view routes.ClusterViewResponse

	if err := json.Unmarshal(responseBody, &view); err != nil {
		return routes.ClusterViewResponse{}, err
	}

	return view, nil
}
