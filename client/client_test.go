package client_test

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
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/client"
	"github.com/PelionIoT/devicecache/cluster"
	cacheerrors "github.com/PelionIoT/devicecache/error"
	"github.com/PelionIoT/devicecache/raft"
	"github.com/PelionIoT/devicecache/routes"

	"github.com/gorilla/mux"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func serverAddress(server *httptest.Server) (string, int) {
	host, portString, err := net.SplitHostPort(server.Listener.Addr().String())

	Expect(err).Should(BeNil())

	port, err := strconv.Atoi(portString)

	Expect(err).Should(BeNil())

	return host, port
}

func hostPort(server *httptest.Server) string {
	return strings.TrimPrefix(server.URL, "http://")
}

var _ = Describe("Client", func() {
	var router *mux.Router
	var server *httptest.Server
	var memberAddress raft.PeerAddress

	BeforeEach(func() {
		router = mux.NewRouter()
		server = httptest.NewServer(router)
		host, port := serverAddress(server)
		memberAddress = raft.PeerAddress{Host: host, Port: port}
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("AddNode", func() {
		It("should post the node config of the new member", func() {
			received := make(chan cluster.NodeConfig, 1)

			router.HandleFunc("/cluster/nodes", func(w http.ResponseWriter, r *http.Request) {
				var nodeConfig cluster.NodeConfig

				body, _ := ioutil.ReadAll(r.Body)
				json.Unmarshal(body, &nodeConfig)
				received <- nodeConfig

				w.WriteHeader(http.StatusOK)
			}).Methods("POST")

			newMember := cluster.NodeConfig{Address: raft.PeerAddress{NodeID: 4, Host: "10.0.0.4", Port: 9090}}

			Expect(NewClient(ClientConfig{}).AddNode(context.TODO(), memberAddress, newMember)).Should(BeNil())
			Expect(<-received).Should(Equal(newMember))
		})

		It("should return the cache error sent by the member", func() {
			router.HandleFunc("/cluster/nodes", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				w.Write(cacheerrors.EDuplicateNodeID.JSON())
			}).Methods("POST")

			err := NewClient(ClientConfig{}).AddNode(context.TODO(), memberAddress, cluster.NodeConfig{Address: raft.PeerAddress{NodeID: 4}})
			errorStatus, ok := err.(*ErrorStatusCode)

			Expect(ok).Should(BeTrue())
			Expect(errorStatus.StatusCode).Should(Equal(http.StatusConflict))

			cacheError, ok := errorStatus.CacheError()

			Expect(ok).Should(BeTrue())
			Expect(*cacheError).Should(Equal(cacheerrors.EDuplicateNodeID))
		})
	})

	Describe("RemoveNode", func() {
		It("should delete the node by ID", func() {
			removed := make(chan string, 1)

			router.HandleFunc("/cluster/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
				removed <- mux.Vars(r)["id"]
				w.WriteHeader(http.StatusOK)
			}).Methods("DELETE")

			Expect(NewClient(ClientConfig{}).RemoveNode(context.TODO(), memberAddress, 12)).Should(BeNil())
			Expect(<-removed).Should(Equal("12"))
		})

		It("should return EClientTimeout if the member does not answer in time", func() {
			release := make(chan struct{})
			defer close(release)

			router.HandleFunc("/cluster/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}).Methods("DELETE")

			Expect(NewClient(ClientConfig{Timeout: time.Millisecond * 200}).RemoveNode(context.TODO(), memberAddress, 12)).Should(Equal(EClientTimeout))
		})
	})

	Describe("ReplicatePut", func() {
		It("should write the value to the bucket of the given storage number", func() {
			writes := make(chan string, 1)

			router.HandleFunc("/buckets/{cache}/{storage}/{bucket}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
				vars := mux.Vars(r)
				value, _ := ioutil.ReadAll(r.Body)
				writes <- vars["cache"] + "/" + vars["storage"] + "/" + vars["bucket"] + "/" + vars["key"] + "=" + string(value)
				w.WriteHeader(http.StatusOK)
			}).Methods("PUT")

			host, port := serverAddress(server)
			address := bucket.NodeAddress{Host: host, Port: port}
			id := bucket.BucketID{CacheName: "orders", Storage: 1, Bucket: 7}

			Expect(NewClient(ClientConfig{}).ReplicatePut(context.TODO(), address, id, "k1", []byte("v1"))).Should(BeNil())
			Expect(<-writes).Should(Equal("orders/1/7/k1=v1"))
		})
	})
})

var _ = Describe("APIClient", func() {
	var owner *httptest.Server
	var other *httptest.Server
	var ownerRouter *mux.Router
	var otherRouter *mux.Router

	BeforeEach(func() {
		ownerRouter = mux.NewRouter()
		otherRouter = mux.NewRouter()
		owner = httptest.NewServer(ownerRouter)
		other = httptest.NewServer(otherRouter)

		ownerRouter.HandleFunc("/caches/{cache}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
			if mux.Vars(r)["key"] == "missing" {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, "\n")

				return
			}

			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "value")
		}).Methods("GET")

		otherRouter.HandleFunc("/caches/{cache}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(routes.BucketOwnerHeader, hostPort(owner))
			w.WriteHeader(http.StatusMisdirectedRequest)
			w.Write(cacheerrors.ENotOwner.JSON())
		}).Methods("GET")
	})

	AfterEach(func() {
		owner.Close()
		other.Close()
	})

	It("should retry a key request at the owner named by a non-owner", func() {
		apiClient := New(APIClientConfig{Servers: []string{hostPort(other)}})

		Expect(apiClient.Get(context.TODO(), "orders", "k1")).Should(Equal([]byte("value")))
	})

	It("should return a nil value for a missing key", func() {
		apiClient := New(APIClientConfig{Servers: []string{hostPort(owner)}})
		value, err := apiClient.Get(context.TODO(), "orders", "missing")

		Expect(err).Should(BeNil())
		Expect(value).Should(BeNil())
	})

	It("should return an error for a missing cache", func() {
		ownerRouter.HandleFunc("/caches/{cache}/directory", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write(cacheerrors.ENoSuchCache.JSON())
		}).Methods("GET")

		apiClient := New(APIClientConfig{Servers: []string{hostPort(owner)}})
		_, err := apiClient.Directory(context.TODO(), "nope", 0)

		Expect(err).Should(BeAssignableToTypeOf(&ErrorStatusCode{}))
		Expect(err.(*ErrorStatusCode).StatusCode).Should(Equal(http.StatusNotFound))
	})

	It("should decode the directory of a cache", func() {
		ownerRouter.HandleFunc("/caches/{cache}/directory", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("storage") != "1" {
				w.WriteHeader(http.StatusNotFound)
				w.Write(cacheerrors.ENoSuchBucket.JSON())

				return
			}

			json.NewEncoder(w).Encode([]routes.BucketOwnership{
				{Bucket: 0, Storage: 1, State: "OWNED", Owner: "10.0.0.1:9090"},
				{Bucket: 1, Storage: 1, State: "ORPHANED"},
			})
		}).Methods("GET")

		apiClient := New(APIClientConfig{Servers: []string{hostPort(owner)}})
		ownership, err := apiClient.Directory(context.TODO(), "orders", 1)

		Expect(err).Should(BeNil())
		Expect(ownership).Should(HaveLen(2))
		Expect(ownership[0].Owner).Should(Equal("10.0.0.1:9090"))
		Expect(ownership[1].State).Should(Equal("ORPHANED"))
	})
})
