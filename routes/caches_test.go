package routes_test

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
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/error"
	. "github.com/PelionIoT/devicecache/routes"

	"github.com/gorilla/mux"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Caches", func() {
	var router *mux.Router
	var cacheFacade *MockCacheFacade

	BeforeEach(func() {
		cacheFacade = &MockCacheFacade{}
		router = mux.NewRouter()
		cacheEndpoint := &CacheEndpoint{
			CacheFacade: cacheFacade,
		}
		cacheEndpoint.Attach(router)
	})

	Describe("/caches/{cache}/keys/{key}", func() {
		Describe("GET", func() {
			It("Should respond with the value of the key", func() {
				var requestedCache, requestedKey string
				cacheFacade.defaultGetResponse = []byte("v1")
				cacheFacade.getCB = func(ctx context.Context, cacheName string, key string) {
					requestedCache = cacheName
					requestedKey = key
				}

				req, _ := http.NewRequest("GET", "/caches/orders/keys/o-1", nil)
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusOK))
				Expect(rr.Body.Bytes()).Should(Equal([]byte("v1")))
				Expect(requestedCache).Should(Equal("orders"))
				Expect(requestedKey).Should(Equal("o-1"))
			})

			It("Should respond with status code http.StatusNotFound and no error body when the key is missing", func() {
				req, _ := http.NewRequest("GET", "/caches/orders/keys/o-1", nil)
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusNotFound))
				Expect(rr.Body.String()).Should(Equal("\n"))
			})

			Context("When another node owns the bucket of the key", func() {
				It("Should redirect the client to the owner", func() {
					cacheFacade.defaultGetResponseError = NotOwnerError{Owner: bucket.NodeAddress{Host: "10.0.0.2", Port: 9090}}
					req, _ := http.NewRequest("GET", "/caches/orders/keys/o-1", nil)
					rr := httptest.NewRecorder()
					router.ServeHTTP(rr, req)

					Expect(rr.Code).Should(Equal(http.StatusMisdirectedRequest))
					Expect(rr.Header().Get(BucketOwnerHeader)).Should(Equal("10.0.0.2:9090"))
					Expect(decodeCacheError(rr)).Should(Equal(ENotOwner))
				})
			})

			Context("When the bucket of the key is being transferred", func() {
				It("Should respond with status code http.StatusServiceUnavailable and a Retry-After header", func() {
					cacheFacade.defaultGetResponseError = ENotAccessible
					req, _ := http.NewRequest("GET", "/caches/orders/keys/o-1", nil)
					rr := httptest.NewRecorder()
					router.ServeHTTP(rr, req)

					Expect(rr.Code).Should(Equal(http.StatusServiceUnavailable))
					Expect(rr.Header().Get("Retry-After")).Should(Equal(RetryAfterSeconds))
					Expect(decodeCacheError(rr)).Should(Equal(ENotAccessible))
				})
			})

			Context("When the cache does not exist", func() {
				It("Should respond with an ENoSuchCache body", func() {
					cacheFacade.defaultGetResponseError = bucket.ENoSuchCache
					req, _ := http.NewRequest("GET", "/caches/orders/keys/o-1", nil)
					rr := httptest.NewRecorder()
					router.ServeHTTP(rr, req)

					Expect(rr.Code).Should(Equal(http.StatusNotFound))
					Expect(decodeCacheError(rr)).Should(Equal(ENoSuchCache))
				})
			})

			Context("When the storage driver fails", func() {
				It("Should respond with an EStorage body", func() {
					cacheFacade.defaultGetResponseError = errors.New("Some error")
					req, _ := http.NewRequest("GET", "/caches/orders/keys/o-1", nil)
					rr := httptest.NewRecorder()
					router.ServeHTTP(rr, req)

					Expect(rr.Code).Should(Equal(http.StatusInternalServerError))
					Expect(decodeCacheError(rr)).Should(Equal(EStorage))
				})
			})
		})

		Describe("PUT", func() {
			It("Should write the request body as the value", func() {
				var written []byte
				cacheFacade.putCB = func(ctx context.Context, cacheName string, key string, value []byte) {
					written = value
				}

				req, _ := http.NewRequest("PUT", "/caches/orders/keys/o-1", bytes.NewReader([]byte("v2")))
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusOK))
				Expect(written).Should(Equal([]byte("v2")))
			})

			It("Should respond with status code http.StatusServiceUnavailable while the bucket is not accessible", func() {
				cacheFacade.defaultPutResponse = ENotAccessible
				req, _ := http.NewRequest("PUT", "/caches/orders/keys/o-1", bytes.NewReader([]byte("v2")))
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusServiceUnavailable))
			})
		})

		Describe("DELETE", func() {
			It("Should delete the key", func() {
				var deleted string
				cacheFacade.deleteCB = func(ctx context.Context, cacheName string, key string) {
					deleted = key
				}

				req, _ := http.NewRequest("DELETE", "/caches/orders/keys/o-1", nil)
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusOK))
				Expect(deleted).Should(Equal("o-1"))
			})
		})
	})

	Describe("/buckets/{cache}/{storage}/{bucket}/keys/{key}", func() {
		Describe("PUT", func() {
			It("Should write to the named bucket", func() {
				var writtenTo bucket.BucketID
				var written []byte
				cacheFacade.localPutCB = func(id bucket.BucketID, key string, value []byte) {
					writtenTo = id
					written = value
				}

				req, _ := http.NewRequest("PUT", "/buckets/orders/1/3/keys/o-1", bytes.NewReader([]byte("v1")))
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusOK))
				Expect(writtenTo).Should(Equal(bucket.BucketID{CacheName: "orders", Storage: 1, Bucket: 3}))
				Expect(written).Should(Equal([]byte("v1")))
			})

			It("Should respond with status code http.StatusBadRequest for a malformed bucket number", func() {
				req, _ := http.NewRequest("PUT", "/buckets/orders/1/x/keys/o-1", bytes.NewReader([]byte("v1")))
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusBadRequest))
				Expect(decodeCacheError(rr)).Should(Equal(ENoSuchBucket))
			})
		})

		Describe("DELETE", func() {
			It("Should delete from the named bucket", func() {
				var deletedFrom bucket.BucketID
				cacheFacade.localDeleteCB = func(id bucket.BucketID, key string) {
					deletedFrom = id
				}

				req, _ := http.NewRequest("DELETE", "/buckets/orders/0/2/keys/o-1", nil)
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusOK))
				Expect(deletedFrom).Should(Equal(bucket.BucketID{CacheName: "orders", Storage: 0, Bucket: 2}))
			})

			It("Should respond with status code http.StatusServiceUnavailable if the bucket is not served here", func() {
				cacheFacade.defaultLocalDeleteResponse = ENotAccessible
				req, _ := http.NewRequest("DELETE", "/buckets/orders/0/2/keys/o-1", nil)
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusServiceUnavailable))
			})
		})
	})
})
