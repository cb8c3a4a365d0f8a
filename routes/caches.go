package routes

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
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/error"
	. "github.com/PelionIoT/devicecache/logging"

	"github.com/gorilla/mux"
)

// BucketOwnerHeader names the owner of the bucket of a key when a request
// reaches a node that does not own it
const BucketOwnerHeader = "X-Bucket-Owner"

type CacheEndpoint struct {
	CacheFacade CacheFacade
}

// writeCacheError maps an error returned by a CacheFacade to a response
func writeCacheError(w http.ResponseWriter, endpoint string, err error) {
	if notOwnerError, ok := err.(NotOwnerError); ok {
		Log.Debugf("%s: %v", endpoint, err)

		w.Header().Set(BucketOwnerHeader, notOwnerError.Owner.String())
		writeError(w, http.StatusMisdirectedRequest, ENotOwner)

		return
	}

	switch err {
	case ENotAccessible:
		Log.Debugf("%s: %v", endpoint, err)

		writeError(w, http.StatusServiceUnavailable, ENotAccessible)
	case ENoSuchCache, bucket.ENoSuchCache:
		Log.Warningf("%s: %v", endpoint, err)

		writeError(w, http.StatusNotFound, ENoSuchCache)
	case ENoSuchBucket, bucket.EBucketOutOfRange, bucket.EStorageOutOfRange:
		Log.Warningf("%s: %v", endpoint, err)

		writeError(w, http.StatusNotFound, ENoSuchBucket)
	case EEmpty:
		Log.Warningf("%s: %v", endpoint, err)

		writeError(w, http.StatusBadRequest, EEmpty)
	default:
		Log.Errorf("%s: %v", endpoint, err)

		writeError(w, http.StatusInternalServerError, EStorage)
	}
}

func bucketIDFromVars(vars map[string]string) (bucket.BucketID, error) {
	storage, err := strconv.ParseUint(vars["storage"], 10, 64)

	if err != nil {
		return bucket.BucketID{}, err
	}

	bucketNumber, err := strconv.ParseUint(vars["bucket"], 10, 64)

	if err != nil {
		return bucket.BucketID{}, err
	}

	return bucket.BucketID{CacheName: vars["cache"], Storage: storage, Bucket: bucketNumber}, nil
}

func (cacheEndpoint *CacheEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/caches/{cache}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		value, err := cacheEndpoint.CacheFacade.Get(r.Context(), vars["cache"], vars["key"])

		if err != nil {
			writeCacheError(w, "GET /caches/{cache}/keys/{key}", err)

			return
		}

		if value == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, "\n")

			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(value)
	}).Methods("GET")

	router.HandleFunc("/caches/{cache}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		value, err := ioutil.ReadAll(r.Body)

		if err != nil {
			Log.Warningf("PUT /caches/{cache}/keys/{key}: %v", err)

			writeError(w, http.StatusBadRequest, EReadBody)

			return
		}

		if err := cacheEndpoint.CacheFacade.Put(r.Context(), vars["cache"], vars["key"], value); err != nil {
			writeCacheError(w, "PUT /caches/{cache}/keys/{key}", err)

			return
		}

		writeOK(w)
	}).Methods("PUT")

	router.HandleFunc("/caches/{cache}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		if err := cacheEndpoint.CacheFacade.Delete(r.Context(), vars["cache"], vars["key"]); err != nil {
			writeCacheError(w, "DELETE /caches/{cache}/keys/{key}", err)

			return
		}

		writeOK(w)
	}).Methods("DELETE")

	router.HandleFunc("/buckets/{cache}/{storage}/{bucket}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		// Replicate a write to the local copy of a backup storage number
		vars := mux.Vars(r)
		id, err := bucketIDFromVars(vars)

		if err != nil {
			Log.Warningf("PUT /buckets/{cache}/{storage}/{bucket}/keys/{key}: %v", err)

			writeError(w, http.StatusBadRequest, ENoSuchBucket)

			return
		}

		value, err := ioutil.ReadAll(r.Body)

		if err != nil {
			Log.Warningf("PUT /buckets/{cache}/{storage}/{bucket}/keys/{key}: %v", err)

			writeError(w, http.StatusBadRequest, EReadBody)

			return
		}

		if err := cacheEndpoint.CacheFacade.LocalPut(id, vars["key"], value); err != nil {
			writeCacheError(w, "PUT /buckets/{cache}/{storage}/{bucket}/keys/{key}", err)

			return
		}

		writeOK(w)
	}).Methods("PUT")

	router.HandleFunc("/buckets/{cache}/{storage}/{bucket}/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id, err := bucketIDFromVars(vars)

		if err != nil {
			Log.Warningf("DELETE /buckets/{cache}/{storage}/{bucket}/keys/{key}: %v", err)

			writeError(w, http.StatusBadRequest, ENoSuchBucket)

			return
		}

		if err := cacheEndpoint.CacheFacade.LocalDelete(id, vars["key"]); err != nil {
			writeCacheError(w, "DELETE /buckets/{cache}/{storage}/{bucket}/keys/{key}", err)

			return
		}

		writeOK(w)
	}).Methods("DELETE")
}
