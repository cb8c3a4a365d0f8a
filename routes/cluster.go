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
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/cluster"
	. "github.com/PelionIoT/devicecache/error"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/membership"

	"github.com/gorilla/mux"
)

// RetryAfterSeconds is advertised to clients whose request hit a bucket
// or a cluster that is settling
const RetryAfterSeconds = "1"

type ClusterEndpoint struct {
	ClusterFacade ClusterFacade
}

func writeError(w http.ResponseWriter, status int, cacheError CacheError) {
	w.Header().Set("Content-Type", "application/json; charset=utf8")

	if cacheError == ENotAccessible {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}

	w.WriteHeader(status)
	io.WriteString(w, string(cacheError.JSON())+"\n")
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	encoded, err := json.Marshal(value)

	if err != nil {
		Log.Errorf("Unable to encode response body: %v", err.Error())

		w.Header().Set("Content-Type", "application/json; charset=utf8")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "\n")

		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, string(encoded)+"\n")
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "\n")
}

func (clusterEndpoint *ClusterEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/cluster/nodes", func(w http.ResponseWriter, r *http.Request) {
		// Add a node to the cluster
		body, err := ioutil.ReadAll(r.Body)

		if err != nil {
			Log.Warningf("POST /cluster/nodes: %v", err)

			writeError(w, http.StatusBadRequest, EReadBody)

			return
		}

		var nodeConfig cluster.NodeConfig

		if err := json.Unmarshal(body, &nodeConfig); err != nil || nodeConfig.Address.IsEmpty() || nodeConfig.Address.NodeID == 0 {
			Log.Warningf("POST /cluster/nodes: Unable to parse node config body")

			writeError(w, http.StatusBadRequest, ENodeConfigBody)

			return
		}

		if err := clusterEndpoint.ClusterFacade.AddNode(r.Context(), nodeConfig); err != nil {
			Log.Warningf("POST /cluster/nodes: Unable to add node to cluster: %v", err.Error())

			if err == EDuplicateNodeID {
				writeError(w, http.StatusInternalServerError, EDuplicateNodeID)
			} else {
				writeError(w, http.StatusInternalServerError, EProposalError)
			}

			return
		}

		writeOK(w)
	}).Methods("POST")

	router.HandleFunc("/cluster/nodes/{nodeID}", func(w http.ResponseWriter, r *http.Request) {
		// Remove a node. Node 0 refers to the node receiving the request.
		nodeID, err := strconv.ParseUint(mux.Vars(r)["nodeID"], 10, 64)

		if err != nil {
			Log.Warningf("DELETE /cluster/nodes/{nodeID}: Invalid node ID")

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "\n")

			return
		}

		if nodeID == 0 {
			nodeID = clusterEndpoint.ClusterFacade.LocalNodeID()
		}

		if err := clusterEndpoint.ClusterFacade.RemoveNode(r.Context(), nodeID); err != nil {
			Log.Warningf("DELETE /cluster/nodes/{nodeID}: Unable to remove node from the cluster: %v", err.Error())

			writeError(w, http.StatusInternalServerError, EProposalError)

			return
		}

		writeOK(w)
	}).Methods("DELETE")

	router.HandleFunc("/cluster/view", func(w http.ResponseWriter, r *http.Request) {
		view := clusterEndpoint.ClusterFacade.View()

		writeJSON(w, ClusterViewResponse{
			ViewID:    view.ID,
			GateState: clusterEndpoint.ClusterFacade.GateState().String(),
			LocalNode: clusterEndpoint.ClusterFacade.LocalNodeID(),
			Nodes:     clusterEndpoint.ClusterFacade.Nodes(),
		})
	}).Methods("GET")

	router.HandleFunc("/cluster/commands", func(w http.ResponseWriter, r *http.Request) {
		// Submit a bucket command to the replicated log
		body, err := ioutil.ReadAll(r.Body)

		if err != nil {
			Log.Warningf("POST /cluster/commands: %v", err)

			writeError(w, http.StatusBadRequest, EReadBody)

			return
		}

		var command bucket.BucketCommand

		if err := json.Unmarshal(body, &command); err != nil {
			Log.Warningf("POST /cluster/commands: Unable to parse bucket command body: %v", err)

			writeError(w, http.StatusBadRequest, EBucketCommandBody)

			return
		}

		if err := command.Validate(); err != nil {
			Log.Warningf("POST /cluster/commands: Rejecting %v: %v", command, err)

			writeError(w, http.StatusBadRequest, EInvalidCommand)

			return
		}

		if state := clusterEndpoint.ClusterFacade.GateState(); state != membership.Normal {
			Log.Infof("POST /cluster/commands: Refusing %v while the membership gate is %v", command, state)

			writeError(w, http.StatusServiceUnavailable, ENotAccessible)

			return
		}

		if err := clusterEndpoint.ClusterFacade.SubmitBucketCommand(r.Context(), command); err != nil {
			Log.Warningf("POST /cluster/commands: Unable to submit %v: %v", command, err)

			writeError(w, http.StatusInternalServerError, EProposalError)

			return
		}

		writeOK(w)
	}).Methods("POST")

	router.HandleFunc("/caches", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, clusterEndpoint.ClusterFacade.Caches())
	}).Methods("GET")

	router.HandleFunc("/caches", func(w http.ResponseWriter, r *http.Request) {
		// Create a cache
		body, err := ioutil.ReadAll(r.Body)

		if err != nil {
			Log.Warningf("POST /caches: %v", err)

			writeError(w, http.StatusBadRequest, EReadBody)

			return
		}

		var settings bucket.CacheSettings

		if err := json.Unmarshal(body, &settings); err != nil || settings.Validate() != nil {
			Log.Warningf("POST /caches: Unable to parse cache settings body")

			writeError(w, http.StatusBadRequest, ECacheSettingsBody)

			return
		}

		if err := clusterEndpoint.ClusterFacade.CreateCache(r.Context(), settings); err != nil {
			Log.Warningf("POST /caches: Unable to create cache %s: %v", settings.Name, err)

			if err == ECacheExists {
				writeError(w, http.StatusConflict, ECacheExists)
			} else {
				writeError(w, http.StatusInternalServerError, EProposalError)
			}

			return
		}

		writeOK(w)
	}).Methods("POST")

	router.HandleFunc("/caches/{cache}", func(w http.ResponseWriter, r *http.Request) {
		cacheName := mux.Vars(r)["cache"]

		if err := clusterEndpoint.ClusterFacade.DeleteCache(r.Context(), cacheName); err != nil {
			Log.Warningf("DELETE /caches/{cache}: Unable to delete cache %s: %v", cacheName, err)

			if err == ENoSuchCache {
				writeError(w, http.StatusNotFound, ENoSuchCache)
			} else {
				writeError(w, http.StatusInternalServerError, EProposalError)
			}

			return
		}

		writeOK(w)
	}).Methods("DELETE")

	router.HandleFunc("/caches/{cache}/directory", func(w http.ResponseWriter, r *http.Request) {
		// The ownership of every bucket of a cache at one storage number
		cacheName := mux.Vars(r)["cache"]
		var storage uint64

		if storageParam := r.URL.Query().Get("storage"); storageParam != "" {
			var err error

			storage, err = strconv.ParseUint(storageParam, 10, 64)

			if err != nil {
				Log.Warningf("GET /caches/{cache}/directory: Invalid storage number %s", storageParam)

				w.Header().Set("Content-Type", "application/json; charset=utf8")
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, "\n")

				return
			}
		}

		entries, err := clusterEndpoint.ClusterFacade.Directory(cacheName, storage)

		if err == bucket.ENoSuchCache {
			writeError(w, http.StatusNotFound, ENoSuchCache)

			return
		}

		if err != nil {
			Log.Warningf("GET /caches/{cache}/directory: %v", err)

			writeError(w, http.StatusNotFound, ENoSuchBucket)

			return
		}

		ownership := make([]BucketOwnership, 0, len(entries))

		for bucketNumber, entry := range entries {
			ownership = append(ownership, NewBucketOwnership(storage, uint64(bucketNumber), entry))
		}

		writeJSON(w, ownership)
	}).Methods("GET")
}
