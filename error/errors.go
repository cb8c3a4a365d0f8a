package error

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
)

type CacheError struct {
	Msg       string `json:"message"`
	ErrorCode int    `json:"code"`
}

func (cacheError CacheError) Error() string {
	return cacheError.Msg
}

func (cacheError CacheError) Code() int {
	return cacheError.ErrorCode
}

func (cacheError CacheError) JSON() []byte {
	json, _ := json.Marshal(&cacheError)

	return json
}

// Retryable errors indicate a condition that is expected to clear
// once bucket ownership settles
func (cacheError CacheError) Retryable() bool {
	return cacheError.ErrorCode == eNOT_ACCESSIBLE || cacheError.ErrorCode == eNOT_OWNER
}

func CacheErrorFromJSON(encodedError []byte) (*CacheError, error) {
	var cacheError CacheError

	if err := json.Unmarshal(encodedError, &cacheError); err != nil {
		return nil, err
	}

	return &cacheError, nil
}

const (
	eEMPTY               = iota
	eSTORAGE             = iota
	eCORRUPTED           = iota
	eREAD_BODY           = iota
	eNODE_CONFIG_BODY    = iota
	eNO_SUCH_CACHE       = iota
	eNO_SUCH_BUCKET      = iota
	eNOT_ACCESSIBLE      = iota
	eNOT_OWNER           = iota
	eDUPLICATE_NODE_ID   = iota
	eREMOVED             = iota
	eSTOPPED             = iota
	eDECOMMISSIONED      = iota
	eBUCKET_COMMAND_BODY = iota
	eCACHE_SETTINGS_BODY = iota
	eINVALID_COMMAND     = iota
	eCACHE_EXISTS        = iota
	eNOT_IN_CLUSTER      = iota
	ePROPOSAL_ERROR      = iota
)

var (
	EEmpty             = CacheError{"Parameter was empty or nil", eEMPTY}
	EStorage           = CacheError{"The storage driver experienced an error", eSTORAGE}
	ECorrupted         = CacheError{"The storage medium is corrupted", eCORRUPTED}
	EReadBody          = CacheError{"Unable to read request body", eREAD_BODY}
	ENodeConfigBody    = CacheError{"Unable to parse node configuration body", eNODE_CONFIG_BODY}
	ENoSuchCache       = CacheError{"The specified cache does not exist", eNO_SUCH_CACHE}
	ENoSuchBucket      = CacheError{"The specified bucket does not exist", eNO_SUCH_BUCKET}
	ENotAccessible     = CacheError{"The bucket is not currently accessible. Retry once its ownership settles", eNOT_ACCESSIBLE}
	ENotOwner          = CacheError{"This node does not own the bucket for this key", eNOT_OWNER}
	EDuplicateNodeID   = CacheError{"The ID the node is using was already used by a cluster member at some point", eDUPLICATE_NODE_ID}
	ERemoved           = CacheError{"The node was removed from the cluster", eREMOVED}
	EStopped           = CacheError{"The node was stopped", eSTOPPED}
	EDecommissioned    = CacheError{"The node has been decommissioned", eDECOMMISSIONED}
	EBucketCommandBody = CacheError{"Unable to parse bucket command body", eBUCKET_COMMAND_BODY}
	ECacheSettingsBody = CacheError{"Unable to parse cache settings body", eCACHE_SETTINGS_BODY}
	EInvalidCommand    = CacheError{"The bucket command is not well formed", eINVALID_COMMAND}
	ECacheExists       = CacheError{"A cache with that name already exists", eCACHE_EXISTS}
	ENotInCluster      = CacheError{"This node is not a member of the cluster", eNOT_IN_CLUSTER}
	EProposalError     = CacheError{"Unable to submit the command to the cluster log", ePROPOSAL_ERROR}
)
