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
	"time"

	"github.com/PelionIoT/devicecache/bucket"
	. "github.com/PelionIoT/devicecache/logging"
)

// BucketCommandProposer submits a bucket command to the replicated log and
// waits until the local node has applied it
type BucketCommandProposer interface {
	BucketCommand(ctx context.Context, command bucket.BucketCommand) error
}

// TransferProposer reports the outcome of a content copy back to the
// cluster. A successful copy of a begun transfer is reported as Finish and
// a failed one as Cancel.
type TransferProposer struct {
	proposer BucketCommandProposer
}

func NewTransferProposer(proposer BucketCommandProposer) *TransferProposer {
	return &TransferProposer{
		proposer: proposer,
	}
}

// OutcomeOf returns the command that reports the outcome of the transfer
// begun by begin
func OutcomeOf(begin bucket.BucketCommand, err error) bucket.BucketCommand {
	if err != nil {
		return bucket.NewCancelBucketTransferCommand(begin.CacheName, begin.Roles.CurrentOwner, begin.Roles.NewOwner, begin.SourceStorage, begin.DestinationStorage, begin.Buckets)
	}

	return bucket.NewFinishBucketTransferCommand(begin.CacheName, begin.Roles.CurrentOwner, begin.Roles.NewOwner, begin.SourceStorage, begin.DestinationStorage, begin.Buckets)
}

// ProposeOutcome proposes the outcome command, retrying with backoff until
// it is applied locally or ctx is done
func (transferProposer *TransferProposer) ProposeOutcome(ctx context.Context, begin bucket.BucketCommand, transferErr error) error {
	return transferProposer.Propose(ctx, OutcomeOf(begin, transferErr))
}

func (transferProposer *TransferProposer) Propose(ctx context.Context, command bucket.BucketCommand) error {
	retryTimeoutSeconds := 0

	for {
		if retryTimeoutSeconds != 0 {
			select {
			case <-time.After(time.Second * time.Duration(retryTimeoutSeconds)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := transferProposer.proposer.BucketCommand(ctx, command)

		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		Log.Warningf("Unable to propose %v: %v", command, err.Error())

		if retryTimeoutSeconds == 0 {
			retryTimeoutSeconds = 1
		} else if retryTimeoutSeconds != RetryTimeoutMax {
			retryTimeoutSeconds *= 2
		}
	}
}
