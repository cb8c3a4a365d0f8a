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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheusChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicecache_transfer_chunks_total",
		Help: "Counts bucket chunks sent and received",
	}, []string{
		"direction",
	})

	prometheusTransfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicecache_transfers_total",
		Help: "Counts bucket content transfers by direction and result",
	}, []string{
		"direction",
		"result",
	})

	prometheusActiveTransfers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devicecache_transfers_active",
		Help: "The number of bucket content transfers in progress at this node",
	})
)

func init() {
	prometheus.MustRegister(prometheusChunks, prometheusTransfers, prometheusActiveTransfers)
}

func prometheusRecordChunk(direction string) {
	prometheusChunks.With(prometheus.Labels{"direction": direction}).Inc()
}

func prometheusRecordTransfer(direction string, err error) {
	result := "success"

	if err == ETransferCancelled {
		result = "cancelled"
	} else if err != nil {
		result = "failure"
	}

	prometheusTransfers.With(prometheus.Labels{"direction": direction, "result": result}).Inc()
}
