package storage

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
	prometheusStorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicecache_storage_errors",
		Help: "Counts the number of errors encountered in the bucket storage layer",
	}, []string{
		"operation",
		"path",
	})

	prometheusServingBuckets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devicecache_storage_serving_buckets",
		Help: "The number of buckets the local node is serving",
	})
)

func init() {
	prometheus.MustRegister(prometheusStorageErrors, prometheusServingBuckets)
}

func prometheusRecordStorageError(operation, path string) {
	prometheusStorageErrors.With(prometheus.Labels{
		"operation": operation,
		"path":      path,
	}).Inc()
}
