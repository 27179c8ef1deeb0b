// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package beacon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipe2phone",
		Subsystem: "beacon",
		Name:      "broadcasts_total",
		Help:      "Number of discovery broadcasts attempted, by result.",
	}, []string{"result"})
	metricBroadcastBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pipe2phone",
		Subsystem: "beacon",
		Name:      "broadcast_bytes_total",
		Help:      "Number of payload bytes sent in discovery broadcasts.",
	})
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

func init() {
	metricBroadcastsTotal.WithLabelValues(resultSuccess)
	metricBroadcastsTotal.WithLabelValues(resultFailure)
}
