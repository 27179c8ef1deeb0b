// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pipe2phone",
		Subsystem: "control",
		Name:      "sessions_active",
		Help:      "Number of currently connected control sessions.",
	})
	metricSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipe2phone",
		Subsystem: "control",
		Name:      "sessions_total",
		Help:      "Number of control sessions ended, by how they ended.",
	}, []string{"result"})
	metricMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipe2phone",
		Subsystem: "control",
		Name:      "messages_total",
		Help:      "Number of control messages handled, by message type.",
	}, []string{"type"})
	metricRateLimitedSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pipe2phone",
		Subsystem: "control",
		Name:      "rate_limited_seconds_total",
		Help:      "Time spent waiting for the per session message rate limiter.",
	})
)

const (
	resultClosed          = "closed"
	resultHandshakeFailed = "handshake_failed"
	resultProtocolError   = "protocol_error"
	resultShutdown        = "shutdown"
)

func init() {
	for _, r := range []string{resultClosed, resultHandshakeFailed, resultProtocolError, resultShutdown} {
		metricSessionsTotal.WithLabelValues(r)
	}
}
