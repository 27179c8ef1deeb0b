// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package infosrv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipe2phone",
		Subsystem: "infosrv",
		Name:      "requests_total",
		Help:      "Number of HTTP requests served, by route and status code.",
	}, []string{"route", "code"})
	metricRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pipe2phone",
		Subsystem: "infosrv",
		Name:      "request_seconds",
		Help:      "Time spent serving HTTP requests, by route.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"route"})
	metricCertDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pipe2phone",
		Subsystem: "infosrv",
		Name:      "cert_downloads_total",
		Help:      "Number of successful certificate downloads.",
	})
)
