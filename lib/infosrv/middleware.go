// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package infosrv

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder remembers the status code and the number of bytes written.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(bs []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(bs)
	r.written += int64(n)
	return n, err
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// routeLabel keeps the metric label set bounded.
func routeLabel(path string) string {
	switch path {
	case "/", "/index.html", "/cert", "/qr.png":
		return path
	default:
		return "other"
	}
}

func metricsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		rec, ok := w.(*statusRecorder)
		if !ok {
			rec = &statusRecorder{ResponseWriter: w}
		}
		t0 := time.Now()
		h.ServeHTTP(rec, r)
		metricRequestSeconds.WithLabelValues(route).Observe(time.Since(t0).Seconds())
		metricRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code())).Inc()
	})
}

func debugMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldDebugHTTP() {
			h.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w}
		t0 := time.Now()
		h.ServeHTTP(rec, r)
		ms := 1000 * time.Since(t0).Seconds()
		l.Debugf("http: %s %q from %s: status %d, %d bytes in %.02f ms", r.Method, r.URL.String(), r.RemoteAddr, rec.code(), rec.written, ms)
	})
}
