// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pipe2phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipe2phone/pipe2phone/lib/config"
	"github.com/pipe2phone/pipe2phone/lib/svcutil"
)

// newMetricsService exposes the Prometheus registry on its own listener,
// apart from the phone facing endpoints.
func newMetricsService(addr string) svcutil.ServiceWithError {
	return svcutil.AsService(func(ctx context.Context) error {
		return serveMetrics(ctx, addr)
	}, "pipe2phone.metrics")
}

func serveMetrics(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		// The address comes from the configuration; retrying won't help.
		cfgErr := &config.ConfigurationError{Err: fmt.Errorf("metrics_address %s: %w", addr, err)}
		return svcutil.AsFatalErr(cfgErr, svcutil.ExitError)
	}
	defer listener.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}

	l.Infoln("Metrics available at", "http://"+listener.Addr().String()+"/metrics")

	serveError := make(chan error, 1)
	go func() {
		serveError <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-serveError:
		l.Warnln("Metrics listener:", err, "(restarting)")
	}

	timeout, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(timeout); errors.Is(err, context.DeadlineExceeded) {
		srv.Close()
	}
	return err
}
