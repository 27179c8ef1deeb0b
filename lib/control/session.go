// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package control

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipe2phone/pipe2phone/lib/codec"
)

// A session is one TLS connection from a phone. It lives exactly as long as
// the connection.
type session struct {
	conn    net.Conn
	tlsCfg  *tls.Config
	opts    Options
	limiter *rate.Limiter
	handled atomic.Int64
}

func newSession(conn net.Conn, tlsCfg *tls.Config, opts Options) *session {
	return &session{
		conn:    conn,
		tlsCfg:  tlsCfg,
		opts:    opts,
		limiter: newLimiter(opts),
	}
}

func (s *session) String() string {
	return fmt.Sprintf("session(%s)", s.conn.RemoteAddr())
}

func (s *session) close() {
	s.conn.Close()
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close()

	result := s.serve(ctx)
	metricSessionsTotal.WithLabelValues(result).Inc()
	l.Debugf("%v ended (%s) after %d messages", s, result, s.handled.Load())
}

func (s *session) serve(ctx context.Context) string {
	tc := tls.Server(s.conn, s.tlsCfg)
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	err := tc.HandshakeContext(hctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return resultShutdown
		}
		l.Infof("TLS handshake with %s failed: %v", s.conn.RemoteAddr(), err)
		return resultHandshakeFailed
	}
	l.Debugf("%v connected (%s)", s, tls.VersionName(tc.ConnectionState().Version))

	dec := codec.NewDecoder(tc)
	enc := codec.NewEncoder(tc)
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			switch {
			case ctx.Err() != nil:
				return resultShutdown
			case errors.Is(err, io.EOF):
				return resultClosed
			case errors.Is(err, net.ErrClosed):
				return resultShutdown
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				l.Debugf("%v: %v", s, err)
				return resultClosed
			}
			l.Infof("%v: protocol violation, closing: %v", s, err)
			return resultProtocolError
		}

		t0 := time.Now()
		if err := s.limiter.Wait(ctx); err != nil {
			return resultShutdown
		}
		if waited := time.Since(t0); waited > time.Millisecond {
			metricRateLimitedSeconds.Add(waited.Seconds())
		}

		metricMessagesTotal.WithLabelValues(metricType(msg.Type)).Inc()
		s.handled.Add(1)
		resp := reply(msg)
		l.Debugf("%v: %v -> %v", s, msg, resp)
		if err := enc.Encode(resp); err != nil {
			if ctx.Err() != nil {
				return resultShutdown
			}
			l.Debugf("%v: writing reply: %v", s, err)
			return resultClosed
		}
	}
}
