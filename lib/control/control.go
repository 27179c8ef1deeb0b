// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package control implements the TLS protected control channel the phone
// connects to once it has installed the server certificate.
package control

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipe2phone/pipe2phone/lib/tlsutil"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxMessageRate   = 50
	DefaultMessageBurst     = 100

	acceptBackoff = 100 * time.Millisecond
)

var errNoCertificate = errors.New("no certificate loaded")

type Options struct {
	HandshakeTimeout time.Duration
	// MaxMessageRate is the sustained number of messages per second handled
	// for one session; MessageBurst messages may be handled back to back.
	MaxMessageRate float64
	MessageBurst   int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.MaxMessageRate <= 0 {
		o.MaxMessageRate = DefaultMaxMessageRate
	}
	if o.MessageBurst < 1 {
		o.MessageBurst = DefaultMessageBurst
	}
	return o
}

type Service struct {
	tlsCfg *tls.Config
	opts   Options

	mut      sync.Mutex
	addr     string
	bound    net.Addr
	listener net.Listener
	sessions map[*session]struct{}
}

// New returns a control endpoint serving the given key material. Material
// that can't be served is a *tlsutil.TLSConfigurationError.
func New(addr string, km *tlsutil.KeyMaterial, opts Options) (*Service, error) {
	if km == nil || len(km.Certificate.Certificate) == 0 || km.Certificate.PrivateKey == nil {
		return nil, &tlsutil.TLSConfigurationError{Err: errNoCertificate}
	}
	return &Service{
		tlsCfg:   tlsutil.ServerConfig(km.Certificate),
		opts:     opts.withDefaults(),
		addr:     addr,
		sessions: make(map[*session]struct{}),
	}, nil
}

// Listen binds the listening socket ahead of Serve so that the port can be
// advertised.
func (s *Service) Listen() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.listenLocked()
}

func (s *Service) listenLocked() error {
	if s.listener != nil {
		return nil
	}
	addr := s.addr
	if s.bound != nil {
		// Rebind the port we already announced.
		addr = s.bound.String()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control endpoint: %w", err)
	}
	s.listener = listener
	s.bound = listener.Addr()
	return nil
}

// Close releases a listener bound by Listen that Serve has not taken over.
func (s *Service) Close() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

// Addr returns the bound address, or nil before Listen.
func (s *Service) Addr() net.Addr {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.bound
}

func (s *Service) Serve(ctx context.Context) error {
	s.mut.Lock()
	err := s.listenLocked()
	listener := s.listener
	s.listener = nil
	s.mut.Unlock()
	if err != nil {
		l.Warnln("Starting control endpoint:", err)
		return err
	}

	l.Infoln("Control endpoint listening on", listener.Addr())

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		listener.Close()
		s.closeSessions()
		wg.Wait()
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.Debugln("shutting down (stop)")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				l.Debugln("Accepting control connection:", err)
				time.Sleep(acceptBackoff)
				continue
			}
			l.Warnln("Control endpoint:", err, "(restarting)")
			return err
		}

		sess := newSession(conn, s.tlsCfg, s.opts)
		if !s.register(sess) {
			conn.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.unregister(sess)
			sess.run(ctx)
		}()
	}
}

// register records a live session. It fails once shutdown has begun.
func (s *Service) register(sess *session) bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.sessions == nil {
		return false
	}
	s.sessions[sess] = struct{}{}
	metricSessionsActive.Inc()
	return true
}

func (s *Service) unregister(sess *session) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if _, ok := s.sessions[sess]; ok {
		delete(s.sessions, sess)
		metricSessionsActive.Dec()
	}
}

// closeSessions closes the connection of every live session and resets the
// registry for a later restart.
func (s *Service) closeSessions() {
	s.mut.Lock()
	live := s.sessions
	s.sessions = nil
	s.mut.Unlock()

	for sess := range live {
		sess.close()
		metricSessionsActive.Dec()
	}

	s.mut.Lock()
	s.sessions = make(map[*session]struct{})
	s.mut.Unlock()
}

// Sessions returns the number of live sessions.
func (s *Service) Sessions() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return len(s.sessions)
}

func (s *Service) String() string {
	return fmt.Sprintf("control.Service@%p", s)
}

func newLimiter(opts Options) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(opts.MaxMessageRate), opts.MessageBurst)
}
