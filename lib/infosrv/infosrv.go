// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package infosrv implements the plaintext HTTP endpoint that lets a phone
// learn about the server and download its certificate before it can use the
// secure control channel.
package infosrv

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/vitrun/qart/qr"

	"github.com/pipe2phone/pipe2phone/lib/build"
)

const (
	CertContentType        = "application/x-x509-ca-cert"
	CertContentDisposition = `attachment; filename="cert.pem"`

	readTimeout     = 15 * time.Second
	shutdownTimeout = 100 * time.Millisecond
)

//go:embed templates
var templates embed.FS

var indexTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

// Options is what the landing page shows. None of it changes while the
// server runs.
type Options struct {
	Title       string
	Description string
	Hostname    string
	CertFile    string
	Fingerprint string
	SecurePort  int
}

type Service struct {
	opts    Options
	handler http.Handler

	mut      sync.Mutex
	addr     string
	bound    net.Addr
	listener net.Listener
}

func New(addr string, opts Options) *Service {
	s := &Service{
		opts: opts,
		addr: addr,
	}
	s.handler = s.newHandler()
	return s
}

func (s *Service) newHandler() http.Handler {
	router := httprouter.New()
	// Unknown methods on known paths are "not found" like everything else.
	router.HandleMethodNotAllowed = false
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.HandlerFunc(http.MethodGet, "/", s.getIndex)
	router.HandlerFunc(http.MethodGet, "/index.html", s.getIndex)
	router.HandlerFunc(http.MethodGet, "/cert", s.getCert)
	router.HandlerFunc(http.MethodGet, "/qr.png", s.getQR)

	return debugMiddleware(metricsMiddleware(router))
}

// Handler returns the HTTP handler serving all routes.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Listen binds the listening socket. It is called before Serve so that the
// port is known, even when port zero was requested.
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
		return fmt.Errorf("info endpoint: %w", err)
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
		l.Warnln("Starting info endpoint:", err)
		return err
	}
	defer listener.Close()

	srv := http.Server{
		Handler:           s.handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		// Prevent the HTTP server from logging stuff on its own. The things
		// we care about we log ourselves from the handlers.
		ErrorLog: log.New(io.Discard, "", 0),
	}

	l.Infoln("Info endpoint listening on", listener.Addr())

	serveError := make(chan error, 1)
	go func() {
		serveError <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		l.Debugln("shutting down (stop)")
		err = nil
	case err = <-serveError:
		l.Warnln("Info endpoint:", err, "(restarting)")
	}

	timeout, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(timeout); errors.Is(err, context.DeadlineExceeded) {
		srv.Close()
	}

	return err
}

func (s *Service) String() string {
	return fmt.Sprintf("infosrv.Service@%p", s)
}

type indexData struct {
	Options
	Version string
}

func (s *Service) getIndex(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, indexData{Options: s.opts, Version: build.LongVersion}); err != nil {
		l.Warnln("Rendering index:", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}

// getCert reads the certificate from disk on every request, so the phone
// always gets exactly the file the fingerprint was computed from.
func (s *Service) getCert(w http.ResponseWriter, _ *http.Request) {
	data, err := os.ReadFile(s.opts.CertFile)
	if err != nil {
		l.Warnln("Reading certificate:", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", CertContentType)
	w.Header().Set("Content-Disposition", CertContentDisposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
	metricCertDownloadsTotal.Inc()
}

func (*Service) getQR(w http.ResponseWriter, r *http.Request) {
	text := "http://" + r.Host + "/cert"
	code, err := qr.Encode(text, qr.M)
	if err != nil {
		l.Debugln("Encoding QR code:", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(code.PNG())
}
