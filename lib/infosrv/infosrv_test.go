// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package infosrv

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testCert = "-----BEGIN CERTIFICATE-----\nMIIBdummy\n-----END CERTIFICATE-----\n"

func testOptions(t *testing.T) Options {
	t.Helper()
	certFile := filepath.Join(t.TempDir(), "cert.pem")
	if err := os.WriteFile(certFile, []byte(testCert), 0o600); err != nil {
		t.Fatal(err)
	}
	return Options{
		Title:       "Kitchen <PC>",
		Description: "by the fridge",
		Hostname:    "kitchen",
		CertFile:    certFile,
		Fingerprint: "abc123",
		SecurePort:  8443,
	}
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", testOptions(t))
	for _, path := range []string{"/", "/index.html"} {
		rec := get(t, s.Handler(), http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: content type %q", path, ct)
		}
		body := rec.Body.String()
		for _, want := range []string{"Kitchen &lt;PC&gt;", "by the fridge", "kitchen", "abc123", "8443", `href="/cert"`} {
			if !strings.Contains(body, want) {
				t.Errorf("%s: body lacks %q", path, want)
			}
		}
	}
}

func TestCert(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", testOptions(t))
	rec := get(t, s.Handler(), http.MethodGet, "/cert")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Body.String(); got != testCert {
		t.Errorf("got %q, expected the exact file content", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != CertContentType {
		t.Errorf("content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != CertContentDisposition {
		t.Errorf("content disposition %q", cd)
	}
}

func TestCertUnreadable(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	opts.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	s := New("127.0.0.1:0", opts)
	if rec := get(t, s.Handler(), http.MethodGet, "/cert"); rec.Code != http.StatusInternalServerError {
		t.Errorf("status %d, expected 500", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", testOptions(t))
	cases := []struct{ method, path string }{
		{http.MethodGet, "/favicon.ico"},
		{http.MethodGet, "/cert/"},
		{http.MethodGet, "/cert.pem"},
		{http.MethodGet, "/../cert"},
		{http.MethodPost, "/cert"},
		{http.MethodDelete, "/"},
	}
	for _, tc := range cases {
		if rec := get(t, s.Handler(), tc.method, tc.path); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status %d, expected 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestQR(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", testOptions(t))
	rec := get(t, s.Handler(), http.MethodGet, "/qr.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Error("not a PNG:", err)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", testOptions(t))
	if s.Addr() != nil {
		t.Fatal("address known before Listen")
	}
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	addr := s.Addr()
	if addr == nil || strings.HasSuffix(addr.String(), ":0") {
		t.Fatalf("unresolved address %v", addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Serve(ctx) }()

	resp, err := http.Get("http://" + addr.String() + "/cert")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != testCert {
		t.Errorf("got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}

	// The listener is closed once Serve returns.
	client := http.Client{Timeout: time.Second}
	if resp, err := client.Get("http://" + addr.String() + "/"); err == nil {
		resp.Body.Close()
		t.Error("still serving after shutdown")
	}

	// A restart binds the same address again.
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	if s.Addr().String() != addr.String() {
		t.Errorf("rebound to %v, expected %v", s.Addr(), addr)
	}
}
