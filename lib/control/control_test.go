// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package control

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pipe2phone/pipe2phone/lib/codec"
	"github.com/pipe2phone/pipe2phone/lib/tlsutil"
)

var (
	testKeyOnce sync.Once
	testKeyDir  string
	testKey     *tlsutil.KeyMaterial
	testKeyErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if testKeyDir != "" {
		os.RemoveAll(testKeyDir)
	}
	os.Exit(code)
}

// keyMaterial generates one key pair for the whole package; RSA generation
// is slow.
func keyMaterial(t *testing.T) *tlsutil.KeyMaterial {
	t.Helper()
	testKeyOnce.Do(func() {
		dir, err := os.MkdirTemp("", "control-test")
		if err != nil {
			testKeyErr = err
			return
		}
		testKeyDir = dir
		testKey, testKeyErr = tlsutil.EnsureKeyMaterial(filepath.Join(dir, "key.pem"), filepath.Join(dir, "cert.pem"), "", tlsutil.DefaultCertificateOptions())
	})
	if testKeyErr != nil {
		t.Fatal(testKeyErr)
	}
	return testKey
}

// startService serves on a random loopback port. The returned stop function
// cancels the service and reports what Serve returned.
func startService(t *testing.T, opts Options) (*Service, func() error) {
	t.Helper()
	svc, err := New("127.0.0.1:0", keyMaterial(t), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	var once sync.Once
	var serveErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case serveErr = <-done:
			case <-time.After(10 * time.Second):
				serveErr = errors.New("Serve did not return")
			}
		})
		return serveErr
	}
	t.Cleanup(func() { _ = stop() })
	return svc, stop
}

func dial(t *testing.T, svc *Service) *tls.Conn {
	t.Helper()
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(keyMaterial(t).CertPEM) {
		t.Fatal("could not add certificate to pool")
	}
	conn, err := tls.Dial("tcp", svc.Addr().String(), &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, enc *codec.Encoder, dec *codec.Decoder, msg Message) Message {
	t.Helper()
	if err := enc.Encode(msg); err != nil {
		t.Fatal(err)
	}
	var resp Message
	if err := dec.Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestNewRejectsMissingCertificate(t *testing.T) {
	t.Parallel()

	_, err := New("127.0.0.1:0", &tlsutil.KeyMaterial{}, Options{})
	var tlsErr *tlsutil.TLSConfigurationError
	if !errors.As(err, &tlsErr) {
		t.Fatalf("got %v, expected a TLS configuration error", err)
	}
	if _, err := New("127.0.0.1:0", nil, Options{}); !errors.As(err, &tlsErr) {
		t.Fatalf("got %v, expected a TLS configuration error", err)
	}
}

func TestListenResolvesPort(t *testing.T) {
	t.Parallel()

	svc, err := New("127.0.0.1:0", keyMaterial(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if svc.Addr() != nil {
		t.Fatal("address known before Listen")
	}
	if err := svc.Listen(); err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	if port := svc.Addr().(*net.TCPAddr).Port; port == 0 {
		t.Fatal("port not resolved")
	}
}

func TestExchange(t *testing.T) {
	t.Parallel()

	svc, _ := startService(t, Options{})
	conn := dial(t, svc)
	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)

	cases := []struct {
		in  Message
		out Message
	}{
		{Message{Type: TypeHello, ID: 1, Body: "phone"}, Message{Type: TypeHello, ID: 1, Body: "Hello phone!"}},
		{Message{Type: TypePing, ID: 2, Body: "x"}, Message{Type: TypePong, ID: 2, Body: "x"}},
		{Message{Type: "launch", ID: 3}, Message{Type: TypeError, ID: 3, Body: `unknown message type "launch"`}},
		{Message{Type: TypeHello, ID: 4, Body: "again"}, Message{Type: TypeHello, ID: 4, Body: "Hello again!"}},
	}
	for _, tc := range cases {
		if got := exchange(t, enc, dec, tc.in); got != tc.out {
			t.Errorf("%v: got %+v, expected %+v", tc.in, got, tc.out)
		}
	}
}

func TestMalformedSessionIsolated(t *testing.T) {
	t.Parallel()

	svc, _ := startService(t, Options{})

	good := dial(t, svc)
	bad := dial(t, svc)
	goodEnc := codec.NewEncoder(good)
	goodDec := codec.NewDecoder(good)

	if got := exchange(t, goodEnc, goodDec, Message{Type: TypeHello, ID: 1, Body: "one"}); got.Body != "Hello one!" {
		t.Fatalf("unexpected reply %+v", got)
	}

	// A lone break code is not valid CBOR.
	if _, err := bad.Write([]byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatal(err)
	}
	_ = bad.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 16)
	if n, err := bad.Read(buf); err == nil {
		t.Fatalf("malformed session still open, read %d bytes", n)
	} else if errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatal("malformed session was not closed")
	}

	if got := exchange(t, goodEnc, goodDec, Message{Type: TypeHello, ID: 2, Body: "two"}); got.Body != "Hello two!" {
		t.Fatalf("unexpected reply %+v", got)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	svc, stop := startService(t, Options{})
	conn := dial(t, svc)
	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)
	exchange(t, enc, dec, Message{Type: TypePing, ID: 1})

	if err := stop(); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg Message
	if err := dec.Decode(&msg); err == nil {
		t.Fatal("session still open after shutdown")
	} else if errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatal("session was not closed on shutdown")
	}
	if n := svc.Sessions(); n != 0 {
		t.Errorf("%d sessions registered after shutdown", n)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	svc, _ := startService(t, Options{MaxMessageRate: 20, MessageBurst: 1})
	conn := dial(t, svc)
	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)

	t0 := time.Now()
	for i := 0; i < 5; i++ {
		exchange(t, enc, dec, Message{Type: TypePing, ID: uint64(i)})
	}
	// Four messages beyond the burst at 20/s take at least 200ms.
	if d := time.Since(t0); d < 150*time.Millisecond {
		t.Errorf("five messages handled in %v, rate limit not applied", d)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	t.Parallel()

	svc, _ := startService(t, Options{HandshakeTimeout: 100 * time.Millisecond})
	conn, err := net.Dial("tcp", svc.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Never start the handshake; the server gives up and closes.
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected the connection to be closed")
	} else if errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatal("handshake timeout not enforced")
	}
}
