// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pipe2phone wires the endpoints and the advertiser into one
// supervised application.
package pipe2phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/thejerf/suture/v4"

	"github.com/pipe2phone/pipe2phone/lib/beacon"
	"github.com/pipe2phone/pipe2phone/lib/config"
	"github.com/pipe2phone/pipe2phone/lib/control"
	"github.com/pipe2phone/pipe2phone/lib/infosrv"
	"github.com/pipe2phone/pipe2phone/lib/svcutil"
	"github.com/pipe2phone/pipe2phone/lib/tlsutil"
)

type App struct {
	cfg               config.Configuration
	km                *tlsutil.KeyMaterial
	hostname          string
	mainService       *suture.Supervisor
	control           *control.Service
	info              *infosrv.Service
	descriptor        beacon.Descriptor
	exitStatus        svcutil.ExitStatus
	err               error
	stopOnce          sync.Once
	mainServiceCancel context.CancelFunc
	stopped           chan struct{}
}

// New prepares an App from loaded configuration and key material. Nothing
// is bound until Start.
func New(setup *Setup) (*App, error) {
	cfg := setup.Config
	ctrl, err := control.New(cfg.SecureAddress(), setup.KeyMaterial, control.Options{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		MaxMessageRate:   cfg.Control.MaxMessageRate,
		MessageBurst:     cfg.Control.MessageBurst,
	})
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		l.Debugln("Looking up host name:", err)
	}

	a := &App{
		cfg:      cfg,
		km:       setup.KeyMaterial,
		hostname: hostname,
		control:  ctrl,
		stopped:  make(chan struct{}),
	}
	close(a.stopped) // Hasn't been started, so shouldn't block on Wait.
	return a, nil
}

// Start binds both endpoints, then starts advertising them. It returns once
// everything is running. Must be called once only.
func (a *App) Start() error {
	spec := svcutil.SupervisorSpec(l)
	a.mainService = suture.New("main", spec)

	// Start the supervisor and wait for it to stop to handle cleanup.
	a.stopped = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	a.mainServiceCancel = cancel
	errChan := a.mainService.ServeBackground(ctx)
	go a.wait(errChan)

	if err := a.startup(); err != nil {
		a.control.Close()
		if a.info != nil {
			a.info.Close()
		}
		a.stopWithErr(svcutil.ExitError, err)
		return err
	}
	return nil
}

func (a *App) startup() error {
	if err := a.control.Listen(); err != nil {
		return err
	}
	securePort := port(a.control.Addr())

	a.info = infosrv.New(a.cfg.InfoAddress(), infosrv.Options{
		Title:       a.cfg.ServerTitle,
		Description: a.cfg.ServerDescription,
		Hostname:    a.hostname,
		CertFile:    a.km.CertFile,
		Fingerprint: a.km.Fingerprint(),
		SecurePort:  securePort,
	})
	if err := a.info.Listen(); err != nil {
		return err
	}
	infoPort := port(a.info.Addr())

	// Both ports are bound at this point; the descriptor only ever carries
	// real ports.
	desc, err := beacon.NewDescriptor(a.cfg.ServerTitle, a.cfg.ServerDescription, infoPort, securePort, a.km.Fingerprint())
	if err != nil {
		return err
	}
	adv, err := beacon.NewAdvertiser(a.cfg.AdvertisingAddress, a.cfg.AdvertisingPort, a.cfg.AdvertisingIntervalDuration(), desc)
	if err != nil {
		return &config.ConfigurationError{Err: err}
	}
	a.descriptor = desc

	a.mainService.Add(a.control)
	a.mainService.Add(a.info)
	if a.cfg.MetricsAddress != "" {
		a.mainService.Add(newMetricsService(a.cfg.MetricsAddress))
	}
	a.mainService.Add(adv)

	l.Infof("Serving %q: info port %d, secure port %d", a.cfg.ServerTitle, infoPort, securePort)
	l.Infoln("Certificate fingerprint", desc.CertFingerprint)
	return nil
}

func port(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Descriptor is what the advertiser broadcasts. It is the zero value until
// Start has succeeded.
func (a *App) Descriptor() beacon.Descriptor {
	return a.descriptor
}

// InfoAddr is the bound address of the plaintext info endpoint.
func (a *App) InfoAddr() net.Addr {
	if a.info == nil {
		return nil
	}
	return a.info.Addr()
}

// ControlAddr is the bound address of the secure control endpoint.
func (a *App) ControlAddr() net.Addr {
	return a.control.Addr()
}

func (a *App) wait(errChan <-chan error) {
	err := <-errChan
	a.handleMainServiceError(err)

	l.Infoln("Exiting")

	close(a.stopped)
}

func (a *App) handleMainServiceError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	var fatalErr *svcutil.FatalErr
	if errors.As(err, &fatalErr) {
		a.exitStatus = fatalErr.Status
		a.err = fatalErr.Err
		return
	}
	a.err = err
	a.exitStatus = svcutil.ExitError
}

// Wait blocks until the app stops running. Also returns if the app hasn't been
// started yet.
func (a *App) Wait() svcutil.ExitStatus {
	<-a.stopped
	return a.exitStatus
}

// Error returns an error if one occurred while running the app. It does not wait
// for the app to stop before returning.
func (a *App) Error() error {
	select {
	case <-a.stopped:
		return a.err
	default:
	}
	return nil
}

// Stop stops the app and sets its exit status to given reason, unless the app
// was already stopped before. In any case it returns the effective exit status.
func (a *App) Stop(stopReason svcutil.ExitStatus) svcutil.ExitStatus {
	return a.stopWithErr(stopReason, nil)
}

func (a *App) stopWithErr(stopReason svcutil.ExitStatus, err error) svcutil.ExitStatus {
	a.stopOnce.Do(func() {
		if a.mainServiceCancel == nil {
			// Never started.
			return
		}
		a.exitStatus = stopReason
		a.err = err
		if shouldDebug() {
			l.Debugln("Services before stop:")
			printServiceTree(os.Stdout, a.mainService, 0)
		}
		a.mainServiceCancel()
	})
	<-a.stopped
	return a.exitStatus
}

type supervisor interface{ Services() []suture.Service }

func printServiceTree(w io.Writer, sup supervisor, level int) {
	printService(w, sup, level)

	svcs := sup.Services()
	sort.Slice(svcs, func(a, b int) bool {
		return fmt.Sprint(svcs[a]) < fmt.Sprint(svcs[b])
	})

	for _, svc := range svcs {
		if sub, ok := svc.(supervisor); ok {
			printServiceTree(w, sub, level+1)
		} else {
			printService(w, svc, level+1)
		}
	}
}

func printService(w io.Writer, svc interface{}, level int) {
	t := "-"
	if _, ok := svc.(supervisor); ok {
		t = "+"
	}
	fmt.Fprintln(w, strings.Repeat("  ", level), t, svc)
}
