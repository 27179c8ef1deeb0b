// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/pipe2phone/pipe2phone/lib/build"
	"github.com/pipe2phone/pipe2phone/lib/locations"
	"github.com/pipe2phone/pipe2phone/lib/logger"
	"github.com/pipe2phone/pipe2phone/lib/pipe2phone"
	"github.com/pipe2phone/pipe2phone/lib/svcutil"
)

var l = logger.DefaultLogger.NewFacility("main", "Main package")

type CLI struct {
	Home   string `name:"home" placeholder:"DIR" env:"PIPE2PHONE_HOME" help:"Configuration directory, created with a default configuration on first run (default ~/.pipe2phone)"`
	Config string `name:"config" short:"c" placeholder:"PATH" env:"PIPE2PHONE_CONFIG" help:"Configuration file (default pipe2phone.yml in the configuration directory). It is never created."`
	Debug  bool   `help:"Enable debug logging for all facilities"`

	Serve       serveCmd       `cmd:"" default:"withargs" help:"Advertise the server and serve phones (default)"`
	Fingerprint fingerprintCmd `cmd:"" help:"Print the certificate fingerprint and exit"`
	Version     versionCmd     `cmd:"" help:"Show version and exit"`
}

func (cli *CLI) AfterApply() error {
	if cli.Home != "" {
		home, err := locations.ExpandTilde(cli.Home)
		if err != nil {
			return err
		}
		if err := locations.SetBaseDir(locations.ConfigBaseDir, home); err != nil {
			return err
		}
	}
	if cli.Debug {
		logger.DefaultLogger.SetFlags(logger.DebugFlags)
		for facility := range logger.DefaultLogger.Facilities() {
			logger.DefaultLogger.SetDebug(facility, true)
		}
	}
	return nil
}

func (cli *CLI) options() pipe2phone.Options {
	return pipe2phone.Options{
		ConfigFile:    cli.Config,
		CreateDefault: true,
	}
}

type serveCmd struct{}

func (serveCmd) Run(cli *CLI) error {
	l.Infoln(build.LongVersion)

	setup, err := pipe2phone.Prepare(cli.options())
	if err != nil {
		return err
	}
	app, err := pipe2phone.New(setup)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		l.Infoln("Shutting down")
		app.Stop(svcutil.ExitSuccess)
	}()

	status := app.Wait()
	if err := app.Error(); err != nil {
		return err
	}
	if status != svcutil.ExitSuccess {
		os.Exit(status.AsInt())
	}
	return nil
}

type fingerprintCmd struct{}

func (fingerprintCmd) Run(cli *CLI) error {
	setup, err := pipe2phone.Prepare(cli.options())
	if err != nil {
		return err
	}
	fmt.Println(setup.KeyMaterial.Fingerprint())
	return nil
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println(build.LongVersion)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pipe2phone"),
		kong.Description("Run shell commands from your phone over the local network."),
		kong.Bind(&cli),
	)
	// Configuration and TLS errors end up here and exit with status 1.
	ctx.FatalIfErrorf(ctx.Run())
}
