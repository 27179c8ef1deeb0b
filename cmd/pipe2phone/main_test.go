// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/pipe2phone/pipe2phone/lib/locations"
)

func TestCommandLine(t *testing.T) {
	cases := []struct {
		args    []string
		env     string
		command string
		config  string
		debug   bool
	}{
		{nil, "", "serve", "", false},
		{[]string{"--debug"}, "", "serve", "", true},
		{[]string{"-c", "/tmp/p2p.yml", "serve"}, "", "serve", "/tmp/p2p.yml", false},
		{[]string{"fingerprint"}, "/etc/p2p.yml", "fingerprint", "/etc/p2p.yml", false},
		{[]string{"version"}, "", "version", "", false},
	}

	t.Setenv("PIPE2PHONE_HOME", "")
	for _, tc := range cases {
		t.Setenv("PIPE2PHONE_CONFIG", tc.env)

		var cli CLI
		parser, err := kong.New(&cli, kong.Name("pipe2phone"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
		if err != nil {
			t.Fatal(err)
		}
		ctx, err := parser.Parse(tc.args)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if cmd := ctx.Command(); cmd != tc.command {
			t.Errorf("%v: command %q, expected %q", tc.args, cmd, tc.command)
		}
		if cli.Config != tc.config {
			t.Errorf("%v: config %q, expected %q", tc.args, cli.Config, tc.config)
		}
		if cli.Debug != tc.debug {
			t.Errorf("%v: debug %v, expected %v", tc.args, cli.Debug, tc.debug)
		}
	}
}

func TestHomeFlag(t *testing.T) {
	orig := filepath.Dir(locations.Get(locations.ConfigFile))
	t.Cleanup(func() { _ = locations.SetBaseDir(locations.ConfigBaseDir, orig) })

	home := t.TempDir()
	t.Setenv("PIPE2PHONE_HOME", "")
	t.Setenv("PIPE2PHONE_CONFIG", "")

	var cli CLI
	parser, err := kong.New(&cli, kong.Name("pipe2phone"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"--home", home, "fingerprint"}); err != nil {
		t.Fatal(err)
	}
	if got, exp := locations.Get(locations.ConfigFile), filepath.Join(home, locations.ConfigFileName); got != exp {
		t.Errorf("config file %q, expected %q", got, exp)
	}
}
