// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package locations

import (
	"path/filepath"
	"testing"
)

func TestSetBaseDir(t *testing.T) {
	orig := baseDirs[ConfigBaseDir]
	defer SetBaseDir(ConfigBaseDir, orig)

	dir := t.TempDir()
	if err := SetBaseDir(ConfigBaseDir, dir); err != nil {
		t.Fatal(err)
	}

	if got, exp := Get(ConfigFile), filepath.Join(dir, "pipe2phone.yml"); got != exp {
		t.Errorf("Get(%s) == %q, expected %q", ConfigFile, got, exp)
	}

	if err := SetBaseDir("nonexistent", dir); err == nil {
		t.Error("unexpected nil error for unknown base dir")
	}
}

func TestDefaultLocation(t *testing.T) {
	t.Setenv("HOME", "/home/user")

	exp := filepath.FromSlash("/home/user/.pipe2phone/pipe2phone.yml")
	if got := Get(ConfigFile); got != exp {
		t.Errorf("Get(%s) == %q, expected %q", ConfigFile, got, exp)
	}
}

func TestExpandTilde(t *testing.T) {
	t.Setenv("HOME", "/home/user")

	cases := []struct {
		in, out string
	}{
		{"~", "/home/user"},
		{"~/.pipe2phone", "/home/user/.pipe2phone"},
		{"/etc/pipe2phone", "/etc/pipe2phone"},
		{"relative/~/path", "relative/~/path"},
	}
	for _, c := range cases {
		got, err := ExpandTilde(c.in)
		if err != nil {
			t.Fatal(err)
		}
		if got != filepath.FromSlash(c.out) {
			t.Errorf("ExpandTilde(%q) == %q, expected %q", c.in, got, c.out)
		}
	}
}
