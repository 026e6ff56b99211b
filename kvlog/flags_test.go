// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kvlog_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/prkty/kpintos/kvlog"
)

func TestFlags(t *testing.T) {
	tmp := filepath.Join(os.TempDir(), "kpintos-log-test")
	if err := flag.Set("log_dir", tmp); err != nil {
		t.Fatal(err)
	}
	if err := flag.Set("vmodule", "dispatch=2"); err != nil {
		t.Fatal(err)
	}
	flags := kvlog.Log.ExplicitlySetFlags()
	if v, ok := flags["log_dir"]; !ok || v != tmp {
		t.Fatalf("log_dir was supposed to be %v, got %v", tmp, v)
	}
	if v, ok := flags["vmodule"]; !ok || v != "dispatch=2" {
		t.Fatalf("vmodule was supposed to be dispatch=2, got %v", v)
	}
	if f := flag.Lookup("max_stack_buf_size"); f == nil {
		t.Fatalf("max_stack_buf_size is not a flag")
	}
}
