// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package stateful

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/frankban/quicktest"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
)

// fakeDUT emulates a device carrying stateful_update at scriptPath.
// Helper runs are answered by apply.
func fakeDUT(scriptPath string, apply func(cmd string) error) (target.Runner, *[]string) {
	var commands []string
	return target.RunnerFunc(func(ctx context.Context, cmd string, opts target.RunOptions) (target.Result, error) {
		if opts.IgnoreStatus {
			if cmd == "[ -e "+scriptPath+" ]" {
				return target.Result{}, nil
			}
			return target.Result{ExitStatus: 1}, nil
		}
		commands = append(commands, cmd)
		return target.Result{}, apply(cmd)
	}), &commands
}

func TestApply(t *testing.T) {
	for name, test := range map[string]struct {
		script  string
		clobber bool
		cmd     string
	}{
		"preserve": {
			script:  "/usr/local/bin/stateful_update",
			clobber: false,
			cmd:     "/usr/local/bin/stateful_update http://devserver:8082/static/lumpy-release/R27-3837.0.0 2>&1",
		},
		"clobber": {
			script:  "/usr/local/bin/stateful_update",
			clobber: true,
			cmd: "/usr/local/bin/stateful_update http://devserver:8082/static/lumpy-release/R27-3837.0.0" +
				" --stateful_change=clean 2>&1",
		},
		"fallback-script-location": {
			script:  "/usr/bin/stateful_update",
			clobber: false,
			cmd:     "/usr/bin/stateful_update http://devserver:8082/static/lumpy-release/R27-3837.0.0 2>&1",
		},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			r, commands := fakeDUT(test.script, func(cmd string) error { return nil })
			u := NewUpdater(r, "dut", 20*time.Minute)

			err := u.Apply(context.Background(),
				"http://devserver:8082/static/lumpy-release/R27-3837.0.0", test.clobber)
			qt.Assert(err, quicktest.IsNil)
			qt.Check(*commands, quicktest.DeepEquals, []string{test.cmd})
		})
	}
}

func TestReset(t *testing.T) {
	qt := quicktest.New(t)
	r, commands := fakeDUT("/usr/local/bin/stateful_update", func(cmd string) error { return nil })
	u := NewUpdater(r, "dut", 20*time.Minute)

	qt.Assert(u.Reset(context.Background()), quicktest.IsNil)
	qt.Check(*commands, quicktest.DeepEquals, []string{
		"/usr/local/bin/stateful_update --stateful_change=reset 2>&1",
	})
}

func TestApplyErrors(t *testing.T) {
	t.Run("script-missing", func(t *testing.T) {
		qt := quicktest.New(t)
		r := target.RunnerFunc(func(ctx context.Context, cmd string, opts target.RunOptions) (target.Result, error) {
			return target.Result{ExitStatus: 1}, nil
		})
		u := NewUpdater(r, "dut", time.Minute)
		err := u.Apply(context.Background(), "http://devserver:8082/static/x/y", false)
		qt.Check(err, quicktest.ErrorMatches,
			`failed to perform stateful update on dut: could not locate stateful_update on dut`)
	})

	t.Run("helper-fails", func(t *testing.T) {
		qt := quicktest.New(t)
		r, _ := fakeDUT("/usr/local/bin/stateful_update", func(cmd string) error {
			return errors.New("exited with status 1")
		})
		u := NewUpdater(r, "dut", time.Minute)
		err := u.Apply(context.Background(), "http://devserver:8082/static/x/y", false)
		var updateErr *UpdateError
		qt.Check(err, quicktest.ErrorAs, &updateErr)
	})
}
