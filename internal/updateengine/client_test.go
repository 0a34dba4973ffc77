// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/frankban/quicktest"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
)

// scriptedClient returns a Client whose runs are answered by handler,
// recording every command into the returned slice. Sleeps are elided.
func scriptedClient(handler func(cmd string) (string, error)) (*Client, *[]string) {
	var commands []string
	r := target.RunnerFunc(func(ctx context.Context, cmd string, opts target.RunOptions) (target.Result, error) {
		commands = append(commands, cmd)
		out, err := handler(cmd)
		return target.Result{Stdout: out}, err
	})
	c := NewClient(r, "dut", time.Hour)
	c.RetryInterval = time.Millisecond
	c.Sleep = func(time.Duration) {}
	return c, &commands
}

func TestWaitUntilIdle(t *testing.T) {
	qt := quicktest.New(t)

	attempt := 0
	c, _ := scriptedClient(func(cmd string) (string, error) {
		attempt++
		switch attempt {
		case 1:
			return "", errors.New("daemon not running yet")
		case 2:
			return "CURRENT_OP=UPDATE_STATUS_FINALIZING\n", nil
		default:
			return "CURRENT_OP=UPDATE_STATUS_IDLE\n", nil
		}
	})

	qt.Check(c.WaitUntilIdle(context.Background(), 4, time.Millisecond), quicktest.IsNil)
	qt.Check(attempt, quicktest.Equals, 3)
}

func TestWaitUntilIdleExhausted(t *testing.T) {
	qt := quicktest.New(t)

	c, _ := scriptedClient(func(cmd string) (string, error) {
		return "CURRENT_OP=UPDATE_STATUS_DOWNLOADING\n", nil
	})

	err := c.WaitUntilIdle(context.Background(), 2, time.Millisecond)
	var unavailable *ServiceUnavailableError
	qt.Assert(err, quicktest.ErrorAs, &unavailable)
	qt.Check(unavailable.LastState, quicktest.Equals, StateDownloading)
	qt.Check(err, quicktest.ErrorMatches,
		`dut is not in an installable state: update_engine state UPDATE_STATUS_DOWNLOADING after 2 attempts`)
}

func TestTriggerInstall(t *testing.T) {
	qt := quicktest.New(t)

	attempt := 0
	c, commands := scriptedClient(func(cmd string) (string, error) {
		attempt++
		if attempt == 1 {
			return "", errors.New("ERROR_CODE=37")
		}
		return "", nil
	})

	err := c.TriggerInstall(context.Background(), "http://devserver:8082/update/lumpy-release/R27-3837.0.0", false)
	qt.Assert(err, quicktest.IsNil)
	qt.Assert(len(*commands), quicktest.Equals, 2)
	qt.Check((*commands)[1], quicktest.Equals,
		"/usr/bin/update_engine_client --update"+
			" --omaha_url=http://devserver:8082/update/lumpy-release/R27-3837.0.0 --interactive=false")
}

func TestTriggerInstallFatal(t *testing.T) {
	qt := quicktest.New(t)

	c, commands := scriptedClient(func(cmd string) (string, error) {
		return "", errors.New("exited with status 1")
	})

	err := c.TriggerInstall(context.Background(), "http://devserver:8082/update/x/y", true)
	var trigger *TriggerError
	qt.Assert(err, quicktest.ErrorAs, &trigger)
	qt.Check(trigger.Op, quicktest.Equals, "update")
	qt.Check(len(*commands), quicktest.Equals, 1)
	qt.Check((*commands)[0], quicktest.Equals,
		"/usr/bin/update_engine_client --update --omaha_url=http://devserver:8082/update/x/y")
}

func TestTriggerCheck(t *testing.T) {
	qt := quicktest.New(t)

	c, commands := scriptedClient(func(cmd string) (string, error) {
		return "", nil
	})

	err := c.TriggerCheck(context.Background(), "http://devserver:8082/update/x/y")
	qt.Assert(err, quicktest.IsNil)
	qt.Check((*commands)[0], quicktest.Equals,
		"/usr/bin/update_engine_client --check_for_update --omaha_url=http://devserver:8082/update/x/y")
}

func TestAssertUpdateApplied(t *testing.T) {
	qt := quicktest.New(t)

	c, _ := scriptedClient(func(cmd string) (string, error) {
		return "CURRENT_OP=UPDATE_STATUS_UPDATED_NEED_REBOOT\n", nil
	})
	qt.Check(c.AssertUpdateApplied(context.Background()), quicktest.IsNil)
}

func TestAssertUpdateAppliedIdle(t *testing.T) {
	qt := quicktest.New(t)

	c, _ := scriptedClient(func(cmd string) (string, error) {
		if cmd == "/usr/bin/update_engine_client --last_attempt_error" {
			return "ERROR_CODE=12\nERROR_MESSAGE=ErrorCode::kOmahaUpdateIgnoredPerPolicy\n", nil
		}
		return "CURRENT_OP=UPDATE_STATUS_IDLE\n", nil
	})

	err := c.AssertUpdateApplied(context.Background())
	var notApplied *NotAppliedError
	qt.Assert(err, quicktest.ErrorAs, &notApplied)
	qt.Check(notApplied.State, quicktest.Equals, StateIdle)
	qt.Check(err, quicktest.ErrorMatches,
		`update did not complete with correct status: `+
			`expecting UPDATE_STATUS_UPDATED_NEED_REBOOT, actual UPDATE_STATUS_IDLE: `+
			`update error: ERROR_CODE=12, ERROR_MESSAGE=ErrorCode::kOmahaUpdateIgnoredPerPolicy`)
}

func TestReset(t *testing.T) {
	qt := quicktest.New(t)

	c, commands := scriptedClient(func(cmd string) (string, error) {
		return "CURRENT_OP=UPDATE_STATUS_IDLE\n", nil
	})

	qt.Assert(c.Reset(context.Background(), 4, time.Millisecond), quicktest.IsNil)
	qt.Check(*commands, quicktest.DeepEquals, []string{
		"stop ui || true",
		"stop update-engine || true",
		"start update-engine",
		"/usr/bin/update_engine_client -status",
	})
}

func TestRollbackCommand(t *testing.T) {
	for name, test := range map[string]struct {
		powerwash bool
		cmd       string
	}{
		"nopowerwash": {
			powerwash: false,
			cmd:       "/usr/bin/update_engine_client --rollback --follow --nopowerwash",
		},
		"powerwash": {
			powerwash: true,
			cmd:       "/usr/bin/update_engine_client --rollback --follow",
		},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			c, commands := scriptedClient(func(cmd string) (string, error) {
				return "", nil
			})
			qt.Assert(c.Rollback(context.Background(), test.powerwash), quicktest.IsNil)
			qt.Check((*commands)[0], quicktest.Equals, test.cmd)
		})
	}
}
