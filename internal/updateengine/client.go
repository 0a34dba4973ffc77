// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateengine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/metrics"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
)

const updaterBin = "/usr/bin/update_engine_client"

// Client drives the update_engine daemon on one device.
type Client struct {
	r    target.Runner
	host string

	// InstallTimeout bounds the blocking --update call.
	InstallTimeout time.Duration

	// RetryInterval separates the automatic trigger retries.
	RetryInterval time.Duration

	// Sleep is replaceable for tests.
	Sleep func(time.Duration)
}

func NewClient(r target.Runner, host string, installTimeout time.Duration) *Client {
	return &Client{
		r:              r,
		host:           host,
		InstallTimeout: installTimeout,
		RetryInterval:  5 * time.Second,
		Sleep:          time.Sleep,
	}
}

// Status queries the daemon state. The command failing to run at all is
// a ProtocolError; unrecognized output is StateUnknown, not an error.
func (c *Client) Status(ctx context.Context) (State, error) {
	res, err := c.r.Run(ctx, updaterBin+" -status", target.RunOptions{})
	if err != nil {
		return StateUnknown, &ProtocolError{Host: c.host, Err: err}
	}
	return ParseStatus(res.Stdout)
}

// WaitUntilIdle polls the daemon state until it reports IDLE,
// retrying through command failures (the daemon may still be starting
// after a reboot). ServiceUnavailableError is returned when the state
// is still not IDLE after maxAttempts.
func (c *Client) WaitUntilIdle(ctx context.Context, maxAttempts int, interval time.Duration) error {
	lastState := StateUnknown
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.Sleep(interval)
		}
		state, err := c.Status(ctx)
		if err != nil {
			log.Printf("update_engine status check failed, retrying: %v", err)
			continue
		}
		if state == StateIdle {
			return nil
		}
		lastState = state
	}
	return &ServiceUnavailableError{Host: c.host, Attempts: maxAttempts, LastState: lastState}
}

// TriggerCheck issues a non-blocking check for an update against
// omahaURL. One automatic retry is made on transient failures.
func (c *Client) TriggerCheck(ctx context.Context, omahaURL string) error {
	cmd := fmt.Sprintf("%s --check_for_update --omaha_url=%s", updaterBin, omahaURL)
	log.Println("triggering update check via:", cmd)
	err := retryTransient(ctx, c.RetryInterval, 1, func() error {
		_, err := c.r.Run(ctx, cmd, target.RunOptions{})
		return err
	})
	metrics.UpdateTriggers.WithLabelValues("check", strconv.FormatBool(err == nil)).Inc()
	if err != nil {
		return &TriggerError{Host: c.host, Op: "update check", Err: err}
	}
	return nil
}

// TriggerInstall issues a blocking update against omahaURL. The call
// can legitimately take most of an hour. The caller must follow up
// with AssertUpdateApplied. One automatic retry is made on transient
// failures.
func (c *Client) TriggerInstall(ctx context.Context, omahaURL string, interactive bool) error {
	cmd := fmt.Sprintf("%s --update --omaha_url=%s", updaterBin, omahaURL)
	if !interactive {
		cmd += " --interactive=false"
	}
	log.Println("updating image via:", cmd)
	err := retryTransient(ctx, c.RetryInterval, 1, func() error {
		_, err := c.r.Run(ctx, cmd, target.RunOptions{Timeout: c.InstallTimeout})
		return err
	})
	metrics.UpdateTriggers.WithLabelValues("update", strconv.FormatBool(err == nil)).Inc()
	if err != nil {
		return &TriggerError{Host: c.host, Op: "update", Err: err}
	}
	return nil
}

// AssertUpdateApplied verifies the daemon is waiting for a reboot.
func (c *Client) AssertUpdateApplied(ctx context.Context) error {
	state, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if state == StateNeedReboot {
		return nil
	}
	notApplied := &NotAppliedError{State: state}
	if state == StateIdle {
		notApplied.LastError = c.LastErrorSummary(ctx)
	}
	return notApplied
}

// LastErrorSummary returns the daemon's last-attempt error as a single
// line. Best effort: failures yield an empty string, never an error.
func (c *Client) LastErrorSummary(ctx context.Context) string {
	res, err := c.r.Run(ctx, updaterBin+" --last_attempt_error", target.RunOptions{})
	if err != nil {
		log.Printf("cannot fetch last update error: %v", err)
		return ""
	}
	return strings.ReplaceAll(strings.TrimSpace(res.Stdout), "\n", ", ")
}

// CanRollback asks the daemon whether a rollback image is available.
func (c *Client) CanRollback(ctx context.Context) error {
	_, err := c.r.Run(ctx, updaterBin+" --can_rollback", target.RunOptions{})
	return err
}

// Rollback issues a blocking rollback to the previously installed
// image, optionally wiping the stateful partition.
func (c *Client) Rollback(ctx context.Context, powerwash bool) error {
	cmd := updaterBin + " --rollback --follow"
	if !powerwash {
		cmd += " --nopowerwash"
	}
	log.Println("performing rollback via:", cmd)
	_, err := c.r.Run(ctx, cmd, target.RunOptions{Timeout: c.InstallTimeout})
	return err
}

// Reset stops the daemon (and the UI that holds it busy) and starts it
// fresh, then waits for it to report IDLE.
func (c *Client) Reset(ctx context.Context, maxAttempts int, interval time.Duration) error {
	if _, err := c.r.Run(ctx, "stop ui || true", target.RunOptions{}); err != nil {
		return err
	}
	if _, err := c.r.Run(ctx, "stop update-engine || true", target.RunOptions{}); err != nil {
		return err
	}
	if _, err := c.r.Run(ctx, "start update-engine", target.RunOptions{}); err != nil {
		return err
	}
	return c.WaitUntilIdle(ctx, maxAttempts, interval)
}
