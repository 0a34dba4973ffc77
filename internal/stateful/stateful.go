// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stateful applies stateful-partition-only updates, leaving the
// kernel/rootfs slots untouched.
package stateful

import (
	"context"
	"fmt"
	"log"
	"time"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
)

// Known locations of the stateful_update helper on test images. The
// first one that exists is used.
var scriptPaths = []string{
	"/usr/local/bin/stateful_update",
	"/usr/bin/stateful_update",
}

// UpdateError reports a failed stateful update. The caller decides
// whether it is fatal.
type UpdateError struct {
	Host string
	Err  error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to perform stateful update on %s: %v", e.Host, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Updater drives the stateful_update helper on one device.
type Updater struct {
	r    target.Runner
	host string

	// Timeout bounds one helper run. Stateful payloads can take tens
	// of minutes to unpack.
	Timeout time.Duration
}

func NewUpdater(r target.Runner, host string, timeout time.Duration) *Updater {
	return &Updater{r: r, host: host, Timeout: timeout}
}

func (u *Updater) script(ctx context.Context) (string, error) {
	for _, path := range scriptPaths {
		ok, err := target.PathExists(ctx, u.r, path)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("could not locate stateful_update on %s", u.host)
}

// Apply downloads and installs the stateful payload at statefulURL.
// clobber wipes and rebuilds the partition; without it existing state
// is preserved.
func (u *Updater) Apply(ctx context.Context, statefulURL string, clobber bool) error {
	script, err := u.script(ctx)
	if err != nil {
		return &UpdateError{Host: u.host, Err: err}
	}
	cmd := script + " " + statefulURL
	if clobber {
		cmd += " --stateful_change=clean"
	}
	cmd += " 2>&1"
	log.Println("updating stateful partition via:", cmd)
	if _, err := u.r.Run(ctx, cmd, target.RunOptions{Timeout: u.Timeout}); err != nil {
		return &UpdateError{Host: u.host, Err: err}
	}
	return nil
}

// Reset clears any pending stateful-update request so a new attempt
// starts from a known state.
func (u *Updater) Reset(ctx context.Context) error {
	script, err := u.script(ctx)
	if err != nil {
		return &UpdateError{Host: u.host, Err: err}
	}
	cmd := script + " --stateful_change=reset 2>&1"
	if _, err := u.r.Run(ctx, cmd, target.RunOptions{Timeout: u.Timeout}); err != nil {
		return &UpdateError{Host: u.host, Err: err}
	}
	return nil
}
