// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package provision

import (
	"fmt"
	"time"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/partitions"
)

// ServerUnavailableError means the devserver behind the update URL
// failed its health check; no install was attempted.
type ServerUnavailableError struct {
	URL string
	Err error
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("update server at %s not available: %v", e.URL, e.Err)
}

func (e *ServerUnavailableError) Unwrap() error {
	return e.Err
}

// InstallError wraps a failed root or stateful install step, after the
// boot partition was re-marked and pending stateful state cleared.
type InstallError struct {
	Host string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install failed on %s: %v", e.Host, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// NextBootMismatchError means the update engine reported success but
// did not flip the boot priority to the freshly written slot.
type NextBootMismatchError struct {
	Expected partitions.Slot
	Actual   partitions.Slot
}

func (e *NextBootMismatchError) Error() string {
	return fmt.Sprintf("update failed: the kernel for next boot is %s, but %s was expected",
		e.Actual, e.Expected)
}

// RollbackDetectedError means the device booted a different slot than
// the one just installed: firmware or the updater rolled back to the
// previous image. Fatal, never retried.
type RollbackDetectedError struct {
	Message string
}

func (e *RollbackDetectedError) Error() string {
	return e.Message
}

// VerifyTimeoutError means the new kernel was never marked permanently
// good within the bounded post-boot wait.
type VerifyTimeoutError struct {
	Cause   string
	Timeout time.Duration
}

func (e *VerifyTimeoutError) Error() string {
	return fmt.Sprintf("after update and reboot, %s within %s", e.Cause, e.Timeout)
}

// RollbackError reports a failed explicit rollback request.
type RollbackError struct {
	Host   string
	Reason string
	Err    error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Reason, e.Host, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}
