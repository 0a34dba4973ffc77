// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateengine

import "fmt"

// ProtocolError means the status query itself could not be run, as
// opposed to running and producing unexpected output.
type ProtocolError struct {
	Host string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cannot query update_engine on %s: %v", e.Host, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ServiceUnavailableError means update_engine did not reach IDLE within
// the bounded wait after a restart.
type ServiceUnavailableError struct {
	Host      string
	Attempts  int
	LastState State
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s is not in an installable state: update_engine state %s after %d attempts",
		e.Host, e.LastState, e.Attempts)
}

// TriggerError means a check/update/rollback request could not be
// issued, after the internal retry was exhausted.
type TriggerError struct {
	Host string
	Op   string
	Err  error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("failed to trigger %s on %s: %v", e.Op, e.Host, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// NotAppliedError means the install command returned but the daemon is
// not waiting for a reboot, i.e. the update silently no-opped or
// failed. LastError carries the daemon's last-attempt diagnostic when
// the state is IDLE.
type NotAppliedError struct {
	State     State
	LastError string
}

func (e *NotAppliedError) Error() string {
	msg := fmt.Sprintf("update did not complete with correct status: expecting %s, actual %s",
		StateNeedReboot, e.State)
	if e.LastError != "" {
		msg += ": update error: " + e.LastError
	}
	return msg
}
