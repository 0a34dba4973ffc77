// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package provision

// Phase is the orchestrator's position in the update protocol. It is
// advanced by each step and only ever moves forward, except for the
// terminal PhaseFailed.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseStatefulShortcut
	PhaseFullInstall
	PhaseRebooted
	PhaseVerified
	PhaseDone
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseStart:            "start",
	PhaseStatefulShortcut: "stateful-shortcut",
	PhaseFullInstall:      "full-install",
	PhaseRebooted:         "rebooted",
	PhaseVerified:         "verified",
	PhaseDone:             "done",
	PhaseFailed:           "failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "invalid"
}
