// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package updateengine talks to the update_engine daemon on a device
// under test through its update_engine_client command line tool.
package updateengine

import (
	"fmt"
	"regexp"
)

// State is the update_engine daemon's reported operation.
type State int

const (
	// StateUnknown covers CURRENT_OP values this tool does not
	// recognize. The daemon's state vocabulary may grow; an
	// unrecognized value is not an error.
	StateUnknown State = iota
	StateIdle
	StateCheckingForUpdate
	StateUpdateAvailable
	StateDownloading
	StateFinalizing
	StateNeedReboot
)

var stateNames = map[State]string{
	StateUnknown:           "UNKNOWN",
	StateIdle:              "UPDATE_STATUS_IDLE",
	StateCheckingForUpdate: "UPDATE_STATUS_CHECKING_FOR_UPDATE",
	StateUpdateAvailable:   "UPDATE_STATUS_UPDATE_AVAILABLE",
	StateDownloading:       "UPDATE_STATUS_DOWNLOADING",
	StateFinalizing:        "UPDATE_STATUS_FINALIZING",
	StateNeedReboot:        "UPDATE_STATUS_UPDATED_NEED_REBOOT",
}

var statesByName = func() map[string]State {
	m := make(map[string]State, len(stateNames))
	for state, name := range stateNames {
		m[name] = state
	}
	return m
}()

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var currentOpRegexp = regexp.MustCompile(`(?m)^CURRENT_OP=(\S+)$`)

// ParseStatus extracts the daemon state from update_engine_client
// -status output. Output with no CURRENT_OP line at all is an error;
// an unrecognized CURRENT_OP value parses as StateUnknown.
func ParseStatus(out string) (State, error) {
	match := currentOpRegexp.FindStringSubmatch(out)
	if match == nil {
		return StateUnknown, fmt.Errorf("no CURRENT_OP in update_engine_client output %q", out)
	}
	if state, ok := statesByName[match[1]]; ok {
		return state, nil
	}
	return StateUnknown, nil
}
