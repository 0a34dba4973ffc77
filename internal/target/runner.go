// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package target provides the command-execution capability used to drive
// a device under test, and its production implementation over SSH.
package target

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Result of a command run on the device.
type Result struct {
	Stdout     string
	ExitStatus int
}

// RunOptions control a single command run.
type RunOptions struct {
	// Timeout bounds the command. Zero means no bound beyond ctx.
	Timeout time.Duration

	// IgnoreStatus reports a nonzero exit in Result.ExitStatus
	// instead of returning an error.
	IgnoreStatus bool
}

// Runner executes shell commands on the device under test.
type Runner interface {
	Run(ctx context.Context, cmd string, opts RunOptions) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd string, opts RunOptions) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd string, opts RunOptions) (Result, error) {
	return f(ctx, cmd, opts)
}

// Device is what update orchestration needs from a DUT: command
// execution, identity, and the ability to survive a reboot.
type Device interface {
	Runner

	Hostname() string

	// Reboot restarts the device and waits for it to come back.
	Reboot(ctx context.Context) error
}

// PathExists tells whether path exists on the device.
func PathExists(ctx context.Context, r Runner, path string) (bool, error) {
	res, err := r.Run(ctx, fmt.Sprintf("[ -e %s ]", path), RunOptions{IgnoreStatus: true})
	if err != nil {
		return false, err
	}
	return res.ExitStatus == 0, nil
}

// Touch creates the named files on the device.
func Touch(ctx context.Context, r Runner, paths ...string) error {
	_, err := r.Run(ctx, "touch "+strings.Join(paths, " "), RunOptions{})
	return err
}

var releaseVersionRegexp = regexp.MustCompile(`CHROMEOS_RELEASE_VERSION=(.+)`)

// ReleaseVersion reads the ChromeOS release version (e.g. "3837.0.0")
// from the device's /etc/lsb-release.
func ReleaseVersion(ctx context.Context, r Runner) (string, error) {
	res, err := r.Run(ctx, "cat /etc/lsb-release", RunOptions{})
	if err != nil {
		return "", err
	}
	match := releaseVersionRegexp.FindStringSubmatch(res.Stdout)
	if match == nil {
		return "", fmt.Errorf("cannot find CHROMEOS_RELEASE_VERSION in lsb-release")
	}
	return strings.TrimSpace(match[1]), nil
}

var boardRegexp = regexp.MustCompile(`CHROMEOS_RELEASE_BOARD=(.+)`)

// Board reads the build target name (e.g. "brya") from the device's
// /etc/lsb-release.
func Board(ctx context.Context, r Runner) (string, error) {
	res, err := r.Run(ctx, "cat /etc/lsb-release", RunOptions{})
	if err != nil {
		return "", err
	}
	match := boardRegexp.FindStringSubmatch(res.Stdout)
	if match == nil {
		return "", fmt.Errorf("cannot find CHROMEOS_RELEASE_BOARD in lsb-release")
	}
	return strings.TrimSpace(match[1]), nil
}
