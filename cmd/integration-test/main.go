// Copyright 2022 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command integration-test provisions a real DUT twice against a live
// devserver: once taking the stateful shortcut (reprovisioning the
// build the DUT already runs), once forcing the full A/B path, and
// checks the lab markers afterwards. It needs exclusive access to the
// DUT and takes a long time.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/alecthomas/kingpin"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/logging"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/ssh"
)

const (
	provisionFailedMarker = "/var/tmp/provision_failed"
	labMachineMarker      = "/mnt/stateful_partition/.labmachine"
	statefulJunkFile      = "/mnt/stateful_partition/junk"
)

func main() {
	ctx := context.Background()
	t0 := time.Now()
	logging.SetUp(t0, "[integration-test] ")

	var target, updateURL string
	kingpin.Arg("dut-host", "the ssh target of the dut").Required().StringVar(&target)
	kingpin.Arg("update-url", "update URL of the build the dut currently runs").
		Required().StringVar(&updateURL)
	kingpin.Parse()

	dialer, err := ssh.NewDialer(ssh.SshOptions{})
	if err != nil {
		log.Fatal("cannot create new ssh dialer:", err)
	}
	defer dialer.Close()

	if err := writeJunk(ctx, dialer, target); err != nil {
		log.Fatal("cannot write junk:", err)
	}

	// The DUT already runs this build, so this takes the stateful
	// shortcut and must wipe the junk file.
	if err := internal.CLIMain(ctx, t0, []string{target, "--url", updateURL}); err != nil {
		log.Fatal("stateful-shortcut provision failed:", err)
	}
	if err := checkAbsent(ctx, dialer, target, statefulJunkFile); err != nil {
		log.Fatal("junk file survived the stateful shortcut: ", err)
	}
	if err := checkAbsent(ctx, dialer, target, provisionFailedMarker); err != nil {
		log.Fatal("provision marker survived the stateful shortcut: ", err)
	}
	if err := checkPresent(ctx, dialer, target, labMachineMarker); err != nil {
		log.Fatal("lab machine marker missing after provision: ", err)
	}

	// Force the full A/B path onto the same build.
	if err := internal.CLIMain(ctx, t0,
		[]string{target, "--url", updateURL, "--force-full-update=yes"}); err != nil {
		log.Fatal("full provision failed:", err)
	}
	if err := checkAbsent(ctx, dialer, target, provisionFailedMarker); err != nil {
		log.Fatal("provision marker survived the full update: ", err)
	}
	if err := checkPresent(ctx, dialer, target, labMachineMarker); err != nil {
		log.Fatal("lab machine marker missing after full update: ", err)
	}

	log.Println("integration test complete")
}

// writeJunk leaves a file in stateful that a clobbering update must remove.
func writeJunk(ctx context.Context, dialer *ssh.Dialer, target string) error {
	cmd := dialer.DefaultCommand(ctx)
	cmd.Args = append(cmd.Args, target, "touch", statefulJunkFile)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func checkAbsent(ctx context.Context, dialer *ssh.Dialer, target, path string) error {
	cmd := dialer.DefaultCommand(ctx)
	cmd.Args = append(cmd.Args, target, "test", "!", "-e", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s still exists: %w", path, err)
	}
	return nil
}

func checkPresent(ctx context.Context, dialer *ssh.Dialer, target, path string) error {
	cmd := dialer.DefaultCommand(ctx)
	cmd.Args = append(cmd.Args, target, "test", "-e", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s does not exist: %w", path, err)
	}
	return nil
}
