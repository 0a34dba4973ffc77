// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package provision drives a device under test through a dual-partition
// (A/B) OS update and verifies the device actually booted the freshly
// installed slot.
package provision

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/config"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/devserver"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/metrics"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/partitions"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/stateful"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/updateengine"
)

// provisionFailedMarker is created at the start of every update attempt.
// It lives in stateful, so any successful update wipes it; its presence
// on a fresh boot means a previous attempt did not complete.
const provisionFailedMarker = "/var/tmp/provision_failed"

// labMachineMarker enables lab-friendly behavior in test images. It is
// created after any update completes and never removed here.
const labMachineMarker = "/mnt/stateful_partition/.labmachine"

var updaterLogPaths = []string{"/var/log/messages", "/var/log/update_engine"}

// Folders that must be rebuilt by a stateful-only update. A test file
// in each confirms the wipe actually happened.
var statefulTestFolders = []string{"/var", "/home", "/mnt/stateful_partition"}

const statefulTestFile = ".test_file_to_be_deleted"

// Rollback support appeared in M36 (build 5772).
const rollbackMinBuild = 5772

const autotestInstallDir = "/usr/local/autotest"

// Options configure an Orchestrator.
type Options struct {
	// UpdateURL names the build to install, e.g.
	// http://devserver:8082/update/lumpy-release/R27-3837.0.0.
	UpdateURL string

	// Interactive marks the update request as user-initiated, which
	// the daemon schedules more aggressively.
	Interactive bool

	Config config.Config

	// CheckHealth probes the devserver before an install. nil means
	// devserver.CheckHealth.
	CheckHealth func(ctx context.Context, baseURL string) error

	// LogDir receives update-engine logs collected on failure. Empty
	// means a fresh temporary directory.
	LogDir string
}

// Orchestrator sequences one update of one device. It is not safe for
// concurrent use and must not be reused across attempts: construct a
// fresh one per RunUpdate call.
type Orchestrator struct {
	dev           target.Device
	cfg           config.Config
	updateURL     string
	targetVersion string
	imageName     string
	interactive   bool
	logDir        string

	engine      *updateengine.Client
	inspector   *partitions.Inspector
	stateful    *stateful.Updater
	checkHealth func(ctx context.Context, baseURL string) error

	// sleep and now are replaceable for tests.
	sleep func(time.Duration)
	now   func() time.Time

	phase Phase
}

// New creates an Orchestrator for one update attempt of dev.
func New(dev target.Device, opts Options) (*Orchestrator, error) {
	targetVersion, err := devserver.VersionFromURL(opts.UpdateURL)
	if err != nil {
		return nil, err
	}
	imageName, err := devserver.ImageNameFromURL(opts.UpdateURL)
	if err != nil {
		return nil, err
	}
	checkHealth := opts.CheckHealth
	if checkHealth == nil {
		checkHealth = devserver.CheckHealth
	}
	cfg := opts.Config
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	return &Orchestrator{
		dev:           dev,
		cfg:           cfg,
		updateURL:     opts.UpdateURL,
		targetVersion: targetVersion,
		imageName:     imageName,
		interactive:   opts.Interactive,
		logDir:        opts.LogDir,
		engine:        updateengine.NewClient(dev, dev.Hostname(), cfg.InstallTimeout),
		inspector:     partitions.NewInspector(dev),
		stateful:      stateful.NewUpdater(dev, dev.Hostname(), cfg.StatefulTimeout),
		checkHealth:   checkHealth,
		sleep:         time.Sleep,
		now:           time.Now,
		phase:         PhaseStart,
	}, nil
}

// Phase reports the orchestrator's position in the update protocol.
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

func (o *Orchestrator) fail(err error) error {
	o.phase = PhaseFailed
	return err
}

// RunUpdate performs a full update of the device.
//
// Unless forceFullUpdate is set, a stateful-only shortcut is attempted
// first when the device already runs the target build. Otherwise the
// rootfs is installed to the inactive slot, the boot priority flip is
// verified, the device is rebooted, and the booted slot is checked
// against the expectation.
//
// It returns the installed image name and new host attributes to apply
// to the device.
func (o *Orchestrator) RunUpdate(ctx context.Context, forceFullUpdate bool) (string, map[string]string, error) {
	log.Println("update URL is", o.updateURL)

	server, err := devserver.Hostname(o.updateURL)
	if err != nil {
		return "", nil, o.fail(err)
	}
	metrics.ProvisionInstalls.WithLabelValues(server).Inc()

	// Mark the attempt. Any successful update wipes this file.
	if err := target.Touch(ctx, o.dev, provisionFailedMarker); err != nil {
		return "", nil, o.fail(err)
	}

	updateComplete := false
	if !forceFullUpdate {
		o.phase = PhaseStatefulShortcut
		ok, err := o.tryStatefulUpdate(ctx)
		if err != nil {
			// The shortcut is strictly an optimization; any failure
			// falls through to the full update.
			log.Printf("stateful shortcut failed, falling back to full update: %v", err)
		}
		updateComplete = ok && err == nil
	}

	var expected *partitions.Slot
	if updateComplete {
		log.Println("install complete without full update")
		o.phase = PhaseRebooted
	} else {
		log.Println("DUT requires full update")
		o.phase = PhaseFullInstall
		inactive, err := o.fullUpdate(ctx)
		if err != nil {
			return "", nil, o.fail(err)
		}
		o.phase = PhaseRebooted
		expected = &inactive
	}

	if err := o.postUpdateProcessing(ctx, expected); err != nil {
		return "", nil, o.fail(err)
	}
	o.phase = PhaseVerified

	o.cleanupAutotestDir(ctx)

	baseURL, err := devserver.BaseURL(o.updateURL)
	if err != nil {
		return "", nil, o.fail(err)
	}
	o.phase = PhaseDone
	attributes := map[string]string{
		devserver.JobRepoURLAttribute: devserver.PackageURL(baseURL, o.imageName),
	}
	return o.imageName, attributes, nil
}

// fullUpdate installs the new build to the inactive slot and reboots
// into it. The slot the device is expected to boot is returned.
func (o *Orchestrator) fullUpdate(ctx context.Context) (partitions.Slot, error) {
	// Reboot first for a clean starting state.
	if err := o.dev.Reboot(ctx); err != nil {
		return partitions.Slot{}, err
	}

	_, inactive, err := o.inspector.ActiveAndInactiveSlots(ctx)
	if err != nil {
		return partitions.Slot{}, err
	}

	if err := o.installUpdate(ctx, true); err != nil {
		return partitions.Slot{}, err
	}

	// Give it some time in case of I/O issues.
	o.sleep(o.cfg.PostInstallSettle)

	next, err := o.inspector.NextBootSlot(ctx)
	if err != nil {
		return partitions.Slot{}, err
	}
	if next != inactive {
		return partitions.Slot{}, &NextBootMismatchError{Expected: inactive, Actual: next}
	}

	// The update flow sometimes leaves the TPM in a state that fails
	// verification; clearing the owner during the reboot papers over
	// that. Failures here are ignored on purpose.
	if _, err := o.dev.Run(ctx, "crossystem clear_tpm_owner_request=1",
		target.RunOptions{IgnoreStatus: true}); err != nil {
		log.Printf("ignoring failure to clear tpm owner: %v", err)
	}

	if err := o.dev.Reboot(ctx); err != nil {
		return partitions.Slot{}, err
	}
	return inactive, nil
}

// tryStatefulUpdate refreshes only the stateful partition when the
// device already runs the target build. Reports whether the shortcut
// completed; an unsuccessful wipe is reported as false, not an error.
func (o *Orchestrator) tryStatefulUpdate(ctx context.Context) (bool, error) {
	// Only regular release builds are eligible; the running version
	// must match the target. See crbug.com/360944 for the pattern
	// test.
	if !devserver.IsReleaseImage(o.imageName) {
		return false, nil
	}
	booted, err := target.ReleaseVersion(ctx, o.dev)
	if err != nil {
		return false, err
	}
	if !strings.HasSuffix(o.targetVersion, booted) {
		return false, nil
	}

	var testPaths []string
	for _, folder := range statefulTestFolders {
		testPaths = append(testPaths, filepath.Join(folder, statefulTestFile))
	}
	if err := target.Touch(ctx, o.dev, testPaths...); err != nil {
		return false, err
	}

	if err := o.installUpdate(ctx, false); err != nil {
		return false, err
	}

	// Reboot to complete the stateful update.
	if err := o.dev.Reboot(ctx); err != nil {
		return false, err
	}

	// Every folder must have been rebuilt; a surviving test file means
	// the reset did not fully refresh state.
	for _, path := range testPaths {
		exists, err := target.PathExists(ctx, o.dev, path)
		if err != nil {
			return false, err
		}
		if exists {
			log.Printf("stateful update did not remove %s", path)
			return false, nil
		}
	}
	return true, nil
}

// installUpdate downloads and installs the requested build in place on
// the device. It does not reboot: the update is merely pending when it
// returns. With updateRoot false only the stateful partition is
// updated.
func (o *Orchestrator) installUpdate(ctx context.Context, updateRoot bool) error {
	booted, err := target.ReleaseVersion(ctx, o.dev)
	if err != nil {
		return err
	}
	log.Printf("updating from version %s to %s", booted, o.targetVersion)

	baseURL, err := devserver.BaseURL(o.updateURL)
	if err != nil {
		return err
	}
	if err := o.checkHealth(ctx, baseURL); err != nil {
		return &ServerUnavailableError{URL: baseURL, Err: err}
	}

	log.Printf("installing from %s to %s", o.updateURL, o.dev.Hostname())

	if err := o.engine.Reset(ctx, o.cfg.UpdateServiceAttempts, o.cfg.UpdateServiceInterval); err != nil {
		return err
	}
	if err := o.stateful.Reset(ctx); err != nil {
		return err
	}

	err = func() error {
		if updateRoot {
			if err := o.engine.TriggerInstall(ctx, o.updateURL, o.interactive); err != nil {
				return err
			}
			if err := o.engine.AssertUpdateApplied(ctx); err != nil {
				return err
			}
		} else {
			log.Println("root update is skipped")
		}
		return o.stateful.Apply(ctx, devserver.StatefulURL(o.updateURL), true)
	}()
	if err != nil {
		// Keep the device bootable: re-mark the currently running
		// partition and clear the half-applied stateful request.
		if revertErr := o.revertBootPartition(ctx); revertErr != nil {
			log.Printf("cannot revert boot partition: %v", revertErr)
		}
		if resetErr := o.stateful.Reset(ctx); resetErr != nil {
			log.Printf("cannot reset stateful partition: %v", resetErr)
		}
		o.collectUpdaterLogs(ctx)
		return &InstallError{Host: o.dev.Hostname(), Err: err}
	}

	log.Println("update complete")
	return nil
}

// revertBootPartition re-runs the post-install hook against the
// currently booted root so the device keeps booting it. A safety net,
// not a rollback of bits.
func (o *Orchestrator) revertBootPartition(ctx context.Context) error {
	part, err := o.inspector.ActiveRootPartition(ctx)
	if err != nil {
		return err
	}
	log.Printf("reverting update; boot partition will be %s", part)
	_, err = o.dev.Run(ctx, fmt.Sprintf("/postinst %s 2>&1", part), target.RunOptions{})
	return err
}

// collectUpdaterLogs fetches the update-engine logs for diagnostics.
// Strictly best effort: a failure here never masks the real error.
func (o *Orchestrator) collectUpdaterLogs(ctx context.Context) {
	dir := o.logDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "cros-provision-logs-*")
		if err != nil {
			log.Printf("cannot create log directory: %v", err)
			return
		}
	}
	dest := filepath.Join(dir, "update_engine_logs.tgz")
	if err := target.FetchTarball(ctx, o.dev, updaterLogPaths, dest); err != nil {
		log.Printf("cannot collect update engine logs: %v", err)
		return
	}
	log.Println("update engine logs collected in", dest)
}

// postUpdateProcessing confirms the install succeeded: it marks the
// device as lab-managed, restarts the autoreboot watchdog so the marker
// takes effect, and verifies boot expectations.
func (o *Orchestrator) postUpdateProcessing(ctx context.Context, expected *partitions.Slot) error {
	autorebootCmd := fmt.Sprintf(
		`FILE="%s" ; [ -f "$FILE" ] || ( touch "$FILE" ; start autoreboot )`,
		labMachineMarker)
	if _, err := o.dev.Run(ctx, autorebootCmd, target.RunOptions{}); err != nil {
		return err
	}

	rollbackMessage := fmt.Sprintf(
		"build %s failed to boot on %s; system rolled back to previous build",
		o.targetVersion, o.dev.Hostname())
	return o.VerifyBootExpectations(ctx, expected, rollbackMessage)
}

// VerifyBootExpectations checks that the device fully booted the
// expected kernel slot and that the OS marked that kernel good.
//
// A nil expected skips the slot check and only waits for the mark-good
// step. Both failure modes are fatal: provisioning must be reported as
// failed, without retrying.
func (o *Orchestrator) VerifyBootExpectations(ctx context.Context, expected *partitions.Slot, rollbackMessage string) error {
	active, _, err := o.inspector.ActiveAndInactiveSlots(ctx)
	if err != nil {
		return err
	}

	if expected != nil && active != *expected {
		// The device booted its previous image: firmware or the
		// updater rolled back during boot.
		msg := rollbackMessage
		res, crashErr := o.dev.Run(ctx, "ls /var/spool/crash/kernel.*.kcrash 2>/dev/null",
			target.RunOptions{IgnoreStatus: true})
		if crashErr == nil && strings.TrimSpace(res.Stdout) != "" {
			msg += ": kernel_crash"
			log.Printf("found kernel crash reports:\n%s", res.Stdout)
		}
		if table, err := o.inspector.DumpPartitionTable(ctx); err == nil {
			log.Printf("partition table:\n%s", table)
		}
		if fw, err := o.inspector.DumpFirmwareState(ctx); err == nil {
			log.Printf("crossystem state:\n%s", fw)
		}
		return &RollbackDetectedError{Message: msg}
	}

	// Wait for chromeos-setgoodkernel to run.
	deadline := o.now().Add(o.cfg.KernelUpdateTimeout)
	for {
		state, err := o.inspector.PriorityState(ctx, active)
		if err == nil && state.TriesRemaining == 0 && state.Success {
			return nil
		}
		if !o.now().Before(deadline) {
			break
		}
		o.sleep(o.cfg.KernelPollInterval)
	}

	cause := "update-engine failed to call chromeos-setgoodkernel"
	res, err := o.dev.Run(ctx, "status system-services", target.RunOptions{IgnoreStatus: true})
	if err != nil || strings.TrimSpace(res.Stdout) != "system-services start/running" {
		cause = "Chrome failed to reach login screen"
	}
	return &VerifyTimeoutError{Cause: cause, Timeout: o.cfg.KernelUpdateTimeout}
}

// RollbackRootfs reverts the device to its previously installed image.
// With powerwash the stateful partition is wiped as part of the
// rollback.
func (o *Orchestrator) RollbackRootfs(ctx context.Context, powerwash bool) error {
	version, err := target.ReleaseVersion(ctx, o.dev)
	if err != nil {
		return err
	}
	buildNumber := 0
	if n, err := strconv.Atoi(strings.Split(version, ".")[0]); err == nil {
		buildNumber = n
	} else {
		log.Printf("could not parse build number from %q", version)
	}

	if buildNumber >= rollbackMinBuild {
		log.Println("checking for rollback")
		if err := o.engine.CanRollback(ctx); err != nil {
			return &RollbackError{Host: o.dev.Hostname(), Reason: "rollback isn't possible", Err: err}
		}
	}

	if err := o.engine.Rollback(ctx, powerwash); err != nil {
		return &RollbackError{Host: o.dev.Hostname(), Reason: "rollback failed", Err: err}
	}
	if err := o.engine.AssertUpdateApplied(ctx); err != nil {
		return err
	}

	if err := o.dev.Reboot(ctx); err != nil {
		return err
	}
	return o.VerifyBootExpectations(ctx, nil, "")
}

// cleanupAutotestDir removes a stale autotest client installation left
// by earlier test runs. Best effort; a missing directory is normal.
func (o *Orchestrator) cleanupAutotestDir(ctx context.Context) {
	exists, err := target.PathExists(ctx, o.dev, autotestInstallDir)
	if err != nil || !exists {
		log.Println("no autotest installed directory found")
		return
	}
	if _, err := o.dev.Run(ctx, "rm -rf "+autotestInstallDir, target.RunOptions{}); err != nil {
		log.Printf("cannot clean up %s: %v", autotestInstallDir, err)
	}
}
