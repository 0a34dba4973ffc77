// Copyright 2022 The ChromiumOS Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package internal

import (
	"context"
	"fmt"
	"log"
	"os/user"
	"path/filepath"
	"time"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/config"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/devserver"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/gsarchive"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/metrics"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/provision"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/ssh"
	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
)

// Options for one provisioning run.
type Options struct {
	UpdateURL     string // full update URL; overrides build resolution
	Devserver     string // devserver base URL for resolved builds
	Board         string // build target name such as brya
	ReleaseString string // release string such as R105-14989.0.0
	MilestoneNum  int    // milestone number such as 105
	Port          string // ssh port on the dut-host
	ConfigPath    string // provision tunables ini file
	MetricsListen string // metrics endpoint address

	ForceFullUpdate bool
	Interactive     bool
	Rollback        bool
	Powerwash       bool
}

// resolveUpdateURL finds the build to install when no full update URL
// was given, by querying the image archive for the latest build
// matching the options.
func resolveUpdateURL(ctx context.Context, dev *target.SSHDevice, opts *Options) (string, error) {
	board := opts.Board
	if board == "" {
		var err error
		board, err = target.Board(ctx, dev)
		if err != nil {
			return "", fmt.Errorf("cannot detect board of %s: %w. %s", dev.Hostname(), err,
				"specify --board or --url to bypass auto board detection")
		}
		log.Println("DUT board:", board)
	}

	archive, err := gsarchive.New(ctx)
	if err != nil {
		return "", err
	}

	var version gsarchive.Version
	switch {
	case opts.ReleaseString != "":
		version, err = archive.LatestVersionWithPrefix(ctx, board, opts.ReleaseString)
	case opts.MilestoneNum != 0:
		version, err = archive.LatestVersionForMilestone(ctx, board, opts.MilestoneNum)
	default:
		version, err = archive.LatestVersion(ctx, board)
	}
	if err != nil {
		return "", err
	}

	imageName := gsarchive.ImageName(board, version)
	log.Println("resolved build:", imageName)
	return devserver.UpdateURL(opts.Devserver, imageName), nil
}

func configPath(opts *Options) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("cannot lookup user: %w", err)
	}
	return filepath.Join(u.HomeDir, ".cros-provision.ini"), nil
}

func Main(ctx context.Context, t0 time.Time, targetHost string, opts *Options) error {
	cfgPath, err := configPath(opts)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if opts.MetricsListen != "" {
		metrics.Serve(opts.MetricsListen)
	}

	dialer, err := ssh.NewDialer(ssh.SshOptions{Port: opts.Port})
	if err != nil {
		return fmt.Errorf("cannot create ssh dialer: %w", err)
	}
	defer dialer.Close()

	dev, err := target.Dial(ctx, dialer, targetHost, cfg.RebootTimeout)
	if err != nil {
		return err
	}
	defer dev.Close()

	updateURL := opts.UpdateURL
	if updateURL == "" {
		updateURL, err = resolveUpdateURL(ctx, dev, opts)
		if err != nil {
			return err
		}
	}

	orch, err := provision.New(dev, provision.Options{
		UpdateURL:   updateURL,
		Interactive: opts.Interactive,
		Config:      cfg,
	})
	if err != nil {
		return err
	}

	if opts.Rollback {
		if err := orch.RollbackRootfs(ctx, opts.Powerwash); err != nil {
			return err
		}
		log.Println("rollback complete")
		return nil
	}

	imageName, attributes, err := orch.RunUpdate(ctx, opts.ForceFullUpdate)
	if err != nil {
		return err
	}
	log.Println("provisioned image:", imageName)
	for key, value := range attributes {
		log.Printf("host attribute %s=%s", key, value)
	}
	return nil
}
