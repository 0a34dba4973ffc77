// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config holds the provisioning tunables. The historical
// defaults were tuned empirically on lab hardware; they can be
// overridden with an ini file for platforms that need different ones.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"
)

// Config are the timing knobs of one provisioning run.
type Config struct {
	// InstallTimeout bounds the blocking update_engine_client --update call.
	InstallTimeout time.Duration `ini:"install_timeout"`

	// StatefulTimeout bounds the stateful_update helper run.
	StatefulTimeout time.Duration `ini:"stateful_timeout"`

	// RebootTimeout bounds a reboot until the host is reachable again.
	RebootTimeout time.Duration `ini:"reboot_timeout"`

	// KernelUpdateTimeout bounds the wait for the new kernel to be
	// marked successful after the update reboot.
	KernelUpdateTimeout time.Duration `ini:"kernel_update_timeout"`

	// KernelPollInterval is the sleep between kernel state polls.
	KernelPollInterval time.Duration `ini:"kernel_poll_interval"`

	// PostInstallSettle absorbs I/O settling between a finished
	// install and inspecting the partition table.
	PostInstallSettle time.Duration `ini:"post_install_settle"`

	// UpdateServiceAttempts is how many status queries to try while
	// waiting for update-engine to come up after a restart.
	UpdateServiceAttempts int `ini:"update_service_attempts"`

	// UpdateServiceInterval is the sleep between those queries.
	UpdateServiceInterval time.Duration `ini:"update_service_interval"`
}

// Default returns the historical lab defaults.
func Default() Config {
	return Config{
		InstallTimeout:        time.Hour,
		StatefulTimeout:       20 * time.Minute,
		RebootTimeout:         10 * time.Minute,
		KernelUpdateTimeout:   120 * time.Second,
		KernelPollInterval:    5 * time.Second,
		PostInstallSettle:     10 * time.Second,
		UpdateServiceAttempts: 4,
		UpdateServiceInterval: 5 * time.Second,
	}
}

// Load reads overrides from the [provision] section of the ini file at
// path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot load %s: %w", path, err)
	}
	if err := f.Section("provision").MapTo(&cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return cfg, nil
}
