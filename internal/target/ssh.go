// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package target

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/ssh"
)

const bootIDFile = "/proc/sys/kernel/random/boot_id"

// SSHDevice is a Device driven over SSH, using the system ssh command
// for connection setup (so user ssh_config applies) and x/crypto/ssh
// for command execution.
type SSHDevice struct {
	dialer        *ssh.Dialer
	client        *ssh.Client
	host          string
	rebootTimeout time.Duration
}

// Dial connects to host and returns an SSHDevice.
func Dial(ctx context.Context, dialer *ssh.Dialer, host string, rebootTimeout time.Duration) (*SSHDevice, error) {
	client, err := dialer.DialWithSystemSSH(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("system ssh to %s failed: %w", host, err)
	}
	return &SSHDevice{
		dialer:        dialer,
		client:        client,
		host:          host,
		rebootTimeout: rebootTimeout,
	}, nil
}

func (d *SSHDevice) Hostname() string {
	return d.host
}

// Run implements Runner.
func (d *SSHDevice) Run(ctx context.Context, cmd string, opts RunOptions) (Result, error) {
	stdout, status, err := d.client.RunWithStatus(ctx, cmd, opts.Timeout)
	if err != nil && !(opts.IgnoreStatus && status != 0) {
		return Result{Stdout: stdout, ExitStatus: status}, err
	}
	return Result{Stdout: stdout, ExitStatus: status}, nil
}

// Close the underlying connection.
func (d *SSHDevice) Close() error {
	return d.client.Close()
}

func (d *SSHDevice) bootID(ctx context.Context) (string, error) {
	res, err := d.Run(ctx, "cat "+bootIDFile, RunOptions{})
	return strings.TrimSpace(res.Stdout), err
}

// rebootingBootID connects to the host with the system SSH command and
// reads its boot ID. Used while the host may still be going down or
// coming up, when the persistent connection is not usable.
func (d *SSHDevice) rebootingBootID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()

	cmd := d.dialer.DefaultCommand(ctx)
	cmd.Args = append(cmd.Args, d.host, "cat", bootIDFile)
	out, err := cmd.Output()
	return strings.TrimSpace(string(out)), err
}

// Reboot restarts the device, waits for its boot ID to change, and
// re-establishes the SSH connection.
func (d *SSHDevice) Reboot(ctx context.Context) error {
	oldBootID, err := d.bootID(ctx)
	if err != nil {
		return fmt.Errorf("cannot get current boot ID of %s: %w", d.host, err)
	}

	log.Println("rebooting host:", d.host)
	if _, err := d.Run(ctx, "sh -c 'nohup sleep 1 && reboot &'", RunOptions{}); err != nil {
		return fmt.Errorf("failed to schedule reboot on %s: %w", d.host, err)
	}
	d.client.Close()

	if err := d.waitReboot(ctx, oldBootID); err != nil {
		return err
	}

	client, err := d.dialer.DialWithSystemSSH(ctx, d.host)
	if err != nil {
		return fmt.Errorf("cannot reconnect to %s after reboot: %w", d.host, err)
	}
	d.client = client
	return nil
}

func (d *SSHDevice) waitReboot(ctx context.Context, oldBootID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.rebootTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s did not reboot within %s: %w", d.host, d.rebootTimeout, ctx.Err())
		case <-ticker.C:
			bootID, err := d.rebootingBootID(ctx)
			if err != nil {
				continue
			}
			if bootID != oldBootID {
				return nil
			}
		}
	}
}
