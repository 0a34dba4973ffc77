// Copyright 2022 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// Client is a custom SSH client with extra utility methods.
type Client struct {
	tunnel *Tunnel
	*ssh.Client
}

// Close the client.
func (c *Client) Close() error {
	c.Client.Close()
	return c.tunnel.Close()
}

// NewSession creates a new Session. A session is used to run a command.
func (c *Client) NewSession() (*Session, error) {
	s, err := c.Client.NewSession()
	return &Session{Session: s}, err
}

// RunSimpleOutput runs cmd on the remote system.
// Stdout is returned as a string.
// On error, the stderr is contained in the returned error.
func (c *Client) RunSimpleOutput(cmd string) (string, error) {
	s, err := c.NewSession()
	if err != nil {
		return "", err
	}
	defer s.Close()
	return s.SimpleOutput(cmd)
}

// RunWithStatus runs cmd on the remote system, bounded by ctx and an
// optional timeout. Stdout and the command's exit status are returned.
// An error is returned only when the command could not be run to
// completion: connection loss, session setup failure, or the deadline
// expiring before the command exits.
func (c *Client) RunWithStatus(ctx context.Context, cmd string, timeout time.Duration) (stdout string, exitStatus int, err error) {
	s, err := c.NewSession()
	if err != nil {
		return "", 0, err
	}
	defer s.Close()

	if timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	s.Stdout = &stdoutBuf
	s.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- s.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		// Closing the session tears down the remote command; the
		// goroutine's result no longer matters.
		s.Close()
		return stdoutBuf.String(), 0, fmt.Errorf("ssh command %q: %w", cmd, ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdoutBuf.String(), exitErr.ExitStatus(),
				fmt.Errorf("ssh command %q exited with status %d: %s",
					cmd, exitErr.ExitStatus(), stderrBuf.String())
		}
		return stdoutBuf.String(), 0, fmt.Errorf("ssh command %q failed: %w: %s", cmd, err, stderrBuf.String())
	}
	return stdoutBuf.String(), 0, nil
}

type Session struct {
	*ssh.Session
}

// SimpleOutput runs cmd on the remote system.
// Stdout is returned as a string.
// On error, the stderr is contained in the returned error.
func (s *Session) SimpleOutput(cmd string) (string, error) {
	if s.Stdout != nil {
		return "", errors.New("exec: Stdout already set")
	}
	if s.Stderr != nil {
		return "", errors.New("exec: Stderr already set")
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	s.Stdout = &stdout
	s.Stderr = &stderr
	err := s.Run(cmd)
	if err != nil {
		return stdout.String(), fmt.Errorf("ssh command %q failed: %w: %s", cmd, err, stderr.String())
	}
	return stdout.String(), nil
}
