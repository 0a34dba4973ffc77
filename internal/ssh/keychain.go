// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// Locations of the shared ChromeOS testing key, relative to the user's
// home directory. Test images authorize this key for root.
var testingKeyPaths = []string{
	".ssh/testing_rsa",
	"chromiumos/chromite/ssh_keys/testing_rsa",
}

// KeyChain holds the private key used to authenticate to test images,
// both as an x/crypto/ssh auth method and as a file path usable with the
// system ssh command.
type KeyChain struct {
	keyPath string
	signer  ssh.Signer
}

// NewKeyChain locates and loads the testing key.
func NewKeyChain() (*KeyChain, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("cannot lookup user: %w", err)
	}

	var lastErr error
	for _, rel := range testingKeyPaths {
		keyPath := filepath.Join(u.HomeDir, rel)
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			lastErr = err
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %s: %w", keyPath, err)
		}
		return &KeyChain{keyPath: keyPath, signer: signer}, nil
	}
	return nil, fmt.Errorf("cannot find testing_rsa key: %w", lastErr)
}

// SSHAuthMethod returns the auth method for x/crypto/ssh connections.
func (k *KeyChain) SSHAuthMethod() ssh.AuthMethod {
	return ssh.PublicKeys(k.signer)
}

// SSHCommandOptions returns extra arguments for the system ssh command.
func (k *KeyChain) SSHCommandOptions() []string {
	return []string{"-i", k.keyPath}
}

// Delete releases resources held by the key chain.
func (k *KeyChain) Delete() error {
	return nil
}
