// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package target

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// FetchTarball tars up the named remote paths and writes the archive to
// destPath on the local machine. Used for diagnostic log collection.
func FetchTarball(ctx context.Context, r Runner, paths []string, destPath string) error {
	cmd := fmt.Sprintf("tar czf - %s 2>/dev/null | base64", strings.Join(paths, " "))
	res, err := r.Run(ctx, cmd, RunOptions{Timeout: 2 * time.Minute, IgnoreStatus: true})
	if err != nil {
		return fmt.Errorf("cannot archive %v: %w", paths, err)
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(res.Stdout, "\n", ""))
	if err != nil {
		return fmt.Errorf("cannot decode archive of %v: %w", paths, err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", destPath, err)
	}
	return nil
}
