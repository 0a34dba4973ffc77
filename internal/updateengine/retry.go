// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateengine

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class tags an error from a remote update_engine_client run.
type Class int

const (
	// ClassUnknown is anything the classifier has no opinion on.
	ClassUnknown Class = iota
	// ClassTransient errors are worth one more attempt: SSH timed
	// out, or the daemon reported a known transient error code.
	ClassTransient
	// ClassFatal errors will not be helped by retrying.
	ClassFatal
)

// ERROR_CODE=37 is update_engine's transient kOmahaErrorInHTTPResponse.
// "generic error (255)" is the ssh client's exit code for a dropped
// connection.
var transientSignatures = []*regexp.Regexp{
	regexp.MustCompile(`ERROR_CODE=37`),
	regexp.MustCompile(`generic error .255.`),
}

// Classify is the single place where remote-run failures are sorted
// into transient and fatal. All signature matching lives here.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	msg := err.Error()
	for _, re := range transientSignatures {
		if re.MatchString(msg) {
			return ClassTransient
		}
	}
	return ClassFatal
}

// retryTransient runs op, retrying up to maxRetries extra times with a
// constant interval, but only while Classify deems the failure
// transient.
func retryTransient(ctx context.Context, interval time.Duration, maxRetries uint64, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if Classify(err) == ClassTransient {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
