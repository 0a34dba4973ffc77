// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package devserver understands the lab devserver's URL scheme and
// health endpoint. The devserver itself is an external collaborator;
// everything here is URL plumbing plus one HTTP check.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// JobRepoURLAttribute is the host attribute key under which the
// autotest package repository URL is reported after provisioning.
const JobRepoURLAttribute = "job_repo_url"

var auSuffixRegexp = regexp.MustCompile(`/au/.*`)

// VersionFromURL extracts the target version from an update URL.
//
// The version is the last path element, except for delta update URLs
// which are rooted under the version, e.g.
// http://.../update/.../0.14.755.0/au/0.14.754.0. The /au/... suffix is
// stripped before reading the version.
func VersionFromURL(updateURL string) (string, error) {
	u, err := url.Parse(updateURL)
	if err != nil {
		return "", fmt.Errorf("cannot parse update url %q: %w", updateURL, err)
	}
	path := auSuffixRegexp.ReplaceAllString(u.Path, "")
	elems := strings.Split(path, "/")
	version := strings.TrimSpace(elems[len(elems)-1])
	if version == "" {
		return "", fmt.Errorf("update url %q has no version element", updateURL)
	}
	return version, nil
}

// ImageNameFromURL extracts the image name from an update URL.
//
// From http://172.22.50.205:8082/update/lumpy-release/R27-3837.0.0
// it returns lumpy-release/R27-3837.0.0.
func ImageNameFromURL(updateURL string) (string, error) {
	u, err := url.Parse(updateURL)
	if err != nil {
		return "", fmt.Errorf("cannot parse update url %q: %w", updateURL, err)
	}
	elems := strings.Split(u.Path, "/")
	if len(elems) < 2 {
		return "", fmt.Errorf("update url %q has no image name", updateURL)
	}
	return strings.Join(elems[len(elems)-2:], "/"), nil
}

var releaseImageRegexp = regexp.MustCompile(`^.*-release/R[0-9]+-[0-9]+\.[0-9]+\.0$`)

// IsReleaseImage tells whether imageName looks like a regular release
// build, e.g. lumpy-release/R27-3837.0.0. Try-job and paladin builds do
// not match.
func IsReleaseImage(imageName string) bool {
	return releaseImageRegexp.MatchString(imageName)
}

// Hostname returns the devserver host serving updateURL.
func Hostname(updateURL string) (string, error) {
	u, err := url.Parse(updateURL)
	if err != nil {
		return "", fmt.Errorf("cannot parse update url %q: %w", updateURL, err)
	}
	return u.Hostname(), nil
}

// BaseURL returns the scheme://host:port part of updateURL.
func BaseURL(updateURL string) (string, error) {
	u, err := url.Parse(updateURL)
	if err != nil {
		return "", fmt.Errorf("cannot parse update url %q: %w", updateURL, err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// StatefulURL derives the stateful payload URL from an update URL, by
// switching the update RPC path to the static file server.
func StatefulURL(updateURL string) string {
	return strings.Replace(updateURL, "update", "static", 1)
}

// PackageURL returns the autotest package repository URL for imageName
// on the devserver rooted at devserverURL.
func PackageURL(devserverURL, imageName string) string {
	return fmt.Sprintf("%s/static/%s/autotest/packages",
		strings.TrimRight(devserverURL, "/"), imageName)
}

// UpdateURL composes the update URL for imageName on the devserver
// rooted at devserverURL.
func UpdateURL(devserverURL, imageName string) string {
	return fmt.Sprintf("%s/update/%s", strings.TrimRight(devserverURL, "/"), imageName)
}

// CheckHealth queries the devserver's health endpoint. A non-nil error
// means the server must not be used for an install.
func CheckHealth(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/check_health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("devserver at %s not available: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("devserver at %s not healthy: %s", baseURL, resp.Status)
	}
	return nil
}
