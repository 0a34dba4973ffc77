// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frankban/quicktest"
)

func TestVersionFromURL(t *testing.T) {
	for name, test := range map[string]struct {
		url     string
		version string
	}{
		"release": {
			url:     "http://172.22.50.205:8082/update/lumpy-release/R27-3837.0.0",
			version: "R27-3837.0.0",
		},
		"trybot": {
			url:     "http://100.107.160.2:8082/update/trybot-lumpy-paladin/R27-3837.0.0-b123",
			version: "R27-3837.0.0-b123",
		},
		"delta": {
			url:     "http://100.107.160.2:8082/update/lumpy-chrome-perf/0.14.755.0/au/0.14.754.0",
			version: "0.14.755.0",
		},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			got, err := VersionFromURL(test.url)
			qt.Assert(err, quicktest.IsNil)
			qt.Check(got, quicktest.Equals, test.version)
		})
	}
}

func TestVersionFromURLErrors(t *testing.T) {
	qt := quicktest.New(t)
	_, err := VersionFromURL("http://devserver:8082/update/")
	qt.Check(err, quicktest.ErrorMatches, `update url .* has no version element`)
}

func TestImageNameFromURL(t *testing.T) {
	for name, test := range map[string]struct {
		url   string
		image string
	}{
		"release": {
			url:   "http://172.22.50.205:8082/update/lumpy-release/R27-3837.0.0",
			image: "lumpy-release/R27-3837.0.0",
		},
		"trybot": {
			url:   "http://100.107.160.2:8082/update/trybot-lumpy-paladin/R27-3837.0.0-b123",
			image: "trybot-lumpy-paladin/R27-3837.0.0-b123",
		},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			got, err := ImageNameFromURL(test.url)
			qt.Assert(err, quicktest.IsNil)
			qt.Check(got, quicktest.Equals, test.image)
		})
	}
}

func TestIsReleaseImage(t *testing.T) {
	for name, test := range map[string]struct {
		image string
		want  bool
	}{
		"release":        {"lumpy-release/R27-3837.0.0", true},
		"branch-build":   {"lumpy-release/R27-3837.1.5", false},
		"paladin":        {"trybot-lumpy-paladin/R27-3837.0.0-b123", false},
		"bare-version":   {"R27-3837.0.0", false},
		"empty":          {"", false},
		"newer-release":  {"eve-release/R105-14989.0.0", true},
		"trailing-parts": {"lumpy-release/R27-3837.0.0-rc1", false},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			qt.Check(IsReleaseImage(test.image), quicktest.Equals, test.want)
		})
	}
}

func TestURLDerivations(t *testing.T) {
	qt := quicktest.New(t)

	const updateURL = "http://172.22.50.205:8082/update/lumpy-release/R27-3837.0.0"

	host, err := Hostname(updateURL)
	qt.Assert(err, quicktest.IsNil)
	qt.Check(host, quicktest.Equals, "172.22.50.205")

	base, err := BaseURL(updateURL)
	qt.Assert(err, quicktest.IsNil)
	qt.Check(base, quicktest.Equals, "http://172.22.50.205:8082")

	qt.Check(StatefulURL(updateURL), quicktest.Equals,
		"http://172.22.50.205:8082/static/lumpy-release/R27-3837.0.0")
	qt.Check(PackageURL(base, "lumpy-release/R27-3837.0.0"), quicktest.Equals,
		"http://172.22.50.205:8082/static/lumpy-release/R27-3837.0.0/autotest/packages")
	qt.Check(UpdateURL(base+"/", "lumpy-release/R27-3837.0.0"), quicktest.Equals, updateURL)
}

func TestCheckHealth(t *testing.T) {
	qt := quicktest.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/check_health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	qt.Check(CheckHealth(ctx, srv.URL), quicktest.IsNil)
	qt.Check(CheckHealth(ctx, srv.URL+"/bad"), quicktest.ErrorMatches, `devserver .* not healthy: .*`)

	srv.Close()
	qt.Check(CheckHealth(ctx, srv.URL), quicktest.ErrorMatches, `devserver .* not available: .*`)
}

func FuzzVersionFromURL(f *testing.F) {
	f.Add("http://devserver:8082/update/lumpy-release/R27-3837.0.0")
	f.Add("http://devserver:8082/update/a/b/au/c")
	f.Add("")
	f.Fuzz(func(t *testing.T, s string) {
		version, err := VersionFromURL(s)
		if err == nil && version == "" {
			t.Errorf("VersionFromURL(%q) returned empty version without error", s)
		}
	})
}
