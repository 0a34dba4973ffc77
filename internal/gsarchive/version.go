// Copyright 2022 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package gsarchive resolves ChromeOS build versions from the
// gs://chromeos-image-archive bucket, so a caller can name a board and
// milestone instead of a full devserver URL.
package gsarchive

import (
	"fmt"
	"regexp"
	"strconv"
)

// Version is a ChromeOS build version such as R109-15236.80.0:
//
//	R109-15236.80.0
//	 --- ----- -- -
//	 |   |     |  |
//	 |   |     |  Patch number
//	 |   |     Branch number
//	 |   Build number
//	 Milestone number
type Version struct {
	Milestone int
	Build     int
	Branch    int
	Patch     int
}

var versionRegexp = regexp.MustCompile(`^R(\d+)-(\d+)\.(\d+)\.(\d+)$`)

// ParseVersion parses a full version string such as R27-3837.0.0.
func ParseVersion(v string) (Version, error) {
	m := versionRegexp.FindStringSubmatch(v)
	if m == nil {
		return Version{}, fmt.Errorf("cannot parse %q as version", v)
	}
	var nums [4]int
	for i := range nums {
		var err error
		nums[i], err = strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("cannot parse %q as version: %v", v, err)
		}
	}
	return Version{nums[0], nums[1], nums[2], nums[3]}, nil
}

// Branched tells whether v was built on a release branch.
func (v Version) Branched() bool {
	return v.Branch != 0
}

// Less orders versions for "latest build" selection. Within one
// milestone, branched builds are preferred to trunk builds with a
// higher build number (b/259389997).
func (v Version) Less(w Version) bool {
	if v.Milestone != w.Milestone {
		return v.Milestone < w.Milestone
	}
	if v.Branched() != w.Branched() {
		return w.Branched()
	}
	if v.Build != w.Build {
		return v.Build < w.Build
	}
	if v.Branch != w.Branch {
		return v.Branch < w.Branch
	}
	return v.Patch < w.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("R%d-%d.%d.%d", v.Milestone, v.Build, v.Branch, v.Patch)
}
