// Copyright 2022 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package gsarchive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/user"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"golang.org/x/exp/slices"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"gopkg.in/ini.v1"
)

const bucketName = "chromeos-image-archive"

// statefulImage must exist in a build directory for that build to be
// usable for provisioning.
const statefulImage = "stateful.tgz"

// tokenSource returns the user's token to access Google Cloud Storage.
// It reads ~/.boto, an ini file set up by `gsutil.py config`.
func tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	// Impersonate gsutil
	// https://github.com/GoogleCloudPlatform/gsutil/blob/7bad311bd5444907c515ff745429cc2ffd31b22d/gslib/utils/system_util.py#L174
	c := oauth2.Config{
		ClientID:     "909320924072.apps.googleusercontent.com",
		ClientSecret: "p3RlpR10xMFh9ZXBS/ZNLYUu",
		Endpoint:     google.Endpoint,
	}

	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("cannot lookup user: %w", err)
	}

	botoFile := filepath.Join(u.HomeDir, ".boto")
	boto, err := ini.Load(botoFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load %s: %w (please run `gsutil.py config`)", botoFile, err)
	}
	refreshToken := boto.Section("Credentials").Key("gs_oauth2_refresh_token").String()
	if refreshToken == "" {
		return nil, fmt.Errorf("cannot get refresh token from %s (please run `gsutil.py config`)", botoFile)
	}

	return c.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}), nil
}

// Archive queries the image archive bucket.
type Archive struct {
	client *storage.Client
}

// New creates an Archive authenticated with the user's gsutil token.
func New(ctx context.Context) (*Archive, error) {
	ts, err := tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient failed: %w", err)
	}
	return &Archive{client: client}, nil
}

func gsURI(obj *storage.ObjectHandle) string {
	return fmt.Sprintf("gs://%s/%s", obj.BucketName(), obj.ObjectName())
}

// ImageName composes the archive directory name for board and version,
// e.g. brya-release/R109-15236.80.0.
func ImageName(board string, v Version) string {
	return fmt.Sprintf("%s-release/%s", board, v)
}

func (a *Archive) queryPrefix(ctx context.Context, q *storage.Query) ([]*storage.ObjectAttrs, error) {
	var result []*storage.ObjectAttrs
	if err := q.SetAttrSelection([]string{"Name"}); err != nil {
		panic("SetAttrSelection failed")
	}
	objects := a.client.Bucket(bucketName).Objects(ctx, q)
	for {
		attrs, err := objects.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error while executing query: %w", err)
		}
		result = append(result, attrs)
	}
	return result, nil
}

// checkVersion verifies the build directory holds the payload needed
// for provisioning.
func (a *Archive) checkVersion(ctx context.Context, board string, v Version) error {
	object := a.client.Bucket(bucketName).Object(path.Join(ImageName(board, v), statefulImage))
	if _, err := object.Attrs(ctx); err != nil {
		return fmt.Errorf("%s: %v", gsURI(object), err)
	}
	return nil
}

// LatestVersionWithPrefix finds the latest usable build with the given
// version prefix for board.
func (a *Archive) LatestVersionWithPrefix(ctx context.Context, board, prefix string) (Version, error) {
	fullPrefix := fmt.Sprintf("%s-release/%s", board, prefix)

	objects, err := a.queryPrefix(ctx, &storage.Query{Delimiter: "/", Prefix: fullPrefix})
	if err != nil {
		return Version{}, fmt.Errorf("cannot get versions available for gs://%s/%s*", bucketName, fullPrefix)
	}

	var versions []Version
	for _, attrs := range objects {
		v, err := ParseVersion(path.Base(attrs.Prefix))
		if err != nil {
			log.Printf("cannot parse %q, ignoring: %v", attrs.Prefix, err)
			continue
		}
		versions = append(versions, v)
	}

	slices.SortFunc(versions, func(a, b Version) bool { return b.Less(a) })
	for _, v := range versions {
		if err := a.checkVersion(ctx, board, v); err != nil {
			log.Printf("ignoring version %q: %v", v, err)
			continue
		}
		return v, nil
	}
	return Version{}, fmt.Errorf("no versions found for gs://%s/%s*", bucketName, fullPrefix)
}

// latestVersionForLATEST reads LATEST-* marker files for board. With
// isPrefix, all LATEST files with the given prefix are considered and
// the newest version wins.
func (a *Archive) latestVersionForLATEST(ctx context.Context, board, latest string, isPrefix bool) (Version, error) {
	name := fmt.Sprintf("%s-release/%s", board, latest)
	var objects []*storage.ObjectAttrs
	if isPrefix {
		var err error
		objects, err = a.queryPrefix(ctx, &storage.Query{Prefix: name})
		if err != nil {
			return Version{}, fmt.Errorf("cannot get LATEST file from gs://%s/%s*", bucketName, name)
		}
	} else {
		objects = []*storage.ObjectAttrs{{Name: name}}
	}

	var latestVersion Version
	for _, attrs := range objects {
		obj := a.client.Bucket(bucketName).Object(attrs.Name)
		r, err := obj.NewReader(ctx)
		if err != nil {
			return Version{}, fmt.Errorf("cannot open LATEST file %s: %w", gsURI(obj), err)
		}
		rawVersion, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return Version{}, fmt.Errorf("cannot read from LATEST file %s: %w", gsURI(obj), err)
		}
		v, err := ParseVersion(string(rawVersion))
		if err != nil {
			return Version{}, fmt.Errorf("cannot parse LATEST file %s: %w", gsURI(obj), err)
		}
		if latestVersion.Less(v) {
			latestVersion = v
		}
	}

	if latestVersion == (Version{}) {
		return Version{}, fmt.Errorf("no LATEST file found for gs://%s/%s*", bucketName, name)
	}
	return latestVersion, nil
}

// LatestVersionForMilestone finds the latest build for board and
// milestone.
func (a *Archive) LatestVersionForMilestone(ctx context.Context, board string, milestone int) (Version, error) {
	v, err := a.latestVersionForLATEST(ctx, board, fmt.Sprintf("LATEST-release-R%d-", milestone), true)
	if err != nil {
		log.Printf("%v, maybe the milestone is not branched yet. Retrying with prefix matching", err)
		v, err = a.LatestVersionWithPrefix(ctx, board, fmt.Sprintf("R%d-", milestone))
	}
	return v, err
}

// LatestVersion finds the latest build for board.
func (a *Archive) LatestVersion(ctx context.Context, board string) (Version, error) {
	return a.latestVersionForLATEST(ctx, board, "LATEST-main", false)
}
