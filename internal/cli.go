// Copyright 2022 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package internal

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin"
)

func cliParse(args []string) (target string, opts Options, err error) {
	const (
		yes = "yes"
		no  = "no"
	)

	app := kingpin.New("cros-provision", "")
	app.Arg("dut-host", "the ssh target of the dut").Required().StringVar(&target)
	app.Flag("url", "full update URL, ex: http://devserver:8082/update/lumpy-release/R27-3837.0.0").
		StringVar(&opts.UpdateURL)
	app.Flag("devserver", "devserver base URL, used when resolving a build from --board/-R").
		StringVar(&opts.Devserver)
	app.Flag("board",
		"provision the latest gs://chromeos-image-archive/${board}-release/R* build. Use with caution!").
		StringVar(&opts.Board)
	app.Flag("R", "release number. ex: 105 or 105-14989.0.0").Short('R').StringVar(&opts.ReleaseString)
	app.Flag("port", "port number to connect to on the dut-host").Short('p').StringVar(&opts.Port)
	app.Flag("config", "path of the provision tunables ini file").StringVar(&opts.ConfigPath)
	app.Flag("metrics-listen", "address to expose provisioning metrics on, ex: :9100").
		StringVar(&opts.MetricsListen)
	forceFull := app.Flag(
		"force-full-update",
		"update the root filesystem even if the dut already runs the target build. "+
			"Choices: yes, no (default)",
	).Default(no).Enum(yes, no)
	interactive := app.Flag(
		"interactive",
		"mark the update request as interactive. Choices: yes, no (default)",
	).Default(no).Enum(yes, no)
	rollback := app.Flag(
		"rollback",
		"roll the dut back to its previous image instead of updating. "+
			"Choices: yes, no (default)",
	).Default(no).Enum(yes, no)
	powerwash := app.Flag(
		"powerwash",
		"wipe the stateful partition as part of --rollback. Choices: yes, no (default)",
	).Default(no).Enum(yes, no)

	if _, err := app.Parse(args); err != nil {
		return target, opts, fmt.Errorf("error: %w, try --help", err)
	}

	r, err := strconv.Atoi(opts.ReleaseString)
	if err == nil {
		opts.MilestoneNum = r
		opts.ReleaseString = ""
	}
	opts.ForceFullUpdate = (*forceFull == yes)
	opts.Interactive = (*interactive == yes)
	opts.Rollback = (*rollback == yes)
	opts.Powerwash = (*powerwash == yes)

	if opts.UpdateURL == "" && opts.Devserver == "" {
		return target, opts, fmt.Errorf("error: either --url or --devserver is required, try --help")
	}

	return target, opts, nil
}

func CLIMain(ctx context.Context, t0 time.Time, args []string) error {
	target, opts, err := cliParse(args)
	if err != nil {
		return err
	}

	if err := Main(ctx, t0, target, &opts); err != nil {
		return err
	}

	log.Println("DUT provisioned successfully")

	return nil
}
