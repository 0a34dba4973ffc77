// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package metrics counts provisioning attempts and outcomes. The
// counters can be scraped from an optional local endpoint while a
// provision runs.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProvisionInstalls counts provisioning attempts per devserver.
	ProvisionInstalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cros_provision_install_total",
			Help: "Provisioning attempts, by devserver.",
		},
		[]string{"devserver"},
	)

	// UpdateTriggers counts update_engine check/update triggers.
	UpdateTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cros_provision_trigger_total",
			Help: "update_engine trigger attempts, by operation and outcome.",
		},
		[]string{"op", "success"},
	)
)

// Serve exposes the default registry on addr until the process exits.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics listener failed: %v", err)
		}
	}()
}
