// Copyright 2018 EnMasse authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"net/http"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/EnMasseProject/http-kafka-bridge/core"
	"github.com/EnMasseProject/http-kafka-bridge/frontend"
	"github.com/EnMasseProject/http-kafka-bridge/healthcheck"
	"github.com/EnMasseProject/http-kafka-bridge/kafka"
)

const (
	coordinatorStateConfigure = coordinatorState(iota)
	coordinatorStateRunning   = coordinatorState(iota)
	coordinatorStateShutdown  = coordinatorState(iota)
	coordinatorStateStopped   = coordinatorState(iota)
)

type coordinatorState byte

// Coordinator is the main bridge instance taking care of starting and
// stopping the frontend, the session registry and the side services.
type Coordinator struct {
	conf     *core.Config
	registry *frontend.Registry
	frontend *frontend.Frontend
	metrics  *metricsService
	state    coordinatorState
	signal   chan os.Signal
}

// NewCoordinator creates a new bridge coordinator.
func NewCoordinator(conf *core.Config) *Coordinator {
	return &Coordinator{
		conf:  conf,
		state: coordinatorStateConfigure,
	}
}

// Start brings up the session registry, the side services and finally the
// HTTP frontend, so that requests only arrive once the bridge can serve
// them.
func (co *Coordinator) Start() error {
	co.registry = frontend.NewRegistry(co.conf, &kafka.SaramaFactory{})
	co.frontend = frontend.NewFrontend(co.conf, co.registry)

	if co.conf.MetricsAddress != "" {
		co.metrics = newMetricsService(co.conf.MetricsAddress, co.registry)
		co.metrics.Start()
	}

	if co.conf.HealthAddress != "" {
		healthcheck.Register("/healthy", func() (int, string) {
			return http.StatusOK, "OK"
		})
		healthcheck.Register("/ready", func() (int, string) {
			// Readiness follows the frontend: once it accepts requests
			// the registry can open Kafka sessions on demand.
			if co.state == coordinatorStateRunning {
				return http.StatusOK, "OK"
			}
			return http.StatusServiceUnavailable, "starting"
		})
		healthcheck.Start(co.conf.HealthAddress)
	}

	if err := co.frontend.Start(); err != nil {
		return err
	}

	co.state = coordinatorStateRunning
	logrus.WithField("address", co.conf.HTTPAddress()).Info("Bridge started")
	return nil
}

// Run blocks until a shutdown signal arrives.
func (co *Coordinator) Run() {
	co.signal = shutdownSignals()
	defer signal.Stop(co.signal)

	sig := <-co.signal
	logrus.WithField("signal", sig).Info("Shutdown requested")
}

// Shutdown stops accepting requests, then drains every live session
// before the process exits.
func (co *Coordinator) Shutdown() {
	co.state = coordinatorStateShutdown
	logrus.Info("Stopping bridge")

	if co.frontend != nil {
		if err := co.frontend.Stop(); err != nil {
			logrus.WithError(err).Error("Stopping frontend failed")
		}
	}
	if co.registry != nil {
		co.registry.Shutdown()
	}
	if co.metrics != nil {
		co.metrics.Stop()
	}
	if co.conf.HealthAddress != "" {
		healthcheck.Stop()
	}

	co.state = coordinatorStateStopped
	logrus.Info("Bridge stopped")
}
