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
	"context"
	"net/http"
	"time"

	promMetrics "github.com/CrowdStrike/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/EnMasseProject/http-kafka-bridge/core"
	"github.com/EnMasseProject/http-kafka-bridge/frontend"
)

const metricsFlushInterval = 3 * time.Second

// metricsService serves the bridge metrics registry on /prometheus. The
// record counters are incremented by the sessions as they work; the live
// session gauges are sampled from the registry right before every flush,
// so the exported values always reflect sessions that survived idle
// expiry and connection teardown.
type metricsService struct {
	registry *frontend.Registry
	provider *promMetrics.PrometheusConfig
	server   *http.Server
	quit     chan struct{}
}

func newMetricsService(address string, registry *frontend.Registry) *metricsService {
	prometheusRegistry := prometheus.NewRegistry()

	serveMux := http.NewServeMux()
	serveMux.Handle("/prometheus", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{
		ErrorLog:      logrus.StandardLogger(),
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return &metricsService{
		registry: registry,
		provider: promMetrics.NewPrometheusProvider(core.MetricsRegistry, "bridge", "", prometheusRegistry, metricsFlushInterval),
		server:   &http.Server{Addr: address, Handler: serveMux},
		quit:     make(chan struct{}),
	}
}

// Start launches the flush loop and the metrics listener.
func (m *metricsService) Start() {
	go m.flushLoop()

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Failed to start metrics http server")
		}
	}()

	logrus.WithField("address", m.server.Addr).Info("Started metric service")
}

func (m *metricsService) flushLoop() {
	ticker := time.NewTicker(metricsFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sampleSessions()
			if err := m.provider.UpdatePrometheusMetricsOnce(); err != nil {
				logrus.WithError(err).Warn("Error updating metrics")
			}
		case <-m.quit:
			return
		}
	}
}

func (m *metricsService) sampleSessions() {
	core.SetConsumerInstances(int64(m.registry.ConsumerCount()))
	core.SetProducerSessions(int64(m.registry.ProducerCount()))
}

// Stop ends the flush loop, samples the final session counts into the
// bridge gauges once more and shuts the listener down. No flush follows
// that last sample, so /prometheus keeps serving the values of the last
// flush until the listener closes.
func (m *metricsService) Stop() {
	close(m.quit)
	m.sampleSessions()

	if err := m.server.Shutdown(context.Background()); err != nil {
		logrus.WithError(err).Error("Failed to shutdown metrics http server")
	}
}
