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

package core

import (
	metrics "github.com/rcrowley/go-metrics"
)

const (
	metricRecordsProduced   = "Records:Produced"
	metricRecordsConsumed   = "Records:Consumed"
	metricProduceErrors     = "Records:ProduceErrors"
	metricConsumerInstances = "Sessions:Consumers"
	metricProducerSessions  = "Sessions:Producers"
	metricExpiredInstances  = "Sessions:Expired"
)

// MetricsRegistry holds all bridge metrics. The prometheus endpoint of the
// process drains this registry.
var MetricsRegistry = metrics.NewRegistry()

// CountRecordsProduced increments the produced records counter.
func CountRecordsProduced(n int64) {
	metrics.GetOrRegisterCounter(metricRecordsProduced, MetricsRegistry).Inc(n)
}

// CountRecordsConsumed increments the consumed records counter.
func CountRecordsConsumed(n int64) {
	metrics.GetOrRegisterCounter(metricRecordsConsumed, MetricsRegistry).Inc(n)
}

// CountProduceErrors increments the per-record produce failure counter.
func CountProduceErrors(n int64) {
	metrics.GetOrRegisterCounter(metricProduceErrors, MetricsRegistry).Inc(n)
}

// CountExpiredInstances increments the idle-expired consumer counter.
func CountExpiredInstances(n int64) {
	metrics.GetOrRegisterCounter(metricExpiredInstances, MetricsRegistry).Inc(n)
}

// SetConsumerInstances tracks the number of live consumer instances.
func SetConsumerInstances(n int64) {
	metrics.GetOrRegisterGauge(metricConsumerInstances, MetricsRegistry).Update(n)
}

// SetProducerSessions tracks the number of live producer sessions.
func SetProducerSessions(n int64) {
	metrics.GetOrRegisterGauge(metricProducerSessions, MetricsRegistry).Update(n)
}
