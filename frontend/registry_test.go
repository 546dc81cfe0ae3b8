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

package frontend

import (
	"net/http"
	"testing"
	"time"

	"github.com/trivago/tgo/ttesting"

	"github.com/EnMasseProject/http-kafka-bridge/core"
	"github.com/EnMasseProject/http-kafka-bridge/kafka"
)

func registryConfig() *core.Config {
	conf := core.NewConfig()
	conf.Kafka.Servers = []string{"stub:9092"}
	conf.Consumer.AutoOffsetReset = "earliest"
	conf.PollTimeoutMs = 50
	conf.IdleTimeoutSec = 1
	return conf
}

func registrySettings(name string) kafka.ConsumerSettings {
	return kafka.ConsumerSettings{
		Name:             name,
		GroupID:          "my-group",
		Format:           core.FormatBinary,
		AutoOffsetReset:  "earliest",
		FetchMinBytes:    1,
		RequestTimeoutMs: 100,
	}
}

func TestRegistryDuplicateInstance(t *testing.T) {
	expect := ttesting.NewExpect(t)
	registry := NewRegistry(registryConfig(), newStubFactory())
	defer registry.Shutdown()

	_, err := registry.CreateConsumer(registrySettings("my-kafka-consumer"))
	expect.NoError(err)

	_, err = registry.CreateConsumer(registrySettings("my-kafka-consumer"))
	expect.NotNil(err)
	bridgeErr := core.AsBridgeError(err)
	expect.Equal(http.StatusConflict, bridgeErr.Code)
	expect.Equal("A consumer instance with the specified name already exists in the Kafka Bridge.", bridgeErr.Message)

	// A removed name is free for reuse.
	expect.NoError(registry.RemoveConsumer("my-group", "my-kafka-consumer"))
	_, err = registry.CreateConsumer(registrySettings("my-kafka-consumer"))
	expect.NoError(err)
}

func TestRegistrySameNameDifferentGroup(t *testing.T) {
	expect := ttesting.NewExpect(t)
	registry := NewRegistry(registryConfig(), newStubFactory())
	defer registry.Shutdown()

	settings := registrySettings("shared-name")
	_, err := registry.CreateConsumer(settings)
	expect.NoError(err)

	settings.GroupID = "other-group"
	_, err = registry.CreateConsumer(settings)
	expect.NoError(err)
}

func TestRegistryLookupAndRemoval(t *testing.T) {
	expect := ttesting.NewExpect(t)
	factory := newStubFactory()
	registry := NewRegistry(registryConfig(), factory)
	defer registry.Shutdown()

	_, err := registry.GetConsumer("my-group", "nobody")
	expect.Equal(http.StatusNotFound, core.AsBridgeError(err).Code)

	created, err := registry.CreateConsumer(registrySettings("c"))
	expect.NoError(err)

	found, err := registry.GetConsumer("my-group", "c")
	expect.NoError(err)
	expect.Equal(created, found)

	expect.NoError(registry.RemoveConsumer("my-group", "c"))
	expect.True(factory.handles[0].closed)

	err = registry.RemoveConsumer("my-group", "c")
	expect.Equal(http.StatusNotFound, core.AsBridgeError(err).Code)
}

func TestRegistryIdleExpiry(t *testing.T) {
	expect := ttesting.NewExpect(t)
	factory := newStubFactory()
	registry := NewRegistry(registryConfig(), factory)
	defer registry.Shutdown()

	_, err := registry.CreateConsumer(registrySettings("sleeper"))
	expect.NoError(err)

	// Wait out the idle timeout, then run an expiry sweep.
	time.Sleep(1100 * time.Millisecond)
	registry.expireIdle()

	_, err = registry.GetConsumer("my-group", "sleeper")
	expect.Equal(http.StatusNotFound, core.AsBridgeError(err).Code)
	expect.True(factory.handles[0].closed)

	// Expired instances behave exactly like deleted ones.
	err = registry.RemoveConsumer("my-group", "sleeper")
	expect.Equal(http.StatusNotFound, core.AsBridgeError(err).Code)
}

func TestRegistryActivityPreventsExpiry(t *testing.T) {
	expect := ttesting.NewExpect(t)
	registry := NewRegistry(registryConfig(), newStubFactory())
	defer registry.Shutdown()

	session, err := registry.CreateConsumer(registrySettings("active"))
	expect.NoError(err)

	time.Sleep(600 * time.Millisecond)
	expect.NoError(session.Subscribe([]string{"t"}, ""))
	time.Sleep(600 * time.Millisecond)

	registry.expireIdle()
	_, err = registry.GetConsumer("my-group", "active")
	expect.NoError(err)
}

func TestRegistryProducerConnectionLifecycle(t *testing.T) {
	expect := ttesting.NewExpect(t)
	registry := NewRegistry(registryConfig(), newStubFactory())
	defer registry.Shutdown()

	first := registry.ProducerForConnection("conn-1")
	again := registry.ProducerForConnection("conn-1")
	expect.Equal(first, again)

	other := registry.ProducerForConnection("conn-2")
	expect.Neq(first, other)

	registry.ReleaseConnection("conn-1")
	fresh := registry.ProducerForConnection("conn-1")
	expect.Neq(first, fresh)

	// Releasing a connection that never produced is a no-op.
	registry.ReleaseConnection("conn-99")
}

func TestRegistryShutdownDrainsSessions(t *testing.T) {
	expect := ttesting.NewExpect(t)
	factory := newStubFactory()
	registry := NewRegistry(registryConfig(), factory)

	_, err := registry.CreateConsumer(registrySettings("a"))
	expect.NoError(err)
	_, err = registry.CreateConsumer(registrySettings("b"))
	expect.NoError(err)
	registry.ProducerForConnection("conn-1")

	registry.Shutdown()

	expect.Equal(0, registry.ConsumerCount())
	for _, handle := range factory.handles {
		expect.True(handle.closed)
	}
}
