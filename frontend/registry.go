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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/EnMasseProject/http-kafka-bridge/core"
	"github.com/EnMasseProject/http-kafka-bridge/kafka"
)

// Registry is the process-wide directory of live sessions: consumer
// instances keyed by group and name, producer sessions keyed by the
// originating HTTP connection. The maps are guarded by a short critical
// section covering lookup and insert/remove only; Kafka calls run outside
// of it on the session's own lock.
type Registry struct {
	guard     sync.Mutex
	conf      *core.Config
	factory   kafka.Factory
	consumers map[string]*kafka.ConsumerSession
	producers map[string]*kafka.ProducerSession
	quit      chan struct{}
	stopped   sync.WaitGroup
}

// NewRegistry creates the registry and starts the idle expiry janitor.
func NewRegistry(conf *core.Config, factory kafka.Factory) *Registry {
	registry := &Registry{
		conf:      conf,
		factory:   factory,
		consumers: make(map[string]*kafka.ConsumerSession),
		producers: make(map[string]*kafka.ProducerSession),
		quit:      make(chan struct{}),
	}

	registry.stopped.Add(1)
	go registry.expireLoop()
	return registry
}

func instanceKey(groupID string, name string) string {
	return groupID + "/" + name
}

// AddConsumer registers a new consumer session. Registration fails while
// another live instance holds the same group and name.
func (r *Registry) AddConsumer(session *kafka.ConsumerSession) error {
	key := instanceKey(session.GroupID(), session.Name())

	r.guard.Lock()
	defer r.guard.Unlock()

	if _, exists := r.consumers[key]; exists {
		return core.NewConflictError("A consumer instance with the specified name already exists in the Kafka Bridge.")
	}
	r.consumers[key] = session
	return nil
}

// CreateConsumer connects a new consumer session and registers it. The
// existence pre-check keeps the common duplicate case from opening a
// Kafka connection; the authoritative check is the registration itself.
func (r *Registry) CreateConsumer(settings kafka.ConsumerSettings) (*kafka.ConsumerSession, error) {
	key := instanceKey(settings.GroupID, settings.Name)

	r.guard.Lock()
	_, exists := r.consumers[key]
	r.guard.Unlock()
	if exists {
		return nil, core.NewConflictError("A consumer instance with the specified name already exists in the Kafka Bridge.")
	}

	session, err := kafka.NewConsumerSession(r.conf, r.factory, settings)
	if err != nil {
		return nil, err
	}

	if err := r.AddConsumer(session); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// GetConsumer looks up a live consumer instance.
func (r *Registry) GetConsumer(groupID string, name string) (*kafka.ConsumerSession, error) {
	r.guard.Lock()
	defer r.guard.Unlock()

	session, exists := r.consumers[instanceKey(groupID, name)]
	if !exists {
		return nil, core.NewNotFoundError("The specified consumer instance was not found.")
	}
	return session, nil
}

// RemoveConsumer deletes an instance and closes its Kafka handle.
func (r *Registry) RemoveConsumer(groupID string, name string) error {
	key := instanceKey(groupID, name)

	r.guard.Lock()
	session, exists := r.consumers[key]
	if exists {
		delete(r.consumers, key)
	}
	r.guard.Unlock()

	if !exists {
		return core.NewNotFoundError("The specified consumer instance was not found.")
	}

	if err := session.Close(); err != nil {
		logrus.WithError(err).WithField("instance", name).Warn("Closing consumer instance failed")
	}
	return nil
}

// ProducerForConnection returns the producer session of an HTTP
// connection, creating it on the first produce request.
func (r *Registry) ProducerForConnection(connection string) *kafka.ProducerSession {
	r.guard.Lock()
	defer r.guard.Unlock()

	if session, exists := r.producers[connection]; exists {
		return session
	}

	session := kafka.NewProducerSession(r.conf, r.factory, connection)
	r.producers[connection] = session
	return session
}

// ReleaseConnection tears down the producer session of a closed HTTP
// connection, if one was ever created.
func (r *Registry) ReleaseConnection(connection string) {
	r.guard.Lock()
	session, exists := r.producers[connection]
	if exists {
		delete(r.producers, connection)
	}
	r.guard.Unlock()

	if exists {
		if err := session.Close(); err != nil {
			logrus.WithError(err).Warn("Closing producer session failed")
		}
	}
}

// ConsumerCount returns the number of live consumer instances.
func (r *Registry) ConsumerCount() int {
	r.guard.Lock()
	defer r.guard.Unlock()
	return len(r.consumers)
}

// ProducerCount returns the number of live producer sessions.
func (r *Registry) ProducerCount() int {
	r.guard.Lock()
	defer r.guard.Unlock()
	return len(r.producers)
}

// Shutdown closes every live session and empties both maps. The registry
// must not be used afterwards.
func (r *Registry) Shutdown() {
	close(r.quit)
	r.stopped.Wait()

	r.guard.Lock()
	consumers := r.consumers
	producers := r.producers
	r.consumers = make(map[string]*kafka.ConsumerSession)
	r.producers = make(map[string]*kafka.ProducerSession)
	r.guard.Unlock()

	for key, session := range consumers {
		if err := session.Close(); err != nil {
			logrus.WithError(err).WithField("instance", key).Warn("Closing consumer instance failed")
		}
	}
	for _, session := range producers {
		if err := session.Close(); err != nil {
			logrus.WithError(err).Warn("Closing producer session failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"consumers": len(consumers),
		"producers": len(producers),
	}).Info("Session registry drained")
}

// expireLoop closes and removes consumers that have been idle longer than
// the configured timeout. Expired instances behave exactly like deleted
// ones.
func (r *Registry) expireLoop() {
	defer r.stopped.Done()

	interval := r.conf.IdleTimeout() / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.expireIdle()
		case <-r.quit:
			return
		}
	}
}

func (r *Registry) expireIdle() {
	deadline := time.Now().Add(-r.conf.IdleTimeout())

	// Snapshot first: LastActivity takes the session lock, which may be
	// held for the duration of a Kafka call, and must not be acquired
	// inside the registry's critical section.
	r.guard.Lock()
	snapshot := make(map[string]*kafka.ConsumerSession, len(r.consumers))
	for key, session := range r.consumers {
		snapshot[key] = session
	}
	r.guard.Unlock()

	idle := make([]string, 0)
	for key, session := range snapshot {
		if session.LastActivity().Before(deadline) {
			idle = append(idle, key)
		}
	}

	expired := make([]*kafka.ConsumerSession, 0, len(idle))
	r.guard.Lock()
	for _, key := range idle {
		if session, exists := r.consumers[key]; exists {
			delete(r.consumers, key)
			expired = append(expired, session)
		}
	}
	r.guard.Unlock()

	for _, session := range expired {
		logrus.WithFields(logrus.Fields{
			"group":    session.GroupID(),
			"instance": session.Name(),
		}).Info("Consumer instance expired")
		if err := session.Close(); err != nil {
			logrus.WithError(err).Warn("Closing expired consumer instance failed")
		}
	}
	if len(expired) > 0 {
		core.CountExpiredInstances(int64(len(expired)))
	}
}
