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

package kafka

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	kafka "github.com/Shopify/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EnMasseProject/http-kafka-bridge/core"
)

// SubscriptionState tracks which of the mutually exclusive subscription
// modes a consumer instance is in.
type SubscriptionState int

const (
	// SubscriptionNone means the instance cannot be polled yet.
	SubscriptionNone = SubscriptionState(iota)
	// SubscriptionTopics is an explicit topic list subscription.
	SubscriptionTopics = SubscriptionState(iota)
	// SubscriptionPattern is a regex based subscription.
	SubscriptionPattern = SubscriptionState(iota)
	// SubscriptionAssigned is a manual partition assignment.
	SubscriptionAssigned = SubscriptionState(iota)
)

// How long a poll sweep sleeps when no partition had records buffered.
const pollIdleSleep = 10 * time.Millisecond

// GenerateInstanceName builds a consumer instance name for creation
// requests that did not specify one. Generated names always start with the
// configured bridge id.
func GenerateInstanceName(bridgeID string) string {
	return fmt.Sprintf("%s-%s", bridgeID, uuid.New().String())
}

// ConsumerSession is a named, stateful handle bound to a Kafka consumer
// group, owned by the bridge and addressed over HTTP. It owns exactly one
// Kafka consumer handle whose lifetime equals the instance's.
//
// All operations are serialized on an internal lock; the Kafka handle is
// not reentrant.
type ConsumerSession struct {
	guard    sync.Mutex
	conf     *core.Config
	settings ConsumerSettings
	handle   ConsumerHandle
	codec    *core.Codec

	state   SubscriptionState
	topics  []string
	pattern *regexp.Regexp
	manual  []topicPartition

	readers   map[topicPartition]PartitionConsumer
	positions map[topicPartition]int64

	pollTimeout  time.Duration
	maxBytes     int
	lastActivity time.Time
	closed       bool
	log          *logrus.Entry
}

// NewConsumerSession validates the instance settings and connects the
// underlying Kafka consumer with client.id set to the instance name.
func NewConsumerSession(conf *core.Config, factory Factory, settings ConsumerSettings) (*ConsumerSession, error) {
	switch settings.AutoOffsetReset {
	case "latest", "earliest", "none":
	default:
		return nil, core.NewSemanticError(
			"Invalid value %s for configuration auto.offset.reset: String must be one of: latest, earliest, none",
			settings.AutoOffsetReset)
	}

	handle, err := factory.NewConsumerHandle(conf, settings)
	if err != nil {
		return nil, core.NewInternalError("%s", err.Error())
	}

	return &ConsumerSession{
		conf:         conf,
		settings:     settings,
		handle:       handle,
		codec:        core.NewCodec(settings.Format),
		readers:      make(map[topicPartition]PartitionConsumer),
		positions:    make(map[topicPartition]int64),
		pollTimeout:  conf.PollTimeout(),
		maxBytes:     conf.MaxResponseBytes,
		lastActivity: time.Now(),
		log: logrus.WithFields(logrus.Fields{
			"group":    settings.GroupID,
			"instance": settings.Name,
		}),
	}, nil
}

// Name returns the instance name.
func (s *ConsumerSession) Name() string {
	return s.settings.Name
}

// GroupID returns the consumer group id of the instance.
func (s *ConsumerSession) GroupID() string {
	return s.settings.GroupID
}

// Format returns the immutable embedded format of the instance.
func (s *ConsumerSession) Format() core.EmbeddedFormat {
	return s.settings.Format
}

// LastActivity returns the time of the last successful operation.
func (s *ConsumerSession) LastActivity() time.Time {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.lastActivity
}

// State returns the current subscription state.
func (s *ConsumerSession) State() SubscriptionState {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.state
}

// closedErr reports the defined not-found error once the session has been
// torn down; the registry may expire an instance while a request handler
// still holds its pointer.
func (s *ConsumerSession) closedErr() error {
	if s.closed {
		return core.NewNotFoundError("The specified consumer instance was not found.")
	}
	return nil
}

func (s *ConsumerSession) touch() {
	s.lastActivity = time.Now()
}

// Subscribe replaces the current subscription with a topic list or a topic
// pattern. Exactly one of the two must be given.
func (s *ConsumerSession) Subscribe(topics []string, pattern string) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.closedErr(); err != nil {
		return err
	}

	if len(topics) > 0 && pattern != "" {
		return core.NewConflictError("Subscriptions to topics, partitions, and patterns are mutually exclusive.")
	}
	if len(topics) == 0 && pattern == "" {
		return core.NewSemanticError("A list (of Topics type) or a topic_pattern must be specified.")
	}

	if pattern != "" {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return core.NewSemanticError("Invalid topic pattern: %s", err.Error())
		}
		s.stopReaders()
		s.state = SubscriptionPattern
		s.pattern = compiled
		s.topics = nil
	} else {
		s.stopReaders()
		s.state = SubscriptionTopics
		s.topics = topics
		s.pattern = nil
	}

	s.manual = nil
	s.positions = make(map[topicPartition]int64)
	s.touch()
	s.log.WithField("state", s.state).Debug("Subscription changed")
	return nil
}

// Assign replaces the current subscription with a manual partition
// assignment, optionally presetting per-partition start positions. The
// most recent subscribe or assign call wins.
func (s *ConsumerSession) Assign(partitions []core.AssignedPartition) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.closedErr(); err != nil {
		return err
	}

	if len(partitions) == 0 {
		return core.NewSemanticError("A list of partitions must be specified.")
	}

	s.stopReaders()
	s.state = SubscriptionAssigned
	s.topics = nil
	s.pattern = nil
	s.manual = s.manual[:0]
	s.positions = make(map[topicPartition]int64)

	for _, assigned := range partitions {
		tp := topicPartition{assigned.Topic, assigned.Partition}
		s.manual = append(s.manual, tp)
		if assigned.Offset != nil {
			s.positions[tp] = *assigned.Offset
		}
	}

	s.touch()
	s.log.WithField("partitions", len(s.manual)).Debug("Partitions assigned")
	return nil
}

// Unsubscribe clears the subscription. Subsequent polls fail until a new
// subscribe or assign call.
func (s *ConsumerSession) Unsubscribe() error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.closedErr(); err != nil {
		return err
	}

	s.stopReaders()
	s.state = SubscriptionNone
	s.topics = nil
	s.pattern = nil
	s.manual = nil
	s.positions = make(map[topicPartition]int64)
	s.touch()
	return nil
}

// Poll fetches a batch of records and returns the encoded response body.
// The timeout and maxBytes overrides, when given, replace the session's
// values for this and subsequent calls.
func (s *ConsumerSession) Poll(timeout *time.Duration, maxBytes *int) ([]byte, error) {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.closedErr(); err != nil {
		return nil, err
	}

	if s.state == SubscriptionNone {
		return nil, core.NewInternalError("Consumer is not subscribed to any topics or assigned any partitions")
	}

	// The session remembers the last observed values.
	if timeout != nil {
		s.pollTimeout = *timeout
	}
	if maxBytes != nil {
		s.maxBytes = *maxBytes
	}

	if err := s.ensureReaders(); err != nil {
		return nil, err
	}

	records, err := s.gather()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(records)
	if err != nil {
		return nil, core.NewInternalError("%s", err.Error())
	}
	if len(body) > s.maxBytes {
		return nil, core.NewSemanticError("Response exceeds the maximum number of bytes the consumer can receive")
	}

	core.CountRecordsConsumed(int64(len(records)))
	s.touch()
	return body, nil
}

// gather sweeps the partition readers until the poll timeout expires or a
// sweep after the first record finds nothing more buffered.
func (s *ConsumerSession) gather() ([]core.ConsumerRecord, error) {
	records := make([]core.ConsumerRecord, 0)
	deadline := time.Now().Add(s.pollTimeout)

	for {
		progress := false
		for tp, reader := range s.readers {
			select {
			case msg, more := <-reader.Messages():
				if !more {
					// Broken stream; drop the reader so the next poll
					// reopens it at the stored position.
					reader.Close()
					delete(s.readers, tp)
					continue
				}
				record, err := s.encodeRecord(msg)
				if err != nil {
					return nil, err
				}
				records = append(records, record)
				s.positions[tp] = msg.Offset + 1
				if s.settings.EnableAutoCommit {
					s.handle.MarkOffset(tp.topic, tp.partition, msg.Offset+1, "")
				}
				progress = true
			default:
			}
		}

		if !progress {
			if len(records) > 0 || !time.Now().Before(deadline) {
				return records, nil
			}
			time.Sleep(pollIdleSleep)
		}
	}
}

func (s *ConsumerSession) encodeRecord(msg *kafka.ConsumerMessage) (core.ConsumerRecord, error) {
	key, err := s.codec.Encode(msg.Key)
	if err != nil {
		return core.ConsumerRecord{}, err
	}
	value, err := s.codec.Encode(msg.Value)
	if err != nil {
		return core.ConsumerRecord{}, err
	}
	return core.ConsumerRecord{
		Topic:     msg.Topic,
		Key:       key,
		Value:     value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}, nil
}

// Commit commits the given offsets, or the current positions of all
// delivered partitions when the request carried no body.
func (s *ConsumerSession) Commit(offsets []core.OffsetEntry) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.closedErr(); err != nil {
		return err
	}

	if len(offsets) == 0 {
		for tp, position := range s.positions {
			if err := s.handle.MarkOffset(tp.topic, tp.partition, position, ""); err != nil {
				return core.NewInternalError("%s", err.Error())
			}
		}
	} else {
		for _, entry := range offsets {
			if err := s.handle.MarkOffset(entry.Topic, entry.Partition, entry.Offset, entry.Metadata); err != nil {
				return core.NewInternalError("%s", err.Error())
			}
		}
	}

	if err := s.handle.Commit(); err != nil {
		return core.NewInternalError("%s", err.Error())
	}
	s.touch()
	return nil
}

// Seek repositions the given partitions. The per-partition reader
// shutdowns run in parallel and are joined before the positions move.
func (s *ConsumerSession) Seek(offsets []core.OffsetEntry) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.closedErr(); err != nil {
		return err
	}
	return s.seekLocked(offsets)
}

func (s *ConsumerSession) seekLocked(offsets []core.OffsetEntry) error {
	assigned, err := s.assignedPartitions()
	if err != nil {
		return err
	}

	for _, entry := range offsets {
		if !containsPartition(assigned, topicPartition{entry.Topic, entry.Partition}) {
			return core.NewNotFoundError("No current assignment for partition %s-%d", entry.Topic, entry.Partition)
		}
	}

	stopping := new(sync.WaitGroup)
	for _, entry := range offsets {
		tp := topicPartition{entry.Topic, entry.Partition}
		if reader, running := s.readers[tp]; running {
			delete(s.readers, tp)
			stopping.Add(1)
			go func(reader PartitionConsumer) {
				defer stopping.Done()
				reader.Close()
			}(reader)
		}
	}
	stopping.Wait()

	for _, entry := range offsets {
		s.positions[topicPartition{entry.Topic, entry.Partition}] = entry.Offset
	}
	s.touch()
	return nil
}

// SeekToBeginning repositions the given partitions to their oldest
// available offset.
func (s *ConsumerSession) SeekToBeginning(partitions []core.TopicPartition) error {
	return s.seekToEdge(partitions, kafka.OffsetOldest)
}

// SeekToEnd repositions the given partitions past their newest offset.
func (s *ConsumerSession) SeekToEnd(partitions []core.TopicPartition) error {
	return s.seekToEdge(partitions, kafka.OffsetNewest)
}

func (s *ConsumerSession) seekToEdge(partitions []core.TopicPartition, at int64) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.closedErr(); err != nil {
		return err
	}

	offsets := make([]core.OffsetEntry, 0, len(partitions))
	for _, tp := range partitions {
		edge, err := s.handle.GetOffset(tp.Topic, tp.Partition, at)
		if err != nil {
			return core.NewInternalError("%s", err.Error())
		}
		offsets = append(offsets, core.OffsetEntry{Topic: tp.Topic, Partition: tp.Partition, Offset: edge})
	}
	return s.seekLocked(offsets)
}

// Close tears down the readers and the Kafka handle. The session rejects
// any further use.
func (s *ConsumerSession) Close() error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.stopReaders()
	return s.handle.Close()
}

// assignedPartitions resolves the partition set of the current
// subscription against broker metadata.
func (s *ConsumerSession) assignedPartitions() ([]topicPartition, error) {
	switch s.state {
	case SubscriptionNone:
		return nil, nil

	case SubscriptionAssigned:
		return s.manual, nil

	case SubscriptionTopics:
		return s.partitionsOf(s.topics)

	default: // SubscriptionPattern
		all, err := s.handle.Topics()
		if err != nil {
			return nil, core.NewInternalError("%s", err.Error())
		}
		matched := make([]string, 0, len(all))
		for _, topic := range all {
			if s.pattern.MatchString(topic) {
				matched = append(matched, topic)
			}
		}
		return s.partitionsOf(matched)
	}
}

func (s *ConsumerSession) partitionsOf(topics []string) ([]topicPartition, error) {
	assigned := make([]topicPartition, 0)
	for _, topic := range topics {
		partitions, err := s.handle.Partitions(topic)
		if err != nil {
			return nil, core.NewInternalError("%s", err.Error())
		}
		for _, partition := range partitions {
			assigned = append(assigned, topicPartition{topic, partition})
		}
	}
	return assigned, nil
}

// ensureReaders opens a partition reader for every assigned partition that
// does not have one yet, starting at the stored position, the group's
// committed offset, or the reset policy default.
func (s *ConsumerSession) ensureReaders() error {
	assigned, err := s.assignedPartitions()
	if err != nil {
		return err
	}

	for _, tp := range assigned {
		if _, running := s.readers[tp]; running {
			continue
		}

		position, err := s.startPosition(tp)
		if err != nil {
			return err
		}

		reader, err := s.handle.ConsumePartition(tp.topic, tp.partition, position)
		if err != nil {
			return core.NewInternalError("%s", err.Error())
		}
		s.readers[tp] = reader
	}
	return nil
}

func (s *ConsumerSession) startPosition(tp topicPartition) (int64, error) {
	if position, known := s.positions[tp]; known {
		return position, nil
	}

	committed, err := s.handle.CommittedOffset(tp.topic, tp.partition)
	if err != nil {
		return 0, core.NewInternalError("%s", err.Error())
	}
	if committed >= 0 {
		return committed, nil
	}

	switch s.settings.AutoOffsetReset {
	case "earliest":
		return kafka.OffsetOldest, nil
	case "none":
		return 0, core.NewInternalError("Undefined offset with no reset policy for partition: %s-%d", tp.topic, tp.partition)
	default:
		return kafka.OffsetNewest, nil
	}
}

func (s *ConsumerSession) stopReaders() {
	for tp, reader := range s.readers {
		reader.Close()
		delete(s.readers, tp)
	}
}

func containsPartition(set []topicPartition, tp topicPartition) bool {
	for _, candidate := range set {
		if candidate == tp {
			return true
		}
	}
	return false
}
