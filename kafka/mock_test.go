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
	"fmt"
	"sync"

	kafka "github.com/Shopify/sarama"

	"github.com/EnMasseProject/http-kafka-bridge/core"
)

// fakeBroker stores per-partition logs the fake handles read from.
type fakeBroker struct {
	guard     sync.Mutex
	logs      map[topicPartition][]*kafka.ConsumerMessage
	committed map[string]map[topicPartition]int64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		logs:      make(map[topicPartition][]*kafka.ConsumerMessage),
		committed: make(map[string]map[topicPartition]int64),
	}
}

func (b *fakeBroker) append(topic string, partition int32, key []byte, value []byte) {
	b.guard.Lock()
	defer b.guard.Unlock()

	tp := topicPartition{topic, partition}
	b.logs[tp] = append(b.logs[tp], &kafka.ConsumerMessage{
		Topic:     topic,
		Partition: partition,
		Offset:    int64(len(b.logs[tp])),
		Key:       key,
		Value:     value,
	})
}

func (b *fakeBroker) topics() []string {
	b.guard.Lock()
	defer b.guard.Unlock()

	seen := make(map[string]bool)
	names := make([]string, 0)
	for tp := range b.logs {
		if !seen[tp.topic] {
			seen[tp.topic] = true
			names = append(names, tp.topic)
		}
	}
	return names
}

func (b *fakeBroker) partitions(topic string) []int32 {
	b.guard.Lock()
	defer b.guard.Unlock()

	partitions := make([]int32, 0)
	for tp := range b.logs {
		if tp.topic == topic {
			partitions = append(partitions, tp.partition)
		}
	}
	return partitions
}

type fakeFactory struct {
	broker        *fakeBroker
	handleErr     error
	producerErr   error
	syncProducers []*fakeSyncProducer
	handles       []*fakeHandle
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{broker: newFakeBroker()}
}

func (f *fakeFactory) NewConsumerHandle(conf *core.Config, settings ConsumerSettings) (ConsumerHandle, error) {
	if f.handleErr != nil {
		return nil, f.handleErr
	}
	handle := &fakeHandle{
		broker:   f.broker,
		group:    settings.GroupID,
		clientID: settings.Name,
		marked:   make(map[topicPartition]int64),
	}
	f.handles = append(f.handles, handle)
	return handle, nil
}

func (f *fakeFactory) NewSyncProducer(conf *core.Config, clientID string) (SyncProducer, error) {
	if f.producerErr != nil {
		return nil, f.producerErr
	}
	producer := &fakeSyncProducer{broker: f.broker}
	f.syncProducers = append(f.syncProducers, producer)
	return producer, nil
}

func (f *fakeFactory) NewAsyncProducer(conf *core.Config, clientID string) (AsyncProducer, error) {
	if f.producerErr != nil {
		return nil, f.producerErr
	}
	producer := &fakeAsyncProducer{input: make(chan *kafka.ProducerMessage, 64)}
	return producer, nil
}

type fakeHandle struct {
	broker   *fakeBroker
	group    string
	clientID string
	marked   map[topicPartition]int64
	commits  int
	closed   bool
}

func (h *fakeHandle) Topics() ([]string, error) {
	return h.broker.topics(), nil
}

func (h *fakeHandle) Partitions(topic string) ([]int32, error) {
	return h.broker.partitions(topic), nil
}

func (h *fakeHandle) GetOffset(topic string, partition int32, at int64) (int64, error) {
	h.broker.guard.Lock()
	defer h.broker.guard.Unlock()

	log := h.broker.logs[topicPartition{topic, partition}]
	if at == kafka.OffsetOldest {
		return 0, nil
	}
	return int64(len(log)), nil
}

func (h *fakeHandle) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	h.broker.guard.Lock()
	defer h.broker.guard.Unlock()

	tp := topicPartition{topic, partition}
	log := h.broker.logs[tp]

	start := offset
	switch offset {
	case kafka.OffsetOldest:
		start = 0
	case kafka.OffsetNewest:
		start = int64(len(log))
	}
	if start < 0 || start > int64(len(log)) {
		return nil, fmt.Errorf("offset %d out of range for %s-%d", offset, topic, partition)
	}

	messages := make(chan *kafka.ConsumerMessage, len(log)+1)
	for _, msg := range log[start:] {
		messages <- msg
	}
	return &fakePartitionConsumer{messages: messages}, nil
}

func (h *fakeHandle) CommittedOffset(topic string, partition int32) (int64, error) {
	h.broker.guard.Lock()
	defer h.broker.guard.Unlock()

	group, exists := h.broker.committed[h.group]
	if !exists {
		return -1, nil
	}
	offset, exists := group[topicPartition{topic, partition}]
	if !exists {
		return -1, nil
	}
	return offset, nil
}

func (h *fakeHandle) MarkOffset(topic string, partition int32, offset int64, metadata string) error {
	h.marked[topicPartition{topic, partition}] = offset
	return nil
}

func (h *fakeHandle) Commit() error {
	h.broker.guard.Lock()
	defer h.broker.guard.Unlock()

	group, exists := h.broker.committed[h.group]
	if !exists {
		group = make(map[topicPartition]int64)
		h.broker.committed[h.group] = group
	}
	for tp, offset := range h.marked {
		group[tp] = offset
	}
	h.commits++
	return nil
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

type fakePartitionConsumer struct {
	messages chan *kafka.ConsumerMessage
	closed   bool
}

func (pc *fakePartitionConsumer) Messages() <-chan *kafka.ConsumerMessage {
	return pc.messages
}

func (pc *fakePartitionConsumer) Close() error {
	pc.closed = true
	return nil
}

type fakeSyncProducer struct {
	broker *fakeBroker
	sent   []*kafka.ProducerMessage
	fail   map[int]error
	closed bool
}

func (p *fakeSyncProducer) SendMessage(msg *kafka.ProducerMessage) (int32, int64, error) {
	index := len(p.sent)
	p.sent = append(p.sent, msg)

	if err, fails := p.fail[index]; fails {
		return -1, -1, err
	}

	partition := int32(0)
	if target, hasTarget := msg.Metadata.(int32); hasTarget {
		partition = target
	}

	var key, value []byte
	if msg.Key != nil {
		key, _ = msg.Key.Encode()
	}
	if msg.Value != nil {
		value, _ = msg.Value.Encode()
	}

	p.broker.guard.Lock()
	tp := topicPartition{msg.Topic, partition}
	offset := int64(len(p.broker.logs[tp]))
	p.broker.guard.Unlock()

	p.broker.append(msg.Topic, partition, key, value)
	return partition, offset, nil
}

func (p *fakeSyncProducer) Close() error {
	p.closed = true
	return nil
}

type fakeAsyncProducer struct {
	input  chan *kafka.ProducerMessage
	closed bool
}

func (p *fakeAsyncProducer) Input() chan<- *kafka.ProducerMessage {
	return p.input
}

func (p *fakeAsyncProducer) Close() error {
	p.closed = true
	return nil
}
