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

	sarama "github.com/Shopify/sarama"

	"github.com/EnMasseProject/http-kafka-bridge/core"
	"github.com/EnMasseProject/http-kafka-bridge/kafka"
)

// stubBroker is a single-partition-per-topic in-memory log shared by the
// stub producers and consumer handles.
type stubBroker struct {
	guard sync.Mutex
	logs  map[string][][]byte
	keys  map[string][][]byte
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		logs: make(map[string][][]byte),
		keys: make(map[string][][]byte),
	}
}

func (b *stubBroker) append(topic string, key []byte, value []byte) int64 {
	b.guard.Lock()
	defer b.guard.Unlock()
	b.logs[topic] = append(b.logs[topic], value)
	b.keys[topic] = append(b.keys[topic], key)
	return int64(len(b.logs[topic]) - 1)
}

type stubFactory struct {
	broker  *stubBroker
	handles []*stubHandle
	acked   []*stubSyncProducer
}

func newStubFactory() *stubFactory {
	return &stubFactory{broker: newStubBroker()}
}

func (f *stubFactory) NewConsumerHandle(conf *core.Config, settings kafka.ConsumerSettings) (kafka.ConsumerHandle, error) {
	handle := &stubHandle{broker: f.broker}
	f.handles = append(f.handles, handle)
	return handle, nil
}

func (f *stubFactory) NewSyncProducer(conf *core.Config, clientID string) (kafka.SyncProducer, error) {
	producer := &stubSyncProducer{broker: f.broker}
	f.acked = append(f.acked, producer)
	return producer, nil
}

func (f *stubFactory) NewAsyncProducer(conf *core.Config, clientID string) (kafka.AsyncProducer, error) {
	return &stubAsyncProducer{input: make(chan *sarama.ProducerMessage, 16)}, nil
}

type stubHandle struct {
	broker *stubBroker
	closed bool
}

func (h *stubHandle) Topics() ([]string, error) {
	h.broker.guard.Lock()
	defer h.broker.guard.Unlock()

	topics := make([]string, 0, len(h.broker.logs))
	for topic := range h.broker.logs {
		topics = append(topics, topic)
	}
	return topics, nil
}

func (h *stubHandle) Partitions(topic string) ([]int32, error) {
	return []int32{0}, nil
}

func (h *stubHandle) GetOffset(topic string, partition int32, at int64) (int64, error) {
	h.broker.guard.Lock()
	defer h.broker.guard.Unlock()

	if at == sarama.OffsetOldest {
		return 0, nil
	}
	return int64(len(h.broker.logs[topic])), nil
}

func (h *stubHandle) ConsumePartition(topic string, partition int32, offset int64) (kafka.PartitionConsumer, error) {
	h.broker.guard.Lock()
	defer h.broker.guard.Unlock()

	values := h.broker.logs[topic]
	keys := h.broker.keys[topic]

	start := offset
	switch offset {
	case sarama.OffsetOldest:
		start = 0
	case sarama.OffsetNewest:
		start = int64(len(values))
	}

	messages := make(chan *sarama.ConsumerMessage, len(values)+1)
	for index := start; index < int64(len(values)); index++ {
		messages <- &sarama.ConsumerMessage{
			Topic:     topic,
			Partition: 0,
			Offset:    index,
			Key:       keys[index],
			Value:     values[index],
		}
	}
	return &stubPartitionConsumer{messages: messages}, nil
}

func (h *stubHandle) CommittedOffset(topic string, partition int32) (int64, error) {
	return -1, nil
}

func (h *stubHandle) MarkOffset(topic string, partition int32, offset int64, metadata string) error {
	return nil
}

func (h *stubHandle) Commit() error {
	return nil
}

func (h *stubHandle) Close() error {
	h.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
}

func (pc *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return pc.messages
}

func (pc *stubPartitionConsumer) Close() error {
	return nil
}

type stubSyncProducer struct {
	broker *stubBroker
	closed bool
}

func (p *stubSyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	var key, value []byte
	if msg.Key != nil {
		key, _ = msg.Key.Encode()
	}
	if msg.Value != nil {
		value, _ = msg.Value.Encode()
	}
	offset := p.broker.append(msg.Topic, key, value)
	return 0, offset, nil
}

func (p *stubSyncProducer) Close() error {
	p.closed = true
	return nil
}

type stubAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	closed bool
}

func (p *stubAsyncProducer) Input() chan<- *sarama.ProducerMessage {
	return p.input
}

func (p *stubAsyncProducer) Close() error {
	p.closed = true
	return nil
}
