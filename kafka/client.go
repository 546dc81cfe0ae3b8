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
	"time"

	kafka "github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/EnMasseProject/http-kafka-bridge/core"
)

// PartitionConsumer is the stream of records of a single partition, read
// from a fixed starting offset. Fetch errors are logged by the client; a
// broken stream closes the message channel.
type PartitionConsumer interface {
	Messages() <-chan *kafka.ConsumerMessage
	Close() error
}

// ConsumerHandle is the per-instance Kafka consumer. It bundles topic
// metadata access, partition consumption and group offset management, all
// bound to a single client with the instance's client.id. A handle is not
// safe for concurrent use; the owning session serializes access.
type ConsumerHandle interface {
	Topics() ([]string, error)
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error)
	CommittedOffset(topic string, partition int32) (int64, error)
	MarkOffset(topic string, partition int32, offset int64, metadata string) error
	Commit() error
	Close() error
}

// SyncProducer sends one record and blocks until the broker acknowledges
// it, returning the record metadata.
type SyncProducer interface {
	SendMessage(msg *kafka.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// AsyncProducer sends records without waiting for any acknowledgement.
type AsyncProducer interface {
	Input() chan<- *kafka.ProducerMessage
	Close() error
}

// ConsumerSettings is the per-instance Kafka consumer configuration taken
// from the creation request, with bridge defaults already applied.
type ConsumerSettings struct {
	Name             string
	GroupID          string
	Format           core.EmbeddedFormat
	AutoOffsetReset  string
	EnableAutoCommit bool
	FetchMinBytes    int32
	RequestTimeoutMs int
}

// Factory creates the Kafka handles the sessions run on. Tests substitute
// a fake; production uses the sarama factory.
type Factory interface {
	NewConsumerHandle(conf *core.Config, settings ConsumerSettings) (ConsumerHandle, error)
	NewSyncProducer(conf *core.Config, clientID string) (SyncProducer, error)
	NewAsyncProducer(conf *core.Config, clientID string) (AsyncProducer, error)
}

// SaramaFactory creates sarama backed handles.
type SaramaFactory struct{}

func newSaramaConfig(conf *core.Config, clientID string) *kafka.Config {
	config := kafka.NewConfig()
	config.Version = kafka.V2_0_0_0
	config.ClientID = clientID

	config.Net.DialTimeout = time.Duration(conf.Kafka.ServerTimeoutSec) * time.Second
	config.Net.ReadTimeout = config.Net.DialTimeout
	config.Net.WriteTimeout = config.Net.DialTimeout

	config.Metadata.RefreshFrequency = time.Duration(conf.Kafka.MetadataRefreshMs) * time.Millisecond
	return config
}

func newConsumerConfig(conf *core.Config, settings ConsumerSettings) *kafka.Config {
	config := newSaramaConfig(conf, settings.Name)

	config.Consumer.Fetch.Min = settings.FetchMinBytes
	config.Consumer.MaxWaitTime = time.Duration(settings.RequestTimeoutMs) * time.Millisecond
	config.Consumer.Offsets.AutoCommit.Enable = settings.EnableAutoCommit

	switch settings.AutoOffsetReset {
	case "earliest":
		config.Consumer.Offsets.Initial = kafka.OffsetOldest
	default:
		config.Consumer.Offsets.Initial = kafka.OffsetNewest
	}
	return config
}

// NewConsumerHandle connects a dedicated client for one consumer instance.
func (f *SaramaFactory) NewConsumerHandle(conf *core.Config, settings ConsumerSettings) (ConsumerHandle, error) {
	client, err := kafka.NewClient(conf.Kafka.Servers, newConsumerConfig(conf, settings))
	if err != nil {
		return nil, errors.Wrap(err, "connecting kafka client")
	}

	consumer, err := kafka.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "creating kafka consumer")
	}

	offsetManager, err := kafka.NewOffsetManagerFromClient(settings.GroupID, client)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, errors.Wrap(err, "creating kafka offset manager")
	}

	return &saramaConsumerHandle{
		client:        client,
		consumer:      consumer,
		offsetManager: offsetManager,
		partitions:    make(map[topicPartition]kafka.PartitionOffsetManager),
	}, nil
}

// NewSyncProducer creates an acks=all producer that reports record
// metadata.
func (f *SaramaFactory) NewSyncProducer(conf *core.Config, clientID string) (SyncProducer, error) {
	config := newSaramaConfig(conf, clientID)
	config.Producer.RequiredAcks = kafka.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Retry.Max = conf.Producer.SendRetries
	config.Producer.Timeout = time.Duration(conf.Producer.TimeoutMs) * time.Millisecond
	config.Producer.Partitioner = NewRecordPartitioner

	producer, err := kafka.NewSyncProducer(conf.Kafka.Servers, config)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka sync producer")
	}
	return producer, nil
}

// NewAsyncProducer creates an acks=0 fire-and-forget producer.
func (f *SaramaFactory) NewAsyncProducer(conf *core.Config, clientID string) (AsyncProducer, error) {
	config := newSaramaConfig(conf, clientID)
	config.Producer.RequiredAcks = kafka.NoResponse
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = false
	config.Producer.Partitioner = NewRecordPartitioner

	producer, err := kafka.NewAsyncProducer(conf.Kafka.Servers, config)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka async producer")
	}
	return producer, nil
}

type topicPartition struct {
	topic     string
	partition int32
}

type saramaConsumerHandle struct {
	client        kafka.Client
	consumer      kafka.Consumer
	offsetManager kafka.OffsetManager
	partitions    map[topicPartition]kafka.PartitionOffsetManager
}

func (h *saramaConsumerHandle) Topics() ([]string, error) {
	return h.client.Topics()
}

func (h *saramaConsumerHandle) Partitions(topic string) ([]int32, error) {
	return h.client.Partitions(topic)
}

func (h *saramaConsumerHandle) GetOffset(topic string, partition int32, at int64) (int64, error) {
	return h.client.GetOffset(topic, partition, at)
}

func (h *saramaConsumerHandle) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	return h.consumer.ConsumePartition(topic, partition, offset)
}

func (h *saramaConsumerHandle) partitionManager(topic string, partition int32) (kafka.PartitionOffsetManager, error) {
	key := topicPartition{topic, partition}
	if pom, managed := h.partitions[key]; managed {
		return pom, nil
	}

	pom, err := h.offsetManager.ManagePartition(topic, partition)
	if err != nil {
		return nil, errors.Wrapf(err, "managing offsets of %s-%d", topic, partition)
	}
	h.partitions[key] = pom
	return pom, nil
}

// CommittedOffset returns the group's next offset for the partition or a
// negative value when nothing has been committed yet.
func (h *saramaConsumerHandle) CommittedOffset(topic string, partition int32) (int64, error) {
	pom, err := h.partitionManager(topic, partition)
	if err != nil {
		return 0, err
	}
	offset, _ := pom.NextOffset()
	return offset, nil
}

func (h *saramaConsumerHandle) MarkOffset(topic string, partition int32, offset int64, metadata string) error {
	pom, err := h.partitionManager(topic, partition)
	if err != nil {
		return err
	}

	// MarkOffset only moves forward; rewinds go through ResetOffset.
	if next, _ := pom.NextOffset(); offset < next {
		pom.ResetOffset(offset, metadata)
	} else {
		pom.MarkOffset(offset, metadata)
	}
	return nil
}

func (h *saramaConsumerHandle) Commit() error {
	h.offsetManager.Commit()
	return nil
}

func (h *saramaConsumerHandle) Close() error {
	for _, pom := range h.partitions {
		pom.AsyncClose()
	}
	err := h.offsetManager.Close()
	if consumerErr := h.consumer.Close(); err == nil {
		err = consumerErr
	}
	if clientErr := h.client.Close(); err == nil {
		err = clientErr
	}
	return err
}
