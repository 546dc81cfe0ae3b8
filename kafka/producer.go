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
	"sync"

	kafka "github.com/Shopify/sarama"
	"github.com/sirupsen/logrus"

	"github.com/EnMasseProject/http-kafka-bridge/core"
)

// ProducerSession serves all produce requests of one HTTP connection. It
// holds up to two producers: an acks=all producer for requests that expect
// per-record metadata and an acks=0 producer for fire-and-forget sends.
// Both are materialised on first use; the session lives until the
// connection closes.
type ProducerSession struct {
	guard   sync.Mutex
	conf    *core.Config
	factory Factory
	acked   SyncProducer
	unacked AsyncProducer
	closed  bool
	log     *logrus.Entry
}

// NewProducerSession creates an empty session; no Kafka connection is made
// until the first send.
func NewProducerSession(conf *core.Config, factory Factory, connection string) *ProducerSession {
	return &ProducerSession{
		conf:    conf,
		factory: factory,
		log:     logrus.WithField("connection", connection),
	}
}

// Send produces every record of the request and reports per-record
// metadata in input order. A record that cannot be decoded or delivered
// yields a per-record error entry and does not fail the batch; only an
// empty batch or a producer that cannot be created fails the whole call.
func (p *ProducerSession) Send(topic string, format core.EmbeddedFormat, request core.ProduceRequest) (core.ProduceResponse, error) {
	p.guard.Lock()
	defer p.guard.Unlock()

	if len(request.Records) == 0 {
		return core.ProduceResponse{}, core.NewSemanticError("No records given to produce.")
	}

	producer, err := p.ackedProducer()
	if err != nil {
		return core.ProduceResponse{}, core.NewInternalError("%s", err.Error())
	}

	codec := core.NewCodec(format)
	response := core.ProduceResponse{Offsets: make([]core.ProduceResponseEntry, 0, len(request.Records))}

	for _, record := range request.Records {
		msg, err := buildMessage(codec, topic, record)
		if err != nil {
			response.Offsets = append(response.Offsets, errorEntry(err))
			core.CountProduceErrors(1)
			continue
		}

		partition, offset, err := producer.SendMessage(msg)
		if err != nil {
			p.log.WithError(err).Error("Record delivery failed")
			response.Offsets = append(response.Offsets, errorEntry(core.NewInternalError("%s", err.Error())))
			core.CountProduceErrors(1)
			continue
		}

		response.Offsets = append(response.Offsets, core.ProduceResponseEntry{
			Partition: &partition,
			Offset:    &offset,
		})
		core.CountRecordsProduced(1)
	}

	return response, nil
}

// SendFireAndForget produces the records on the acks=0 producer without
// waiting for any broker response. Used for callers that pass no result
// handlers; there is no per-record outcome.
func (p *ProducerSession) SendFireAndForget(topic string, format core.EmbeddedFormat, request core.ProduceRequest) error {
	p.guard.Lock()
	defer p.guard.Unlock()

	if len(request.Records) == 0 {
		return core.NewSemanticError("No records given to produce.")
	}

	producer, err := p.unackedProducer()
	if err != nil {
		return core.NewInternalError("%s", err.Error())
	}

	codec := core.NewCodec(format)
	for _, record := range request.Records {
		msg, err := buildMessage(codec, topic, record)
		if err != nil {
			return err
		}
		producer.Input() <- msg
	}

	core.CountRecordsProduced(int64(len(request.Records)))
	return nil
}

// Close tears both producers down. Called when the owning HTTP connection
// closes and on process shutdown.
func (p *ProducerSession) Close() error {
	p.guard.Lock()
	defer p.guard.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.acked != nil {
		err = p.acked.Close()
		p.acked = nil
	}
	if p.unacked != nil {
		if unackedErr := p.unacked.Close(); err == nil {
			err = unackedErr
		}
		p.unacked = nil
	}
	return err
}

func (p *ProducerSession) ackedProducer() (SyncProducer, error) {
	if p.acked == nil {
		producer, err := p.factory.NewSyncProducer(p.conf, p.conf.BridgeID)
		if err != nil {
			return nil, err
		}
		p.acked = producer
	}
	return p.acked, nil
}

func (p *ProducerSession) unackedProducer() (AsyncProducer, error) {
	if p.unacked == nil {
		producer, err := p.factory.NewAsyncProducer(p.conf, p.conf.BridgeID)
		if err != nil {
			return nil, err
		}
		p.unacked = producer
	}
	return p.unacked, nil
}

// buildMessage converts one envelope record into a sarama message. The key
// is null when none was given; an explicit partition travels as metadata
// for the record partitioner.
func buildMessage(codec *core.Codec, topic string, record core.ProduceRecord) (*kafka.ProducerMessage, error) {
	msg := &kafka.ProducerMessage{Topic: topic}

	if len(record.Key) > 0 {
		key, err := codec.Decode(record.Key)
		if err != nil {
			return nil, err
		}
		if key != nil {
			msg.Key = kafka.ByteEncoder(key)
		}
	}

	value, err := codec.Decode(record.Value)
	if err != nil {
		return nil, err
	}
	msg.Value = kafka.ByteEncoder(value)

	if record.Partition != nil {
		msg.Metadata = *record.Partition
	}
	return msg, nil
}

func errorEntry(err error) core.ProduceResponseEntry {
	bridgeErr := core.AsBridgeError(err)
	return core.ProduceResponseEntry{
		ErrorCode: &bridgeErr.Code,
		Error:     bridgeErr.Message,
	}
}
