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

import "encoding/json"

// CreateConsumerRequest is the body of a consumer instance creation call.
// The Kafka consumer config subset uses the upstream property names.
type CreateConsumerRequest struct {
	Name             string `json:"name,omitempty"`
	Format           string `json:"format,omitempty"`
	AutoOffsetReset  string `json:"auto.offset.reset,omitempty"`
	EnableAutoCommit *bool  `json:"enable.auto.commit,omitempty"`
	FetchMinBytes    *int32 `json:"fetch.min.bytes,omitempty"`
	RequestTimeoutMs *int   `json:"consumer.request.timeout.ms,omitempty"`
}

// CreateConsumerResponse is returned on successful instance creation.
type CreateConsumerResponse struct {
	InstanceID string `json:"instance_id"`
	BaseURI    string `json:"base_uri"`
}

// SubscriptionRequest carries either a topic list or a topic pattern,
// never both.
type SubscriptionRequest struct {
	Topics       []string `json:"topics,omitempty"`
	TopicPattern string   `json:"topic_pattern,omitempty"`
}

// AssignedPartition names a partition for manual assignment, optionally
// with an explicit starting position.
type AssignedPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    *int64 `json:"offset,omitempty"`
}

// AssignmentRequest is the body of a manual assignment call.
type AssignmentRequest struct {
	Partitions []AssignedPartition `json:"partitions"`
}

// TopicPartition names a partition without position information. Used by
// the seek-to-beginning and seek-to-end operations.
type TopicPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}

// PartitionsRequest is the body of the seek-to-beginning/end operations.
type PartitionsRequest struct {
	Partitions []TopicPartition `json:"partitions"`
}

// OffsetEntry is one committed or sought position.
type OffsetEntry struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Metadata  string `json:"metadata,omitempty"`
}

// OffsetsRequest is the body of the commit and seek operations.
type OffsetsRequest struct {
	Offsets []OffsetEntry `json:"offsets"`
}

// ProduceRecord is one record submitted for production. Key and Value are
// kept raw as their interpretation depends on the embedded format.
type ProduceRecord struct {
	Key       json.RawMessage `json:"key,omitempty"`
	Value     json.RawMessage `json:"value"`
	Partition *int32          `json:"partition,omitempty"`
}

// ProduceRequest is the body of a produce call.
type ProduceRequest struct {
	Records []ProduceRecord `json:"records"`
}

// ProduceResponseEntry reports the outcome for a single produced record,
// either the record metadata or a per-record error.
type ProduceResponseEntry struct {
	Partition *int32 `json:"partition,omitempty"`
	Offset    *int64 `json:"offset,omitempty"`
	ErrorCode *int   `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProduceResponse preserves the submitted record order 1-to-1.
type ProduceResponse struct {
	Offsets []ProduceResponseEntry `json:"offsets"`
}

// ConsumerRecord is one delivered record inside a poll response. Key and
// Value are encoded according to the instance's embedded format.
type ConsumerRecord struct {
	Topic     string          `json:"topic"`
	Key       json.RawMessage `json:"key"`
	Value     json.RawMessage `json:"value"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
}

// ErrorEnvelope is the wire form of every failed operation. ErrorCode
// equals the HTTP status of the response.
type ErrorEnvelope struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}
