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

	kafka "github.com/Shopify/sarama"
)

// RecordPartitioner routes a message to the partition requested by the
// client, carried as an int32 in the message metadata. Messages without a
// partition hint fall back to hashing the key; keyless messages without a
// hint are distributed randomly by the hash partitioner.
// RecordPartitioner satisfies sarama.Partitioner so it can be directly
// assigned to the sarama producer config.
type RecordPartitioner struct {
	hash kafka.Partitioner
}

// NewRecordPartitioner creates a new sarama partitioner honouring explicit
// partition hints.
func NewRecordPartitioner(topic string) kafka.Partitioner {
	p := new(RecordPartitioner)
	p.hash = kafka.NewHashPartitioner(topic)
	return p
}

// Partition returns the partition hint if the message carries one, the key
// hash otherwise.
func (p *RecordPartitioner) Partition(message *kafka.ProducerMessage, numPartitions int32) (int32, error) {
	if target, hasTarget := message.Metadata.(int32); hasTarget {
		if target < 0 || target >= numPartitions {
			return -1, fmt.Errorf("partition %d is out of range [0,%d)", target, numPartitions)
		}
		return target, nil
	}
	return p.hash.Partition(message, numPartitions)
}

// RequiresConsistency tells sarama that the mapping of a given message may
// not change between retries.
func (p *RecordPartitioner) RequiresConsistency() bool {
	return true
}
