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
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the top level bridge configuration.
//
// Configuration example
//
//   http:
//     host: "0.0.0.0"
//     port: 8080
//   kafka:
//     servers:
//       - "192.168.222.30:9092"
//       - "192.168.222.31:9092"
//     servertimeoutsec: 30
//     metadatarefreshms: 10000
//   producer:
//     sendretries: 3
//     timeoutms: 1500
//   consumer:
//     autooffsetreset: "latest"
//     enableautocommit: true
//     fetchminbytes: 1
//     requesttimeoutms: 30000
//   bridgeid: "bridge"
//   idletimeoutsec: 600
//   polltimeoutms: 1000
//   maxresponsebytes: 33554432
//   metricsaddress: ":8081"
//   healthaddress: ":8082"
type Config struct {
	HTTP struct {
		Host string
		Port int
	}
	Kafka struct {
		Servers           []string
		ServerTimeoutSec  int
		MetadataRefreshMs int
	}
	Producer struct {
		SendRetries int
		TimeoutMs   int
	}
	Consumer struct {
		AutoOffsetReset  string
		EnableAutoCommit bool
		FetchMinBytes    int32
		RequestTimeoutMs int
	}
	BridgeID         string
	IdleTimeoutSec   int
	PollTimeoutMs    int
	MaxResponseBytes int
	MetricsAddress   string
	HealthAddress    string
}

// NewConfig creates a configuration holding all default values.
func NewConfig() *Config {
	conf := new(Config)
	conf.HTTP.Host = "0.0.0.0"
	conf.HTTP.Port = 8080
	conf.Kafka.ServerTimeoutSec = 30
	conf.Kafka.MetadataRefreshMs = 10000
	conf.Producer.SendRetries = 3
	conf.Producer.TimeoutMs = 1500
	conf.Consumer.AutoOffsetReset = "latest"
	conf.Consumer.EnableAutoCommit = true
	conf.Consumer.FetchMinBytes = 1
	conf.Consumer.RequestTimeoutMs = 30000
	conf.BridgeID = "bridge"
	conf.IdleTimeoutSec = 600
	conf.PollTimeoutMs = 1000
	conf.MaxResponseBytes = 32 << 20
	return conf
}

// ReadConfig parses a YAML config file on top of the defaults.
func ReadConfig(path string) (*Config, error) {
	buffer, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	conf := NewConfig()
	if err := yaml.UnmarshalStrict(buffer, conf); err != nil {
		return nil, err
	}
	return conf, conf.Validate()
}

// Validate checks settings that have no sane fallback.
func (conf *Config) Validate() error {
	if len(conf.Kafka.Servers) == 0 {
		return fmt.Errorf("no kafka servers configured")
	}
	if conf.IdleTimeoutSec <= 0 {
		return fmt.Errorf("idletimeoutsec must be positive")
	}
	if conf.PollTimeoutMs <= 0 {
		return fmt.Errorf("polltimeoutms must be positive")
	}
	if conf.MaxResponseBytes <= 0 {
		return fmt.Errorf("maxresponsebytes must be positive")
	}
	switch conf.Consumer.AutoOffsetReset {
	case "latest", "earliest", "none":
	default:
		return fmt.Errorf("consumer.autooffsetreset must be one of latest, earliest, none")
	}
	return nil
}

// HTTPAddress returns the listen address of the bridge frontend.
func (conf *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", conf.HTTP.Host, conf.HTTP.Port)
}

// IdleTimeout returns the consumer idle expiry as a duration.
func (conf *Config) IdleTimeout() time.Duration {
	return time.Duration(conf.IdleTimeoutSec) * time.Second
}

// PollTimeout returns the default poll timeout as a duration.
func (conf *Config) PollTimeout() time.Duration {
	return time.Duration(conf.PollTimeoutMs) * time.Millisecond
}
