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
	"encoding/base64"
	"encoding/json"
	"strings"
)

// EmbeddedFormat denotes the encoding of keys and values inside the JSON
// envelope.
type EmbeddedFormat string

const (
	// FormatBinary encodes keys and values as base64 strings.
	FormatBinary = EmbeddedFormat("binary")
	// FormatJSON passes keys and values through as structured JSON.
	FormatJSON = EmbeddedFormat("json")
)

const (
	// ContentTypeBinary is the vendor content type of binary payloads.
	ContentTypeBinary = "application/vnd.kafka.binary.v2+json"
	// ContentTypeJSON is the vendor content type of json payloads.
	ContentTypeJSON = "application/vnd.kafka.json.v2+json"
	// ContentTypeMeta is the vendor content type of all metadata and error
	// envelopes.
	ContentTypeMeta = "application/vnd.kafka.v2+json"
)

var nullValue = json.RawMessage("null")

// ParseFormat validates a format string from a creation request. An empty
// string selects binary.
func ParseFormat(value string) (EmbeddedFormat, error) {
	switch EmbeddedFormat(strings.ToLower(value)) {
	case "", FormatBinary:
		return FormatBinary, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", NewSemanticError("Invalid format type.")
}

// ContentType returns the vendor content type matching this format.
func (format EmbeddedFormat) ContentType() string {
	if format == FormatJSON {
		return ContentTypeJSON
	}
	return ContentTypeBinary
}

// Codec converts between raw Kafka record bytes and the JSON envelope
// representation of a given embedded format. A codec is stateless and safe
// for concurrent use.
type Codec struct {
	format EmbeddedFormat
}

// NewCodec creates a codec for the given embedded format.
func NewCodec(format EmbeddedFormat) *Codec {
	return &Codec{format: format}
}

// Format returns the embedded format this codec was created with.
func (codec *Codec) Format() EmbeddedFormat {
	return codec.format
}

// Encode converts raw Kafka bytes into the envelope representation.
// A nil slice encodes as JSON null for both formats.
func (codec *Codec) Encode(data []byte) (json.RawMessage, error) {
	if data == nil {
		return nullValue, nil
	}

	if codec.format == FormatBinary {
		encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(data))
		if err != nil {
			return nil, err
		}
		return json.RawMessage(encoded), nil
	}

	if !json.Valid(data) {
		return nil, NewNotAcceptableError("Failed to decode message as JSON")
	}
	return json.RawMessage(data), nil
}

// Decode converts an envelope key or value into the raw bytes to hand to
// Kafka. JSON null decodes to nil for both formats.
func (codec *Codec) Decode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	if codec.format == FormatBinary {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, NewSemanticError("Invalid base64 payload: not a string")
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, NewSemanticError("Invalid base64 payload: %s", err.Error())
		}
		return data, nil
	}

	if !json.Valid(raw) {
		return nil, NewNotAcceptableError("Failed to decode message as JSON")
	}
	return []byte(raw), nil
}
