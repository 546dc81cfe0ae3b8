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
	"strings"

	"github.com/EnMasseProject/http-kafka-bridge/core"
)

// CheckAccept verifies that the Accept header of a poll request matches
// the embedded format the instance was created with.
func CheckAccept(accept string, format core.EmbeddedFormat) error {
	if embeddedFormatOf(accept) != format {
		return core.NewNotAcceptableError("Consumer format does not match the embedded format requested by the Accept header.")
	}
	return nil
}

// FormatFromContentType resolves the embedded format a produce request
// declared through its Content-Type header.
func FormatFromContentType(contentType string) (core.EmbeddedFormat, error) {
	switch mediaType(contentType) {
	case core.ContentTypeBinary:
		return core.FormatBinary, nil
	case core.ContentTypeJSON:
		return core.FormatJSON, nil
	}
	return "", core.NewSemanticError("Unsupported Content-Type %s", contentType)
}

func embeddedFormatOf(accept string) core.EmbeddedFormat {
	switch mediaType(accept) {
	case core.ContentTypeBinary:
		return core.FormatBinary
	case core.ContentTypeJSON:
		return core.FormatJSON
	}
	return ""
}

// mediaType strips any parameters and normalizes case.
func mediaType(header string) string {
	if semicolon := strings.Index(header, ";"); semicolon >= 0 {
		header = header[:semicolon]
	}
	return strings.ToLower(strings.TrimSpace(header))
}
