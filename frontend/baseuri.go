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
	"fmt"
	"net/http"
	"strings"

	"github.com/EnMasseProject/http-kafka-bridge/core"
)

// DeriveBaseURI computes the base_uri returned on consumer creation. When
// the bridge sits behind a forwarding proxy the client-facing scheme and
// authority are taken from the Forwarded header, or from
// X-Forwarded-Host/X-Forwarded-Proto as a pair; otherwise the request's
// own absolute URI is used. An X-Forwarded-Path header replaces the path
// portion when a forwarded source applies.
func DeriveBaseURI(r *http.Request, instanceName string) (string, error) {
	scheme, host, forwarded, err := forwardedOrigin(r)
	if err != nil {
		return "", err
	}

	path := r.URL.Path
	if forwarded {
		if forwardedPath := r.Header.Get("X-Forwarded-Path"); forwardedPath != "" {
			path = forwardedPath
		}
	}

	return fmt.Sprintf("%s://%s%s/instances/%s", scheme, host, path, instanceName), nil
}

// forwardedOrigin resolves scheme and authority in priority order:
// Forwarded header, X-Forwarded-* pair, own request URI.
func forwardedOrigin(r *http.Request) (scheme string, host string, forwarded bool, err error) {
	// Only the first Forwarded header is honoured.
	if headers := r.Header.Values("Forwarded"); len(headers) > 0 {
		scheme, host = parseForwarded(headers[0])
		if scheme != "" && host != "" {
			host, err = defaultPort(scheme, host)
			return scheme, host, true, err
		}
	}

	forwardedHost := r.Header.Get("X-Forwarded-Host")
	forwardedProto := r.Header.Get("X-Forwarded-Proto")
	if forwardedHost != "" && forwardedProto != "" {
		host, err = defaultPort(forwardedProto, forwardedHost)
		return forwardedProto, host, true, err
	}

	scheme = "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme, r.Host, false, nil
}

// parseForwarded extracts the host and proto tokens of the first element
// of a Forwarded header value. Token names match case-insensitively.
func parseForwarded(value string) (proto string, host string) {
	first := value
	if comma := strings.Index(value, ","); comma >= 0 {
		first = value[:comma]
	}

	for _, pair := range strings.Split(first, ";") {
		pair = strings.TrimSpace(pair)
		eq := strings.Index(pair, "=")
		if eq < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(pair[:eq]))
		token := strings.Trim(strings.TrimSpace(pair[eq+1:]), `"`)

		switch name {
		case "host":
			host = token
		case "proto":
			proto = token
		}
	}
	return proto, host
}

// defaultPort appends the scheme's well-known port when a forwarded host
// carries none. Schemes other than http and https cannot be completed.
func defaultPort(scheme string, host string) (string, error) {
	if strings.Contains(host, ":") {
		return host, nil
	}

	switch strings.ToLower(scheme) {
	case "http":
		return host + ":80", nil
	case "https":
		return host + ":443", nil
	}
	return "", core.NewInternalError("%s is not a valid schema/proto.", scheme)
}
