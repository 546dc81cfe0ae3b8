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

// Package healthcheck provides a simple probe server.
//
// Endpoints are registered by name (== URL path) with a callback that
// reports a status code and body. The package works as a "singleton" with
// just one server in order to avoid passing handles around the main
// program.
package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// CallbackFunc is implemented by code wishing to get probed.
type CallbackFunc func() (code int, body string)

var (
	guard     sync.Mutex
	server    *http.Server
	endpoints = make(map[string]CallbackFunc)
)

// Register adds a probe endpoint under the given URL path.
func Register(path string, callback CallbackFunc) {
	guard.Lock()
	defer guard.Unlock()
	endpoints[path] = callback
}

// Start serves the registered probes on the given address until Stop is
// called.
func Start(listenAddr string) {
	guard.Lock()
	defer guard.Unlock()

	serveMux := http.NewServeMux()
	serveMux.HandleFunc("/", probeHandler)

	server = &http.Server{
		Addr:    listenAddr,
		Handler: serveMux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Health check server failed")
		}
	}()
	logrus.WithField("address", listenAddr).Info("Health check server started")
}

// Stop shuts the probe server down.
func Stop() {
	guard.Lock()
	defer guard.Unlock()

	if server == nil {
		return
	}
	if err := server.Shutdown(context.Background()); err != nil {
		logrus.WithError(err).Error("Failed to shutdown health check server")
	}
	server = nil
}

func probeHandler(w http.ResponseWriter, r *http.Request) {
	guard.Lock()
	callback, known := endpoints[r.URL.Path]
	guard.Unlock()

	if r.URL.Path == "/" {
		guard.Lock()
		for path := range endpoints {
			fmt.Fprintf(w, "%s\n", path)
		}
		guard.Unlock()
		return
	}

	if !known {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	code, body := callback()
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}
