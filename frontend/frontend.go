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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/EnMasseProject/http-kafka-bridge/core"
	"github.com/EnMasseProject/http-kafka-bridge/kafka"
)

type connectionKey struct{}

// connectionID derives the registry key of a producer session from the
// underlying network connection.
func connectionID(conn net.Conn) string {
	return fmt.Sprintf("%p", conn)
}

// Frontend binds the session registry to the HTTP server: every request
// is dispatched to the session it addresses and failures leave as
// `{error_code, message}` envelopes.
type Frontend struct {
	conf     *core.Config
	registry *Registry
	server   *http.Server
	log      *logrus.Entry
}

// NewFrontend wires the route table, the connection hooks used for
// producer session lifetimes, and the fallback handlers for requests
// outside the bridge surface.
func NewFrontend(conf *core.Config, registry *Registry) *Frontend {
	fe := &Frontend{
		conf:     conf,
		registry: registry,
		log:      logrus.WithField("address", conf.HTTPAddress()),
	}

	router := mux.NewRouter()
	for _, binding := range routeBindings {
		router.Path(binding.path).
			Methods(binding.method).
			Handler(fe.handlerFor(binding.operation)).
			Name(binding.operation.String())
	}
	router.NotFoundHandler = http.HandlerFunc(fe.handleUnknown)
	router.MethodNotAllowedHandler = http.HandlerFunc(fe.handleUnknown)

	fe.server = &http.Server{
		Addr:    conf.HTTPAddress(),
		Handler: router,
		ConnContext: func(ctx context.Context, conn net.Conn) context.Context {
			return context.WithValue(ctx, connectionKey{}, connectionID(conn))
		},
		ConnState: func(conn net.Conn, state http.ConnState) {
			switch state {
			case http.StateClosed, http.StateHijacked:
				registry.ReleaseConnection(connectionID(conn))
			}
		},
	}
	return fe
}

// Handler exposes the router, mainly for tests.
func (fe *Frontend) Handler() http.Handler {
	return fe.server.Handler
}

// Start binds the listen socket and serves in the background.
func (fe *Frontend) Start() error {
	listener, err := net.Listen("tcp", fe.conf.HTTPAddress())
	if err != nil {
		return err
	}

	go func() {
		if err := fe.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fe.log.WithError(err).Error("HTTP server failed")
		}
	}()

	fe.log.Info("Bridge frontend listening")
	return nil
}

// Stop closes the listener and waits for in-flight requests.
func (fe *Frontend) Stop() error {
	return fe.server.Shutdown(context.Background())
}

func (fe *Frontend) handlerFor(op Operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var err error

		switch op {
		case OpCreateConsumer:
			err = fe.createConsumer(w, r, vars["group"])
		case OpDeleteConsumer:
			err = fe.deleteConsumer(w, vars["group"], vars["name"])
		case OpSubscribe:
			err = fe.subscribe(w, r, vars["group"], vars["name"])
		case OpUnsubscribe:
			err = fe.unsubscribe(w, vars["group"], vars["name"])
		case OpAssign:
			err = fe.assign(w, r, vars["group"], vars["name"])
		case OpPoll:
			err = fe.poll(w, r, vars["group"], vars["name"])
		case OpCommit:
			err = fe.commit(w, r, vars["group"], vars["name"])
		case OpSeek:
			err = fe.seek(w, r, vars["group"], vars["name"])
		case OpSeekToBeginning:
			err = fe.seekToEdge(w, r, vars["group"], vars["name"], true)
		case OpSeekToEnd:
			err = fe.seekToEdge(w, r, vars["group"], vars["name"], false)
		case OpProduce:
			err = fe.produce(w, r, vars["topic"])
		}

		if err != nil {
			fe.writeError(w, err)
		}
	})
}

// handleUnknown serves every request the route table rejected.
func (fe *Frontend) handleUnknown(w http.ResponseWriter, r *http.Request) {
	switch Classify(r.Method, r.URL.Path) {
	case OpUnprocessable:
		fe.writeError(w, core.BridgeError{
			Code:    http.StatusMethodNotAllowed,
			Message: fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path),
		})
	default:
		fe.writeError(w, core.NewNotFoundError("Unknown endpoint %s", r.URL.Path))
	}
}

func (fe *Frontend) createConsumer(w http.ResponseWriter, r *http.Request, groupID string) error {
	request := core.CreateConsumerRequest{}
	if _, err := decodeBody(r, &request); err != nil {
		return err
	}

	format, err := core.ParseFormat(request.Format)
	if err != nil {
		return err
	}

	name := request.Name
	if name == "" {
		name = kafka.GenerateInstanceName(fe.conf.BridgeID)
	}

	baseURI, err := DeriveBaseURI(r, name)
	if err != nil {
		return err
	}

	settings := kafka.ConsumerSettings{
		Name:             name,
		GroupID:          groupID,
		Format:           format,
		AutoOffsetReset:  fe.conf.Consumer.AutoOffsetReset,
		EnableAutoCommit: fe.conf.Consumer.EnableAutoCommit,
		FetchMinBytes:    fe.conf.Consumer.FetchMinBytes,
		RequestTimeoutMs: fe.conf.Consumer.RequestTimeoutMs,
	}
	if request.AutoOffsetReset != "" {
		settings.AutoOffsetReset = request.AutoOffsetReset
	}
	if request.EnableAutoCommit != nil {
		settings.EnableAutoCommit = *request.EnableAutoCommit
	}
	if request.FetchMinBytes != nil {
		settings.FetchMinBytes = *request.FetchMinBytes
	}
	if request.RequestTimeoutMs != nil {
		settings.RequestTimeoutMs = *request.RequestTimeoutMs
	}

	if _, err := fe.registry.CreateConsumer(settings); err != nil {
		return err
	}

	fe.log.WithFields(logrus.Fields{
		"group":    groupID,
		"instance": name,
	}).Info("Consumer instance created")

	return writeJSON(w, http.StatusOK, core.ContentTypeMeta, core.CreateConsumerResponse{
		InstanceID: name,
		BaseURI:    baseURI,
	})
}

func (fe *Frontend) deleteConsumer(w http.ResponseWriter, groupID string, name string) error {
	if err := fe.registry.RemoveConsumer(groupID, name); err != nil {
		return err
	}
	fe.log.WithFields(logrus.Fields{
		"group":    groupID,
		"instance": name,
	}).Info("Consumer instance deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (fe *Frontend) subscribe(w http.ResponseWriter, r *http.Request, groupID string, name string) error {
	session, err := fe.registry.GetConsumer(groupID, name)
	if err != nil {
		return err
	}

	request := core.SubscriptionRequest{}
	if _, err := decodeBody(r, &request); err != nil {
		return err
	}

	if err := session.Subscribe(request.Topics, request.TopicPattern); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (fe *Frontend) unsubscribe(w http.ResponseWriter, groupID string, name string) error {
	session, err := fe.registry.GetConsumer(groupID, name)
	if err != nil {
		return err
	}
	if err := session.Unsubscribe(); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (fe *Frontend) assign(w http.ResponseWriter, r *http.Request, groupID string, name string) error {
	session, err := fe.registry.GetConsumer(groupID, name)
	if err != nil {
		return err
	}

	request := core.AssignmentRequest{}
	if _, err := decodeBody(r, &request); err != nil {
		return err
	}

	if err := session.Assign(request.Partitions); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (fe *Frontend) poll(w http.ResponseWriter, r *http.Request, groupID string, name string) error {
	session, err := fe.registry.GetConsumer(groupID, name)
	if err != nil {
		return err
	}

	if err := CheckAccept(r.Header.Get("Accept"), session.Format()); err != nil {
		return err
	}

	timeout, maxBytes, err := pollOverrides(r)
	if err != nil {
		return err
	}

	body, err := session.Poll(timeout, maxBytes)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", session.Format().ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return nil
}

func (fe *Frontend) commit(w http.ResponseWriter, r *http.Request, groupID string, name string) error {
	session, err := fe.registry.GetConsumer(groupID, name)
	if err != nil {
		return err
	}

	request := core.OffsetsRequest{}
	if _, err := decodeBody(r, &request); err != nil {
		return err
	}

	// An absent or empty body commits the session's delivered positions.
	if err := session.Commit(request.Offsets); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (fe *Frontend) seek(w http.ResponseWriter, r *http.Request, groupID string, name string) error {
	session, err := fe.registry.GetConsumer(groupID, name)
	if err != nil {
		return err
	}

	request := core.OffsetsRequest{}
	if _, err := decodeBody(r, &request); err != nil {
		return err
	}

	if err := session.Seek(request.Offsets); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (fe *Frontend) seekToEdge(w http.ResponseWriter, r *http.Request, groupID string, name string, beginning bool) error {
	session, err := fe.registry.GetConsumer(groupID, name)
	if err != nil {
		return err
	}

	request := core.PartitionsRequest{}
	if _, err := decodeBody(r, &request); err != nil {
		return err
	}

	if beginning {
		err = session.SeekToBeginning(request.Partitions)
	} else {
		err = session.SeekToEnd(request.Partitions)
	}
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (fe *Frontend) produce(w http.ResponseWriter, r *http.Request, topic string) error {
	format, err := FormatFromContentType(r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}

	request := core.ProduceRequest{}
	if empty, err := decodeBody(r, &request); err != nil {
		return err
	} else if empty {
		return core.NewSemanticError("No records given to produce.")
	}

	connection, _ := r.Context().Value(connectionKey{}).(string)
	session := fe.registry.ProducerForConnection(connection)

	response, err := session.Send(topic, format, request)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, core.ContentTypeMeta, response)
}

// pollOverrides parses the optional timeout and max_bytes query
// parameters.
func pollOverrides(r *http.Request) (*time.Duration, *int, error) {
	var timeout *time.Duration
	var maxBytes *int

	query := r.URL.Query()
	if raw := query.Get("timeout"); raw != "" {
		millis, err := strconv.Atoi(raw)
		if err != nil || millis < 0 {
			return nil, nil, core.NewValidationError("Validation error on timeout: %s is not a valid timeout", raw)
		}
		value := time.Duration(millis) * time.Millisecond
		timeout = &value
	}
	if raw := query.Get("max_bytes"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, nil, core.NewValidationError("Validation error on max_bytes: %s is not a valid byte count", raw)
		}
		maxBytes = &limit
	}
	return timeout, maxBytes, nil
}

// decodeBody strictly parses a JSON request body into target. A missing
// or empty body is reported, not rejected; the operations decide whether
// that is allowed.
func decodeBody(r *http.Request, target interface{}) (empty bool, err error) {
	if r.Body == nil {
		return true, nil
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if err == io.EOF {
			return true, nil
		}
		return false, core.NewValidationError("Validation error on request body: %s", err.Error())
	}
	return false, nil
}

func writeJSON(w http.ResponseWriter, status int, contentType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.NewInternalError("%s", err.Error())
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)
	return nil
}

func (fe *Frontend) writeError(w http.ResponseWriter, err error) {
	bridgeErr := core.AsBridgeError(err)
	envelope := core.ErrorEnvelope{
		ErrorCode: bridgeErr.Code,
		Message:   bridgeErr.Message,
	}

	body, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", core.ContentTypeMeta)
	w.WriteHeader(bridgeErr.Code)
	w.Write(body)
}
