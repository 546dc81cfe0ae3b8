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
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
)

// Operation tags every request with the bridge operation it addresses.
// Classification is purely syntactic; body validation happens in the
// operation handlers.
type Operation int

const (
	OpCreateConsumer = Operation(iota)
	OpDeleteConsumer
	OpSubscribe
	OpUnsubscribe
	OpAssign
	OpPoll
	OpCommit
	OpSeek
	OpSeekToBeginning
	OpSeekToEnd
	OpProduce
	// OpEmpty marks a request without a path.
	OpEmpty
	// OpInvalid marks a path outside the bridge surface.
	OpInvalid
	// OpUnprocessable marks a known path with an unsupported method.
	OpUnprocessable
)

var operationNames = map[Operation]string{
	OpCreateConsumer:  "CREATE_CONSUMER",
	OpDeleteConsumer:  "DELETE_CONSUMER",
	OpSubscribe:       "SUBSCRIBE",
	OpUnsubscribe:     "UNSUBSCRIBE",
	OpAssign:          "ASSIGN",
	OpPoll:            "POLL",
	OpCommit:          "COMMIT",
	OpSeek:            "SEEK",
	OpSeekToBeginning: "SEEK_TO_BEGINNING",
	OpSeekToEnd:       "SEEK_TO_END",
	OpProduce:         "PRODUCE",
	OpEmpty:           "EMPTY",
	OpInvalid:         "INVALID",
	OpUnprocessable:   "UNPROCESSABLE",
}

func (op Operation) String() string {
	return operationNames[op]
}

// Route patterns of the bridge surface.
const (
	pathConsumers          = "/consumers/{group}"
	pathInstance           = "/consumers/{group}/instances/{name}"
	pathSubscription       = pathInstance + "/subscription"
	pathAssignments        = pathInstance + "/assignments"
	pathRecords            = pathInstance + "/records"
	pathOffsets            = pathInstance + "/offsets"
	pathPositions          = pathInstance + "/positions"
	pathPositionsBeginning = pathPositions + "/beginning"
	pathPositionsEnd       = pathPositions + "/end"
	pathTopics             = "/topics/{topic}"
)

type routeBinding struct {
	method    string
	path      string
	operation Operation
}

var routeBindings = []routeBinding{
	{http.MethodPost, pathConsumers, OpCreateConsumer},
	{http.MethodDelete, pathInstance, OpDeleteConsumer},
	{http.MethodPost, pathSubscription, OpSubscribe},
	{http.MethodDelete, pathSubscription, OpUnsubscribe},
	{http.MethodPost, pathAssignments, OpAssign},
	{http.MethodGet, pathRecords, OpPoll},
	{http.MethodPost, pathOffsets, OpCommit},
	{http.MethodPost, pathPositions, OpSeek},
	{http.MethodPost, pathPositionsBeginning, OpSeekToBeginning},
	{http.MethodPost, pathPositionsEnd, OpSeekToEnd},
	{http.MethodPost, pathTopics, OpProduce},
}

// routeTable is the mux table used for classification. The frontend builds
// its own dispatch router from the same routeBindings.
var routeTable = newRouteTable()

func newRouteTable() *mux.Router {
	router := mux.NewRouter()
	for _, binding := range routeBindings {
		router.Path(binding.path).Methods(binding.method).Name(binding.operation.String())
	}
	return router
}

var operationsByName = buildOperationIndex()

func buildOperationIndex() map[string]Operation {
	index := make(map[string]Operation, len(operationNames))
	for op, name := range operationNames {
		index[name] = op
	}
	return index
}

// Classify maps a method and path onto the operation set.
func Classify(method string, path string) Operation {
	if path == "" || path == "/" {
		return OpEmpty
	}

	probe := &http.Request{Method: method, URL: &url.URL{Path: path}}
	var match mux.RouteMatch
	if routeTable.Match(probe, &match) && match.Route != nil {
		return operationsByName[match.Route.GetName()]
	}
	if match.MatchErr == mux.ErrMethodMismatch {
		return OpUnprocessable
	}
	return OpInvalid
}
