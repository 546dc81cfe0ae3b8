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
	"testing"

	"github.com/trivago/tgo/ttesting"
)

func TestClassifyOperations(t *testing.T) {
	expect := ttesting.NewExpect(t)

	instance := "/consumers/my-group/instances/my-consumer"

	expect.Equal(OpCreateConsumer, Classify(http.MethodPost, "/consumers/my-group"))
	expect.Equal(OpDeleteConsumer, Classify(http.MethodDelete, instance))
	expect.Equal(OpSubscribe, Classify(http.MethodPost, instance+"/subscription"))
	expect.Equal(OpUnsubscribe, Classify(http.MethodDelete, instance+"/subscription"))
	expect.Equal(OpAssign, Classify(http.MethodPost, instance+"/assignments"))
	expect.Equal(OpPoll, Classify(http.MethodGet, instance+"/records"))
	expect.Equal(OpCommit, Classify(http.MethodPost, instance+"/offsets"))
	expect.Equal(OpSeek, Classify(http.MethodPost, instance+"/positions"))
	expect.Equal(OpSeekToBeginning, Classify(http.MethodPost, instance+"/positions/beginning"))
	expect.Equal(OpSeekToEnd, Classify(http.MethodPost, instance+"/positions/end"))
	expect.Equal(OpProduce, Classify(http.MethodPost, "/topics/my-topic"))
}

func TestClassifyFallbacks(t *testing.T) {
	expect := ttesting.NewExpect(t)

	expect.Equal(OpEmpty, Classify(http.MethodGet, ""))
	expect.Equal(OpEmpty, Classify(http.MethodGet, "/"))
	expect.Equal(OpInvalid, Classify(http.MethodGet, "/brokers"))
	expect.Equal(OpInvalid, Classify(http.MethodPost, "/consumers"))

	// Known path, unsupported method.
	expect.Equal(OpUnprocessable, Classify(http.MethodPut, "/topics/my-topic"))
	expect.Equal(OpUnprocessable, Classify(http.MethodGet, "/consumers/my-group"))
}

func TestOperationNames(t *testing.T) {
	expect := ttesting.NewExpect(t)

	expect.Equal("CREATE_CONSUMER", OpCreateConsumer.String())
	expect.Equal("SEEK_TO_BEGINNING", OpSeekToBeginning.String())
	expect.Equal("UNPROCESSABLE", OpUnprocessable.String())
}
