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
	"net/http"
	"testing"

	"github.com/trivago/tgo/ttesting"
)

func TestErrorConstructors(t *testing.T) {
	expect := ttesting.NewExpect(t)

	expect.Equal(http.StatusBadRequest, NewValidationError("bad").Code)
	expect.Equal(http.StatusUnprocessableEntity, NewSemanticError("bad").Code)
	expect.Equal(http.StatusConflict, NewConflictError("bad").Code)
	expect.Equal(http.StatusNotFound, NewNotFoundError("bad").Code)
	expect.Equal(http.StatusNotAcceptable, NewNotAcceptableError("bad").Code)
	expect.Equal(http.StatusInternalServerError, NewInternalError("bad").Code)

	err := NewNotFoundError("no instance %q in group %q", "tail", "reader")
	expect.Equal(`no instance "tail" in group "reader"`, err.Error())
}

func TestAsBridgeError(t *testing.T) {
	expect := ttesting.NewExpect(t)

	typed := NewConflictError("taken")
	expect.Equal(typed, AsBridgeError(typed))

	// Library failures surface as 500 with the message untouched.
	plain := fmt.Errorf("kafka: broker not available")
	converted := AsBridgeError(plain)
	expect.Equal(http.StatusInternalServerError, converted.Code)
	expect.Equal("kafka: broker not available", converted.Message)
}
