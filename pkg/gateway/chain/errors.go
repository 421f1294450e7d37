// Copyright (C) 2015 The Gravitee team (http://gravitee.io)
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

package chain

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
)

// StepError is the failure of a chain step.
type StepError struct {
	StepID string
	Phase  definition.Phase
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step '%s' failed in %s phase: %v", e.StepID, e.Phase, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Interruption stops a chain with a response to send to the caller.
type Interruption struct {
	Status  int
	Message string
}

func (e *Interruption) Error() string {
	return fmt.Sprintf("interrupted with status %d: %s", e.Status, e.Message)
}

// Interrupt returns an error interrupting the chain with the given status.
func Interrupt(status int, message string) error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &Interruption{Status: status, Message: message}
}

// AsInterruption returns the interruption wrapped by err, if any.
func AsInterruption(err error) (*Interruption, bool) {
	var interruption *Interruption
	if errors.As(err, &interruption) {
		return interruption, true
	}
	return nil, false
}
