// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package harness

import (
	"fmt"

	"github.com/juju/errors"
)

// State is a stage boundary of a training run.
type State int

const (
	Idle State = iota
	Configured
	Loaded
	Split
	Trained
	Evaluated
	Persisted
	Done
	Failed
)

var stateNames = []string{"Idle", "Configured", "Loaded", "Split", "Trained", "Evaluated", "Persisted", "Done", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Kind classifies the stage that failed.
type Kind int

const (
	ConfigError Kind = iota + 1
	DataLoadError
	TrainingError
	PersistError
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case DataLoadError:
		return "DataLoadError"
	case TrainingError:
		return "TrainingError"
	case PersistError:
		return "PersistError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the failure of a run. State is the last state reached before the failure.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a run failure.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
