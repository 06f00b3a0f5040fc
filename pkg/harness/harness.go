// Copyright 2017--2022 Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may not
// use this file except in compliance with the License. A copy of the License
// is located at
//
//     http://aws.amazon.com/apache2.0/
//
// or in the "license" file accompanying this file. This file is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package harness

import (
	"github.com/PeterHamfelt/sockeye/pkg/logging"
)

// Harness bundles the engine boundary with the logger the checks report
// through. One Harness serves any number of sequential scenario runs.
type Harness struct {
	runner CommandRunner
	entry  Entrypoints
	log    *logging.Logger
}

// New creates a Harness.
//
// # Inputs
//
//   - runner: Engine invocation boundary (ExecRunner in production, a
//     scripted fake in tests)
//   - entry: Entry-point argv prefixes (DefaultEntrypoints for an installed
//     sockeye)
//   - log: Logger for stage progress (logging.Default if nil)
func New(runner CommandRunner, entry Entrypoints, log *logging.Logger) *Harness {
	if log == nil {
		log = logging.Default()
	}
	return &Harness{runner: runner, entry: entry, log: log}
}
