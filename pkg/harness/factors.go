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
	"fmt"
	"strconv"
	"strings"
)

// Factor labels of the toy parity rule used by the factor test data: every
// numeric primary token must carry the label matching its parity.
const (
	EvenLabel = "e"
	OddLabel  = "o"
)

// CheckOddEvenTargetFactors verifies the auxiliary factor streams of the
// baseline outputs against the toy parity rule.
//
// For every baseline record: the number of factor streams must equal the
// number of target factors the model was trained with, every stream must
// have the same token count as the primary translation, and every factor
// token aligned with a numeric primary token must be the parity label of
// that number. Non-numeric primary tokens impose no constraint and are
// skipped with a warning.
//
// This is a synthetic rule that exists purely to prove the factor
// prediction pathway is wired end to end.
func (h *Harness) CheckOddEvenTargetFactors(rc *RunContext) error {
	for i := range rc.TestOutputs {
		output := &rc.TestOutputs[i]

		if len(output.Factors) != rc.TrainTargetFactorCount {
			return fmt.Errorf("sentence %d: %d factor streams vs. %d trained target factors",
				i, len(output.Factors), rc.TrainTargetFactorCount)
		}

		primary := output.TranslationTokens()
		for f, stream := range output.Factors {
			tokens := strings.Fields(stream)
			if len(tokens) != len(primary) {
				return fmt.Errorf("sentence %d: factor %d has %d tokens vs. %d primary tokens",
					i, f+1, len(tokens), len(primary))
			}
			for j, primaryToken := range primary {
				value, err := strconv.Atoi(primaryToken)
				if err != nil {
					h.log.Warn("primary token is not numeric, skipping parity check",
						"sentence", i, "token", primaryToken)
					continue
				}
				want := OddLabel
				if value%2 == 0 {
					want = EvenLabel
				}
				if tokens[j] != want {
					return fmt.Errorf("sentence %d: factor %d token %d: got %q, want %q for primary token %q",
						i, f+1, j, tokens[j], want, primaryToken)
				}
			}
		}
	}
	return nil
}
