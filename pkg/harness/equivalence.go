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
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// equivScoreTolerance is the absolute score tolerance for equivalence runs.
// Decoding order differences (batching, lexicon restriction) perturb scores
// slightly, so this is looser than the scoring cross-check tolerance.
const equivScoreTolerance = 0.01

// CheckTranslateEquivalence re-runs translation with alternate parameters
// and asserts the outputs match the baselines held in the run context.
//
// # Description
//
// Two runs are performed: one against the target-prefix JSON input and one
// against the plain source (with source factors attached when present),
// both with equivParams in place of the baseline translate parameters.
// When compareOutput is set, per sentence:
//
//  1. Translations must match the baseline exactly, for both variants.
//  2. Scores must match within 0.01 absolute tolerance; two non-finite
//     scores count as equal.
//  3. The constrained translation's leading tokens must equal the prefix
//     tokens, up to the shorter of the two lengths.
//  4. The same leading-token rule holds per prefix factor stream.
//
// Any mismatch is returned as an error carrying both compared values.
func (h *Harness) CheckTranslateEquivalence(ctx context.Context, rc *RunContext, equivParams string, compareOutput bool) error {
	outPath := filepath.Join(rc.WorkDir, "test.out.equiv")
	outWithPrefixPath := filepath.Join(rc.WorkDir, "test_with_target_prefix.out.equiv")

	// First run: target prefix embedded in JSON input.
	args := translateArgs(rc.Model, rc.TestSourceWithTargetPrefix, outWithPrefixPath)
	args = append(args, strings.Fields(equivParams)...)
	args = append(args, "--json-input")
	h.log.Info("equivalence translate with target prefix", "params", equivParams)
	if _, err := h.runner.Run(ctx, argv(h.entry.Translate, args...)); err != nil {
		return fmt.Errorf("equivalence translate (prefix): %w", err)
	}
	withPrefixEquiv, err := CollectTranslateOutputs(outWithPrefixPath)
	if err != nil {
		return err
	}

	// Second run: plain source.
	args = translateArgs(rc.Model, rc.TestSource, outPath)
	args = append(args, strings.Fields(equivParams)...)
	if len(rc.TestSourceFactors) > 0 {
		args = append(args, "--input-factors")
		args = append(args, rc.TestSourceFactors...)
	}
	h.log.Info("equivalence translate", "params", equivParams)
	if _, err := h.runner.Run(ctx, argv(h.entry.Translate, args...)); err != nil {
		return fmt.Errorf("equivalence translate: %w", err)
	}
	equiv, err := CollectTranslateOutputs(outPath)
	if err != nil {
		return err
	}

	if len(rc.TestOutputs) == 0 || len(rc.TestWithTargetPrefixOutputs) == 0 {
		return fmt.Errorf("run context has no baseline outputs")
	}
	if len(equiv) != len(rc.TestOutputs) || len(withPrefixEquiv) != len(rc.TestWithTargetPrefixOutputs) {
		return fmt.Errorf("output count mismatch: baseline %d/%d, equivalence %d/%d",
			len(rc.TestOutputs), len(rc.TestWithTargetPrefixOutputs), len(equiv), len(withPrefixEquiv))
	}
	if !compareOutput {
		return nil
	}

	for i := range rc.TestOutputs {
		baseline := &rc.TestOutputs[i]
		baselineWithPrefix := &rc.TestWithTargetPrefixOutputs[i]

		if baseline.Translation != equiv[i].Translation {
			return fmt.Errorf("sentence %d: translation mismatch: %q vs. %q",
				i, baseline.Translation, equiv[i].Translation)
		}
		if baselineWithPrefix.Translation != withPrefixEquiv[i].Translation {
			return fmt.Errorf("sentence %d: prefix translation mismatch: %q vs. %q",
				i, baselineWithPrefix.Translation, withPrefixEquiv[i].Translation)
		}
		if !scoresEquivalent(baseline.Score, equiv[i].Score) {
			return fmt.Errorf("sentence %d: score mismatch: %v vs. %v",
				i, baseline.Score, equiv[i].Score)
		}
		if !scoresEquivalent(baselineWithPrefix.Score, withPrefixEquiv[i].Score) {
			return fmt.Errorf("sentence %d: prefix score mismatch: %v vs. %v",
				i, baselineWithPrefix.Score, withPrefixEquiv[i].Score)
		}

		if err := checkPrefixRespected(i, baselineWithPrefix); err != nil {
			return err
		}
	}
	return nil
}

// scoresEquivalent reports whether two scores match within the equivalence
// tolerance. A non-finite difference (both infinite, or either NaN) counts
// as a match: both-invalid hypotheses are equivalent.
func scoresEquivalent(a, b Score) bool {
	diff := float64(a) - float64(b)
	if math.IsNaN(diff) {
		return true
	}
	return math.Abs(diff) < equivScoreTolerance
}

// checkPrefixRespected asserts the constrained output starts with its prefix
// tokens, on the primary stream and on every prefix factor stream. The
// comparison is truncated to the shorter length to handle hypotheses that
// ended before the prefix was exhausted.
func checkPrefixRespected(i int, out *TranslationOutput) error {
	prefix := strings.Fields(out.TargetPrefix)
	translation := out.TranslationTokens()
	end := min(len(prefix), len(translation))
	for j := 0; j < end; j++ {
		if prefix[j] != translation[j] {
			return fmt.Errorf("sentence %d: translation %v does not start with target prefix %v",
				i, translation[:end], prefix[:end])
		}
	}

	for f, factorPrefix := range out.TargetPrefixFactors {
		if f >= len(out.Factors) {
			return fmt.Errorf("sentence %d: prefix factor %d has no factor stream in output %+v",
				i, f+1, out)
		}
		prefix := strings.Fields(factorPrefix)
		stream := strings.Fields(out.Factors[f])
		end := min(len(prefix), len(stream))
		for j := 0; j < end; j++ {
			if prefix[j] != stream[j] {
				return fmt.Errorf("sentence %d: factor %d stream %v does not start with prefix %v",
					i, f+1, stream[:end], prefix[:end])
			}
		}
	}
	return nil
}
