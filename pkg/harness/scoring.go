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
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// scoreTolerance is the absolute tolerance for the translate/score
// cross-check. The scorer runs over the exact decoded tokens, so agreement
// is much tighter than between two decoding runs.
const scoreTolerance = 1e-6

// scoreRelevantFlags are translate flags that change the reported score and
// therefore must be forwarded to the scorer. Each consumes the token that
// follows it as its value.
var scoreRelevantFlags = map[string]bool{
	"--brevity-penalty-type":                  true,
	"--brevity-penalty-weight":                true,
	"--brevity-penalty-constant-length-ratio": true,
	"--length-penalty-alpha":                  true,
	"--length-penalty-beta":                   true,
}

// extractScoreParams pulls the score-relevant flag/value pairs out of a
// translate parameter string.
func extractScoreParams(translateParams string) []string {
	fields := strings.Fields(translateParams)
	var out []string
	for i, field := range fields {
		if scoreRelevantFlags[field] && i+1 < len(fields) {
			out = append(out, field, fields[i+1])
		}
	}
	return out
}

// CheckScoring cross-checks the scorer against the decoder.
//
// # Description
//
// The baseline translations are written back to disk as scoring targets
// (one line per sentence, plus one file per declared target factor, in
// sentence order), then the score entry point is run twice against the same
// source: once with the prefix-constrained baseline as target, once with
// the plain baseline. When compareScores is set, the primary score of every
// sentence must match the decoder's reported score within 1e-6 absolute
// tolerance; two negative-infinity scores count as a match.
//
// Per-factor scores are parsed into ScoreRow but deliberately not compared;
// the decoder does not report factor scores in a form the scorer reproduces.
func (h *Harness) CheckScoring(ctx context.Context, rc *RunContext, translateParams string, compareScores bool) error {
	scoreParams := extractScoreParams(translateParams)

	targetPath := filepath.Join(rc.WorkDir, "score.target")
	targetFactorPaths := scoreTargetFactorPaths(rc, "score.target.factor")
	if err := writeScoreTargets(targetPath, targetFactorPaths, rc.TestOutputs); err != nil {
		return err
	}

	targetWithPrefixPath := filepath.Join(rc.WorkDir, "score_with_target_prefix.target")
	targetWithPrefixFactorPaths := scoreTargetFactorPaths(rc, "score_with_target_prefix.target.factor")
	if err := writeScoreTargets(targetWithPrefixPath, targetWithPrefixFactorPaths, rc.TestWithTargetPrefixOutputs); err != nil {
		return err
	}

	// First run: prefix-constrained baseline as target.
	outWithPrefixPath := filepath.Join(rc.WorkDir, "score_with_target_prefix.out")
	rowsWithPrefix, err := h.runScore(ctx, rc, targetWithPrefixPath, targetWithPrefixFactorPaths, outWithPrefixPath, scoreParams)
	if err != nil {
		return err
	}

	// Second run: plain baseline as target.
	outPath := filepath.Join(rc.WorkDir, "score.out")
	rows, err := h.runScore(ctx, rc, targetPath, targetFactorPaths, outPath, scoreParams)
	if err != nil {
		return err
	}

	if len(rows) != len(rc.TestOutputs) || len(rowsWithPrefix) != len(rc.TestWithTargetPrefixOutputs) {
		return fmt.Errorf("score row count mismatch: %d/%d rows for %d/%d outputs",
			len(rows), len(rowsWithPrefix), len(rc.TestOutputs), len(rc.TestWithTargetPrefixOutputs))
	}
	if !compareScores {
		return nil
	}

	for i, input := range rc.TestInputs {
		if err := compareScorePair(input, &rc.TestOutputs[i], rows[i], h); err != nil {
			return err
		}
		if err := compareScorePair(input, &rc.TestWithTargetPrefixOutputs[i], rowsWithPrefix[i], h); err != nil {
			return err
		}
	}
	return nil
}

// compareScorePair checks one decoder score against one scorer row.
func compareScorePair(input string, out *TranslationOutput, row ScoreRow, h *Harness) error {
	h.log.Info("score cross-check",
		"tokens", out.Translation,
		"translate_score", float64(out.Score),
		"score_score", float64(row.Score))
	if out.Score.IsNegInf() && row.Score.IsNegInf() {
		return nil
	}
	if math.Abs(float64(out.Score)-float64(row.Score)) > scoreTolerance {
		return fmt.Errorf("input: %s || tokens: %s || translate score: %.6f || score score: %.6f",
			input, out.Translation, float64(out.Score), float64(row.Score))
	}
	return nil
}

// runScore invokes the score entry point and parses its output rows.
func (h *Harness) runScore(ctx context.Context, rc *RunContext, target string, targetFactors []string, out string, scoreParams []string) ([]ScoreRow, error) {
	args := scoreArgs(rc.Model, rc.TestSource, target, out)
	args = append(args, scoreParams...)
	if len(rc.TestSourceFactors) > 0 {
		args = append(args, "--source-factors")
		args = append(args, rc.TestSourceFactors...)
	}
	if len(targetFactors) > 0 {
		args = append(args, "--target-factors")
		args = append(args, targetFactors...)
	}
	h.log.Info("scoring", "target", target, "params", strings.Join(scoreParams, " "))
	if _, err := h.runner.Run(ctx, argv(h.entry.Score, args...)); err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	return CollectScoreRows(out)
}

// scoreTargetFactorPaths names one target file per declared target factor.
func scoreTargetFactorPaths(rc *RunContext, stem string) []string {
	paths := make([]string, 0, len(rc.TestTargetFactors))
	for i := range rc.TestTargetFactors {
		paths = append(paths, filepath.Join(rc.WorkDir, fmt.Sprintf("%s%d", stem, i+1)))
	}
	return paths
}

// writeScoreTargets writes the translations (and their factor streams) as
// scoring target files, one line per sentence in order. All files are
// closed on every exit path.
func writeScoreTargets(targetPath string, factorPaths []string, outputs []TranslationOutput) (err error) {
	target, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("creating score target: %w", err)
	}
	defer func() {
		if cerr := target.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	factorFiles := make([]*os.File, 0, len(factorPaths))
	defer func() {
		for _, f := range factorFiles {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	for _, path := range factorPaths {
		f, ferr := os.Create(path)
		if ferr != nil {
			return fmt.Errorf("creating score target factor file: %w", ferr)
		}
		factorFiles = append(factorFiles, f)
	}

	targetOut := bufio.NewWriter(target)
	factorOuts := make([]*bufio.Writer, len(factorFiles))
	for i, f := range factorFiles {
		factorOuts[i] = bufio.NewWriter(f)
	}

	for _, output := range outputs {
		if _, err := fmt.Fprintln(targetOut, output.Translation); err != nil {
			return fmt.Errorf("writing score target: %w", err)
		}
		for i, factorOut := range factorOuts {
			if i >= len(output.Factors) {
				return fmt.Errorf("output %+v has no factor stream %d", output, i+1)
			}
			if _, err := fmt.Fprintln(factorOut, output.Factors[i]); err != nil {
				return fmt.Errorf("writing score target factor file: %w", err)
			}
		}
	}

	if err := targetOut.Flush(); err != nil {
		return err
	}
	for _, factorOut := range factorOuts {
		if err := factorOut.Flush(); err != nil {
			return err
		}
	}
	return nil
}
