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
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Score is a model log-probability. Negative infinity marks an invalid or
// empty hypothesis.
type Score float64

// NegInf is the score of an invalid or empty hypothesis.
var NegInf = Score(math.Inf(-1))

// IsNegInf reports whether the score marks an invalid hypothesis.
func (s Score) IsNegInf() bool {
	return math.IsInf(float64(s), -1)
}

// UnmarshalJSON decodes a score from a JSON number or from the quoted
// non-finite tokens produced by sanitizing the engine's JSON output
// ("Infinity", "-Infinity", "NaN").
func (s *Score) UnmarshalJSON(b []byte) error {
	text := strings.Trim(string(b), `"`)
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("invalid score %q: %w", string(b), err)
	}
	*s = Score(f)
	return nil
}

// TranslationOutput is one decoded sentence as reported by the translate CLI
// in JSON output mode. Records are immutable once parsed.
//
// Auxiliary target-factor streams are ordered by factor index: Factors[0]
// corresponds to the engine's "factor1" key, and FactorScores[0] to
// "factor1_score" when the engine reports per-factor scores.
type TranslationOutput struct {
	// Translation is the primary token stream, space-joined
	Translation string

	// Score is the hypothesis score (may be negative infinity)
	Score Score

	// TargetPrefix is the constraint the hypothesis was decoded under, if any
	TargetPrefix string

	// TargetPrefixFactors are per-factor prefix constraints, if any
	TargetPrefixFactors []string

	// Factors are the auxiliary per-token prediction streams
	Factors []string

	// FactorScores are per-factor hypothesis scores, when reported
	FactorScores []Score
}

// TranslationTokens returns the primary stream split into tokens.
func (o *TranslationOutput) TranslationTokens() []string {
	return strings.Fields(o.Translation)
}

// CollectTranslateOutputs parses the translate CLI's line-delimited JSON
// output file into one record per source sentence, in order.
//
// The engine's JSON writer emits bare -Infinity / Infinity / NaN tokens for
// non-finite scores, which are not valid JSON; lines are sanitized before
// decoding.
func CollectTranslateOutputs(path string) ([]TranslationOutput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening translate output: %w", err)
	}
	defer f.Close()

	var outputs []TranslationOutput
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		output, err := parseTranslateLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineno, err)
		}
		outputs = append(outputs, output)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading translate output: %w", err)
	}
	return outputs, nil
}

func parseTranslateLine(line string) (TranslationOutput, error) {
	var out TranslationOutput

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(sanitizeNonFinite(line)), &fields); err != nil {
		return out, fmt.Errorf("decoding record: %w", err)
	}

	if raw, ok := fields["translation"]; ok {
		if err := json.Unmarshal(raw, &out.Translation); err != nil {
			return out, fmt.Errorf("decoding translation: %w", err)
		}
	} else {
		return out, fmt.Errorf("record has no translation field")
	}
	if raw, ok := fields["score"]; ok {
		if err := json.Unmarshal(raw, &out.Score); err != nil {
			return out, err
		}
	} else {
		return out, fmt.Errorf("record has no score field")
	}
	if raw, ok := fields["target_prefix"]; ok {
		if err := json.Unmarshal(raw, &out.TargetPrefix); err != nil {
			return out, fmt.Errorf("decoding target_prefix: %w", err)
		}
	}
	if raw, ok := fields["target_prefix_factors"]; ok {
		if err := json.Unmarshal(raw, &out.TargetPrefixFactors); err != nil {
			return out, fmt.Errorf("decoding target_prefix_factors: %w", err)
		}
	}

	// The engine reports auxiliary streams under dynamic factor{N} keys,
	// with per-factor scores under factor{N}_score. Collect both in index
	// order so downstream code never touches string keys.
	for n := 1; ; n++ {
		raw, ok := fields[fmt.Sprintf("factor%d", n)]
		if !ok {
			break
		}
		var stream string
		if err := json.Unmarshal(raw, &stream); err != nil {
			return out, fmt.Errorf("decoding factor%d: %w", n, err)
		}
		out.Factors = append(out.Factors, stream)
	}
	for n := 1; ; n++ {
		raw, ok := fields[fmt.Sprintf("factor%d_score", n)]
		if !ok {
			break
		}
		var score Score
		if err := json.Unmarshal(raw, &score); err != nil {
			return out, fmt.Errorf("decoding factor%d_score: %w", n, err)
		}
		out.FactorScores = append(out.FactorScores, score)
	}

	return out, nil
}

// nonFiniteScore matches a bare non-finite token in the value position of a
// score key. Only score keys can carry non-finite values, so anchoring on
// them keeps translation text containing e.g. "x: NaN" untouched.
var nonFiniteScore = regexp.MustCompile(`("score"|"factor\d+_score")(\s*:\s*)(-?Infinity|NaN)`)

// sanitizeNonFinite quotes the bare non-finite tokens Python's json writer
// emits so the line becomes valid JSON. Score.UnmarshalJSON accepts the
// quoted forms.
func sanitizeNonFinite(line string) string {
	return nonFiniteScore.ReplaceAllString(line, `$1$2"$3"`)
}

// ScoreRow is one line of the score CLI's tab-separated output: the primary
// score followed by one score per declared target factor.
type ScoreRow struct {
	Score        Score
	FactorScores []Score
}

// CollectScoreRows parses the score CLI's output file, one row per input
// sentence, order-aligned with the input.
func CollectScoreRows(path string) ([]ScoreRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening score output: %w", err)
	}
	defer f.Close()

	var rows []ScoreRow
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row ScoreRow
		for i, field := range strings.Split(line, "\t") {
			// strconv accepts the engine's "-inf" text form directly.
			value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid score %q: %w", path, lineno, field, err)
			}
			if i == 0 {
				row.Score = Score(value)
			} else {
				row.FactorScores = append(row.FactorScores, Score(value))
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading score output: %w", err)
	}
	return rows, nil
}
