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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/PeterHamfelt/sockeye/pkg/logging"
)

// testEngine is a scripted stand-in for the sockeye CLI entry points. It
// behaves as a deterministic identity model: every source sentence
// translates to itself, scored at scorePerToken per token, with parity
// factor streams when targetFactors is set. Knobs introduce controlled
// inconsistencies so each check's failure path can be exercised.
type testEngine struct {
	t *testing.T

	// targetFactors is the number of auxiliary streams to emit
	targetFactors int

	// scorePerToken is the per-token log probability of the fake model
	scorePerToken float64

	// batchTranslationNoise garbles translations when --batch-size is set
	batchTranslationNoise bool

	// batchScoreDelta shifts scores when --batch-size is set
	batchScoreDelta float64

	// scorerDelta shifts the scorer away from the decoder
	scorerDelta float64

	// factorOverrides replaces factor stream 1 for given sentence indices
	factorOverrides map[int]string

	// dropPrefix makes the engine ignore target-prefix constraints
	dropPrefix bool

	// emitReserved appends a reserved vocabulary symbol to every translation
	emitReserved bool

	mu    sync.Mutex
	calls [][]string
}

func testEntrypoints() Entrypoints {
	return Entrypoints{
		Train:         []string{"fake-train"},
		Translate:     []string{"fake-translate"},
		Score:         []string{"fake-score"},
		PrepareData:   []string{"fake-prepare-data"},
		LexiconCreate: []string{"fake-lexicon", "create"},
	}
}

func (e *testEngine) Run(ctx context.Context, args []string) (*RunResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), args...))
	e.mu.Unlock()

	var err error
	switch args[0] {
	case "fake-train", "fake-prepare-data", "fake-lexicon":
		err = os.MkdirAll(flagValue(args, "--output"), 0755)
	case "fake-translate":
		err = e.translate(args)
	case "fake-score":
		err = e.score(args)
	default:
		err = fmt.Errorf("unknown entry point %q", args[0])
	}
	if err != nil {
		return &RunResult{ExitCode: 1, Stderr: err.Error()}, err
	}
	return &RunResult{Command: strings.Join(args, " ")}, nil
}

// callsTo returns the argv lists received by the given entry point.
func (e *testEngine) callsTo(entry string) [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out [][]string
	for _, call := range e.calls {
		if call[0] == entry {
			out = append(out, call)
		}
	}
	return out
}

func (e *testEngine) translate(args []string) error {
	lines, err := readLines(flagValue(args, "--input"))
	if err != nil {
		return err
	}
	jsonInput := hasFlag(args, "--json-input")
	batched := flagValue(args, "--batch-size") != ""

	var outLines []string
	for i, line := range lines {
		text := line
		var prefix string
		var prefixFactors []string
		if jsonInput {
			var record struct {
				Text                string   `json:"text"`
				TargetPrefix        string   `json:"target_prefix"`
				TargetPrefixFactors []string `json:"target_prefix_factors"`
			}
			if err := json.Unmarshal([]byte(line), &record); err != nil {
				return fmt.Errorf("bad json input line: %w", err)
			}
			text = record.Text
			prefix = record.TargetPrefix
			prefixFactors = record.TargetPrefixFactors
		}

		tokens := strings.Fields(text)
		if prefix != "" && !e.dropPrefix {
			prefixTokens := strings.Fields(prefix)
			keep := min(len(prefixTokens), len(tokens))
			tokens = append(append([]string{}, prefixTokens...), tokens[keep:]...)
		}
		if e.batchTranslationNoise && batched && len(tokens) > 0 {
			tokens = tokens[:len(tokens)-1]
		}
		if e.emitReserved {
			tokens = append(tokens, UnkSymbol)
		}

		score := e.scoreFor(tokens)
		if batched {
			score += e.batchScoreDelta
		}

		record := map[string]string{"translation": strings.Join(tokens, " ")}
		if prefix != "" {
			record["target_prefix"] = prefix
		}
		for f := 1; f <= e.targetFactors; f++ {
			stream := parityStream(tokens)
			if override, ok := e.factorOverrides[i]; ok && f == 1 {
				stream = override
			}
			record[fmt.Sprintf("factor%d", f)] = stream
		}

		outLines = append(outLines, e.encodeTranslateLine(record, score, prefixFactors))
	}
	return writeLines(flagValue(args, "--output"), outLines)
}

// encodeTranslateLine mimics the engine's JSON writer, including the bare
// -Infinity tokens Python's json module produces for non-finite floats.
func (e *testEngine) encodeTranslateLine(fields map[string]string, score float64, prefixFactors []string) string {
	var parts []string
	for _, key := range sortedKeys(fields) {
		k, _ := json.Marshal(key)
		v, _ := json.Marshal(fields[key])
		parts = append(parts, fmt.Sprintf("%s: %s", k, v))
	}
	if len(prefixFactors) > 0 {
		v, _ := json.Marshal(prefixFactors)
		parts = append(parts, fmt.Sprintf("%q: %s", "target_prefix_factors", v))
	}
	scoreText := strconv.FormatFloat(score, 'f', 6, 64)
	if score != score || score < -1e300 {
		scoreText = "-Infinity"
	}
	parts = append(parts, fmt.Sprintf("%q: %s", "score", scoreText))
	return "{" + strings.Join(parts, ", ") + "}"
}

func (e *testEngine) score(args []string) error {
	targets, err := readLines(flagValue(args, "--target"))
	if err != nil {
		return err
	}
	factorCount := len(flagValues(args, "--target-factors"))

	var outLines []string
	for _, target := range targets {
		score := e.scoreFor(strings.Fields(target))
		if !isNegInf(score) {
			score += e.scorerDelta
		}
		row := []string{formatScoreText(score)}
		for f := 0; f < factorCount; f++ {
			row = append(row, formatScoreText(e.scorePerToken))
		}
		outLines = append(outLines, strings.Join(row, "\t"))
	}
	return writeLines(flagValue(args, "--output"), outLines)
}

// scoreFor is the fake model's scoring function: linear in token count,
// negative infinity for the empty hypothesis. Decoder and scorer share it,
// so the cross-check passes unless scorerDelta is set.
func (e *testEngine) scoreFor(tokens []string) float64 {
	if len(tokens) == 0 {
		return negInf()
	}
	return e.scorePerToken * float64(len(tokens))
}

// parityStream labels each numeric token with its parity; non-numeric
// tokens get a neutral label the checker must skip.
func parityStream(tokens []string) string {
	labels := make([]string, len(tokens))
	for i, token := range tokens {
		value, err := strconv.Atoi(token)
		switch {
		case err != nil:
			labels[i] = "n"
		case value%2 == 0:
			labels[i] = EvenLabel
		default:
			labels[i] = OddLabel
		}
	}
	return strings.Join(labels, " ")
}

func formatScoreText(score float64) string {
	if isNegInf(score) {
		return "-inf"
	}
	return strconv.FormatFloat(score, 'f', 6, 64)
}

func negInf() float64 {
	return float64(NegInf)
}

func isNegInf(f float64) bool {
	return Score(f).IsNegInf()
}

func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// flagValues returns the tokens following name up to the next flag.
func flagValues(args []string, name string) []string {
	var out []string
	for i, arg := range args {
		if arg != name {
			continue
		}
		for j := i + 1; j < len(args) && !strings.HasPrefix(args[j], "-"); j++ {
			out = append(out, args[j])
		}
		break
	}
	return out
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort keeps the fake dependency-free
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// writeScenario lays out an identity-translation dataset in a temp dir and
// returns a scenario over it. Target files equal source files, so the fake
// engine's identity output matches the references exactly.
func writeScenario(t *testing.T, withFactors bool) *Scenario {
	t.Helper()
	dir := t.TempDir()

	trainLines := []string{"1 2 3", "4 5 6 7", "8 9", "10 11 12"}
	devLines := []string{"3 5 7", "2 4"}
	testLines := []string{"2 4 6", "1 3 5", "7 8", ""}

	write := func(name string, lines []string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := writeLines(path, lines); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
		return path
	}
	parityLines := func(lines []string) []string {
		out := make([]string, len(lines))
		for i, line := range lines {
			out[i] = parityStream(strings.Fields(line))
		}
		return out
	}

	data := Dataset{
		TrainSource: write("train.src", trainLines),
		TrainTarget: write("train.tgt", trainLines),
		DevSource:   write("dev.src", devLines),
		DevTarget:   write("dev.tgt", devLines),
		TestSource:  write("test.src", testLines),
		TestTarget:  write("test.tgt", testLines),
	}
	if withFactors {
		data.TrainTargetFactors = []string{write("train.tgt.factor1", parityLines(trainLines))}
		data.DevTargetFactors = []string{write("dev.tgt.factor1", parityLines(devLines))}
		data.TestTargetFactors = []string{write("test.tgt.factor1", parityLines(testLines))}
	}

	return &Scenario{
		TrainParams:     "--num-layers 1 --transformer-model-size 16",
		TranslateParams: "--beam-size 2",
		Data:            data,
		MaxSeqLen:       10,
		Seed:            13,
		CompareOutput:   true,
		WorkDir:         filepath.Join(dir, "work"),
	}
}

// newTestHarness builds a Harness over the fake engine with logging muted.
func newTestHarness(t *testing.T, engine *testEngine) *Harness {
	t.Helper()
	engine.t = t
	if engine.scorePerToken == 0 {
		engine.scorePerToken = -0.25
	}
	return New(engine, testEntrypoints(), quietLogger())
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}
