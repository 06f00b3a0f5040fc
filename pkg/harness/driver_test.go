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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageNames(results []StageResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	return names
}

func TestCheckTrainTranslate_EndToEnd(t *testing.T) {
	engine := &testEngine{}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, false)

	rc, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.NoError(t, err)
	require.NotNil(t, rc)

	assert.Equal(t, []string{
		"train and translate",
		"batch decoding equivalence",
		"restricted-lexicon equivalence",
		"decoding determinism",
		"scoring cross-check",
	}, stageNames(results))
	assert.Nil(t, Failed(results))

	assert.Len(t, rc.TestOutputs, 4)
	assert.Len(t, rc.TestWithTargetPrefixOutputs, 4)
	assert.Equal(t, "5 passed, 0 skipped", Summarize(results))

	// The restrict-lexicon run must actually carry the flag.
	restricted := 0
	for _, call := range engine.callsTo("fake-translate") {
		if hasFlag(call, "--restrict-lexicon") {
			restricted++
		}
	}
	assert.Equal(t, 2, restricted, "both variants of the lexicon equivalence run are restricted")
}

func TestCheckTrainTranslate_WithTargetFactors(t *testing.T) {
	engine := &testEngine{targetFactors: 1}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, true)

	rc, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, 1, rc.TrainTargetFactorCount)
	names := stageNames(results)
	assert.Contains(t, names, "target-factor parity")
	assert.Nil(t, Failed(results))

	// Sanity: "2 4 6" translated with stream "e e e".
	assert.Equal(t, "2 4 6", rc.TestOutputs[0].Translation)
	require.Len(t, rc.TestOutputs[0].Factors, 1)
	assert.Equal(t, "e e e", rc.TestOutputs[0].Factors[0])
}

func TestCheckTrainTranslate_GreedySkipsBatchAndScoring(t *testing.T) {
	engine := &testEngine{}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, false)
	sc.TranslateParams = "--greedy"

	_, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.NoError(t, err)

	byName := map[string]StageResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.True(t, byName["batch decoding equivalence"].Skipped)
	assert.True(t, byName["scoring cross-check"].Skipped)
	assert.False(t, byName["restricted-lexicon equivalence"].Skipped)
	assert.False(t, byName["decoding determinism"].Skipped)
}

func TestCheckTrainTranslate_MaxInputLengthSkipsScoring(t *testing.T) {
	engine := &testEngine{}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, false)
	sc.TranslateParams = "--beam-size 2 --max-input-length 8"

	_, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.NoError(t, err)

	for _, r := range results {
		if r.Name == "scoring cross-check" {
			assert.True(t, r.Skipped)
			assert.Contains(t, r.Reason, "truncate")
			return
		}
	}
	t.Fatal("scoring cross-check stage missing from results")
}

func TestCheckTrainTranslate_ReservedTokensSkipScoring(t *testing.T) {
	engine := &testEngine{emitReserved: true}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, false)

	_, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.NoError(t, err)

	for _, r := range results {
		if r.Name == "scoring cross-check" {
			assert.True(t, r.Skipped)
			assert.Contains(t, r.Reason, "validity")
			return
		}
	}
	t.Fatal("scoring cross-check stage missing from results")
}

func TestCheckTrainTranslate_BatchMismatchFailsFast(t *testing.T) {
	engine := &testEngine{batchTranslationNoise: true}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, false)

	_, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.Error(t, err)

	failed := Failed(results)
	require.NotNil(t, failed)
	assert.Equal(t, "batch decoding equivalence", failed.Name)
	// Later stages never ran.
	assert.Equal(t, []string{"train and translate", "batch decoding equivalence"}, stageNames(results))
}

func TestCheckTrainTranslate_FactorRuleViolation(t *testing.T) {
	engine := &testEngine{targetFactors: 1, factorOverrides: map[int]string{0: "e o e"}}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, true)

	// Drop the test-side factor references so no prefix-factor constraint
	// masks the parity failure; the trained factor count comes from the
	// training configuration alone.
	sc.Data.TestTargetFactors = nil

	_, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.Error(t, err)

	failed := Failed(results)
	require.NotNil(t, failed)
	assert.Equal(t, "target-factor parity", failed.Name)
	// "2 4 6" with stream "e o e" fails on the second token.
	assert.Contains(t, err.Error(), `got "o", want "e"`)
}

func TestCheckTrainTranslate_ComparisonDisabledSkipsFactorCheck(t *testing.T) {
	engine := &testEngine{targetFactors: 1, factorOverrides: map[int]string{0: "e o e"}}
	h := newTestHarness(t, engine)
	sc := writeScenario(t, true)
	sc.Data.TestTargetFactors = nil
	sc.CompareOutput = false

	_, results, err := h.CheckTrainTranslate(context.Background(), sc)
	require.NoError(t, err)

	for _, r := range results {
		if r.Name == "target-factor parity" {
			assert.True(t, r.Skipped)
			return
		}
	}
	t.Fatal("target-factor parity stage missing from results")
}

func TestSummarize(t *testing.T) {
	results := []StageResult{
		{Name: "a"},
		{Name: "b", Skipped: true, Reason: "because"},
		{Name: "c"},
	}
	assert.Equal(t, "2 passed, 1 skipped", Summarize(results))

	results = append(results, StageResult{Name: "d", Err: assert.AnError})
	assert.Equal(t, `2 passed, 1 skipped, failed at "d"`, Summarize(results))
}
