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

	"github.com/google/uuid"
)

// prefixTokenCount is the number of leading reference tokens used as the
// target-prefix constraint for the constrained baseline.
const prefixTokenCount = 2

// translateArgs are the flags every translate invocation shares.
func translateArgs(model, input, output string) []string {
	return []string{
		"--use-cpu",
		"--models", model,
		"--input", input,
		"--output", output,
		"--output-type", "json",
	}
}

// scoreArgs are the flags every score invocation shares.
func scoreArgs(model, source, target, output string) []string {
	return []string{
		"--use-cpu",
		"--model", model,
		"--source", source,
		"--target", target,
		"--output", output,
	}
}

// RunTrainTranslate trains a model on the scenario's data and produces the
// baseline translations the sub-checks compare against.
//
// # Description
//
// The stage trains (optionally via the prepare-data entry point), derives a
// target-prefix-constrained variant of the test input from the reference
// targets, and translates the test set twice: plain (with source factors
// attached when the dataset declares them) and prefix-constrained via JSON
// input. Both output sets are parsed into the returned RunContext.
//
// Side effects: the trained model, prepared data, and all translation
// outputs are written under the scenario's work directory.
func (h *Harness) RunTrainTranslate(ctx context.Context, sc *Scenario) (*RunContext, error) {
	workDir := sc.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.MkdirTemp("", "sockeye-check-*")
		if err != nil {
			return nil, fmt.Errorf("creating work dir: %w", err)
		}
	} else if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	rc := &RunContext{
		ID:                     uuid.NewString(),
		WorkDir:                workDir,
		Model:                  filepath.Join(workDir, "model"),
		TestSource:             sc.Data.TestSource,
		TestSourceFactors:      sc.Data.TestSourceFactors,
		TestTargetFactors:      sc.Data.TestTargetFactors,
		TrainTargetFactorCount: len(sc.Data.TrainTargetFactors),
	}
	log := h.log.With("run_id", rc.ID)

	inputs, err := readLines(sc.Data.TestSource)
	if err != nil {
		return nil, fmt.Errorf("reading test source: %w", err)
	}
	rc.TestInputs = inputs

	if err := h.train(ctx, sc, rc); err != nil {
		return nil, err
	}

	prefixInput, err := h.writeTargetPrefixInput(sc, rc)
	if err != nil {
		return nil, err
	}
	rc.TestSourceWithTargetPrefix = prefixInput

	// Baseline translation, plain input.
	outPath := filepath.Join(workDir, "test.out")
	args := translateArgs(rc.Model, rc.TestSource, outPath)
	args = append(args, strings.Fields(sc.TranslateParams)...)
	if len(rc.TestSourceFactors) > 0 {
		args = append(args, "--input-factors")
		args = append(args, rc.TestSourceFactors...)
	}
	log.Info("translating test set", "output", outPath)
	if _, err := h.runner.Run(ctx, argv(h.entry.Translate, args...)); err != nil {
		return nil, fmt.Errorf("baseline translate: %w", err)
	}
	if rc.TestOutputs, err = CollectTranslateOutputs(outPath); err != nil {
		return nil, err
	}

	// Baseline translation, target-prefix constrained.
	outPrefixPath := filepath.Join(workDir, "test_with_target_prefix.out")
	args = translateArgs(rc.Model, prefixInput, outPrefixPath)
	args = append(args, strings.Fields(sc.TranslateParams)...)
	args = append(args, "--json-input")
	log.Info("translating test set with target prefix", "output", outPrefixPath)
	if _, err := h.runner.Run(ctx, argv(h.entry.Translate, args...)); err != nil {
		return nil, fmt.Errorf("target-prefix translate: %w", err)
	}
	if rc.TestWithTargetPrefixOutputs, err = CollectTranslateOutputs(outPrefixPath); err != nil {
		return nil, err
	}

	if len(rc.TestOutputs) != len(rc.TestInputs) ||
		len(rc.TestWithTargetPrefixOutputs) != len(rc.TestInputs) {
		return nil, fmt.Errorf("output count mismatch: %d inputs, %d outputs, %d prefix outputs",
			len(rc.TestInputs), len(rc.TestOutputs), len(rc.TestWithTargetPrefixOutputs))
	}

	return rc, nil
}

// train runs the train entry point, optionally via prepared data.
func (h *Harness) train(ctx context.Context, sc *Scenario, rc *RunContext) error {
	maxSeqLen := strconv.Itoa(sc.MaxSeqLen)
	seed := strconv.FormatInt(sc.Seed, 10)

	args := []string{
		"--use-cpu",
		"--max-seq-len", maxSeqLen,
		"--seed", seed,
		"--output", rc.Model,
		"--validation-source", sc.Data.DevSource,
		"--validation-target", sc.Data.DevTarget,
	}
	if len(sc.Data.DevSourceFactors) > 0 {
		args = append(args, "--validation-source-factors")
		args = append(args, sc.Data.DevSourceFactors...)
	}
	if len(sc.Data.DevTargetFactors) > 0 {
		args = append(args, "--validation-target-factors")
		args = append(args, sc.Data.DevTargetFactors...)
	}

	if sc.UsePreparedData {
		preparedDir := filepath.Join(rc.WorkDir, "prepared_data")
		prepArgs := []string{
			"--source", sc.Data.TrainSource,
			"--target", sc.Data.TrainTarget,
			"--max-seq-len", maxSeqLen,
			"--seed", seed,
			"--output", preparedDir,
		}
		if len(sc.Data.TrainSourceFactors) > 0 {
			prepArgs = append(prepArgs, "--source-factors")
			prepArgs = append(prepArgs, sc.Data.TrainSourceFactors...)
		}
		if len(sc.Data.TrainTargetFactors) > 0 {
			prepArgs = append(prepArgs, "--target-factors")
			prepArgs = append(prepArgs, sc.Data.TrainTargetFactors...)
		}
		h.log.Info("preparing training data", "output", preparedDir)
		if _, err := h.runner.Run(ctx, argv(h.entry.PrepareData, prepArgs...)); err != nil {
			return fmt.Errorf("prepare data: %w", err)
		}
		args = append(args, "--prepared-data", preparedDir)
	} else {
		args = append(args, "--source", sc.Data.TrainSource, "--target", sc.Data.TrainTarget)
		if len(sc.Data.TrainSourceFactors) > 0 {
			args = append(args, "--source-factors")
			args = append(args, sc.Data.TrainSourceFactors...)
		}
		if len(sc.Data.TrainTargetFactors) > 0 {
			args = append(args, "--target-factors")
			args = append(args, sc.Data.TrainTargetFactors...)
		}
	}

	args = append(args, strings.Fields(sc.TrainParams)...)
	h.log.Info("training model", "model", rc.Model, "prepared", sc.UsePreparedData)
	if _, err := h.runner.Run(ctx, argv(h.entry.Train, args...)); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	return nil
}

// prefixInputRecord is one line of the JSON-lines input consumed by the
// translate CLI with --json-input.
type prefixInputRecord struct {
	Text                string   `json:"text"`
	TargetPrefix        string   `json:"target_prefix,omitempty"`
	TargetPrefixFactors []string `json:"target_prefix_factors,omitempty"`
}

// writeTargetPrefixInput derives per-sentence target-prefix constraints from
// the reference targets (and reference factor files, when declared) and
// writes them as a JSON-lines input file.
func (h *Harness) writeTargetPrefixInput(sc *Scenario, rc *RunContext) (string, error) {
	refs, err := readLines(sc.Data.TestTarget)
	if err != nil {
		return "", fmt.Errorf("reading test target: %w", err)
	}
	if len(refs) != len(rc.TestInputs) {
		return "", fmt.Errorf("test target has %d lines, source has %d", len(refs), len(rc.TestInputs))
	}

	factorRefs := make([][]string, len(rc.TestTargetFactors))
	for i, path := range rc.TestTargetFactors {
		lines, err := readLines(path)
		if err != nil {
			return "", fmt.Errorf("reading target factor file: %w", err)
		}
		if len(lines) != len(rc.TestInputs) {
			return "", fmt.Errorf("target factor file %s has %d lines, source has %d",
				path, len(lines), len(rc.TestInputs))
		}
		factorRefs[i] = lines
	}

	records := make([]string, 0, len(rc.TestInputs))
	for i, input := range rc.TestInputs {
		record := prefixInputRecord{
			Text:         input,
			TargetPrefix: leadingTokens(refs[i], prefixTokenCount),
		}
		// An empty reference yields no prefix and no factor constraints.
		if record.TargetPrefix != "" {
			for _, lines := range factorRefs {
				record.TargetPrefixFactors = append(record.TargetPrefixFactors,
					leadingTokens(lines[i], prefixTokenCount))
			}
		}
		encoded, err := json.Marshal(record)
		if err != nil {
			return "", fmt.Errorf("encoding prefix input: %w", err)
		}
		records = append(records, string(encoded))
	}

	path := filepath.Join(rc.WorkDir, "test_source_with_target_prefix.json")
	if err := writeLines(path, records); err != nil {
		return "", fmt.Errorf("writing prefix input: %w", err)
	}
	return path, nil
}

// leadingTokens returns the first n tokens of a line, space-joined.
func leadingTokens(line string, n int) string {
	tokens := strings.Fields(line)
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return strings.Join(tokens, " ")
}

// CreateRestrictLexicon builds a top-k lexicon for restricted decoding.
//
// The lexicon table pairs every source token with every target token of the
// aligned training sentence at uniform probability, which is enough for the
// lexicon entry point to cover the toy vocabulary completely.
func (h *Harness) CreateRestrictLexicon(ctx context.Context, sc *Scenario, rc *RunContext) (string, error) {
	sources, err := readLines(sc.Data.TrainSource)
	if err != nil {
		return "", fmt.Errorf("reading train source: %w", err)
	}
	targets, err := readLines(sc.Data.TrainTarget)
	if err != nil {
		return "", fmt.Errorf("reading train target: %w", err)
	}
	if len(sources) != len(targets) {
		return "", fmt.Errorf("train source has %d lines, target has %d", len(sources), len(targets))
	}

	seen := map[string]bool{}
	var entries []string
	for i := range sources {
		for _, src := range strings.Fields(sources[i]) {
			for _, trg := range strings.Fields(targets[i]) {
				key := src + "\t" + trg
				if seen[key] {
					continue
				}
				seen[key] = true
				entries = append(entries, fmt.Sprintf("%s\t%s\t%.1f", src, trg, 0.5))
			}
		}
	}

	tablePath := filepath.Join(rc.WorkDir, "lexicon.input")
	if err := writeLines(tablePath, entries); err != nil {
		return "", fmt.Errorf("writing lexicon table: %w", err)
	}

	lexiconDir := filepath.Join(rc.WorkDir, "lexicon")
	args := []string{
		"--input", tablePath,
		"--model", rc.Model,
		"-k", "200",
		"--output", lexiconDir,
	}
	h.log.Info("creating restrict lexicon", "output", lexiconDir)
	if _, err := h.runner.Run(ctx, argv(h.entry.LexiconCreate, args...)); err != nil {
		return "", fmt.Errorf("lexicon create: %w", err)
	}
	return lexiconDir, nil
}
