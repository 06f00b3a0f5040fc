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
	"fmt"
	"os"
	"strings"
)

// Dataset describes the files of one training/test scenario. All paths are
// plain-text token files, one sentence per line. Factor files are
// line-aligned with their primary file, one factor token per primary token.
type Dataset struct {
	TrainSource string `yaml:"train_source" validate:"required,file"`
	TrainTarget string `yaml:"train_target" validate:"required,file"`
	DevSource   string `yaml:"dev_source" validate:"required,file"`
	DevTarget   string `yaml:"dev_target" validate:"required,file"`
	TestSource  string `yaml:"test_source" validate:"required,file"`
	TestTarget  string `yaml:"test_target" validate:"required,file"`

	TrainSourceFactors []string `yaml:"train_source_factors,omitempty"`
	TrainTargetFactors []string `yaml:"train_target_factors,omitempty"`
	DevSourceFactors   []string `yaml:"dev_source_factors,omitempty"`
	DevTargetFactors   []string `yaml:"dev_target_factors,omitempty"`
	TestSourceFactors  []string `yaml:"test_source_factors,omitempty"`
	TestTargetFactors  []string `yaml:"test_target_factors,omitempty"`
}

// Scenario is one end-to-end verification run: hyperparameters for training
// and translation plus the dataset they operate on.
//
// TrainParams and TranslateParams are whitespace-separated CLI flag strings
// appended verbatim to the respective entry points, mirroring how the engine
// is configured in practice.
type Scenario struct {
	TrainParams     string  `yaml:"train_params" validate:"required"`
	TranslateParams string  `yaml:"translate_params"`
	Data            Dataset `yaml:"data"`

	// UsePreparedData routes training through the prepare-data entry point.
	UsePreparedData bool `yaml:"use_prepared_data"`

	// MaxSeqLen bounds source and target sequence length during training.
	MaxSeqLen int `yaml:"max_seq_len" validate:"required,gt=0"`

	// Seed makes training and decoding deterministic.
	Seed int64 `yaml:"seed"`

	// CompareOutput enables output/score comparison in the sub-checks.
	// Disable for configurations whose output is expectedly unstable.
	CompareOutput bool `yaml:"compare_output"`

	// WorkDir is the scratch directory (a temp dir is created if empty).
	WorkDir string `yaml:"work_dir,omitempty"`
}

// RunContext carries the paths and collected outputs of one scenario run.
// It is created by the driver, extended in place by each stage, and
// discarded when the run ends. Single-threaded use only.
type RunContext struct {
	// ID identifies this run in logs
	ID string

	// WorkDir is the scratch directory all stage artifacts live in
	WorkDir string

	// Model is the trained model directory
	Model string

	// TestSource is the plain test input file
	TestSource string

	// TestSourceWithTargetPrefix is the JSON-lines test input embedding
	// per-sentence target-prefix constraints
	TestSourceWithTargetPrefix string

	// TestInputs are the source sentences, in file order
	TestInputs []string

	// TestSourceFactors are source-factor input files, if any
	TestSourceFactors []string

	// TestTargetFactors are target-factor reference files, if any
	TestTargetFactors []string

	// TrainTargetFactorCount is the number of target factors the model was
	// trained with (zero when factors are disabled)
	TrainTargetFactorCount int

	// TestOutputs is the baseline translation of TestSource
	TestOutputs []TranslationOutput

	// TestWithTargetPrefixOutputs is the baseline translation under
	// target-prefix constraints
	TestWithTargetPrefixOutputs []TranslationOutput
}

// readLines returns the non-trailing-newline lines of a text file.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}

// writeLines writes one line per element, newline-terminated.
func writeLines(path string, lines []string) error {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
