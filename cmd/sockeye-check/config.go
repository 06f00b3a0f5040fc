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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/PeterHamfelt/sockeye/pkg/harness"
)

// ScenarioConfig is the YAML scenario file consumed by the run command.
//
// Example:
//
//	scenario:
//	  train_params: "--encoder transformer --decoder transformer --num-layers 2 ..."
//	  translate_params: "--beam-size 2"
//	  max_seq_len: 10
//	  seed: 13
//	  compare_output: true
//	  data:
//	    train_source: data/train.src
//	    train_target: data/train.tgt
//	    dev_source: data/dev.src
//	    dev_target: data/dev.tgt
//	    test_source: data/test.src
//	    test_target: data/test.tgt
//	entrypoints:
//	  translate: ["python", "-m", "sockeye.translate"]
type ScenarioConfig struct {
	Scenario harness.Scenario `yaml:"scenario" validate:"required"`

	// Entrypoints overrides individual engine entry points; unset entries
	// fall back to the installed sockeye console scripts.
	Entrypoints harness.Entrypoints `yaml:"entrypoints"`

	// Timeout bounds a single engine invocation (no bound if zero).
	Timeout time.Duration `yaml:"timeout"`

	// LogDir enables JSON file logging alongside stderr.
	LogDir string `yaml:"log_dir"`
}

// LoadScenarioConfig reads and validates a scenario file.
func LoadScenarioConfig(path string) (*ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var cfg ScenarioConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing scenario file: %w", err)
	}

	defaults := harness.DefaultEntrypoints()
	if len(cfg.Entrypoints.Train) == 0 {
		cfg.Entrypoints.Train = defaults.Train
	}
	if len(cfg.Entrypoints.Translate) == 0 {
		cfg.Entrypoints.Translate = defaults.Translate
	}
	if len(cfg.Entrypoints.Score) == 0 {
		cfg.Entrypoints.Score = defaults.Score
	}
	if len(cfg.Entrypoints.PrepareData) == 0 {
		cfg.Entrypoints.PrepareData = defaults.PrepareData
	}
	if len(cfg.Entrypoints.LexiconCreate) == 0 {
		cfg.Entrypoints.LexiconCreate = defaults.LexiconCreate
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &cfg, nil
}
