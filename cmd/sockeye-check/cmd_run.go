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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PeterHamfelt/sockeye/pkg/harness"
	"github.com/PeterHamfelt/sockeye/pkg/logging"
	"github.com/PeterHamfelt/sockeye/pkg/ux"
)

var (
	runScenarioPath string
	runWorkDir      string
	runJSONOutput   bool
	runVerbose      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a verification scenario against a sockeye installation",
	Long: `Loads a YAML scenario, trains a model on its data, and runs the full
check pipeline: baseline translation, batch and restricted-lexicon
equivalence, decoding determinism, scoring cross-check, and target-factor
parity. Exits non-zero when any check fails.

Examples:
  sockeye-check run --scenario scenario.yaml
  sockeye-check run --scenario scenario.yaml --work-dir /tmp/check --json`,
	RunE: runScenario,
}

func init() {
	runCmd.Flags().StringVarP(&runScenarioPath, "scenario", "s", "", "Path to the scenario YAML file (required)")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", "", "Scratch directory (temp dir if unset)")
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false, "Emit the stage report as JSON")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
	_ = runCmd.MarkFlagRequired("scenario")
}

// stageReport is the machine-readable form of one stage result.
type stageReport struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := LoadScenarioConfig(runScenarioPath)
	if err != nil {
		return err
	}
	if runWorkDir != "" {
		cfg.Scenario.WorkDir = runWorkDir
	}

	level := logging.LevelInfo
	if runVerbose {
		level = logging.LevelDebug
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "sockeye-check",
		Quiet:   runJSONOutput,
	})
	defer log.Close()

	runner := &harness.ExecRunner{Timeout: cfg.Timeout}
	h := harness.New(runner, cfg.Entrypoints, log)

	_, results, checkErr := h.CheckTrainTranslate(cmd.Context(), &cfg.Scenario)

	if runJSONOutput {
		reports := make([]stageReport, 0, len(results))
		for _, r := range results {
			report := stageReport{
				Stage:      r.Name,
				Status:     "passed",
				DurationMS: r.Duration.Milliseconds(),
			}
			if r.Skipped {
				report.Status = "skipped"
				report.Reason = r.Reason
			} else if r.Err != nil {
				report.Status = "failed"
				report.Error = r.Err.Error()
			}
			reports = append(reports, report)
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(reports); err != nil {
			return err
		}
	} else {
		fmt.Print(ux.RenderReport("sockeye-check: "+runScenarioPath, results))
	}

	if checkErr != nil {
		return fmt.Errorf("scenario failed: %s", harness.Summarize(results))
	}
	return nil
}
