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

// sockeye-check drives end-to-end verification of a sockeye installation:
// it trains a small model on a scenario's data, translates and scores
// through the CLI entry points, and asserts the outputs are internally
// consistent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sockeye-check",
	Short: "End-to-end consistency checks for sockeye CLI entry points",
	Long: `sockeye-check runs a training/translation/scoring scenario against an
installed sockeye distribution and verifies internal consistency:

  - batch decoding matches single-instance decoding
  - restricted-lexicon decoding matches unrestricted decoding
  - re-scoring translation output reproduces the decoding scores
  - target-prefix constraints are respected in the output
  - auxiliary target-factor predictions follow the scenario's parity rule

Scenarios are described in YAML; see the run command for the format.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sockeye-check version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
