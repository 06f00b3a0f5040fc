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

// Reserved vocabulary symbols. These are control tokens and must never
// appear in decoded text.
const (
	PadSymbol = "<pad>"
	UnkSymbol = "<unk>"
	BosSymbol = "<s>"
	EosSymbol = "</s>"
)

// VocabSymbols is the reserved vocabulary-symbol set.
var VocabSymbols = map[string]bool{
	PadSymbol: true,
	UnkSymbol: true,
	BosSymbol: true,
	EosSymbol: true,
}

// TranslateOutputIsValid reports whether a set of translation outputs is
// usable for score cross-checking.
//
// A heavily undertrained test model often produces empty or garbage output
// that cannot be meaningfully re-scored, so scoring is gated on this check:
// at least one translation must be non-empty, and no translation may contain
// a reserved vocabulary symbol.
func TranslateOutputIsValid(outputs []TranslationOutput) bool {
	foundValid := false
	for i := range outputs {
		tokens := outputs[i].TranslationTokens()
		for _, token := range tokens {
			if VocabSymbols[token] {
				return false
			}
		}
		if len(tokens) > 0 {
			foundValid = true
		}
	}
	return foundValid
}
