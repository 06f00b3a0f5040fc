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

// Package ux provides terminal output styling for the sockeye-check CLI.
package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/PeterHamfelt/sockeye/pkg/harness"
)

var (
	ColorSuccess = lipgloss.Color("#2ECC71")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#7F8C8D")
	ColorAccent  = lipgloss.Color("#3498DB")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style

	StatusOK      lipgloss.Style
	StatusError   lipgloss.Style
	StatusSkipped lipgloss.Style

	Box lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	StatusOK:      lipgloss.NewStyle().SetString("✓").Foreground(ColorSuccess),
	StatusError:   lipgloss.NewStyle().SetString("✗").Foreground(ColorError),
	StatusSkipped: lipgloss.NewStyle().SetString("○").Foreground(ColorMuted),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1),
}

// RenderReport renders stage results as a styled check report: one line per
// stage with status, duration, and failure detail, plus a summary footer.
func RenderReport(title string, results []harness.StageResult) string {
	var sb strings.Builder
	sb.WriteString(Styles.Title.Render(title))
	sb.WriteByte('\n')

	for _, r := range results {
		switch {
		case r.Skipped:
			sb.WriteString(fmt.Sprintf("  %s %s %s\n",
				Styles.StatusSkipped.String(),
				r.Name,
				Styles.Muted.Render("skipped: "+r.Reason)))
		case r.Err != nil:
			sb.WriteString(fmt.Sprintf("  %s %s %s\n",
				Styles.StatusError.String(),
				r.Name,
				Styles.Muted.Render(r.Duration.Round(time.Millisecond).String())))
			sb.WriteString("    " + Styles.Error.Render(r.Err.Error()) + "\n")
		default:
			sb.WriteString(fmt.Sprintf("  %s %s %s\n",
				Styles.StatusOK.String(),
				r.Name,
				Styles.Muted.Render(r.Duration.Round(time.Millisecond).String())))
		}
	}

	summary := harness.Summarize(results)
	if harness.Failed(results) != nil {
		sb.WriteString(Styles.Error.Render("FAIL: " + summary))
	} else {
		sb.WriteString(Styles.Success.Render("PASS: " + summary))
	}
	sb.WriteByte('\n')
	return sb.String()
}
