package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/replay"
)

// #region main

func main() {
	fixturePath := pflag.String("fixture", "", "path to fixture JSON")
	verbose := pflag.BoolP("verbose", "v", false, "print the detail of every step")
	pflag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		os.Exit(2)
	}
	os.Exit(runFixture(*fixturePath, *verbose))
}

// #endregion main

// #region output

func runFixture(path string, verbose bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	steps, err := f.ToSteps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "convert steps: %v\n", err)
		return 2
	}

	results, summary, err := replay.Replay(context.Background(), steps, f.ToReplayConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	if f.Description != "" {
		fmt.Println(f.Description)
		fmt.Println()
	}
	printComparison(results, f.ExpectedResults, verbose)

	fmt.Printf("\nSteps: %d total, %d ok, %d rejected, %d denied, %d errors\n",
		summary.TotalSteps, summary.OK, summary.Rejected, summary.PermissionDenied, summary.Errors)
	fmt.Printf("Ledger: %d reports, %d messages, %d decisions (%d rejected)\n",
		summary.Ledger.Reports, summary.Ledger.Messages, summary.Ledger.Decisions, summary.Ledger.Rejected)

	mismatches := replay.Check(f, results, summary)
	if len(mismatches) == 0 {
		fmt.Println("\nAll expectations met.")
		return 0
	}
	fmt.Printf("\n%d mismatches:\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Printf("  %s\n", m)
	}
	return 1
}

// printComparison outputs one row per step, expected against replayed.
func printComparison(results []replay.StepResult, expected []replay.FixtureExpectedResult, verbose bool) {
	fmt.Printf("%-10s| %-38s| %-38s| %s\n", "Step", "Expected", "Replayed", "Match")
	fmt.Printf("%-10s+%-39s+%-39s+%s\n",
		"----------", "---------------------------------------", "---------------------------------------", "------")

	for i, r := range results {
		exp := "-"
		match := "DIFF"
		if i < len(expected) {
			exp = label(expected[i].Outcome, expected[i].Reason)
			if r.Outcome == expected[i].Outcome && (expected[i].Reason == "" || r.Reason == expected[i].Reason) {
				match = "OK"
			}
		}
		fmt.Printf("%-10s| %-38s| %-38s| %s\n", r.StepID, exp, label(r.Outcome, r.Reason), match)
		if verbose && r.Detail != "" {
			fmt.Printf("%-10s  %s\n", "", r.Detail)
		}
	}
}

func label(outcome, reason string) string {
	if reason == "" {
		return outcome
	}
	return outcome + "/" + reason
}

// #endregion output
