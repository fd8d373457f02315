package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// #region fixture-tests

func runFixture(t *testing.T, name string) {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	steps, err := f.ToSteps()
	if err != nil {
		t.Fatalf("ToSteps: %v", err)
	}

	results, summary, err := Replay(context.Background(), steps, f.ToReplayConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}

	for i, expected := range f.ExpectedResults {
		actual := results[i]
		if actual.StepID != expected.StepID {
			t.Errorf("step %d: expected step_id=%s, got %s", i, expected.StepID, actual.StepID)
		}
		if actual.Outcome != expected.Outcome {
			t.Errorf("step %d (%s): expected outcome=%s, got outcome=%s (detail: %s)",
				i, expected.StepID, expected.Outcome, actual.Outcome, actual.Detail)
		}
		if expected.Reason != "" && actual.Reason != expected.Reason {
			t.Errorf("step %d (%s): expected reason=%s, got %s", i, expected.StepID, expected.Reason, actual.Reason)
		}
	}
	if mm := Check(f, results, summary); len(mm) != 0 {
		for _, m := range mm {
			t.Errorf("mismatch %s", m)
		}
	}
}

// TestFixture_GovernanceScenarios walks one agent through every accept and
// reject path the gateway has.
func TestFixture_GovernanceScenarios(t *testing.T) {
	runFixture(t, "governance_scenarios.json")
}

// TestFixture_CoordinationSession replays two agents using the decoding
// report builder.
func TestFixture_CoordinationSession(t *testing.T) {
	runFixture(t, "coordination_session.json")
}

func TestFixtureConfig_Overlay(t *testing.T) {
	var nilCfg *FixtureConfig
	if got := nilCfg.ToPolicyConfig(); got.ReportEveryN != 25 {
		t.Errorf("nil config: ReportEveryN=%d, want default 25", got.ReportEveryN)
	}

	fc := &FixtureConfig{ReportIntervalMS: 1500, ReportEveryN: 4, Tiered: true}
	got := fc.ToPolicyConfig()
	if got.ReportInterval.Duration.Milliseconds() != 1500 {
		t.Errorf("interval=%v, want 1.5s", got.ReportInterval.Duration)
	}
	if got.ReportEveryN != 4 || !got.Tiered {
		t.Errorf("got %+v", got)
	}
	if got.MinCoverage != 0.95 {
		t.Errorf("MinCoverage=%v, want default 0.95", got.MinCoverage)
	}
}

func TestFixtureStep_BadProtocol(t *testing.T) {
	fs := FixtureStep{StepID: "x", Op: "send", Protocol: "no-version"}
	if _, err := fs.ToStep(); err == nil {
		t.Fatal("expected error for protocol without version")
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// #endregion fixture-tests
