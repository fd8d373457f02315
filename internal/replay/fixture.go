package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/policy"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	AgentConfig     *FixtureConfig          `json:"agent_config"`
	GatewayConfig   *FixtureConfig          `json:"gateway_config"`
	ReportBuilder   string                  `json:"report_builder"` // "default" | "decoding"
	Steps           []FixtureStep           `json:"steps"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
	ExpectedSummary *FixtureExpectedSummary `json:"expected_summary"`
}

// FixtureConfig mirrors policy.Config with JSON tags. Zero fields keep the
// policy defaults.
type FixtureConfig struct {
	ReportIntervalMS int64   `json:"report_interval_ms"`
	ReportEveryN     int     `json:"report_every_n_messages"`
	MinCoverage      float64 `json:"min_coverage"`
	MinSummaryLength int     `json:"min_summary_length"`
	Tiered           bool    `json:"tiered"`
}

// FixtureStep is one recorded action.
type FixtureStep struct {
	StepID   string               `json:"step_id"`
	OffsetMS int64                `json:"offset_ms"`
	Op       string               `json:"op"`
	Agent    string               `json:"agent"`
	To       string               `json:"to"`
	Content  string               `json:"content"`
	Fields   map[string]string    `json:"fields"`
	Protocol string               `json:"protocol"` // "name:version"
	Register *protocol.Descriptor `json:"register"`
	Report   *protocol.Report     `json:"report"`
}

// FixtureExpectedResult captures the expected outcome per step.
type FixtureExpectedResult struct {
	StepID  string `json:"step_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// FixtureExpectedSummary captures expected end-of-run ledger totals.
type FixtureExpectedSummary struct {
	Reports    int            `json:"reports"`
	Messages   int            `json:"messages"`
	Violations map[string]int `json:"violations"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToPolicyConfig overlays the fixture fields on DefaultConfig. A nil config
// yields the defaults.
func (fc *FixtureConfig) ToPolicyConfig() policy.Config {
	cfg := policy.DefaultConfig()
	if fc == nil {
		return cfg
	}
	if fc.ReportIntervalMS > 0 {
		cfg.ReportInterval = policy.Duration{Duration: time.Duration(fc.ReportIntervalMS) * time.Millisecond}
	}
	if fc.ReportEveryN > 0 {
		cfg.ReportEveryN = fc.ReportEveryN
	}
	if fc.MinCoverage > 0 {
		cfg.MinCoverage = fc.MinCoverage
	}
	if fc.MinSummaryLength > 0 {
		cfg.MinSummaryLength = fc.MinSummaryLength
	}
	cfg.Tiered = fc.Tiered
	return cfg
}

// ToStep converts a FixtureStep to a domain Step.
func (fs *FixtureStep) ToStep() (Step, error) {
	s := Step{
		ID:       fs.StepID,
		Offset:   time.Duration(fs.OffsetMS) * time.Millisecond,
		Op:       Op(fs.Op),
		Agent:    fs.Agent,
		To:       fs.To,
		Content:  fs.Content,
		Fields:   fs.Fields,
		Register: fs.Register,
		Report:   fs.Report,
	}
	if fs.Protocol != "" {
		key, err := protocol.ParseKey(fs.Protocol)
		if err != nil {
			return Step{}, fmt.Errorf("step %s: %w", fs.StepID, err)
		}
		s.Protocol = &key
	}
	return s, nil
}

// ToReplayConfig converts the fixture's config section.
func (f *Fixture) ToReplayConfig() ReplayConfig {
	return ReplayConfig{
		AgentConfig:   f.AgentConfig.ToPolicyConfig(),
		GatewayConfig: f.GatewayConfig.ToPolicyConfig(),
		Decoding:      f.ReportBuilder == "decoding",
	}
}

// ToSteps converts every fixture step.
func (f *Fixture) ToSteps() ([]Step, error) {
	steps := make([]Step, len(f.Steps))
	for i := range f.Steps {
		s, err := f.Steps[i].ToStep()
		if err != nil {
			return nil, err
		}
		steps[i] = s
	}
	return steps, nil
}

// #endregion fixture-loader
