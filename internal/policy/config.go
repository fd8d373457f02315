package policy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region defaults

const (
	DefaultReportInterval   = 60 * time.Second
	DefaultReportEveryN     = 25
	DefaultMinCoverage      = 0.95
	DefaultMinSummaryLength = 30
)

// #endregion defaults

// #region cadence

// Cadence is how often a protocol must be reported: after Interval has passed
// or MaxMessages have been buffered, whichever comes first.
type Cadence struct {
	Interval    Duration `toml:"interval"`
	MaxMessages int      `toml:"max_messages"`
}

// DefaultTiers mirrors the tiered agent: higher risk reports sooner.
func DefaultTiers() map[protocol.RiskTier]Cadence {
	return map[protocol.RiskTier]Cadence{
		protocol.RiskLow:      {Interval: Duration{120 * time.Second}, MaxMessages: 50},
		protocol.RiskMedium:   {Interval: Duration{60 * time.Second}, MaxMessages: 25},
		protocol.RiskHigh:     {Interval: Duration{15 * time.Second}, MaxMessages: 10},
		protocol.RiskCritical: {Interval: Duration{5 * time.Second}, MaxMessages: 5},
	}
}

// #endregion cadence

// #region config

// Config holds the governance thresholds shared by agents and the gateway.
type Config struct {
	ReportInterval   Duration `toml:"report_interval"`
	ReportEveryN     int      `toml:"report_every_n_messages"`
	MinCoverage      float64  `toml:"min_coverage"`
	MinSummaryLength int      `toml:"min_summary_length"`

	// Tiered replaces the base cadence with a per-risk-tier one.
	Tiered bool                          `toml:"tiered"`
	Tiers  map[protocol.RiskTier]Cadence `toml:"tiers"`
}

// DefaultConfig returns the base (untiered) policy.
func DefaultConfig() Config {
	return Config{
		ReportInterval:   Duration{DefaultReportInterval},
		ReportEveryN:     DefaultReportEveryN,
		MinCoverage:      DefaultMinCoverage,
		MinSummaryLength: DefaultMinSummaryLength,
		Tiers:            DefaultTiers(),
	}
}

// TieredConfig returns DefaultConfig with per-tier cadence enabled.
func TieredConfig() Config {
	cfg := DefaultConfig()
	cfg.Tiered = true
	return cfg
}

// CadenceFor returns the cadence that applies to a protocol of the given tier.
// Without tiering, or for a tier missing from Tiers, the base cadence applies.
func (c Config) CadenceFor(tier protocol.RiskTier) Cadence {
	base := Cadence{Interval: c.ReportInterval, MaxMessages: c.ReportEveryN}
	if !c.Tiered {
		return base
	}
	if cad, ok := c.Tiers[tier]; ok {
		if cad.Interval.Duration <= 0 {
			cad.Interval = base.Interval
		}
		if cad.MaxMessages <= 0 {
			cad.MaxMessages = base.MaxMessages
		}
		return cad
	}
	return base
}

// Validate rejects thresholds that would make the policy meaningless.
func (c Config) Validate() error {
	var errs []error
	if c.ReportInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("report_interval must be positive, got %s", c.ReportInterval))
	}
	if c.ReportEveryN <= 0 {
		errs = append(errs, fmt.Errorf("report_every_n_messages must be positive, got %d", c.ReportEveryN))
	}
	if c.MinCoverage < 0 || c.MinCoverage > 1 {
		errs = append(errs, fmt.Errorf("min_coverage must be in [0,1], got %v", c.MinCoverage))
	}
	if c.MinSummaryLength < 0 {
		errs = append(errs, fmt.Errorf("min_summary_length must not be negative, got %d", c.MinSummaryLength))
	}
	for tier, cad := range c.Tiers {
		if !tier.Valid() {
			errs = append(errs, fmt.Errorf("unknown risk tier %q in tiers", tier))
		}
		if cad.Interval.Duration < 0 || cad.MaxMessages < 0 {
			errs = append(errs, fmt.Errorf("tier %s: negative cadence", tier))
		}
	}
	return errors.Join(errs...)
}

// #endregion config

// #region load

// Load reads a TOML file on top of DefaultConfig and validates the result.
// Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// #endregion load

// #region duration

// Duration is a time.Duration that reads and writes as "60s" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// #endregion duration
