package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// #region risk-tier

// RiskTier is the coarse classification that drives reporting cadence.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Valid reports whether t is one of the four known tiers.
func (t RiskTier) Valid() bool {
	switch t {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// #endregion risk-tier

// #region descriptor

// Descriptor identifies a declared private protocol. It is immutable once
// registered; registering the same (name, version) again replaces it.
type Descriptor struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	Purpose           string   `json:"purpose"`
	Scope             string   `json:"scope"`
	RiskTier          RiskTier `json:"risk_tier"`
	TranslationMethod string   `json:"translation_method"`
}

// Key returns the registry key for the descriptor.
func (d Descriptor) Key() Key {
	return Key{Name: d.Name, Version: d.Version}
}

// Ref returns the wire reference used when sending under this protocol.
func (d Descriptor) Ref() *Ref {
	return &Ref{Name: d.Name, Version: d.Version}
}

// ErrInvalidDescriptor is returned by Validate for malformed descriptors.
var ErrInvalidDescriptor = errors.New("invalid protocol descriptor")

// Validate checks the fields a registration cannot do without.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("%w: empty version", ErrInvalidDescriptor)
	}
	if !d.RiskTier.Valid() {
		return fmt.Errorf("%w: unknown risk tier %q", ErrInvalidDescriptor, d.RiskTier)
	}
	return nil
}

// #endregion descriptor

// #region key

// Key identifies a protocol within one agent's registrations.
type Key struct {
	Name    string
	Version string
}

// String renders the key as "name:version".
func (k Key) String() string {
	return k.Name + ":" + k.Version
}

// ParseKey is the inverse of Key.String. The version is everything after the
// first colon.
func ParseKey(s string) (Key, error) {
	name, version, ok := strings.Cut(s, ":")
	if !ok || name == "" || version == "" {
		return Key{}, fmt.Errorf("parse protocol key %q: want name:version", s)
	}
	return Key{Name: name, Version: version}, nil
}

// #endregion key

// #region ref

// Ref is the protocol declaration attached to a private-language send.
type Ref struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Key converts the reference to a registry key.
func (r Ref) Key() Key {
	return Key{Name: r.Name, Version: r.Version}
}

// #endregion ref
