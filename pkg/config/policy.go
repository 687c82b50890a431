package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Policy holds the tunable retry and reconciliation constants. The shape of
// the backoff policy is fixed in code; the literal values are configuration.
type Policy struct {
	// SubmissionWindow is how long after creation a transaction may still
	// be submitted. Older unsubmitted payments skip straight to
	// verification, since their fate on the ledger is already ambiguous.
	SubmissionWindow Duration `yaml:"submission_window"`

	// RetryBase is the starting delay for exponential backoff.
	RetryBase Duration `yaml:"retry_base"`

	// RateLimitFloor is the fixed floor added before doubling when the
	// ledger reports rate limiting.
	RateLimitFloor Duration `yaml:"rate_limit_floor"`

	// VerifiedBackoffMultiplier scales the ledger-state-unknown backoff
	// once a payment is already verified (only a timestamp is missing).
	VerifiedBackoffMultiplier int `yaml:"verified_backoff_multiplier"`

	// VerifiedBackoffCap bounds the post-verification polling interval.
	VerifiedBackoffCap Duration `yaml:"verified_backoff_cap"`

	// ScanInterval is how often the processor rescans for payments that
	// still need processing.
	ScanInterval Duration `yaml:"scan_interval"`

	// ReconcileCheckInterval is how often the reconciliation trigger fires.
	ReconcileCheckInterval Duration `yaml:"reconcile_check_interval"`

	// ReconcileMinInterval is the minimum time between two periodic
	// reconciliation passes. Explicit requests ignore it.
	ReconcileMinInterval Duration `yaml:"reconcile_min_interval"`
}

// DefaultPolicy returns the built-in policy values.
func DefaultPolicy() *Policy {
	return &Policy{
		SubmissionWindow:          Duration(5 * time.Minute),
		RetryBase:                 Duration(2 * time.Second),
		RateLimitFloor:            Duration(30 * time.Second),
		VerifiedBackoffMultiplier: 8,
		VerifiedBackoffCap:        Duration(time.Hour),
		ScanInterval:              Duration(time.Minute),
		ReconcileCheckInterval:    Duration(5 * time.Minute),
		ReconcileMinInterval:      Duration(time.Hour),
	}
}

// LoadPolicy loads the policy from a YAML file, falling back to defaults
// for any field the file omits. An empty path returns the defaults.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return policy, nil
}

// Validate validates the policy values
func (p *Policy) Validate() error {
	if p.SubmissionWindow.Std() <= 0 {
		return fmt.Errorf("submission_window must be positive")
	}
	if p.RetryBase.Std() <= 0 {
		return fmt.Errorf("retry_base must be positive")
	}
	if p.RateLimitFloor.Std() < 0 {
		return fmt.Errorf("rate_limit_floor cannot be negative")
	}
	if p.VerifiedBackoffMultiplier < 1 {
		return fmt.Errorf("verified_backoff_multiplier must be at least 1")
	}
	if p.VerifiedBackoffCap.Std() < p.RetryBase.Std() {
		return fmt.Errorf("verified_backoff_cap cannot be below retry_base")
	}
	if p.ReconcileMinInterval.Std() < p.ReconcileCheckInterval.Std() {
		return fmt.Errorf("reconcile_min_interval cannot be below reconcile_check_interval")
	}
	return nil
}
