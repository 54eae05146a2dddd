package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/pygate/pygate/internal/errors"
	"github.com/pygate/pygate/internal/types"
)

// supportedSchema is the range of rules file schema versions this build
// understands. Bumping the major version of the file format requires a
// matching constraint change here.
var supportedSchema = semver.MustParse("1.0.0")

const supportedSchemaConstraint = "^1.0"

// RulesConfig is the operator-editable part of the gate: policy expression,
// protected paths, suppressions, default mode and consent deadline. It is
// reloadable at runtime through the watcher.
type RulesConfig struct {
	SchemaVersion string            `yaml:"schemaVersion"`
	Mode          types.Mode        `yaml:"mode"`
	Policy        PolicyRules       `yaml:"policy"`
	Consent       ConsentRules      `yaml:"consent"`
	Protected     ProtectedPaths    `yaml:"protectedPaths"`
	Suppressions  []types.RuleSuppression `yaml:"suppressions"`
}

// PolicyRules configures the CEL policy expression. CRITICAL findings block
// regardless of the expression.
type PolicyRules struct {
	// Expression is a CEL expression over finding counts that must evaluate
	// to true for the operation to pass. Available variables:
	//   criticalCount, highCount, mediumCount, lowCount, suppressedCount,
	//   findings (list of maps with ruleId, category, severity, line, message)
	Expression string `yaml:"expression"`

	// FailureMessage is returned when the expression evaluates to false
	FailureMessage string `yaml:"failureMessage"`

	// MarkUnsafeOnMedium marks the result unsafe when a non-suppressed
	// MEDIUM finding survives, even if the expression does not block it.
	// Exposed as an explicit knob for UI display purposes.
	MarkUnsafeOnMedium bool `yaml:"markUnsafeOnMedium"`
}

// ConsentRules configures the consent handshake
type ConsentRules struct {
	Timeout time.Duration `yaml:"timeout"`
}

// UnmarshalYAML accepts Go duration notation ("5m", "30s") for the timeout
func (c *ConsentRules) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Timeout string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Timeout == "" {
		return nil
	}
	d, err := time.ParseDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("invalid consent timeout %q: %w", raw.Timeout, err)
	}
	c.Timeout = d
	return nil
}

// ProtectedPaths is the path set the dangerous-file-write rule checks write
// destinations against. Reads to these paths are never flagged.
type ProtectedPaths struct {
	// Critical paths are shell configs and credential locations; writes
	// targeting them are CRITICAL findings
	Critical []string `yaml:"critical"`

	// System paths are generic system directories; writes targeting them
	// are HIGH findings
	System []string `yaml:"system"`
}

// DefaultRules returns the built-in rules configuration
func DefaultRules() *RulesConfig {
	return &RulesConfig{
		SchemaVersion: supportedSchema.String(),
		Mode:          types.ModeConsentRequired,
		Policy: PolicyRules{
			Expression:         "highCount == 0",
			FailureMessage:     "high severity findings present",
			MarkUnsafeOnMedium: true,
		},
		Consent: ConsentRules{Timeout: 5 * time.Minute},
		Protected: ProtectedPaths{
			Critical: []string{
				"~/.bashrc", "~/.zshrc", "~/.profile", "~/.bash_profile",
				"~/.zprofile", "~/.ssh", "~/.aws", "~/.config/gcloud",
				"~/.kube", "~/.netrc", "~/.pgpass", "~/.gnupg",
				"/etc/passwd", "/etc/shadow", "/etc/sudoers",
			},
			System: []string{
				"/etc", "/usr", "/bin", "/sbin", "/boot", "/var", "/opt",
			},
		},
	}
}

// ParseRules loads and validates a rules file
func ParseRules(path string) (*RulesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewTransientf("failed to read rules file: %w", err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, errors.NewPermanentf("failed to parse rules file: %w", err)
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}

	return rules, nil
}

// Validate checks the rules file for internal consistency
func (r *RulesConfig) Validate() error {
	if r.SchemaVersion == "" {
		return errors.NewPermanentf("rules file is missing schemaVersion")
	}

	version, err := semver.NewVersion(r.SchemaVersion)
	if err != nil {
		return errors.NewPermanentf("invalid schemaVersion %q: %w", r.SchemaVersion, err)
	}

	constraint, err := semver.NewConstraint(supportedSchemaConstraint)
	if err != nil {
		return errors.NewPermanentf("invalid schema constraint: %w", err)
	}

	if !constraint.Check(version) {
		return errors.NewPermanentf("unsupported schemaVersion %s (supported: %s)",
			r.SchemaVersion, supportedSchemaConstraint)
	}

	if !r.Mode.Valid() {
		return errors.NewPermanentf("invalid mode %q (must be %s or %s)",
			r.Mode, types.ModeConsentRequired, types.ModeAutoApprove)
	}

	if r.Consent.Timeout <= 0 {
		return errors.NewPermanentf("consent timeout must be positive, got %s", r.Consent.Timeout)
	}

	for _, s := range r.Suppressions {
		if s.RuleID == "" {
			return errors.NewPermanentf("suppression is missing ruleId")
		}
		if s.Statement == "" {
			return errors.NewPermanentf("suppression for %s is missing a statement", s.RuleID)
		}
	}

	return nil
}

// Store holds the current rules configuration and the session mode flag.
// Readers always see a complete, consistent snapshot; the watcher swaps in
// new snapshots atomically on reload. The mode flag is tracked separately so
// an API-driven mode change survives a rules file reload.
type Store struct {
	rules atomic.Pointer[RulesConfig]
	mode  atomic.Value // types.Mode
}

// NewStore creates a store seeded with the given rules
func NewStore(rules *RulesConfig) *Store {
	s := &Store{}
	s.rules.Store(rules)
	s.mode.Store(rules.Mode)
	return s
}

// Rules returns the current rules snapshot
func (s *Store) Rules() *RulesConfig {
	return s.rules.Load()
}

// Replace swaps in a new rules snapshot. The mode flag is left untouched.
func (s *Store) Replace(rules *RulesConfig) {
	s.rules.Store(rules)
}

// Mode returns the current session mode. Consent requests read this fresh
// at the start of every request.
func (s *Store) Mode() types.Mode {
	return s.mode.Load().(types.Mode)
}

// SetMode transitions the session mode
func (s *Store) SetMode(mode types.Mode) error {
	if !mode.Valid() {
		return errors.NewPermanentf("invalid mode %q", mode)
	}
	s.mode.Store(mode)
	return nil
}
