package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pygate/pygate/internal/types"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pygate.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	return path
}

func TestParseRules_Complete(t *testing.T) {
	path := writeRules(t, `
schemaVersion: "1.0.0"
mode: auto-approve
policy:
  expression: "highCount <= 1"
  failureMessage: "too risky"
  markUnsafeOnMedium: true
consent:
  timeout: 2m
protectedPaths:
  critical:
    - ~/.bashrc
  system:
    - /etc
suppressions:
  - ruleId: DESER001
    statement: "pickle for local checkpoints only"
`)

	rules, err := ParseRules(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rules.Mode != types.ModeAutoApprove {
		t.Errorf("expected auto-approve, got %s", rules.Mode)
	}
	if rules.Policy.Expression != "highCount <= 1" {
		t.Errorf("unexpected expression: %s", rules.Policy.Expression)
	}
	if rules.Consent.Timeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %s", rules.Consent.Timeout)
	}
	if len(rules.Suppressions) != 1 || rules.Suppressions[0].RuleID != "DESER001" {
		t.Errorf("unexpected suppressions: %+v", rules.Suppressions)
	}
}

func TestParseRules_DefaultsApplied(t *testing.T) {
	path := writeRules(t, `
schemaVersion: "1.0.0"
mode: consent-required
`)

	rules, err := ParseRules(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rules.Policy.Expression != "highCount == 0" {
		t.Errorf("expected default expression, got %s", rules.Policy.Expression)
	}
	if rules.Consent.Timeout != 5*time.Minute {
		t.Errorf("expected default 5m timeout, got %s", rules.Consent.Timeout)
	}
	if len(rules.Protected.Critical) == 0 {
		t.Error("expected default critical paths")
	}
}

func TestParseRules_UnsupportedSchemaVersion(t *testing.T) {
	path := writeRules(t, `
schemaVersion: "2.0.0"
mode: consent-required
`)

	if _, err := ParseRules(path); err == nil {
		t.Error("expected an error for an unsupported schema version")
	}
}

func TestParseRules_InvalidMode(t *testing.T) {
	path := writeRules(t, `
schemaVersion: "1.0.0"
mode: yolo
`)

	if _, err := ParseRules(path); err == nil {
		t.Error("expected an error for an invalid mode")
	}
}

func TestParseRules_SuppressionWithoutStatement(t *testing.T) {
	path := writeRules(t, `
schemaVersion: "1.0.0"
mode: consent-required
suppressions:
  - ruleId: DESER001
`)

	if _, err := ParseRules(path); err == nil {
		t.Error("expected an error for a suppression without a statement")
	}
}

func TestParseRules_InvalidTimeout(t *testing.T) {
	path := writeRules(t, `
schemaVersion: "1.0.0"
mode: consent-required
consent:
  timeout: banana
`)

	if _, err := ParseRules(path); err == nil {
		t.Error("expected an error for an unparsable timeout")
	}
}

func TestParseRules_MissingFile(t *testing.T) {
	if _, err := ParseRules(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestStore_ModeSurvivesReplace(t *testing.T) {
	store := NewStore(DefaultRules())

	if store.Mode() != types.ModeConsentRequired {
		t.Fatalf("expected default consent-required, got %s", store.Mode())
	}

	if err := store.SetMode(types.ModeAutoApprove); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	// Reloading the rules file does not overwrite an API-driven mode change
	store.Replace(DefaultRules())
	if store.Mode() != types.ModeAutoApprove {
		t.Error("mode changed by a rules reload")
	}
}

func TestStore_SetMode_RejectsInvalid(t *testing.T) {
	store := NewStore(DefaultRules())

	if err := store.SetMode("sideways"); err == nil {
		t.Error("expected an error for an invalid mode")
	}
	if store.Mode() != types.ModeConsentRequired {
		t.Error("an invalid SetMode must not change the mode")
	}
}

func TestDefaultRules_Validate(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Errorf("default rules must validate: %v", err)
	}
}
