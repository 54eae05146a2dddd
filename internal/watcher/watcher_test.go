package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pygate/pygate/internal/config"
	"github.com/pygate/pygate/internal/policy"
	"github.com/pygate/pygate/internal/types"
)

const validRules = `
schemaVersion: "1.0.0"
mode: consent-required
policy:
  expression: "highCount == 0"
`

const updatedRules = `
schemaVersion: "1.0.0"
mode: consent-required
policy:
  expression: "highCount <= 2"
`

func writeRulesFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pygate.yml")
	writeRulesFile(t, path, validRules)

	rules, err := config.ParseRules(path)
	if err != nil {
		t.Fatalf("failed to parse initial rules: %v", err)
	}
	store := config.NewStore(rules)

	writeRulesFile(t, path, updatedRules)

	w := New(nil, path, store, nil)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if got := store.Rules().Policy.Expression; got != "highCount <= 2" {
		t.Errorf("expected reloaded expression, got %q", got)
	}
}

func TestWatcher_Reload_InvalidFileKeepsPreviousRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pygate.yml")
	writeRulesFile(t, path, validRules)

	rules, err := config.ParseRules(path)
	if err != nil {
		t.Fatalf("failed to parse initial rules: %v", err)
	}
	store := config.NewStore(rules)

	writeRulesFile(t, path, "mode: [broken\n")

	w := New(nil, path, store, nil)
	if err := w.Reload(); err == nil {
		t.Error("expected Reload to fail on an invalid file")
	}

	if got := store.Rules().Policy.Expression; got != "highCount == 0" {
		t.Errorf("a failed reload must keep the previous rules, got %q", got)
	}
}

func TestWatcher_Run_PicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pygate.yml")
	writeRulesFile(t, path, validRules)

	rules, err := config.ParseRules(path)
	if err != nil {
		t.Fatalf("failed to parse initial rules: %v", err)
	}
	store := config.NewStore(rules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(nil, path, store, nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Give the watcher a moment to install before modifying the file
	time.Sleep(100 * time.Millisecond)
	writeRulesFile(t, path, updatedRules)

	deadline := time.After(5 * time.Second)
	for store.Rules().Policy.Expression != "highCount <= 2" {
		select {
		case <-deadline:
			t.Fatal("watcher did not pick up the rules change in time")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}

const badExpressionRules = `
schemaVersion: "1.0.0"
mode: consent-required
policy:
  expression: "highCount +"
`

func newEngineHolder(t *testing.T, rules *config.RulesConfig) *policy.Holder {
	t.Helper()
	engine, err := policy.NewEngine(nil, policy.Config{
		Expression:         rules.Policy.Expression,
		FailureMessage:     rules.Policy.FailureMessage,
		MarkUnsafeOnMedium: rules.Policy.MarkUnsafeOnMedium,
	})
	if err != nil {
		t.Fatalf("failed to build policy engine: %v", err)
	}
	return policy.NewHolder(engine)
}

func TestWatcher_Reload_RecompilesPolicyEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pygate.yml")
	writeRulesFile(t, path, validRules)

	rules, err := config.ParseRules(path)
	if err != nil {
		t.Fatalf("failed to parse initial rules: %v", err)
	}
	store := config.NewStore(rules)
	engines := newEngineHolder(t, rules)

	highFinding := []types.Finding{{
		RuleID:   "PROC003",
		Severity: types.SeverityHigh,
		Line:     1,
	}}

	decision, err := engines.Engine().Evaluate("cell", highFinding, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.Blocked {
		t.Fatal("expected the initial expression to block a HIGH finding")
	}

	writeRulesFile(t, path, updatedRules)
	w := New(nil, path, store, engines)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	decision, err = engines.Engine().Evaluate("cell", highFinding, nil)
	if err != nil {
		t.Fatalf("Evaluate after reload failed: %v", err)
	}
	if decision.Blocked {
		t.Error("expected the reloaded expression to tolerate a HIGH finding")
	}
}

func TestWatcher_Reload_BadExpressionKeepsPreviousEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pygate.yml")
	writeRulesFile(t, path, validRules)

	rules, err := config.ParseRules(path)
	if err != nil {
		t.Fatalf("failed to parse initial rules: %v", err)
	}
	store := config.NewStore(rules)
	engines := newEngineHolder(t, rules)
	previous := engines.Engine()

	writeRulesFile(t, path, badExpressionRules)
	w := New(nil, path, store, engines)
	if err := w.Reload(); err == nil {
		t.Error("expected Reload to fail on an uncompilable expression")
	}

	if engines.Engine() != previous {
		t.Error("a failed recompile must keep the previous engine")
	}
	if got := store.Rules().Policy.Expression; got != "highCount == 0" {
		t.Errorf("a failed recompile must keep the previous rules, got %q", got)
	}
}
