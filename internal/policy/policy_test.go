package policy

import (
	"log/slog"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pygate/pygate/internal/types"
)

func TestEngine_Evaluate_CriticalAlwaysBlocks(t *testing.T) {
	// Even a policy that passes everything cannot clear a CRITICAL finding
	engine, err := NewEngine(slog.Default(), Config{Expression: "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	findings := []types.Finding{
		{RuleID: "EXEC001", Category: types.CategoryCodeExecution, Severity: types.SeverityCritical, Line: 3, Message: "eval"},
	}

	decision, err := engine.Evaluate("cell-1", findings, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !decision.Blocked {
		t.Error("expected CRITICAL finding to block")
	}
	if decision.Triggering == nil || decision.Triggering.RuleID != "EXEC001" {
		t.Errorf("expected triggering finding EXEC001, got %+v", decision.Triggering)
	}
	if decision.Reason == "" {
		t.Error("expected a block reason naming the finding")
	}
}

func TestEngine_Evaluate_DefaultBlocksHigh(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	findings := []types.Finding{
		{RuleID: "PROC003", Severity: types.SeverityHigh, Line: 1},
	}

	decision, err := engine.Evaluate("cell-1", findings, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !decision.Blocked {
		t.Error("expected default policy to block HIGH findings")
	}
	if decision.HighCount != 1 {
		t.Errorf("expected highCount 1, got %d", decision.HighCount)
	}
}

func TestEngine_Evaluate_MediumPassesDefault(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{MarkUnsafeOnMedium: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	findings := []types.Finding{
		{RuleID: "X001", Severity: types.SeverityMedium, Line: 1},
	}

	decision, err := engine.Evaluate("cell-1", findings, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Blocked {
		t.Error("expected MEDIUM finding to pass the default policy")
	}
	if !decision.Unsafe {
		t.Error("expected MarkUnsafeOnMedium to mark the decision unsafe")
	}
	if decision.IsClean {
		t.Error("a decision with findings is never clean")
	}
}

func TestEngine_Evaluate_EmptyFindingsIsClean(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision, err := engine.Evaluate("cell-1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Blocked {
		t.Error("expected empty findings to pass")
	}
	if !decision.IsClean {
		t.Error("expected empty findings to be clean")
	}
	if decision.Unsafe {
		t.Error("expected empty findings to not be unsafe")
	}
}

func TestEngine_Evaluate_SuppressionExemptsHigh(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	findings := []types.Finding{
		{RuleID: "DESER001", Severity: types.SeverityHigh, Line: 2},
	}
	suppressions := []types.RuleSuppression{
		{RuleID: "DESER001", Statement: "pickle used for trusted local checkpoints"},
	}

	decision, err := engine.Evaluate("cell-1", findings, suppressions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Blocked {
		t.Error("expected suppressed HIGH finding to pass")
	}
	if decision.SuppressedCount != 1 {
		t.Errorf("expected suppressedCount 1, got %d", decision.SuppressedCount)
	}
	if decision.HighCount != 0 {
		t.Errorf("expected highCount 0 after suppression, got %d", decision.HighCount)
	}
}

func TestEngine_Evaluate_CriticalNeverSuppressible(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	findings := []types.Finding{
		{RuleID: "EXEC001", Severity: types.SeverityCritical, Line: 1},
	}
	suppressions := []types.RuleSuppression{
		{RuleID: "EXEC001", Statement: "trying to sneak eval past the gate"},
	}

	decision, err := engine.Evaluate("cell-1", findings, suppressions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !decision.Blocked {
		t.Error("CRITICAL findings must block even when a suppression names them")
	}
	if decision.SuppressedCount != 0 {
		t.Errorf("expected suppressedCount 0, got %d", decision.SuppressedCount)
	}
}

func TestEngine_Evaluate_ExpiredSuppressionIgnored(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	past := time.Now().Add(-24 * time.Hour)
	findings := []types.Finding{
		{RuleID: "DESER001", Severity: types.SeverityHigh, Line: 2},
	}
	suppressions := []types.RuleSuppression{
		{RuleID: "DESER001", Statement: "expired", ExpiresAt: &past},
	}

	decision, err := engine.Evaluate("cell-1", findings, suppressions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !decision.Blocked {
		t.Error("expected expired suppression to be ignored")
	}
}

func TestEngine_Evaluate_ExpiringSuppressionWarns(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	soon := time.Now().Add(48 * time.Hour)
	findings := []types.Finding{
		{RuleID: "DESER001", Severity: types.SeverityHigh, Line: 2},
	}
	suppressions := []types.RuleSuppression{
		{RuleID: "DESER001", Statement: "active but expiring", ExpiresAt: &soon},
	}

	decision, err := engine.Evaluate("cell-1", findings, suppressions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Blocked {
		t.Error("expected active suppression to exempt the finding")
	}
	if len(decision.ExpiringSuppressions) != 1 {
		t.Fatalf("expected 1 expiring suppression, got %d", len(decision.ExpiringSuppressions))
	}
	if decision.ExpiringSuppressions[0].RuleID != "DESER001" {
		t.Errorf("unexpected expiring suppression: %+v", decision.ExpiringSuppressions[0])
	}
}

func TestEngine_Evaluate_CustomExpression(t *testing.T) {
	engine, err := NewEngine(slog.Default(), Config{
		Expression:     "highCount <= 1 && mediumCount < 5",
		FailureMessage: "too many findings",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pass, err := engine.Evaluate("cell-1", []types.Finding{
		{RuleID: "A", Severity: types.SeverityHigh, Line: 1},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pass.Blocked {
		t.Error("expected one HIGH finding to pass the relaxed expression")
	}

	fail, err := engine.Evaluate("cell-1", []types.Finding{
		{RuleID: "A", Severity: types.SeverityHigh, Line: 1},
		{RuleID: "B", Severity: types.SeverityHigh, Line: 2},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fail.Blocked {
		t.Error("expected two HIGH findings to fail the relaxed expression")
	}
	if fail.Reason != "too many findings" {
		t.Errorf("expected configured failure message, got %q", fail.Reason)
	}
}

func TestNewEngine_RejectsNonBooleanExpression(t *testing.T) {
	if _, err := NewEngine(slog.Default(), Config{Expression: "highCount + 1"}); err == nil {
		t.Error("expected an error for a non-boolean expression")
	}
}

func TestNewEngine_RejectsInvalidExpression(t *testing.T) {
	if _, err := NewEngine(slog.Default(), Config{Expression: "not valid ( cel"}); err == nil {
		t.Error("expected an error for an invalid expression")
	}
}

// TestEngine_Evaluate_CriticalBlocksProperty checks that no combination of
// expression and lower-severity noise lets a CRITICAL finding through.
func TestEngine_Evaluate_CriticalBlocksProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("critical findings always block", prop.ForAll(
		func(expression string, extraHigh int, extraMedium int) bool {
			engine, err := NewEngine(slog.Default(), Config{Expression: expression})
			if err != nil {
				return true // invalid expressions are rejected at build time
			}

			findings := []types.Finding{
				{RuleID: "EXEC001", Severity: types.SeverityCritical, Line: 1},
			}
			for i := 0; i < extraHigh; i++ {
				findings = append(findings, types.Finding{RuleID: "H", Severity: types.SeverityHigh, Line: i + 2})
			}
			for i := 0; i < extraMedium; i++ {
				findings = append(findings, types.Finding{RuleID: "M", Severity: types.SeverityMedium, Line: i + 20})
			}

			decision, err := engine.Evaluate("cell-1", findings, nil)
			if err != nil {
				return false
			}
			return decision.Blocked
		},
		gen.OneConstOf("true", "highCount == 0", "false", "mediumCount < 100", "suppressedCount >= 0"),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
