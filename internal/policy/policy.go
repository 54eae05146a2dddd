package policy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/pygate/pygate/internal/types"
)

// Engine turns scan findings into a single block/allow decision.
//
// The blocking rule has two tiers: any CRITICAL finding blocks
// unconditionally (not configurable, never suppressible), and everything
// below CRITICAL is governed by a CEL expression over the finding counts.
type Engine struct {
	logger              *slog.Logger
	expiryWarningWindow time.Duration
	config              Config
	celProgram          cel.Program
}

// Config defines a CEL-based blocking policy
type Config struct {
	// Expression is the CEL expression that must evaluate to true for
	// non-critical findings to pass. Available variables:
	//   - findings: list of maps with ruleId, category, severity, line, message
	//   - criticalCount, highCount, mediumCount, lowCount: counts of
	//     non-suppressed findings by severity
	//   - suppressedCount: number of findings exempted by suppressions
	Expression string

	// FailureMessage is the reason reported when the expression fails (optional)
	FailureMessage string

	// MarkUnsafeOnMedium marks the decision unsafe when a surviving MEDIUM
	// finding exists even if the expression does not block. UI-facing knob;
	// it never affects Blocked.
	MarkUnsafeOnMedium bool
}

// Decision is the result of policy evaluation
type Decision struct {
	// Blocked reports whether the operation must be rejected outright
	Blocked bool

	// Reason names the triggering finding or failure message when blocked
	Reason string

	// IsClean is true only when the finding list was empty, independent of
	// the blocking policy ("no concerns at all" for UI display)
	IsClean bool

	// Unsafe flags the operation for UI display without blocking it
	Unsafe bool

	// Triggering is the finding that caused the block, when one exists
	Triggering *types.Finding

	CriticalCount   int
	HighCount       int
	MediumCount     int
	LowCount        int
	SuppressedCount int

	SuppressedRules      []string
	ExpiringSuppressions []ExpiringSuppression
}

// ExpiringSuppression is a suppression inside the expiry warning window
type ExpiringSuppression struct {
	RuleID    string
	Statement string
	ExpiresAt time.Time
	DaysUntil int
}

// NewEngine compiles the policy expression and returns an engine
func NewEngine(logger *slog.Logger, config Config) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Default policy: block anything HIGH or above
	if config.Expression == "" {
		config.Expression = `highCount == 0`
		config.FailureMessage = "high severity findings present"
	}

	env, err := cel.NewEnv(
		cel.Variable("findings", cel.ListType(cel.MapType(cel.StringType, cel.AnyType))),
		cel.Variable("criticalCount", cel.IntType),
		cel.Variable("highCount", cel.IntType),
		cel.Variable("mediumCount", cel.IntType),
		cel.Variable("lowCount", cel.IntType),
		cel.Variable("suppressedCount", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	checked, issues := env.Compile(config.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy expression: %w", issues.Err())
	}

	if checked.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy expression must return a boolean, got %v", checked.OutputType())
	}

	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Engine{
		logger:              logger,
		expiryWarningWindow: 7 * 24 * time.Hour,
		config:              config,
		celProgram:          program,
	}, nil
}

// Evaluate decides whether the findings for one operation block it.
// Suppressions exempt non-critical rules only; an expired suppression is
// ignored and one close to expiry is logged.
func (e *Engine) Evaluate(subject string, findings []types.Finding, suppressions []types.RuleSuppression) (*Decision, error) {
	decision := &Decision{
		IsClean:              len(findings) == 0,
		SuppressedRules:      make([]string, 0),
		ExpiringSuppressions: make([]ExpiringSuppression, 0),
	}

	now := time.Now()
	active := make(map[string]types.RuleSuppression)
	for _, suppression := range suppressions {
		if suppression.Expired(now) {
			e.logger.Debug("suppression expired",
				"rule_id", suppression.RuleID,
				"expired_at", suppression.ExpiresAt,
				"subject", subject)
			continue
		}

		active[suppression.RuleID] = suppression

		if suppression.ExpiresAt != nil {
			untilExpiry := suppression.ExpiresAt.Sub(now)
			if untilExpiry > 0 && untilExpiry <= e.expiryWarningWindow {
				daysUntil := int(untilExpiry.Hours() / 24)
				decision.ExpiringSuppressions = append(decision.ExpiringSuppressions, ExpiringSuppression{
					RuleID:    suppression.RuleID,
					Statement: suppression.Statement,
					ExpiresAt: *suppression.ExpiresAt,
					DaysUntil: daysUntil,
				})

				e.logger.Warn("suppression expiring soon",
					"rule_id", suppression.RuleID,
					"statement", suppression.Statement,
					"expires_at", suppression.ExpiresAt,
					"days_until_expiry", daysUntil,
					"subject", subject)
			}
		}
	}

	celFindings := make([]map[string]interface{}, 0, len(findings))
	var firstCritical *types.Finding
	var worstSurviving *types.Finding

	for i, f := range findings {
		suppression, suppressed := active[f.RuleID]
		// CRITICAL findings are never suppressible
		if f.Severity == types.SeverityCritical {
			suppressed = false
		}

		celFindings = append(celFindings, map[string]interface{}{
			"ruleId":     f.RuleID,
			"category":   string(f.Category),
			"severity":   string(f.Severity),
			"line":       f.Line,
			"message":    f.Message,
			"suppressed": suppressed,
		})

		if suppressed {
			decision.SuppressedCount++
			decision.SuppressedRules = append(decision.SuppressedRules, f.RuleID)
			e.logger.Info("finding suppressed",
				"rule_id", f.RuleID,
				"severity", f.Severity,
				"statement", suppression.Statement,
				"subject", subject)
			continue
		}

		switch f.Severity {
		case types.SeverityCritical:
			decision.CriticalCount++
			if firstCritical == nil {
				firstCritical = &findings[i]
			}
		case types.SeverityHigh:
			decision.HighCount++
		case types.SeverityMedium:
			decision.MediumCount++
		case types.SeverityLow:
			decision.LowCount++
		}

		if worstSurviving == nil || f.Severity.Rank() > worstSurviving.Severity.Rank() {
			worstSurviving = &findings[i]
		}
	}

	// Tier one: a CRITICAL finding blocks irrespective of the expression
	if firstCritical != nil {
		decision.Blocked = true
		decision.Unsafe = true
		decision.Triggering = firstCritical
		decision.Reason = formatFindingReason(*firstCritical)

		e.logger.Warn("policy blocked on critical finding",
			"subject", subject,
			"rule_id", firstCritical.RuleID,
			"category", firstCritical.Category,
			"line", firstCritical.Line)
		return decision, nil
	}

	// Tier two: the configured expression over the surviving counts
	out, _, err := e.celProgram.Eval(map[string]interface{}{
		"findings":        celFindings,
		"criticalCount":   decision.CriticalCount,
		"highCount":       decision.HighCount,
		"mediumCount":     decision.MediumCount,
		"lowCount":        decision.LowCount,
		"suppressedCount": decision.SuppressedCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("policy expression did not return a boolean: %v", out.Value())
	}

	decision.Blocked = !passed

	if passed {
		if e.config.MarkUnsafeOnMedium && decision.MediumCount > 0 {
			decision.Unsafe = true
		}
		e.logger.Debug("policy evaluation passed",
			"subject", subject,
			"high", decision.HighCount,
			"medium", decision.MediumCount,
			"low", decision.LowCount,
			"suppressed", decision.SuppressedCount)
		return decision, nil
	}

	decision.Unsafe = true
	decision.Triggering = worstSurviving
	if e.config.FailureMessage != "" {
		decision.Reason = e.config.FailureMessage
	} else if worstSurviving != nil {
		decision.Reason = formatFindingReason(*worstSurviving)
	} else {
		decision.Reason = fmt.Sprintf("policy failed: high=%d, medium=%d, low=%d",
			decision.HighCount, decision.MediumCount, decision.LowCount)
	}

	e.logger.Warn("policy evaluation failed",
		"subject", subject,
		"high", decision.HighCount,
		"medium", decision.MediumCount,
		"low", decision.LowCount,
		"suppressed", decision.SuppressedCount,
		"expression", e.config.Expression)

	return decision, nil
}

// SetExpiryWarningWindow sets the duration before expiry to trigger warnings
func (e *Engine) SetExpiryWarningWindow(duration time.Duration) {
	e.expiryWarningWindow = duration
}

func formatFindingReason(f types.Finding) string {
	if f.Line > 0 {
		return fmt.Sprintf("%s (%s) at line %d: %s", f.Category, f.Severity, f.Line, f.Message)
	}
	return fmt.Sprintf("%s (%s): %s", f.Category, f.Severity, f.Message)
}
