package errors

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pygate/pygate/internal/types"
)

// TestRejectionsNeverTransientProperty checks that no amount of wrapping
// turns a terminal gate rejection into something a retry loop would replay.
func TestRejectionsNeverTransientProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	rejections := []error{
		ErrConsentDeclined,
		ErrConsentTimedOut,
		ErrConsentChannelClosed,
		ErrConsentCancelled,
		ErrNoApprover,
	}

	properties.Property("wrapped rejections stay non-transient", prop.ForAll(
		func(idx int, depth int) bool {
			err := rejections[idx]
			for i := 0; i < depth; i++ {
				err = fmt.Errorf("layer %d: %w", i, err)
			}
			return !IsTransient(err)
		},
		gen.IntRange(0, len(rejections)-1),
		gen.IntRange(0, 5),
	))

	properties.Property("wrapped blocks stay non-transient and detectable", prop.ForAll(
		func(ruleID string, depth int) bool {
			var err error = NewBlocked(types.Finding{RuleID: ruleID, Severity: types.SeverityCritical}, "blocked")
			for i := 0; i < depth; i++ {
				err = fmt.Errorf("layer %d: %w", i, err)
			}
			return IsBlocked(err) && !IsTransient(err)
		},
		gen.OneConstOf("EXEC001", "PROC001", "ENV001", "FILE002"),
		gen.IntRange(0, 5),
	))

	properties.Property("transient wrappers survive wrapping", prop.ForAll(
		func(depth int) bool {
			var err error = NewTransientf("flaky backend")
			for i := 0; i < depth; i++ {
				err = fmt.Errorf("layer %d: %w", i, err)
			}
			return IsTransient(err)
		},
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
