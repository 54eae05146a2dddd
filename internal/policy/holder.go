package policy

import (
	"log/slog"
	"sync/atomic"

	"github.com/pygate/pygate/internal/config"
)

// Holder publishes the active policy engine. Rules reloads compile a new
// engine and swap it in atomically; evaluations in flight finish on the
// engine they started with. A failed compilation leaves the previous
// engine serving.
type Holder struct {
	current atomic.Pointer[Engine]
}

// NewHolder wraps an already compiled engine
func NewHolder(engine *Engine) *Holder {
	h := &Holder{}
	h.current.Store(engine)
	return h
}

// Engine returns the active engine
func (h *Holder) Engine() *Engine {
	return h.current.Load()
}

// Replace swaps in a new engine
func (h *Holder) Replace(engine *Engine) {
	h.current.Store(engine)
}

// Recompile builds an engine from the policy section of a rules snapshot
// and swaps it in. On a compile error the previous engine stays active and
// the error is returned.
func (h *Holder) Recompile(logger *slog.Logger, rules config.PolicyRules) error {
	engine, err := NewEngine(logger, Config{
		Expression:         rules.Expression,
		FailureMessage:     rules.FailureMessage,
		MarkUnsafeOnMedium: rules.MarkUnsafeOnMedium,
	})
	if err != nil {
		return err
	}
	h.current.Store(engine)
	return nil
}
