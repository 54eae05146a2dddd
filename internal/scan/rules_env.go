package scan

import (
	"github.com/go-python/gpython/ast"

	"github.com/pygate/pygate/internal/types"
)

var environMutators = map[string]bool{
	"os.environ.update":     true,
	"os.environ.setdefault": true,
	"os.environ.pop":        true,
	"os.environ.clear":      true,
}

// ruleEnvModification flags writes to the process environment: subscript
// assignment, del, the mutating mapping methods on os.environ, and the
// os.putenv/os.unsetenv primitives. Reads (os.environ.get, os.getenv) are
// never flagged.
//
// Only import aliasing is resolved: `e = os.environ; e["X"] = "1"` slips
// through, a documented gap shared with the rest of the scanner.
func ruleEnvModification(module *ast.Module, aliases AliasTable, _ Options) []types.Finding {
	var findings []types.Finding

	envFinding := func(ruleID string, line int, message string) {
		findings = append(findings, types.Finding{
			RuleID:   ruleID,
			Category: types.CategoryEnvModification,
			Severity: types.SeverityCritical,
			Line:     line,
			Message:  message,
		})
	}

	isEnviron := func(expr ast.Expr) bool {
		return aliases.Resolve(expr) == "os.environ"
	}

	walkNodes(module, func(node ast.Ast, line int) {
		switch n := node.(type) {
		case *ast.Assign:
			for _, target := range n.Targets {
				if sub, ok := target.(*ast.Subscript); ok && isEnviron(sub.Value) {
					envFinding("ENV001", line, "assignment into os.environ modifies the process environment")
				}
			}

		case *ast.AugAssign:
			if sub, ok := n.Target.(*ast.Subscript); ok && isEnviron(sub.Value) {
				envFinding("ENV001", line, "augmented assignment into os.environ modifies the process environment")
			}

		case *ast.Delete:
			for _, target := range n.Targets {
				if sub, ok := target.(*ast.Subscript); ok && isEnviron(sub.Value) {
					envFinding("ENV001", line, "del on os.environ removes an environment variable")
				}
			}

		case *ast.Call:
			target := aliases.Resolve(n.Func)
			switch {
			case environMutators[target]:
				envFinding("ENV002", line, target+" modifies the process environment")
			case target == "os.putenv" || target == "os.unsetenv":
				envFinding("ENV003", line, target+" modifies the process environment")
			}
		}
	})

	return findings
}
