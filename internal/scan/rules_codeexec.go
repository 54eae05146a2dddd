package scan

import (
	"github.com/go-python/gpython/ast"

	"github.com/pygate/pygate/internal/types"
)

var dynamicEvalNames = map[string]bool{
	"eval":             true,
	"exec":             true,
	"compile":          true,
	"builtins.eval":    true,
	"builtins.exec":    true,
	"builtins.compile": true,
}

// ruleCodeExecution flags dynamic code execution: eval/exec/compile calls,
// access through __builtins__, getattr on the builtins module with a
// dangerous name, and calls through globals()/locals() subscripts.
func ruleCodeExecution(module *ast.Module, aliases AliasTable, _ Options) []types.Finding {
	var findings []types.Finding

	walkCalls(module, func(call *ast.Call, line int) {
		target := aliases.Resolve(call.Func)

		if dynamicEvalNames[target] {
			findings = append(findings, types.Finding{
				RuleID:   "EXEC001",
				Category: types.CategoryCodeExecution,
				Severity: types.SeverityCritical,
				Line:     line,
				Message:  "call to " + target + " executes dynamically constructed code",
			})
			return
		}

		// getattr(builtins, "eval") and friends
		if target == "getattr" && len(call.Args) >= 2 {
			if name, ok := stringArg(call, 1); ok && dynamicEvalNames[name] {
				base := aliases.Resolve(call.Args[0])
				if base == "builtins" || base == "__builtins__" {
					findings = append(findings, types.Finding{
						RuleID:   "EXEC003",
						Category: types.CategoryCodeExecution,
						Severity: types.SeverityCritical,
						Line:     line,
						Message:  "getattr on builtins retrieves " + name,
					})
				}
			}
			return
		}

		// globals()["name"](...) / locals()["name"](...)
		if sub, ok := call.Func.(*ast.Subscript); ok {
			if inner, ok := sub.Value.(*ast.Call); ok {
				switch aliases.Resolve(inner.Func) {
				case "globals", "locals", "vars":
					findings = append(findings, types.Finding{
						RuleID:   "EXEC004",
						Category: types.CategoryCodeExecution,
						Severity: types.SeverityCritical,
						Line:     line,
						Message:  "call through a globals()/locals() subscript evades name-based review",
					})
				}
			}
		}
	})

	// Any use of __builtins__ grants access to eval/exec regardless of how
	// it is dressed up
	walkNodes(module, func(node ast.Ast, line int) {
		if name, ok := node.(*ast.Name); ok && string(name.Id) == "__builtins__" {
			findings = append(findings, types.Finding{
				RuleID:   "EXEC002",
				Category: types.CategoryCodeExecution,
				Severity: types.SeverityCritical,
				Line:     line,
				Message:  "access via __builtins__ reaches dynamic execution primitives",
			})
		}
	})

	return findings
}
