package scan

import (
	"strings"

	"github.com/go-python/gpython/ast"

	"github.com/pygate/pygate/internal/types"
)

// ruleProcessExecution flags process spawning: the os shell helpers, the
// os.spawn*/os.exec* families, and subprocess calls. subprocess with
// shell=True is CRITICAL; without a shell it is HIGH, since the arguments
// get no shell interpretation.
func ruleProcessExecution(module *ast.Module, aliases AliasTable, _ Options) []types.Finding {
	var findings []types.Finding

	walkCalls(module, func(call *ast.Call, line int) {
		target := aliases.Resolve(call.Func)
		if target == "" {
			return
		}

		switch {
		case target == "os.system" || target == "os.popen":
			findings = append(findings, types.Finding{
				RuleID:   "PROC001",
				Category: types.CategoryProcessExec,
				Severity: types.SeverityCritical,
				Line:     line,
				Message:  target + " runs a command through the system shell",
			})

		case strings.HasPrefix(target, "os.spawn") || strings.HasPrefix(target, "os.exec"):
			findings = append(findings, types.Finding{
				RuleID:   "PROC001",
				Category: types.CategoryProcessExec,
				Severity: types.SeverityCritical,
				Line:     line,
				Message:  target + " replaces or spawns a process",
			})

		case target == "subprocess" || strings.HasPrefix(target, "subprocess."):
			if keywordIsTrue(call, "shell") {
				findings = append(findings, types.Finding{
					RuleID:   "PROC002",
					Category: types.CategoryProcessExec,
					Severity: types.SeverityCritical,
					Line:     line,
					Message:  target + " with shell=True interprets arguments through the shell",
				})
			} else {
				findings = append(findings, types.Finding{
					RuleID:   "PROC003",
					Category: types.CategorySubprocess,
					Severity: types.SeverityHigh,
					Line:     line,
					Message:  target + " spawns an external process",
				})
			}
		}
	})

	return findings
}
