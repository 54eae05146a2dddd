package scan

import (
	"strings"

	"github.com/go-python/gpython/ast"

	"github.com/pygate/pygate/internal/types"
)

// ruleDeserialization flags deserialization of untrusted data: pickle
// loading (arbitrary code execution by design) and yaml.load without a safe
// loader.
func ruleDeserialization(module *ast.Module, aliases AliasTable, _ Options) []types.Finding {
	var findings []types.Finding

	walkCalls(module, func(call *ast.Call, line int) {
		target := aliases.Resolve(call.Func)

		switch target {
		case "pickle.load", "pickle.loads", "cPickle.load", "cPickle.loads":
			findings = append(findings, types.Finding{
				RuleID:   "DESER001",
				Category: types.CategoryDeserialization,
				Severity: types.SeverityHigh,
				Line:     line,
				Message:  target + " can execute arbitrary code during unpickling",
			})

		case "yaml.load":
			if yamlLoaderIsSafe(call, aliases) {
				return
			}
			findings = append(findings, types.Finding{
				RuleID:   "DESER002",
				Category: types.CategoryDeserialization,
				Severity: types.SeverityHigh,
				Line:     line,
				Message:  "yaml.load without a safe loader can instantiate arbitrary objects",
			})

		case "yaml.unsafe_load", "yaml.full_load":
			findings = append(findings, types.Finding{
				RuleID:   "DESER002",
				Category: types.CategoryDeserialization,
				Severity: types.SeverityHigh,
				Line:     line,
				Message:  target + " can instantiate arbitrary objects",
			})
		}
	})

	return findings
}

// yamlLoaderIsSafe reports whether a yaml.load call passes a safe loader,
// either as the Loader keyword or the second positional argument.
func yamlLoaderIsSafe(call *ast.Call, aliases AliasTable) bool {
	loader, ok := keyword(call, "Loader")
	if !ok && len(call.Args) >= 2 {
		loader, ok = call.Args[1], true
	}
	if !ok {
		return false
	}
	resolved := aliases.Resolve(loader)
	return strings.Contains(resolved, "Safe")
}
