package scan

import (
	"sort"
	"strings"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"
	"github.com/go-python/gpython/py"

	"github.com/pygate/pygate/internal/types"
)

// Options carries the read-only configuration the rules need. Concurrent
// scans are independent: nothing here is mutated during a scan.
type Options struct {
	// CriticalPaths are shell config and credential locations; a write
	// targeting one is a CRITICAL finding
	CriticalPaths []string

	// SystemPaths are generic system directories; a write targeting one is
	// a HIGH finding
	SystemPaths []string
}

// astRule inspects the parsed module and reports findings. Rules are
// independent pure functions; adding a rule means appending to astRules,
// never editing the others. Snippets are filled in afterwards from the
// source text.
type astRule func(module *ast.Module, aliases AliasTable, opts Options) []types.Finding

var astRules = []astRule{
	ruleCodeExecution,
	ruleProcessExecution,
	ruleEnvModification,
	ruleFileWrites,
	rulePersistence,
	ruleDeserialization,
}

// ScanAST parses source as Python and runs every rule over the tree.
// Parsing uses a pure-Go Python parser; the scanned source is never
// executed or imported.
//
// Source that fails to parse yields no findings: code that cannot parse
// cannot execute as Python in this context. That is a documented limitation
// of the AST stage, not a bypass: the prescanner has already seen the raw
// text by the time this runs.
func ScanAST(source string, opts Options) []types.Finding {
	tree, err := parser.ParseString(source, py.ExecMode)
	if err != nil {
		return nil
	}

	module, ok := tree.(*ast.Module)
	if !ok {
		return nil
	}

	aliases := BuildAliasTable(module)

	var findings []types.Finding
	for _, rule := range astRules {
		findings = append(findings, applyRule(rule, module, aliases, opts)...)
	}

	fillSnippets(findings, source)

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].RuleID < findings[j].RuleID
	})

	return findings
}

// applyRule shields the scan from a misbehaving rule: an uninterpretable
// node may cost a finding (false negative) but must never crash the gate.
func applyRule(rule astRule, module *ast.Module, aliases AliasTable, opts Options) (findings []types.Finding) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
		}
	}()
	return rule(module, aliases, opts)
}

func fillSnippets(findings []types.Finding, source string) {
	lines := strings.Split(source, "\n")
	for i := range findings {
		if findings[i].Snippet != "" {
			continue
		}
		if n := findings[i].Line; n >= 1 && n <= len(lines) {
			snippet := strings.TrimSpace(lines[n-1])
			if len(snippet) > maxSnippetLen {
				snippet = snippet[:maxSnippetLen] + "..."
			}
			findings[i].Snippet = snippet
		}
	}
}
