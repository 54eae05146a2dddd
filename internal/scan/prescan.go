package scan

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pygate/pygate/internal/types"
)

// The prescanner runs before any Python parsing: cell text routed through an
// interactive interpreter can carry magic directives and shell escapes that
// are invisible to a Python parser. Matching is line/token-anchored, never
// bare substring, so identifiers like "fish" or "history" do not trip it.
//
// An empty result means "no pre-parse red flags", not "safe": valid Python
// still has to pass the AST scan.

var (
	// %%bash-style cell magics and %system-style line magics that hand the
	// cell body to a shell
	cellShellMagicRe = regexp.MustCompile(`^%%(bash|sh|zsh|script|system|cmd|powershell|pwsh)\b`)
	lineShellMagicRe = regexp.MustCompile(`^%(system|sx|sc)\b`)

	// ! shell escape; "!=" is a comparison, not an escape
	shellEscapeRe = regexp.MustCompile(`^!([^=]|$)`)

	// sourcing a shell config file, either via "source" or the "." builtin
	shellConfigSourceRe = regexp.MustCompile(`(?:^|[;&|!]\s*|\s)(?:source|\.)\s+\S*\.(?:bashrc|zshrc|profile|bash_profile|zprofile)\b`)

	// remote fetch piped into a shell
	remoteFetchExecRe = regexp.MustCompile(`\b(?:curl|wget)\b[^|\n]*\|\s*(?:sudo\s+)?(?:bash|sh|zsh)\b`)

	// the runtime's shell bridge, equivalent to os.system
	shellBridgeRe = regexp.MustCompile(`\bget_ipython\s*\(\s*\)\s*\.\s*(?:system|getoutput)\s*\(`)
)

// ScanIPython scans raw, possibly non-Python cell text for shell-escape and
// magic-command constructs. It tolerates arbitrary input and never panics;
// undecodable bytes yield a HIGH finding instead of an error.
func ScanIPython(source string) []types.Finding {
	if !utf8.ValidString(source) {
		return []types.Finding{{
			RuleID:   "PRE000",
			Category: types.CategoryEncoding,
			Severity: types.SeverityHigh,
			Line:     1,
			Message:  "source contains undecodable bytes and cannot be verified",
		}}
	}

	var findings []types.Finding
	for i, raw := range strings.Split(source, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lineno := i + 1

		if m := cellShellMagicRe.FindString(line); m != "" {
			findings = append(findings, finding("PRE001", types.CategoryShellMagic,
				types.SeverityCritical, lineno, line,
				"cell magic "+m+" hands the cell body to a shell"))
		} else if m := lineShellMagicRe.FindString(line); m != "" {
			findings = append(findings, finding("PRE001", types.CategoryShellMagic,
				types.SeverityCritical, lineno, line,
				"line magic "+m+" executes a shell command"))
		} else if shellEscapeRe.MatchString(line) {
			findings = append(findings, finding("PRE002", types.CategoryShellEscape,
				types.SeverityHigh, lineno, line,
				"! shell escape executes a shell command"))
		}

		if shellConfigSourceRe.MatchString(line) {
			findings = append(findings, finding("PRE003", types.CategoryShellConfig,
				types.SeverityCritical, lineno, line,
				"sources a shell configuration file"))
		}

		if remoteFetchExecRe.MatchString(line) {
			findings = append(findings, finding("PRE004", types.CategoryRemoteFetchExec,
				types.SeverityCritical, lineno, line,
				"fetches remote content and pipes it into a shell"))
		}

		if shellBridgeRe.MatchString(line) {
			findings = append(findings, finding("PRE005", types.CategoryShellBridge,
				types.SeverityCritical, lineno, line,
				"calls the interpreter's shell bridge"))
		}
	}

	return findings
}

const maxSnippetLen = 120

func finding(ruleID string, category types.Category, severity types.Severity, line int, snippet, message string) types.Finding {
	if len(snippet) > maxSnippetLen {
		snippet = snippet[:maxSnippetLen] + "..."
	}
	return types.Finding{
		RuleID:   ruleID,
		Category: category,
		Severity: severity,
		Line:     line,
		Snippet:  snippet,
		Message:  message,
	}
}
