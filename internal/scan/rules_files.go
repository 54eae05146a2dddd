package scan

import (
	"strings"

	"github.com/go-python/gpython/ast"

	"github.com/pygate/pygate/internal/types"
)

var pathWriteMethods = map[string]bool{
	"write_text":  true,
	"write_bytes": true,
}

var pathMetaMethods = map[string]bool{
	"chmod":      true,
	"lchmod":     true,
	"mkdir":      true,
	"symlink_to": true,
	"rename":     true,
	"replace":    true,
	"unlink":     true,
}

var osMetaFuncs = map[string]bool{
	"os.chmod":    true,
	"os.chown":    true,
	"os.symlink":  true,
	"os.link":     true,
	"os.mkdir":    true,
	"os.makedirs": true,
	"os.rename":   true,
	"os.replace":  true,
}

var copyDestFuncs = map[string]bool{
	"shutil.copy":     true,
	"shutil.copy2":    true,
	"shutil.copyfile": true,
	"shutil.copytree": true,
	"shutil.move":     true,
}

// ruleFileWrites flags destructive filesystem operations whose target is a
// configured protected path: write-mode opens, Path write helpers, metadata
// changes, and copy/move destinations. Reads to the same paths are never
// flagged. shutil.rmtree is flagged for any literal target since it deletes
// recursively. Non-literal path arguments are not resolved.
func ruleFileWrites(module *ast.Module, aliases AliasTable, opts Options) []types.Finding {
	var findings []types.Finding

	flag := func(ruleID string, severity types.Severity, line int, message string) {
		findings = append(findings, types.Finding{
			RuleID:   ruleID,
			Category: types.CategoryFileWrite,
			Severity: severity,
			Line:     line,
			Message:  message,
		})
	}

	walkCalls(module, func(call *ast.Call, line int) {
		target := aliases.Resolve(call.Func)

		switch {
		case target == "shutil.rmtree":
			severity := types.SeverityHigh
			if path, ok := stringArg(call, 0); ok {
				if s, protected := classifyPath(path, opts); protected {
					severity = s
				}
			}
			flag("FILE001", severity, line, "shutil.rmtree deletes a directory tree recursively")

		case target == "open" || target == "io.open" || target == "builtins.open":
			path, ok := stringArg(call, 0)
			if !ok {
				return
			}
			if !openModeWrites(call) {
				return
			}
			if severity, protected := classifyPath(path, opts); protected {
				flag("FILE002", severity, line,
					"write-mode open targets protected path "+path)
			}

		case osMetaFuncs[target]:
			// For symlink/link/rename the destination is the second
			// argument; checking every literal argument covers both shapes
			for i := range call.Args {
				if path, ok := stringArg(call, i); ok {
					if severity, protected := classifyPath(path, opts); protected {
						flag("FILE004", severity, line,
							target+" targets protected path "+path)
						return
					}
				}
			}

		case copyDestFuncs[target]:
			dest, ok := stringArg(call, 1)
			if !ok {
				if expr, found := keyword(call, "dst"); found {
					if str, isStr := expr.(*ast.Str); isStr {
						dest, ok = string(str.S), true
					}
				}
			}
			if !ok {
				return
			}
			if severity, protected := classifyPath(dest, opts); protected {
				flag("FILE005", severity, line,
					target+" copies into protected path "+dest)
			}
		}

		// Path("...").write_text(...) and metadata methods on Path objects
		if attr, ok := call.Func.(*ast.Attribute); ok {
			method := string(attr.Attr)
			if !pathWriteMethods[method] && !pathMetaMethods[method] {
				return
			}
			inner, ok := attr.Value.(*ast.Call)
			if !ok {
				return
			}
			innerTarget := aliases.Resolve(inner.Func)
			if innerTarget != "pathlib.Path" && innerTarget != "pathlib.PurePath" && innerTarget != "pathlib.PosixPath" {
				return
			}
			path, ok := stringArg(inner, 0)
			if !ok {
				return
			}
			if severity, protected := classifyPath(path, opts); protected {
				flag("FILE003", severity, line,
					"Path."+method+" targets protected path "+path)
			}
		}
	})

	return findings
}

// openModeWrites reports whether an open() call uses a write-capable mode.
// The mode is the second positional argument or the mode keyword; the
// default "r" never writes.
func openModeWrites(call *ast.Call) bool {
	mode, ok := stringArg(call, 1)
	if !ok {
		if expr, found := keyword(call, "mode"); found {
			if str, isStr := expr.(*ast.Str); isStr {
				mode, ok = string(str.S), true
			}
		}
	}
	if !ok {
		return false
	}
	return strings.ContainsAny(mode, "wax+")
}

// classifyPath checks a literal path against the protected sets. Entries
// beginning with "~" match on the home-relative component anywhere in the
// path, so both "~/.bashrc" and "/home/user/.bashrc" hit the same entry.
// Absolute entries match exactly or as a directory prefix.
func classifyPath(path string, opts Options) (types.Severity, bool) {
	if matchesAny(path, opts.CriticalPaths) {
		return types.SeverityCritical, true
	}
	if matchesAny(path, opts.SystemPaths) {
		return types.SeverityHigh, true
	}
	return "", false
}

func matchesAny(path string, entries []string) bool {
	for _, entry := range entries {
		if pathMatches(path, entry) {
			return true
		}
	}
	return false
}

func pathMatches(path, entry string) bool {
	if path == entry {
		return true
	}
	if rel, ok := strings.CutPrefix(entry, "~/"); ok {
		// dotfile or dot-directory relative to any home directory
		return path == rel ||
			strings.HasSuffix(path, "/"+rel) ||
			strings.Contains(path, "/"+rel+"/") ||
			strings.HasPrefix(path, rel+"/")
	}
	return strings.HasPrefix(path, entry+"/")
}
