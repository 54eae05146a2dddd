package scan

import (
	"strings"

	"github.com/go-python/gpython/ast"

	"github.com/pygate/pygate/internal/types"
)

var schedulerCommands = []string{"crontab", "systemctl", "launchctl", "at", "anacron"}

var schedulerDirs = []string{
	"/etc/cron",
	"/etc/crontab",
	"/var/spool/cron",
	"/etc/systemd",
	"/usr/lib/systemd",
	"/Library/LaunchAgents",
	"/Library/LaunchDaemons",
	"~/Library/LaunchAgents",
	"~/.config/systemd",
}

// rulePersistence flags attempts to survive the session: invoking scheduler
// binaries through any process-spawning call, and write-mode opens under
// scheduler directories.
func rulePersistence(module *ast.Module, aliases AliasTable, _ Options) []types.Finding {
	var findings []types.Finding

	flag := func(ruleID string, line int, message string) {
		findings = append(findings, types.Finding{
			RuleID:   ruleID,
			Category: types.CategoryPersistence,
			Severity: types.SeverityHigh,
			Line:     line,
			Message:  message,
		})
	}

	walkCalls(module, func(call *ast.Call, line int) {
		target := aliases.Resolve(call.Func)

		spawns := target == "os.system" || target == "os.popen" ||
			strings.HasPrefix(target, "subprocess.")
		if spawns {
			if cmd, ok := commandLiteral(call); ok {
				for _, scheduler := range schedulerCommands {
					if hasPrefixToken(cmd, scheduler) {
						flag("PERS001", line,
							"invokes scheduler command "+scheduler)
						break
					}
				}
			}
			return
		}

		if target == "open" || target == "io.open" {
			path, ok := stringArg(call, 0)
			if !ok || !openModeWrites(call) {
				return
			}
			for _, dir := range schedulerDirs {
				if pathMatches(path, dir) {
					flag("PERS002", line,
						"write under scheduler directory "+dir)
					break
				}
			}
		}
	})

	return findings
}

// commandLiteral extracts the command string from a spawning call: either a
// plain string argument or the first element of a literal argv list.
func commandLiteral(call *ast.Call) (string, bool) {
	if cmd, ok := stringArg(call, 0); ok {
		return cmd, true
	}
	if len(call.Args) > 0 {
		if list, ok := call.Args[0].(*ast.List); ok && len(list.Elts) > 0 {
			if str, ok := list.Elts[0].(*ast.Str); ok {
				return string(str.S), true
			}
		}
	}
	return "", false
}
