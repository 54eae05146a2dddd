package scan

import (
	"reflect"
	"testing"

	"github.com/pygate/pygate/internal/types"
)

func testOptions() Options {
	return Options{
		CriticalPaths: []string{"~/.bashrc", "~/.zshrc", "~/.ssh", "/etc/passwd"},
		SystemPaths:   []string{"/etc", "/usr"},
	}
}

func ruleIDs(findings []types.Finding) []string {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.RuleID)
	}
	return ids
}

func hasRule(findings []types.Finding, ruleID string) bool {
	for _, f := range findings {
		if f.RuleID == ruleID {
			return true
		}
	}
	return false
}

func TestScanAST_EvalIsCritical(t *testing.T) {
	findings := ScanAST("eval(user_input)\n", testOptions())

	if !hasRule(findings, "EXEC001") {
		t.Fatalf("expected EXEC001, got %v", ruleIDs(findings))
	}
	for _, f := range findings {
		if f.RuleID == "EXEC001" {
			if f.Severity != types.SeverityCritical {
				t.Errorf("expected CRITICAL, got %s", f.Severity)
			}
			if f.Line != 1 {
				t.Errorf("expected line 1, got %d", f.Line)
			}
		}
	}
}

func TestScanAST_EvalInStringLiteralNotFlagged(t *testing.T) {
	findings := ScanAST("msg = \"please do not eval this\"\n# eval(x) in a comment\n", testOptions())

	if len(findings) != 0 {
		t.Errorf("expected no findings for eval in string/comment, got %v", ruleIDs(findings))
	}
}

func TestScanAST_ImportAliasResolved(t *testing.T) {
	tests := []struct {
		name   string
		source string
		rule   string
	}{
		{"module alias", "import os as o\no.system(\"ls\")\n", "PROC001"},
		{"from import alias", "from os import system as s\ns(\"ls\")\n", "PROC001"},
		{"direct", "import os\nos.system(\"ls\")\n", "PROC001"},
		{"subprocess alias", "import subprocess as sp\nsp.run([\"ls\"], shell=True)\n", "PROC002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := ScanAST(tt.source, testOptions())
			if !hasRule(findings, tt.rule) {
				t.Errorf("expected %s, got %v", tt.rule, ruleIDs(findings))
			}
		})
	}
}

func TestScanAST_SubprocessWithoutShellIsHigh(t *testing.T) {
	findings := ScanAST("import subprocess\nsubprocess.run([\"ls\", \"-la\"])\n", testOptions())

	if !hasRule(findings, "PROC003") {
		t.Fatalf("expected PROC003, got %v", ruleIDs(findings))
	}
	if hasRule(findings, "PROC002") {
		t.Error("shell=True rule must not fire without shell=True")
	}
	for _, f := range findings {
		if f.RuleID == "PROC003" && f.Severity != types.SeverityHigh {
			t.Errorf("expected HIGH for PROC003, got %s", f.Severity)
		}
	}
}

func TestScanAST_EnvironWrites(t *testing.T) {
	tests := []struct {
		name   string
		source string
		rule   string
	}{
		{"subscript assign", "import os\nos.environ[\"PATH\"] = \"/tmp\"\n", "ENV001"},
		{"del", "import os\ndel os.environ[\"PATH\"]\n", "ENV001"},
		{"update", "import os\nos.environ.update({\"A\": \"1\"})\n", "ENV002"},
		{"pop", "import os\nos.environ.pop(\"A\")\n", "ENV002"},
		{"putenv", "import os\nos.putenv(\"A\", \"1\")\n", "ENV003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := ScanAST(tt.source, testOptions())
			if !hasRule(findings, tt.rule) {
				t.Errorf("expected %s, got %v", tt.rule, ruleIDs(findings))
			}
			for _, f := range findings {
				if f.Severity != types.SeverityCritical {
					t.Errorf("expected CRITICAL, got %s for %s", f.Severity, f.RuleID)
				}
			}
		})
	}
}

func TestScanAST_EnvironReadsNotFlagged(t *testing.T) {
	findings := ScanAST("import os\np = os.environ.get(\"PATH\")\nh = os.getenv(\"HOME\")\n", testOptions())

	if len(findings) != 0 {
		t.Errorf("expected no findings for environment reads, got %v", ruleIDs(findings))
	}
}

func TestScanAST_WriteModeOpenOnProtectedPath(t *testing.T) {
	findings := ScanAST("f = open(\"/home/user/.bashrc\", \"a\")\n", testOptions())

	if !hasRule(findings, "FILE002") {
		t.Fatalf("expected FILE002, got %v", ruleIDs(findings))
	}
	for _, f := range findings {
		if f.RuleID == "FILE002" && f.Severity != types.SeverityCritical {
			t.Errorf("expected CRITICAL for critical path, got %s", f.Severity)
		}
	}
}

func TestScanAST_ReadModeOpenNotFlagged(t *testing.T) {
	findings := ScanAST("f = open(\"/home/user/.bashrc\")\ng = open(\"/etc/passwd\", \"r\")\n", testOptions())

	if len(findings) != 0 {
		t.Errorf("expected no findings for read-mode opens, got %v", ruleIDs(findings))
	}
}

func TestScanAST_WriteModeOpenOnSystemPathIsHigh(t *testing.T) {
	findings := ScanAST("f = open(\"/etc/myapp.conf\", \"w\")\n", testOptions())

	if !hasRule(findings, "FILE002") {
		t.Fatalf("expected FILE002, got %v", ruleIDs(findings))
	}
	for _, f := range findings {
		if f.RuleID == "FILE002" && f.Severity != types.SeverityHigh {
			t.Errorf("expected HIGH for system path, got %s", f.Severity)
		}
	}
}

func TestScanAST_PathWriteText(t *testing.T) {
	source := "from pathlib import Path\nPath(\"/home/u/.zshrc\").write_text(\"alias ls=x\")\n"
	findings := ScanAST(source, testOptions())

	if !hasRule(findings, "FILE003") {
		t.Errorf("expected FILE003, got %v", ruleIDs(findings))
	}
}

func TestScanAST_ShutilMoveIntoProtectedPath(t *testing.T) {
	source := "import shutil\nshutil.move(\"payload\", \"/home/u/.ssh/authorized_keys\")\n"
	findings := ScanAST(source, testOptions())

	if !hasRule(findings, "FILE005") {
		t.Errorf("expected FILE005, got %v", ruleIDs(findings))
	}
}

func TestScanAST_Rmtree(t *testing.T) {
	findings := ScanAST("import shutil\nshutil.rmtree(\"/tmp/workdir\")\n", testOptions())

	if !hasRule(findings, "FILE001") {
		t.Fatalf("expected FILE001, got %v", ruleIDs(findings))
	}
}

func TestScanAST_PickleLoad(t *testing.T) {
	findings := ScanAST("import pickle\nobj = pickle.loads(blob)\n", testOptions())

	if !hasRule(findings, "DESER001") {
		t.Errorf("expected DESER001, got %v", ruleIDs(findings))
	}
}

func TestScanAST_YamlLoad(t *testing.T) {
	unsafe := ScanAST("import yaml\ncfg = yaml.load(text)\n", testOptions())
	if !hasRule(unsafe, "DESER002") {
		t.Errorf("expected DESER002 for bare yaml.load, got %v", ruleIDs(unsafe))
	}

	safe := ScanAST("import yaml\ncfg = yaml.load(text, Loader=yaml.SafeLoader)\n", testOptions())
	if hasRule(safe, "DESER002") {
		t.Error("yaml.load with SafeLoader must not be flagged")
	}

	safeLoad := ScanAST("import yaml\ncfg = yaml.safe_load(text)\n", testOptions())
	if len(safeLoad) != 0 {
		t.Errorf("expected no findings for yaml.safe_load, got %v", ruleIDs(safeLoad))
	}
}

func TestScanAST_GetattrBuiltinsEval(t *testing.T) {
	source := "import builtins\nf = getattr(builtins, \"eval\")\nf(\"1+1\")\n"
	findings := ScanAST(source, testOptions())

	if !hasRule(findings, "EXEC003") {
		t.Errorf("expected EXEC003, got %v", ruleIDs(findings))
	}
}

func TestScanAST_GlobalsSubscriptCall(t *testing.T) {
	findings := ScanAST("globals()[\"ev\" + \"al\"](\"1+1\")\n", testOptions())

	if !hasRule(findings, "EXEC004") {
		t.Errorf("expected EXEC004, got %v", ruleIDs(findings))
	}
}

func TestScanAST_DunderBuiltins(t *testing.T) {
	findings := ScanAST("f = __builtins__.eval\n", testOptions())

	if !hasRule(findings, "EXEC002") {
		t.Errorf("expected EXEC002, got %v", ruleIDs(findings))
	}
}

func TestScanAST_CrontabPersistence(t *testing.T) {
	source := "import subprocess\nsubprocess.run(\"crontab /tmp/evil\", shell=True)\n"
	findings := ScanAST(source, testOptions())

	if !hasRule(findings, "PERS001") {
		t.Errorf("expected PERS001, got %v", ruleIDs(findings))
	}
}

func TestScanAST_UnparsableSourceYieldsNoFindings(t *testing.T) {
	findings := ScanAST("def broken(:\n    pass\n", testOptions())

	if findings != nil {
		t.Errorf("expected nil findings for unparsable source, got %v", ruleIDs(findings))
	}
}

func TestScanAST_CleanSource(t *testing.T) {
	source := `import json
import math

def summarize(data):
    parsed = json.loads(data)
    return {k: math.sqrt(v) for k, v in parsed.items()}

result = summarize('{"a": 4}')
print(result)
`
	findings := ScanAST(source, testOptions())

	if len(findings) != 0 {
		t.Errorf("expected no findings for clean source, got %v", ruleIDs(findings))
	}
}

func TestScanAST_FindingsSortedByLine(t *testing.T) {
	source := "import os\nos.system(\"ls\")\neval(x)\nos.putenv(\"A\", \"1\")\n"
	findings := ScanAST(source, testOptions())

	for i := 1; i < len(findings); i++ {
		if findings[i].Line < findings[i-1].Line {
			t.Fatalf("findings not sorted by line: %v", findings)
		}
	}
}

func TestScanAST_Deterministic(t *testing.T) {
	sources := []string{
		"import os\nos.system(\"ls\")\n",
		"eval(x)\nexec(y)\n",
		"import subprocess\nsubprocess.run([\"ls\"])\n",
		"print('hello')\n",
		"import os\nos.environ[\"A\"] = \"1\"\ndel os.environ[\"B\"]\n",
	}

	for _, src := range sources {
		first := ScanAST(src, testOptions())
		second := ScanAST(src, testOptions())
		if !reflect.DeepEqual(first, second) {
			t.Errorf("scan not deterministic for %q:\nfirst:  %v\nsecond: %v", src, first, second)
		}
	}
}

func TestScanAST_FindingsCarryStatementLines(t *testing.T) {
	source := "x = 1\nimport os\nos.system(\"ls\")\n\neval(code)\n"
	findings := ScanAST(source, testOptions())

	wantLines := map[string]int{
		"PROC001": 3,
		"EXEC001": 5,
	}
	for ruleID, line := range wantLines {
		found := false
		for _, f := range findings {
			if f.RuleID != ruleID {
				continue
			}
			found = true
			if f.Line != line {
				t.Errorf("%s: expected line %d, got %d", ruleID, line, f.Line)
			}
			if f.Snippet == "" {
				t.Errorf("%s: expected a snippet for line %d", ruleID, line)
			}
		}
		if !found {
			t.Errorf("missing %s in %v", ruleID, ruleIDs(findings))
		}
	}
}

func TestScanAST_LinesInsideFunctionBodies(t *testing.T) {
	source := "def helper():\n    data = 1\n    eval(data)\n"
	findings := ScanAST(source, testOptions())

	if !hasRule(findings, "EXEC001") {
		t.Fatalf("expected EXEC001, got %v", ruleIDs(findings))
	}
	for _, f := range findings {
		if f.RuleID == "EXEC001" && f.Line != 3 {
			t.Errorf("expected the enclosing statement line 3, got %d", f.Line)
		}
	}
}
