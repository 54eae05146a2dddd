package scan

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestAliasInvarianceProperty checks that detection does not depend on the
// name a dangerous module is imported under.
func TestAliasInvarianceProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("os.system is flagged under any alias", prop.ForAll(
		func(alias string) bool {
			source := fmt.Sprintf("import os as %s\n%s.system(\"ls\")\n", alias, alias)
			return hasRule(ScanAST(source, testOptions()), "PROC001")
		},
		gen.OneConstOf("o", "ops", "platform_io", "m1", "zz", "helper"),
	))

	properties.Property("from-import alias of system is flagged", prop.ForAll(
		func(alias string) bool {
			source := fmt.Sprintf("from os import system as %s\n%s(\"ls\")\n", alias, alias)
			return hasRule(ScanAST(source, testOptions()), "PROC001")
		},
		gen.OneConstOf("run", "shell", "call_it", "s2"),
	))

	properties.Property("scanning is deterministic", prop.ForAll(
		func(idx int) bool {
			sources := []string{
				"import os\nos.system(\"ls\")\n",
				"eval(x)\npickle.loads(blob)\n",
				"import subprocess as sp\nsp.run(cmd, shell=True)\n",
				"x = 1\ny = x + 1\n",
			}
			source := sources[idx]
			first := ScanAST(source, testOptions())
			for i := 0; i < 3; i++ {
				if !reflect.DeepEqual(first, ScanAST(source, testOptions())) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
