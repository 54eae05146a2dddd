package scan

import (
	"strings"

	"github.com/go-python/gpython/ast"
)

// AliasTable maps locally bound names to the fully-qualified symbol they
// originate from. It is built once per scan from import statements and is
// read-only to every rule afterwards, so `from os import system as s` and
// `os.system` resolve identically.
//
// Plain-assignment rebinding (`e = os.environ; e["X"] = ...`) is a known
// limitation: there is no general data-flow tracking, only import aliasing.
type AliasTable map[string]string

// BuildAliasTable walks every import statement in the module
func BuildAliasTable(module *ast.Module) AliasTable {
	table := AliasTable{}

	ast.Walk(module, func(node ast.Ast) bool {
		switch n := node.(type) {
		case *ast.Import:
			// import X / import X as Y / import X.Y.Z
			for _, alias := range n.Names {
				name := string(alias.Name)
				if alias.AsName != "" {
					// import os.path as p binds p to the full dotted path
					table[string(alias.AsName)] = name
				} else {
					// import os.path binds only the root name os
					root := name
					if i := strings.IndexByte(name, '.'); i >= 0 {
						root = name[:i]
					}
					table[root] = root
				}
			}
		case *ast.ImportFrom:
			// from X import Y / from X import Y as Z
			from := string(n.Module)
			for _, alias := range n.Names {
				name := string(alias.Name)
				if name == "*" {
					continue
				}
				local := name
				if alias.AsName != "" {
					local = string(alias.AsName)
				}
				if from != "" {
					table[local] = from + "." + name
				} else {
					table[local] = name
				}
			}
		}
		return true
	})

	return table
}

// Resolve returns the fully-qualified dotted path for a Name or an
// Attribute chain rooted at a Name, applying import aliases. Returns ""
// for expressions it cannot interpret (calls, subscripts, literals).
func (t AliasTable) Resolve(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Name:
		name := string(e.Id)
		if qualified, ok := t[name]; ok {
			return qualified
		}
		return name
	case *ast.Attribute:
		base := t.Resolve(e.Value)
		if base == "" {
			return ""
		}
		return base + "." + string(e.Attr)
	}
	return ""
}
