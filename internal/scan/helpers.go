package scan

import (
	"strings"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/py"
)

// walkNodes visits every node together with the line of its innermost
// enclosing statement. gpython records line numbers on statement nodes
// only; expression nodes report zero, so rules must take the line from
// here rather than from the node. The walk is pre-order, so the last
// statement seen before an expression is the one containing it.
func walkNodes(module *ast.Module, visit func(node ast.Ast, line int)) {
	line := 0
	ast.Walk(module, func(node ast.Ast) bool {
		if stmt, ok := node.(ast.Stmt); ok {
			line = stmt.GetLineno()
		}
		visit(node, line)
		return true
	})
}

// walkCalls visits every call expression in the module with the line of
// its enclosing statement
func walkCalls(module *ast.Module, visit func(call *ast.Call, line int)) {
	walkNodes(module, func(node ast.Ast, line int) {
		if call, ok := node.(*ast.Call); ok {
			visit(call, line)
		}
	})
}

// keywordIsTrue reports whether the call has keyword name=True
func keywordIsTrue(call *ast.Call, name string) bool {
	for _, kw := range call.Keywords {
		if kw == nil || string(kw.Arg) != name {
			continue
		}
		if nc, ok := kw.Value.(*ast.NameConstant); ok {
			return nc.Value == py.True
		}
	}
	return false
}

// keyword returns the value expression of the named keyword argument
func keyword(call *ast.Call, name string) (ast.Expr, bool) {
	for _, kw := range call.Keywords {
		if kw != nil && string(kw.Arg) == name {
			return kw.Value, true
		}
	}
	return nil, false
}

// stringArg returns the i-th positional argument if it is a string literal
func stringArg(call *ast.Call, i int) (string, bool) {
	if i < 0 || i >= len(call.Args) {
		return "", false
	}
	if str, ok := call.Args[i].(*ast.Str); ok {
		return string(str.S), true
	}
	return "", false
}

// hasPrefixToken reports whether s begins with the given command token,
// optionally preceded by sudo. Token-anchored so "crontabs" does not match
// "crontab".
func hasPrefixToken(s, token string) bool {
	fields := strings.Fields(s)
	if len(fields) > 0 && fields[0] == "sudo" {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return false
	}
	cmd := fields[0]
	// Tolerate absolute invocations like /usr/bin/crontab
	if i := strings.LastIndexByte(cmd, '/'); i >= 0 {
		cmd = cmd[i+1:]
	}
	return cmd == token
}
