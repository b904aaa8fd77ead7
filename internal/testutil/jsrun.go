package testutil

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// RunBundle evaluates bundle code as a classic browser script in a fresh
// JavaScript runtime and returns the runtime for inspecting globals.
func RunBundle(t testing.TB, name string, code []byte) *goja.Runtime {
	t.Helper()
	prg, err := goja.Parse(name, string(code), parser.WithDisableSourceMaps)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	p, err := goja.CompileAST(prg, false)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	vm := goja.New()
	if _, err := vm.RunProgram(p); err != nil {
		t.Fatalf("run %s: %v", name, err)
	}
	return vm
}

// Eval runs expr in vm and returns its exported Go value.
func Eval(t testing.TB, vm *goja.Runtime, expr string) interface{} {
	t.Helper()
	v, err := vm.RunString(expr)
	if err != nil {
		t.Fatalf("eval %s: %v", expr, err)
	}
	return v.Export()
}
