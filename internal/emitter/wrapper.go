package emitter

import (
	"fmt"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// envelope returns the text placed before and after the loader. The loader
// body evaluates to the library value with a return statement.
func envelope(kind, name string) (string, string, error) {
	quoted := quote(name)
	switch kind {
	case config.WrapperUMD:
		pre := "(function (root, factory) {\n" +
			"  if (typeof define === \"function\" && define.amd) {\n" +
			"    define([], factory);\n" +
			"  } else if (typeof module === \"object\" && module.exports) {\n" +
			"    module.exports = factory();\n" +
			"  } else {\n" +
			"    root[" + quoted + "] = factory();\n" +
			"  }\n" +
			"})(typeof self !== \"undefined\" ? self : this, function () {\n"
		return pre, "});\n", nil

	case config.WrapperESM:
		return "var __fluxpack_default = (function () {\n", "})();\nexport default __fluxpack_default;\n", nil

	case config.WrapperCommonJS:
		return "module.exports = (function () {\n", "})();\n", nil

	case config.WrapperGlobal:
		if isIdentifier(name) {
			return "var " + name + " = (function () {\n", "})();\n", nil
		}
		return "(typeof self !== \"undefined\" ? self : this)[" + quoted + "] = (function () {\n", "})();\n", nil
	}
	return "", "", fmt.Errorf("unknown library type %q", kind)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
