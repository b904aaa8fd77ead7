package transform

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokPunct
	tokOther
)

type token struct {
	kind  tokenKind
	text  string
	value string // unquoted contents for strings
	off   int    // byte offset of the first character
	line  int
	col   int
}

// SyntaxError is a scanner failure at a 0-based position of its input.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line+1, e.Column+1, e.Msg)
}

// ScanImports lists the module specifiers referenced by code in source
// order without duplicates. It recognises require("x"), import("x"),
// import declarations and export-from declarations. The scan is lenient so
// that TypeScript and JSX sources pass through; the only hard failure is an
// unterminated block comment.
func ScanImports(code []byte) ([]string, error) {
	toks, err := tokenize(string(code))
	if err != nil {
		return nil, err
	}

	var specs []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			specs = append(specs, s)
		}
	}

	for i, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if i > 0 && toks[i-1].kind == tokPunct && toks[i-1].text == "." {
			continue
		}
		switch t.text {
		case "require":
			if s, ok := callArg(toks, i+1); ok {
				add(s)
			}
		case "import":
			if s, ok := importSpec(toks, i+1); ok {
				add(s)
			}
		case "export":
			if s, ok := exportSpec(toks, i+1); ok {
				add(s)
			}
		}
	}
	return specs, nil
}

func isPunct(toks []token, i int, p string) bool {
	return i < len(toks) && toks[i].kind == tokPunct && toks[i].text == p
}

// callArg matches ( "x" ) or ( "x" , starting at i.
func callArg(toks []token, i int) (string, bool) {
	if !isPunct(toks, i, "(") || i+2 >= len(toks) || toks[i+1].kind != tokString {
		return "", false
	}
	if isPunct(toks, i+2, ")") || isPunct(toks, i+2, ",") {
		return toks[i+1].value, true
	}
	return "", false
}

func importSpec(toks []token, i int) (string, bool) {
	if i >= len(toks) {
		return "", false
	}
	switch {
	case toks[i].kind == tokString:
		return toks[i].value, true
	case isPunct(toks, i, "("):
		return callArg(toks, i)
	case isPunct(toks, i, "."):
		return "", false
	}
	return fromClause(toks, i)
}

func exportSpec(toks []token, i int) (string, bool) {
	switch {
	case isPunct(toks, i, "*"):
		return fromClause(toks, i+1)
	case isPunct(toks, i, "{"):
		for j := i + 1; j < len(toks); j++ {
			if isPunct(toks, j, "}") {
				return fromClause(toks, j+1)
			}
			if isPunct(toks, j, ";") || isPunct(toks, j, "{") {
				return "", false
			}
		}
	case i < len(toks) && toks[i].kind == tokIdent && toks[i].text == "type":
		return exportSpec(toks, i+1)
	}
	return "", false
}

// fromClause finds `from "x"` before the end of the declaration.
func fromClause(toks []token, i int) (string, bool) {
	for j := i; j < len(toks); j++ {
		t := toks[j]
		if t.kind == tokPunct && (t.text == ";" || t.text == "(" || t.text == "=") {
			return "", false
		}
		if t.kind == tokString {
			return "", false
		}
		if t.kind == tokIdent && t.text == "from" && j+1 < len(toks) && toks[j+1].kind == tokString {
			return toks[j+1].value, true
		}
	}
	return "", false
}

// keywords after which a slash starts a regular expression
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

type lexer struct {
	src   string
	pos   int
	line  int
	col   int
	toks  []token
	depth []int // brace depth at each open template substitution
	brace int
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.toks, nil
}

func (lx *lexer) peek(off int) byte {
	if lx.pos+off < len(lx.src) {
		return lx.src[lx.pos+off]
	}
	return 0
}

func (lx *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
	lx.pos += size
	if r == '\n' {
		lx.line++
		lx.col = 0
	} else {
		lx.col += sourcemap.Units(r)
	}
	return r
}

func (lx *lexer) emit(kind tokenKind, text, value string, off, line, col int) {
	lx.toks = append(lx.toks, token{kind: kind, text: text, value: value, off: off, line: line, col: col})
}

func (lx *lexer) regexAllowed() bool {
	if len(lx.toks) == 0 {
		return true
	}
	last := lx.toks[len(lx.toks)-1]
	switch last.kind {
	case tokIdent:
		return regexKeywords[last.text]
	case tokString, tokOther:
		return false
	}
	return last.text != ")" && last.text != "]" && last.text != "}"
}

func (lx *lexer) run() error {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		line, col, start := lx.line, lx.col, lx.pos

		switch {
		case c == '/' && lx.peek(1) == '/':
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.advance()
			}

		case c == '/' && lx.peek(1) == '*':
			end := strings.Index(lx.src[lx.pos+2:], "*/")
			if end < 0 {
				return &SyntaxError{Line: line, Column: col, Msg: "unterminated comment"}
			}
			for lx.pos < start+2+end+2 {
				lx.advance()
			}

		case c == '\'' || c == '"':
			value := lx.quoted(c)
			lx.emit(tokString, lx.src[start:lx.pos], value, start, line, col)

		case c == '`':
			lx.advance()
			lx.template()
			lx.emit(tokOther, "`", "", start, line, col)

		case c == '/' && lx.regexAllowed():
			lx.regex()
			lx.emit(tokOther, lx.src[start:lx.pos], "", start, line, col)

		case c == '{':
			lx.advance()
			lx.brace++
			lx.emit(tokPunct, "{", "", start, line, col)

		case c == '}':
			lx.advance()
			if n := len(lx.depth); n > 0 && lx.depth[n-1] == lx.brace {
				lx.depth = lx.depth[:n-1]
				lx.template()
				lx.emit(tokOther, "`", "", start, line, col)
				continue
			}
			lx.brace--
			lx.emit(tokPunct, "}", "", start, line, col)

		case isIdentStart(c):
			for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
				lx.advance()
			}
			lx.emit(tokIdent, lx.src[start:lx.pos], "", start, line, col)

		case c >= '0' && c <= '9':
			for lx.pos < len(lx.src) && (isIdentPart(lx.src[lx.pos]) || lx.src[lx.pos] == '.') {
				lx.advance()
			}
			lx.emit(tokOther, lx.src[start:lx.pos], "", start, line, col)

		default:
			r := lx.advance()
			if unicode.IsSpace(r) {
				continue
			}
			if r >= utf8.RuneSelf {
				lx.emit(tokIdent, string(r), "", start, line, col)
				continue
			}
			lx.emit(tokPunct, string(r), "", start, line, col)
		}
	}
	return nil
}

// quoted consumes a string literal and returns its contents. A line break
// ends an unterminated literal.
func (lx *lexer) quoted(quote byte) string {
	lx.advance()
	var b strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == quote:
			lx.advance()
			return b.String()
		case c == '\n':
			return b.String()
		case c == '\\' && lx.pos+1 < len(lx.src):
			lx.advance()
			b.WriteRune(lx.advance())
		default:
			b.WriteRune(lx.advance())
		}
	}
	return b.String()
}

// template consumes template literal text up to the closing backtick or the
// start of a substitution.
func (lx *lexer) template() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '`':
			lx.advance()
			return
		case c == '\\':
			lx.advance()
			if lx.pos < len(lx.src) {
				lx.advance()
			}
		case c == '$' && lx.peek(1) == '{':
			lx.advance()
			lx.advance()
			lx.depth = append(lx.depth, lx.brace)
			return
		default:
			lx.advance()
		}
	}
}

func (lx *lexer) regex() {
	lx.advance()
	inClass := false
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\n':
			return
		case c == '\\':
			lx.advance()
			if lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.advance()
			}
			continue
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			lx.advance()
			for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
				lx.advance()
			}
			return
		}
		lx.advance()
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
