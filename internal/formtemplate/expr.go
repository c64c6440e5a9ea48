package formtemplate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	exprBegin = "${"
	exprEnd   = "}"
)

// evaluator renders ${...} expressions in cell values. Compiled programs are
// cached per expression.
type evaluator struct {
	cache sync.Map // expression -> *vm.Program
}

// Render replaces each ${...} in value with its result. A value that is a
// single expression keeps the result's type; anything else becomes a string.
func (e *evaluator) Render(value string, env map[string]interface{}) (interface{}, error) {
	segments := splitExpressions(value)
	if len(segments) == 1 && segments[0].expr {
		return e.eval(segments[0].text, env)
	}

	var b strings.Builder
	for _, seg := range segments {
		if !seg.expr {
			b.WriteString(seg.text)
			continue
		}
		out, err := e.eval(seg.text, env)
		if err != nil {
			return nil, err
		}
		if out != nil {
			fmt.Fprint(&b, out)
		}
	}
	return b.String(), nil
}

func (e *evaluator) eval(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := e.compile(expression, env)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}
	return out, nil
}

func (e *evaluator) compile(expression string, env map[string]interface{}) (*vm.Program, error) {
	if cached, ok := e.cache.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.cache.Store(expression, program)
	return program, nil
}

type segment struct {
	expr bool
	text string
}

// splitExpressions cuts "Дата: ${date}" into literal and expression parts.
// An unterminated "${" is kept as literal text.
func splitExpressions(value string) []segment {
	var out []segment
	rest := value
	for {
		start := strings.Index(rest, exprBegin)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+len(exprBegin):], exprEnd)
		if end < 0 {
			break
		}
		if start > 0 {
			out = append(out, segment{text: rest[:start]})
		}
		inner := rest[start+len(exprBegin) : start+len(exprBegin)+end]
		out = append(out, segment{expr: true, text: strings.TrimSpace(inner)})
		rest = rest[start+len(exprBegin)+end+len(exprEnd):]
	}
	if rest != "" || len(out) == 0 {
		out = append(out, segment{text: rest})
	}
	return out
}
