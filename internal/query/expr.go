package query

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/moolen/hindsight/internal/models"
)

// Expr is a parsed arithmetic expression over named columns. The
// grammar is deliberately small: literals, column references, unary
// minus, the four binary operators and parentheses. Nothing else —
// this is an expression evaluator, not an interpreter.
type Expr struct {
	kind  exprKind
	value float64
	name  string
	op    byte
	left  *Expr
	right *Expr
}

type exprKind int

const (
	exprLiteral exprKind = iota
	exprColumn
	exprUnary
	exprBinary
)

var metricNameSanitizer = regexp.MustCompile(`[:\-./\s]+`)

// SanitizeName converts a metric name into an expression-safe
// identifier: runs of `: - . /` and whitespace collapse to a single
// underscore, then leading/trailing underscores are trimmed.
func SanitizeName(name string) string {
	s := metricNameSanitizer.ReplaceAllString(name, "_")
	return strings.Trim(s, "_")
}

// RewriteNames replaces raw metric names inside an expression with
// their sanitized identifiers. Longer originals are replaced first so
// a name that is a prefix of another cannot clobber it.
func RewriteNames(expression string, names []string) string {
	ordered := append([]string(nil), names...)
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, name := range ordered {
		sanitized := SanitizeName(name)
		if sanitized != name {
			expression = strings.ReplaceAll(expression, name, sanitized)
		}
	}
	return expression
}

// ParseExpr parses an arithmetic expression. Failures return
// InvalidExpressionError with the offending input.
func ParseExpr(input string) (*Expr, error) {
	p := &exprParser{input: input, src: []rune(input)}
	expr, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, models.NewInvalidExpressionError(input, "unexpected %q at position %d", string(p.src[p.pos]), p.pos)
	}
	return expr, nil
}

// Eval computes the expression over the given column values. Missing
// columns and division by zero are errors.
func (e *Expr) Eval(vars map[string]float64) (float64, error) {
	switch e.kind {
	case exprLiteral:
		return e.value, nil
	case exprColumn:
		val, ok := vars[e.name]
		if !ok {
			return 0, models.NewInvalidExpressionError(e.name, "unknown column %q", e.name)
		}
		return val, nil
	case exprUnary:
		v, err := e.left.Eval(vars)
		if err != nil {
			return 0, err
		}
		return -v, nil
	default:
		l, err := e.left.Eval(vars)
		if err != nil {
			return 0, err
		}
		r, err := e.right.Eval(vars)
		if err != nil {
			return 0, err
		}
		switch e.op {
		case '+':
			return l + r, nil
		case '-':
			return l - r, nil
		case '*':
			return l * r, nil
		case '/':
			if r == 0 {
				return math.NaN(), nil
			}
			return l / r, nil
		}
		return 0, models.NewInvalidExpressionError(string(e.op), "unknown operator")
	}
}

// Columns returns the column names referenced by the expression.
func (e *Expr) Columns() []string {
	seen := map[string]bool{}
	var walk func(*Expr)
	walk = func(n *Expr) {
		if n == nil {
			return
		}
		if n.kind == exprColumn {
			seen[n.name] = true
		}
		walk(n.left)
		walk(n.right)
	}
	walk(e)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type exprParser struct {
	input string
	src   []rune
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *exprParser) parseSum() (*Expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || (p.src[p.pos] != '+' && p.src[p.pos] != '-') {
			return left, nil
		}
		op := byte(p.src[p.pos])
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &Expr{kind: exprBinary, op: op, left: left, right: right}
	}
}

func (p *exprParser) parseProduct() (*Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || (p.src[p.pos] != '*' && p.src[p.pos] != '/') {
			return left, nil
		}
		op := byte(p.src[p.pos])
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &Expr{kind: exprBinary, op: op, left: left, right: right}
	}
}

func (p *exprParser) parseFactor() (*Expr, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, models.NewInvalidExpressionError(p.input, "unexpected end of expression")
	}

	switch c := p.src[p.pos]; {
	case c == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Expr{kind: exprUnary, left: inner}, nil

	case c == '(':
		p.pos++
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return nil, models.NewInvalidExpressionError(p.input, "missing closing parenthesis")
		}
		p.pos++
		return inner, nil

	case unicode.IsDigit(c) || c == '.':
		start := p.pos
		for p.pos < len(p.src) && (unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		lit := string(p.src[start:p.pos])
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, models.NewInvalidExpressionError(p.input, "invalid number %q", lit)
		}
		return &Expr{kind: exprLiteral, value: v}, nil

	case unicode.IsLetter(c) || c == '_':
		start := p.pos
		for p.pos < len(p.src) && (unicode.IsLetter(p.src[p.pos]) || unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '_') {
			p.pos++
		}
		return &Expr{kind: exprColumn, name: string(p.src[start:p.pos])}, nil

	default:
		return nil, models.NewInvalidExpressionError(p.input, "unexpected %q at position %d", string(c), p.pos)
	}
}
