package research

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var (
	mathPattern    = regexp.MustCompile(`\d+\s*[\+\-\*/]`)
	nonMathPattern = regexp.MustCompile(`[^0-9+\-*/().]`)
)

var (
	errDivisionByZero = errors.New("division by zero")
	errSyntax         = errors.New("invalid syntax")
)

const (
	maxNesting  = 200
	maxPowBits  = 1 << 20
	maxExponent = 1 << 16
)

// LooksLikeMath reports whether text has a number followed by an
// arithmetic operator.
func LooksLikeMath(text string) bool {
	return mathPattern.MatchString(text)
}

// Calculate evaluates the arithmetic in expr after dropping every
// character outside 0-9 + - * / ( ) and '.'. Problems come back as warning
// text, never as a panic.
func Calculate(expr string) string {
	cleaned := nonMathPattern.ReplaceAllString(expr, "")
	if cleaned == "" {
		return msgNotMath
	}

	v, err := evaluate(cleaned)
	if err != nil {
		return fmt.Sprintf(msgCalcError, err)
	}
	return v.String()
}

// number is an integer of arbitrary size or a float64.
type number struct {
	i       *big.Int
	f       float64
	isFloat bool
}

func intNum(i *big.Int) number { return number{i: i} }

func floatNum(f float64) number { return number{f: f, isFloat: true} }

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	f, _ := new(big.Float).SetInt(n.i).Float64()
	return f
}

func (n number) isZero() bool {
	if n.isFloat {
		return n.f == 0
	}
	return n.i.Sign() == 0
}

// String prints integers as-is and floats with at least one decimal.
func (n number) String() string {
	if !n.isFloat {
		return n.i.String()
	}
	f := n.f
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func checkFloat(f float64) (number, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return number{}, errors.New("numerical result out of range")
	}
	return floatNum(f), nil
}

type token struct {
	kind string // "num", "op", "(", ")"
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c >= '0' && c <= '9' || c == '.':
			j := i
			dots := 0
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				if s[j] == '.' {
					dots++
				}
				j++
			}
			lit := s[i:j]
			if dots > 1 || lit == "." {
				return nil, errSyntax
			}
			if dots == 0 && len(lit) > 1 && lit[0] == '0' && strings.Trim(lit, "0") != "" {
				return nil, errors.New("leading zeros in decimal integer literals are not permitted")
			}
			toks = append(toks, token{kind: "num", text: lit})
			i = j
		case c == '*' || c == '/':
			if i+1 < len(s) && s[i+1] == c {
				toks = append(toks, token{kind: "op", text: s[i : i+2]})
				i += 2
				continue
			}
			toks = append(toks, token{kind: "op", text: string(c)})
			i++
		case c == '+' || c == '-':
			toks = append(toks, token{kind: "op", text: string(c)})
			i++
		case c == '(' || c == ')':
			toks = append(toks, token{kind: string(c), text: string(c)})
			i++
		default:
			return nil, errSyntax
		}
	}
	return toks, nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func evaluate(s string) (number, error) {
	toks, err := tokenize(s)
	if err != nil {
		return number{}, err
	}
	p := &parser{toks: toks}
	v, err := p.expr()
	if err != nil {
		return number{}, err
	}
	if p.pos != len(p.toks) {
		return number{}, errSyntax
	}
	return v, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != "op" {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

// expr := term (('+' | '-') term)*
func (p *parser) expr() (number, error) {
	left, err := p.term()
	if err != nil {
		return number{}, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return number{}, err
		}
		if left, err = apply(op, left, right); err != nil {
			return number{}, err
		}
	}
}

// term := unary (('*' | '/' | '//') unary)*
func (p *parser) term() (number, error) {
	left, err := p.unary()
	if err != nil {
		return number{}, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "//")
		if !ok {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return number{}, err
		}
		if left, err = apply(op, left, right); err != nil {
			return number{}, err
		}
	}
}

// unary := ('+' | '-') unary | power
func (p *parser) unary() (number, error) {
	op, ok := p.acceptOp("+", "-")
	if !ok {
		return p.power()
	}
	if err := p.enter(); err != nil {
		return number{}, err
	}
	defer p.leave()

	v, err := p.unary()
	if err != nil {
		return number{}, err
	}
	if op == "+" {
		return v, nil
	}
	if v.isFloat {
		return floatNum(-v.f), nil
	}
	return intNum(new(big.Int).Neg(v.i)), nil
}

// power := primary ('**' unary)?
func (p *parser) power() (number, error) {
	base, err := p.primary()
	if err != nil {
		return number{}, err
	}
	if _, ok := p.acceptOp("**"); !ok {
		return base, nil
	}
	exp, err := p.unary()
	if err != nil {
		return number{}, err
	}
	return apply("**", base, exp)
}

// primary := number | '(' expr ')'
func (p *parser) primary() (number, error) {
	t, ok := p.peek()
	if !ok {
		return number{}, errSyntax
	}
	switch t.kind {
	case "num":
		p.pos++
		return parseNumber(t.text)
	case "(":
		if err := p.enter(); err != nil {
			return number{}, err
		}
		defer p.leave()

		p.pos++
		v, err := p.expr()
		if err != nil {
			return number{}, err
		}
		if t, ok := p.peek(); !ok || t.kind != ")" {
			return number{}, errors.New("'(' was never closed")
		}
		p.pos++
		return v, nil
	default:
		return number{}, errSyntax
	}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return errors.New("too many nested parentheses")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func parseNumber(lit string) (number, error) {
	if strings.Contains(lit, ".") {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return number{}, errSyntax
		}
		return floatNum(f), nil
	}
	i, ok := new(big.Int).SetString(lit, 10)
	if !ok {
		return number{}, errSyntax
	}
	return intNum(i), nil
}

func apply(op string, a, b number) (number, error) {
	bothInt := !a.isFloat && !b.isFloat

	switch op {
	case "+", "-", "*":
		if bothInt {
			r := new(big.Int)
			switch op {
			case "+":
				r.Add(a.i, b.i)
			case "-":
				r.Sub(a.i, b.i)
			default:
				r.Mul(a.i, b.i)
			}
			return intNum(r), nil
		}
		x, y := a.float(), b.float()
		switch op {
		case "+":
			return checkFloat(x + y)
		case "-":
			return checkFloat(x - y)
		default:
			return checkFloat(x * y)
		}

	case "/":
		if b.isZero() {
			return number{}, errDivisionByZero
		}
		if bothInt {
			f, _ := new(big.Rat).SetFrac(a.i, b.i).Float64()
			return checkFloat(f)
		}
		return checkFloat(a.float() / b.float())

	case "//":
		if b.isZero() {
			return number{}, errDivisionByZero
		}
		if bothInt {
			q, r := new(big.Int).QuoRem(a.i, b.i, new(big.Int))
			if r.Sign() != 0 && r.Sign() != b.i.Sign() {
				q.Sub(q, big.NewInt(1))
			}
			return intNum(q), nil
		}
		return checkFloat(math.Floor(a.float() / b.float()))

	case "**":
		return pow(a, b)
	}
	return number{}, errSyntax
}

func pow(a, b number) (number, error) {
	if !a.isFloat && !b.isFloat && b.i.Sign() >= 0 {
		if !b.i.IsInt64() || b.i.Int64() > maxExponent || int64(a.i.BitLen())*b.i.Int64() > maxPowBits {
			return number{}, errors.New("exponent too large")
		}
		return intNum(new(big.Int).Exp(a.i, b.i, nil)), nil
	}

	x, y := a.float(), b.float()
	if x == 0 && y < 0 {
		return number{}, errors.New("0.0 cannot be raised to a negative power")
	}
	if x < 0 && y != math.Trunc(y) {
		return number{}, errors.New("negative number cannot be raised to a fractional power")
	}
	return checkFloat(math.Pow(x, y))
}
