// expr.go evaluates #if/#elif constant expressions.
package cpp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

var errEmptyExpression = errors.New("#if with no expression")

// EvalExpression evaluates an #if expression with macros from s's table.
func EvalExpression(text string, s *Scanner) (int64, error) {
	return s.evalExpression(text, s.currentLoc())
}

func (s *Scanner) evalExpression(text string, loc SourceLoc) (int64, error) {
	sub := s.subScanner(text, nil, loc)
	sub.exprMode = true
	sub.cfg.IncludeSpaces = false

	p := &exprParser{src: sub, warn: func(msg string) {
		s.report(CategoryDirective, SeverityWarning, loc, msg)
	}}
	if p.peek().Type == PP_EOF {
		return 0, errEmptyExpression
	}
	val, err := p.parseConditional(true)
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.Type != PP_EOF {
		return 0, fmt.Errorf("unexpected token after expression: %s", tok.Text)
	}
	return val, nil
}

// tokenSource is the macro-expanding token stream the parser reads.
type tokenSource interface {
	Next() Token
	Peek() Token
	NextUnexpanded() Token
}

// exprParser parses and evaluates preprocessor constant expressions.
// Every parse method takes live=false inside a branch whose value is
// discarded; such branches report no arithmetic errors.
type exprParser struct {
	src    tokenSource
	warn   func(msg string)
	parens int // open '(' groups being parsed
}

func (p *exprParser) peek() Token {
	return p.src.Peek()
}

func (p *exprParser) advance() Token {
	return p.src.Next()
}

func (p *exprParser) isPunct(text string) bool {
	tok := p.peek()
	return tok.Type == PP_PUNCTUATOR && tok.Text == text
}

func (p *exprParser) match(text string) bool {
	if p.isPunct(text) {
		p.advance()
		return true
	}
	return false
}

func boolVal(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Precedence: conditional -> logicalOr -> logicalAnd -> bitwiseOr -> bitwiseXor -> bitwiseAnd
//             -> equality -> relational -> shift -> additive -> multiplicative -> unary -> primary

func (p *exprParser) parseConditional(live bool) (int64, error) {
	cond, err := p.parseLogicalOr(live)
	if err != nil {
		return 0, err
	}

	if !p.match("?") {
		return cond, nil
	}
	thenVal, err := p.parseConditional(live && cond != 0)
	if err != nil {
		return 0, err
	}
	if !p.match(":") {
		return 0, fmt.Errorf("expected ':' in conditional expression")
	}
	elseVal, err := p.parseConditional(live && cond == 0)
	if err != nil {
		return 0, err
	}
	if cond != 0 {
		return thenVal, nil
	}
	return elseVal, nil
}

func (p *exprParser) parseLogicalOr(live bool) (int64, error) {
	left, err := p.parseLogicalAnd(live)
	if err != nil {
		return 0, err
	}

	for p.match("||") {
		if left != 0 {
			// right operand is never evaluated
			p.skipOperand("||", "?", ":")
			continue
		}
		right, err := p.parseLogicalAnd(live)
		if err != nil {
			return 0, err
		}
		left = boolVal(right != 0)
	}

	return left, nil
}

func (p *exprParser) parseLogicalAnd(live bool) (int64, error) {
	left, err := p.parseBitwiseOr(live)
	if err != nil {
		return 0, err
	}

	for p.match("&&") {
		if left == 0 {
			p.skipOperand("&&", "||", "?", ":")
			continue
		}
		right, err := p.parseBitwiseOr(live)
		if err != nil {
			return 0, err
		}
		left = boolVal(right != 0)
	}

	return left, nil
}

// skipOperand consumes a short-circuited operand without evaluating it: all
// tokens up to one of stops, the ')' closing an open group or the end of
// the expression.
func (p *exprParser) skipOperand(stops ...string) {
	depth := 0
	for {
		tok := p.peek()
		if tok.Type == PP_EOF {
			return
		}
		if tok.Type == PP_PUNCTUATOR {
			switch {
			case tok.Text == "(":
				depth++
			case tok.Text == ")":
				if depth == 0 && p.parens > 0 {
					return
				}
				if depth > 0 {
					depth--
				}
			case depth == 0 && slices.Contains(stops, tok.Text):
				return
			}
		}
		p.advance()
		if tok.Type == PP_IDENTIFIER && tok.Text == "defined" {
			// the operand stays unexpanded; a malformed one is not an error here
			p.definedOperand()
		}
	}
}

// binaryLevel parses one left-associative level of binary operators.
func (p *exprParser) binaryLevel(live bool, next func(bool) (int64, error), ops ...string) (int64, error) {
	left, err := next(live)
	if err != nil {
		return 0, err
	}
	for {
		tok := p.peek()
		if tok.Type != PP_PUNCTUATOR || !slices.Contains(ops, tok.Text) {
			return left, nil
		}
		p.advance()
		right, err := next(live)
		if err != nil {
			return 0, err
		}
		left = p.applyBinary(tok.Text, left, right, live)
	}
}

func (p *exprParser) parseBitwiseOr(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseBitwiseXor, "|")
}

func (p *exprParser) parseBitwiseXor(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseBitwiseAnd, "^")
}

func (p *exprParser) parseBitwiseAnd(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseEquality, "&")
}

func (p *exprParser) parseEquality(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseRelational, "==", "!=")
}

func (p *exprParser) parseRelational(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseShift, "<", "<=", ">", ">=")
}

func (p *exprParser) parseShift(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseAdditive, "<<", ">>")
}

func (p *exprParser) parseAdditive(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseMultiplicative, "+", "-")
}

func (p *exprParser) parseMultiplicative(live bool) (int64, error) {
	return p.binaryLevel(live, p.parseUnary, "*", "/", "%")
}

func (p *exprParser) applyBinary(op string, left, right int64, live bool) int64 {
	switch op {
	case "|":
		return left | right
	case "^":
		return left ^ right
	case "&":
		return left & right
	case "==":
		return boolVal(left == right)
	case "!=":
		return boolVal(left != right)
	case "<":
		return boolVal(left < right)
	case "<=":
		return boolVal(left <= right)
	case ">":
		return boolVal(left > right)
	case ">=":
		return boolVal(left >= right)
	case "<<":
		return left << uint64(right)
	case ">>":
		return left >> uint64(right)
	case "+":
		return left + right
	case "-":
		return left - right
	case "*":
		return left * right
	case "/", "%":
		if right == 0 {
			// evaluates to 0; only reported when the operand is live
			if live && p.warn != nil {
				p.warn(fmt.Sprintf("division by zero in #if (operator %s)", op))
			}
			return 0
		}
		if op == "/" {
			return left / right
		}
		return left % right
	}
	return 0
}

func (p *exprParser) parseUnary(live bool) (int64, error) {
	tok := p.peek()
	if tok.Type == PP_PUNCTUATOR {
		switch tok.Text {
		case "!", "-", "+", "~":
			p.advance()
			val, err := p.parseUnary(live)
			if err != nil {
				return 0, err
			}
			switch tok.Text {
			case "!":
				return boolVal(val == 0), nil
			case "-":
				return -val, nil
			case "~":
				return ^val, nil
			}
			return val, nil
		}
	}

	return p.parsePrimary(live)
}

func (p *exprParser) parsePrimary(live bool) (int64, error) {
	tok := p.peek()

	switch tok.Type {
	case PP_PUNCTUATOR:
		if tok.Text == "(" {
			p.advance()
			p.parens++
			val, err := p.parseConditional(live)
			if err != nil {
				return 0, err
			}
			if !p.match(")") {
				return 0, fmt.Errorf("missing ')' in expression")
			}
			p.parens--
			return val, nil
		}
	case PP_NUMBER:
		p.advance()
		return parseNumber(tok.Text)
	case PP_CHAR_CONST:
		p.advance()
		return parseCharConst(tok.Text)
	case PP_IDENTIFIER:
		p.advance()
		if tok.Text == "defined" {
			name, err := p.definedOperand()
			if err != nil {
				return 0, err
			}
			return boolVal(p.isDefined(name)), nil
		}
		// identifiers left after expansion evaluate to 0
		return 0, nil
	case PP_EOF:
		return 0, fmt.Errorf("missing operand at end of expression")
	}

	return 0, fmt.Errorf("token %q is not valid in preprocessor expressions", tok.Text)
}

func (p *exprParser) isDefined(name string) bool {
	if s, ok := p.src.(*Scanner); ok {
		return s.macros.IsDefined(name)
	}
	return false
}

// definedOperand reads NAME or ( NAME ) after "defined", unexpanded.
func (p *exprParser) definedOperand() (string, error) {
	tok := p.src.NextUnexpanded()
	paren := tok.Type == PP_PUNCTUATOR && tok.Text == "("
	if paren {
		tok = p.src.NextUnexpanded()
	}
	if tok.Type != PP_IDENTIFIER {
		return "", fmt.Errorf("operator \"defined\" requires an identifier")
	}
	if paren {
		if closing := p.src.NextUnexpanded(); closing.Type != PP_PUNCTUATOR || closing.Text != ")" {
			return "", fmt.Errorf("missing ')' after \"defined\"")
		}
	}
	return tok.Text, nil
}

// parseNumber parses an integer constant from a string.
func parseNumber(s string) (int64, error) {
	text := s
	// Remove any suffix (L, U, LL, etc.)
	s = strings.TrimRight(s, "lLuU")

	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		base, s = 2, s[2:]
	case len(s) > 1 && s[0] == '0':
		base, s = 8, s[1:]
	}

	val, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer constant %q in #if", text)
	}
	return int64(val), nil
}

// parseCharConst parses a character constant like 'a' or '\n'.
func parseCharConst(s string) (int64, error) {
	if len(s) < 3 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return 0, fmt.Errorf("invalid character constant: %s", s)
	}
	inner := s[1 : len(s)-1]

	if inner[0] != '\\' {
		return int64(inner[0]), nil
	}
	if len(inner) < 2 {
		return 0, fmt.Errorf("invalid escape sequence")
	}
	switch inner[1] {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case '\\':
		return '\\', nil
	case '\'':
		return '\'', nil
	case '"':
		return '"', nil
	case '?':
		return '?', nil
	case 'a':
		return '\a', nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case 'v':
		return '\v', nil
	case 'x':
		val, err := strconv.ParseInt(inner[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hex escape in %s", s)
		}
		return val, nil
	}
	if inner[1] >= '0' && inner[1] <= '7' {
		val, err := strconv.ParseInt(inner[1:], 8, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid octal escape in %s", s)
		}
		return val, nil
	}
	return 0, fmt.Errorf("unknown escape sequence: %s", inner)
}
