// expand.go implements macro argument substitution, stringification and
// token pasting. The result of an expansion is replacement text that the
// scanner pushes as a rescan context.
package cpp

import (
	"fmt"
	"strings"
)

// hideSet is the set of macro names being expanded on the path from a
// rescan context down to its file. A hideSet is never mutated once built.
type hideSet map[string]struct{}

func (h hideSet) contains(name string) bool {
	_, ok := h[name]
	return ok
}

// with returns a copy of h that also holds name.
func (h hideSet) with(name string) hideSet {
	out := make(hideSet, len(h)+1)
	for k := range h {
		out[k] = struct{}{}
	}
	out[name] = struct{}{}
	return out
}

// argCountError checks the number of actual arguments against the macro.
// args always holds at least one (possibly empty) argument.
func argCountError(m *Macro, args [][]Token) error {
	got := len(args)
	if got == 1 && len(trimWhitespace(args[0])) == 0 && len(m.Params) == 0 {
		got = 0
	}
	expected := len(m.Params)

	if m.IsVariadic {
		if got < expected {
			return fmt.Errorf("macro %s requires at least %d arguments, got %d",
				m.Name, expected, got)
		}
		return nil
	}
	if got != expected {
		return fmt.Errorf("macro %s requires %d arguments, got %d",
			m.Name, expected, got)
	}
	return nil
}

// substitution carries the state of one function-like expansion.
type substitution struct {
	macro  *Macro
	args   map[string][]Token // raw argument tokens per parameter
	expand func([]Token) []Token
	cache  map[string][]Token // fully expanded arguments
	errs   []error
}

func newSubstitution(m *Macro, args [][]Token, expand func([]Token) []Token) *substitution {
	sub := &substitution{
		macro:  m,
		args:   make(map[string][]Token),
		expand: expand,
		cache:  make(map[string][]Token),
	}
	// Missing arguments substitute as empty, extra ones are dropped
	for i, param := range m.Params {
		if i < len(args) {
			sub.args[param] = trimWhitespace(args[i])
		} else {
			sub.args[param] = nil
		}
	}
	if m.IsVariadic {
		if len(args) > len(m.Params) {
			sub.args["__VA_ARGS__"] = trimWhitespace(args[len(m.Params)])
		} else {
			sub.args["__VA_ARGS__"] = nil
		}
	}
	return sub
}

func (sub *substitution) expanded(param string) []Token {
	if toks, ok := sub.cache[param]; ok {
		return toks
	}
	toks := sub.expand(sub.args[param])
	sub.cache[param] = toks
	return toks
}

// replacementText expands an object-like macro body.
func replacementText(m *Macro) (string, []error) {
	if !strings.Contains(m.Body, "##") {
		return m.Body, nil
	}
	tokens, errs := handleTokenPasting(lexAll(m.Body))
	return joinTokens(tokens), errs
}

// run substitutes the arguments into the macro body and returns the
// replacement text.
func (sub *substitution) run() (string, []error) {
	body := lexAll(sub.macro.Body)
	var result []Token

	for i := 0; i < len(body); i++ {
		tok := body[i]

		// Stringification: # followed by a parameter
		if tok.Type == PP_PUNCTUATOR && tok.Text == "#" {
			next := skipWS(body, i+1)
			if next < len(body) && body[next].Type == PP_IDENTIFIER {
				if argTokens, ok := sub.args[body[next].Text]; ok {
					result = append(result, stringify(argTokens))
					i = next
					continue
				}
			}
			sub.errs = append(sub.errs, fmt.Errorf("'#' is not followed by a macro parameter in %s", sub.macro.Name))
		}

		if tok.Type == PP_IDENTIFIER {
			if argTokens, ok := sub.args[tok.Text]; ok {
				// Operands of ## are substituted unexpanded
				if pasteNeighbor(body, i) {
					if len(argTokens) == 0 {
						result = append(result, Token{Type: PP_PLACEHOLDER})
					} else {
						result = append(result, argTokens...)
					}
				} else {
					result = append(result, sub.expanded(tok.Text)...)
				}
				continue
			}
		}

		result = append(result, tok)
	}

	pasted, errs := handleTokenPasting(result)
	sub.errs = append(sub.errs, errs...)
	return joinTokens(pasted), sub.errs
}

// pasteNeighbor reports whether body[i] is an operand of ##.
func pasteNeighbor(body []Token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if body[j].Type != PP_WHITESPACE {
			if body[j].Type == PP_HASHHASH {
				return true
			}
			break
		}
	}
	j := skipWS(body, i+1)
	return j < len(body) && body[j].Type == PP_HASHHASH
}

// stringify converts tokens to a string literal (the # operator).
func stringify(tokens []Token) Token {
	var sb strings.Builder
	sb.WriteByte('"')

	// Normalize whitespace: sequences of whitespace become single space
	lastWasSpace := true // Start true to skip leading space
	for _, tok := range tokens {
		if tok.Type == PP_WHITESPACE || tok.Type == PP_NEWLINE {
			if !lastWasSpace {
				sb.WriteByte(' ')
				lastWasSpace = true
			}
			continue
		}
		lastWasSpace = false

		// Escape special characters in strings and char constants
		if tok.Type == PP_STRING || tok.Type == PP_CHAR_CONST {
			for _, c := range tok.Text {
				if c == '"' || c == '\\' {
					sb.WriteByte('\\')
				}
				sb.WriteRune(c)
			}
		} else {
			sb.WriteString(tok.Text)
		}
	}

	str := strings.TrimSuffix(sb.String(), " ")
	str += "\""

	return Token{Type: PP_STRING, Text: str}
}

// handleTokenPasting handles the ## operator. Malformed uses are reported
// and the ## is dropped so expansion can continue.
func handleTokenPasting(tokens []Token) ([]Token, []error) {
	var result []Token
	var errs []error

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Type != PP_HASHHASH {
			result = append(result, tok)
			continue
		}

		result = trimWhitespace(result)
		next := skipWS(tokens, i+1)
		if len(result) == 0 || next >= len(tokens) {
			errs = append(errs, fmt.Errorf("'##' cannot appear at either end of a macro expansion"))
			continue
		}

		leftTok := result[len(result)-1]
		rightTok := tokens[next]
		result = result[:len(result)-1]
		i = next

		// Placeholders paste as the other operand
		if leftTok.Type == PP_PLACEHOLDER {
			result = append(result, rightTok)
			continue
		}
		if rightTok.Type == PP_PLACEHOLDER {
			result = append(result, leftTok)
			continue
		}

		pasted := lexAll(leftTok.Text + rightTok.Text)
		if len(pasted) != 1 {
			errs = append(errs, fmt.Errorf("pasting %q and %q does not give a valid preprocessing token",
				leftTok.Text, rightTok.Text))
			result = append(result, leftTok, rightTok)
			continue
		}
		result = append(result, pasted[0])
	}

	var filtered []Token
	for _, tok := range result {
		if tok.Type != PP_PLACEHOLDER {
			filtered = append(filtered, tok)
		}
	}
	return filtered, errs
}

// joinTokens renders tokens as text for rescanning. A space is inserted
// between two adjacent tokens whose spellings would otherwise lex as
// something else (for example "-" followed by "-1").
func joinTokens(tokens []Token) string {
	var sb strings.Builder
	var prev *Token
	for i := range tokens {
		tok := &tokens[i]
		switch tok.Type {
		case PP_WHITESPACE, PP_NEWLINE:
			if prev != nil {
				sb.WriteByte(' ')
			}
			prev = nil
			continue
		case PP_PLACEHOLDER:
			continue
		}
		if prev != nil && wouldGlue(prev.Text, tok.Text) {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok.Text)
		prev = tok
	}
	return strings.TrimRight(sb.String(), " ")
}

func wouldGlue(left, right string) bool {
	if left == "" || right == "" {
		return false
	}
	toks := lexAll(left + right)
	return len(toks) == 0 || toks[0].Text != left
}

// trimWhitespace removes leading and trailing whitespace from a token slice.
func trimWhitespace(tokens []Token) []Token {
	start := 0
	for start < len(tokens) && (tokens[start].Type == PP_WHITESPACE || tokens[start].Type == PP_NEWLINE) {
		start++
	}
	end := len(tokens)
	for end > start && (tokens[end-1].Type == PP_WHITESPACE || tokens[end-1].Type == PP_NEWLINE) {
		end--
	}
	if start >= end {
		return nil
	}
	return tokens[start:end]
}
