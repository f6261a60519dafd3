// macro.go implements the macro table and #define parsing.
package cpp

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MacroKind distinguishes object-like, function-like and built-in macros.
type MacroKind int

const (
	MacroObject MacroKind = iota
	MacroFunction
	MacroBuiltin
)

func (k MacroKind) String() string {
	switch k {
	case MacroObject:
		return "object"
	case MacroFunction:
		return "function"
	case MacroBuiltin:
		return "builtin"
	default:
		return "unknown"
	}
}

// Macro is one macro definition. Body is kept as normalized source text and
// is re-lexed at every expansion.
type Macro struct {
	Name       string
	Kind       MacroKind
	Params     []string
	IsVariadic bool
	Body       string
	FileIndex  int
	Loc        SourceLoc
}

// IsFunctionLike reports whether the macro takes an argument list.
func (m *Macro) IsFunctionLike() bool {
	return m.Kind == MacroFunction
}

// sameDefinition reports whether two definitions are identical in the sense
// of C's redefinition rule: same kind, parameters and body spelling.
func (m *Macro) sameDefinition(o *Macro) bool {
	return m.Kind == o.Kind &&
		m.IsVariadic == o.IsVariadic &&
		slices.Equal(m.Params, o.Params) &&
		m.Body == o.Body
}

func (m *Macro) String() string {
	if m.Kind != MacroFunction {
		return m.Name + " " + m.Body
	}
	params := append([]string(nil), m.Params...)
	if m.IsVariadic {
		params = append(params, "...")
	}
	return fmt.Sprintf("%s(%s) %s", m.Name, strings.Join(params, ","), m.Body)
}

// MacroTable stores the macros of one session, keyed by name.
type MacroTable struct {
	macros map[string]*Macro
}

// NewMacroTable creates a table holding only the built-in macros.
func NewMacroTable() *MacroTable {
	mt := &MacroTable{macros: make(map[string]*Macro)}
	for _, name := range []string{"__FILE__", "__LINE__"} {
		mt.macros[name] = &Macro{Name: name, Kind: MacroBuiltin, FileIndex: -1}
	}
	return mt
}

// Define inserts or replaces a macro and returns the definition it replaced,
// if any.
func (mt *MacroTable) Define(m *Macro) *Macro {
	prev := mt.macros[m.Name]
	mt.macros[m.Name] = m
	return prev
}

// DefineSimple defines an object-like macro from a name and body text.
func (mt *MacroTable) DefineSimple(name, body string, loc SourceLoc) error {
	if !IsIdentifier(name) {
		return fmt.Errorf("macro name must be an identifier: %q", name)
	}
	mt.Define(&Macro{
		Name:      name,
		Kind:      MacroObject,
		Body:      normalizeBody(lexAll(body)),
		FileIndex: loc.FileIndex,
		Loc:       loc,
	})
	return nil
}

// DefineFunction defines a function-like macro.
func (mt *MacroTable) DefineFunction(name string, params []string, variadic bool, body string, loc SourceLoc) error {
	if !IsIdentifier(name) {
		return fmt.Errorf("macro name must be an identifier: %q", name)
	}
	mt.Define(&Macro{
		Name:       name,
		Kind:       MacroFunction,
		Params:     params,
		IsVariadic: variadic,
		Body:       normalizeBody(lexAll(body)),
		FileIndex:  loc.FileIndex,
		Loc:        loc,
	})
	return nil
}

// DefineFromText parses text in #define syntax ("NAME body" or
// "NAME(a,b) body") and defines the result.
func (mt *MacroTable) DefineFromText(text string, loc SourceLoc) (*Macro, error) {
	m, err := ParseDefine(lexAll(text), loc)
	if err != nil {
		return nil, err
	}
	mt.Define(m)
	return m, nil
}

// Undefine removes a macro. Removing an undefined name is a no-op.
func (mt *MacroTable) Undefine(name string) {
	delete(mt.macros, name)
}

// Lookup returns the macro called name, or nil.
func (mt *MacroTable) Lookup(name string) *Macro {
	return mt.macros[name]
}

// IsDefined reports whether name is a macro.
func (mt *MacroTable) IsDefined(name string) bool {
	_, ok := mt.macros[name]
	return ok
}

// Len returns the number of defined macros, built-ins included.
func (mt *MacroTable) Len() int {
	return len(mt.macros)
}

// Names returns the defined macro names in sorted order.
func (mt *MacroTable) Names() []string {
	names := maps.Keys(mt.macros)
	slices.Sort(names)
	return names
}

// ApplyCmdlineDefines applies -D and -U options. -D NAME defines NAME as 1.
func (mt *MacroTable) ApplyCmdlineDefines(defines, undefines []string) error {
	loc := SourceLoc{File: "<command line>", FileIndex: -1, Line: 1, Column: 1}
	for _, d := range defines {
		name, value, found := strings.Cut(d, "=")
		if !found {
			value = "1"
		}
		if _, err := mt.DefineFromText(name+" "+value, loc); err != nil {
			return fmt.Errorf("-D%s: %w", d, err)
		}
	}
	for _, u := range undefines {
		mt.Undefine(u)
	}
	return nil
}

// ParseDefine parses the tokens following "#define".
func ParseDefine(tokens []Token, loc SourceLoc) (*Macro, error) {
	i := skipWS(tokens, 0)
	if i >= len(tokens) || tokens[i].Type != PP_IDENTIFIER {
		return nil, fmt.Errorf("macro name must be an identifier")
	}
	name := tokens[i].Text
	if name == "defined" {
		return nil, fmt.Errorf("\"defined\" cannot be used as a macro name")
	}
	i++

	m := &Macro{Name: name, Kind: MacroObject, FileIndex: loc.FileIndex, Loc: loc}

	// A '(' immediately after the name starts a parameter list
	if i < len(tokens) && tokens[i].Type == PP_PUNCTUATOR && tokens[i].Text == "(" {
		m.Kind = MacroFunction
		params, variadic, next, err := parseParams(tokens, i+1)
		if err != nil {
			return nil, fmt.Errorf("in definition of %s: %w", name, err)
		}
		m.Params = params
		m.IsVariadic = variadic
		i = next
	}

	m.Body = normalizeBody(tokens[i:])
	return m, nil
}

// parseParams parses a parameter list; start points just past '('.
// It returns the index just past ')'.
func parseParams(tokens []Token, start int) ([]string, bool, int, error) {
	var params []string
	seen := make(map[string]bool)
	i := skipWS(tokens, start)

	if i < len(tokens) && tokens[i].Text == ")" {
		return nil, false, i + 1, nil
	}

	for {
		i = skipWS(tokens, i)
		if i >= len(tokens) {
			return nil, false, 0, fmt.Errorf("missing ')' in macro parameter list")
		}
		tok := tokens[i]
		switch {
		case tok.Type == PP_PUNCTUATOR && tok.Text == "...":
			i = skipWS(tokens, i+1)
			if i >= len(tokens) || tokens[i].Text != ")" {
				return nil, false, 0, fmt.Errorf("missing ')' after \"...\"")
			}
			return params, true, i + 1, nil
		case tok.Type == PP_IDENTIFIER:
			if seen[tok.Text] {
				return nil, false, 0, fmt.Errorf("duplicate macro parameter %q", tok.Text)
			}
			if tok.Text == "__VA_ARGS__" {
				return nil, false, 0, fmt.Errorf("__VA_ARGS__ can not be used as a parameter name")
			}
			seen[tok.Text] = true
			params = append(params, tok.Text)
		default:
			return nil, false, 0, fmt.Errorf("expected parameter name, found %q", tok.Text)
		}

		i = skipWS(tokens, i+1)
		if i >= len(tokens) {
			return nil, false, 0, fmt.Errorf("missing ')' in macro parameter list")
		}
		switch tokens[i].Text {
		case ",":
			i++
		case ")":
			return params, false, i + 1, nil
		default:
			return nil, false, 0, fmt.Errorf("expected ',' or ')' in macro parameter list, found %q", tokens[i].Text)
		}
	}
}

// normalizeBody renders body tokens as text with leading and trailing
// whitespace removed and inner whitespace runs collapsed to one space.
func normalizeBody(tokens []Token) string {
	var sb strings.Builder
	pendingSpace := false
	for _, tok := range tokens {
		if tok.Type == PP_WHITESPACE || tok.Type == PP_NEWLINE {
			pendingSpace = sb.Len() > 0
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		sb.WriteString(tok.Text)
	}
	return sb.String()
}

// lexAll tokenizes text as a rescan buffer, without the trailing PP_EOF.
func lexAll(text string) []Token {
	lex := newRescanLexer(text, SourceLoc{FileIndex: -1, Line: 1, Column: 1}, nil)
	var tokens []Token
	for {
		tok := lex.NextToken()
		if tok.Type == PP_EOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

func skipWS(tokens []Token, i int) int {
	for i < len(tokens) && tokens[i].Type == PP_WHITESPACE {
		i++
	}
	return i
}
