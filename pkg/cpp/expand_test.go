package cpp

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// expandString runs a session over src and returns the visible tokens
// joined by single spaces.
func expandString(t *testing.T, src string) (string, *Scanner) {
	t.Helper()
	return expandWith(t, nil, src)
}

func expandWith(t *testing.T, cfg *Config, src string) (string, *Scanner) {
	t.Helper()
	s := NewScanner(cfg)
	s.PushString("test.c", src)
	var parts []string
	for tok := s.Next(); tok.Type != PP_EOF; tok = s.Next() {
		parts = append(parts, tok.Text)
	}
	return strings.Join(parts, " "), s
}

func TestExpandObjectMacro(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "#define A 1\nA", "1"},
		{"undef", "#define A 1\n#undef A\nA", "A"},
		{"undef unknown name", "#undef NOPE\nx", "x"},
		{"empty body", "#define EMPTY\nEMPTY x EMPTY", "x"},
		{"chain", "#define A B\n#define B 42\nA", "42"},
		{"defined after use", "A\n#define A 1\nA", "A 1"},
		{"redefinition wins", "#define A 1\n#define A 2\nA", "2"},
		{"multi token body", "#define E (1 + 2)\nE * 3", "( 1 + 2 ) * 3"},
		{"no expansion in strings", "#define A 1\n\"A\" 'A'", "\"A\" 'A'"},
		{"body pasting", "#define P x ## y\nP", "xy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, s := expandString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if s.HadError() {
				t.Errorf("unexpected diagnostics:\n%s", s.Diagnostics().Log())
			}
		})
	}
}

func TestExpandFunctionMacro(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"two args", "#define ADD(a,b) a+b\nADD(1,2)", "1 + 2"},
		{"nested parens", "#define ADD(a,b) a+b\nADD((1,2),3)", "( 1 , 2 ) + 3"},
		{"spaces in call", "#define ADD(a,b) a+b\nADD( 1 , 2 )", "1 + 2"},
		{"name without parens", "#define F(x) x\nF + 1", "F + 1"},
		{"newline before parens", "#define F(x) x\nF\n(2)", "2"},
		{"no params", "#define Z() z\nZ()", "z"},
		{"empty argument", "#define F(x) [x]\nF()", "[ ]"},
		{"argument pre-expansion", "#define ONE 1\n#define ID(x) x\nID(ONE)", "1"},
		{"nested invocation", "#define f(x) x+1\nf(f(1))", "1 + 1 + 1"},
		{"parameter used twice", "#define SQ(x) x*x\nSQ(2)", "2 * 2"},
		{"name passed as argument", "#define g(y) y\n#define f(x) x(1)\nf(g)", "1"},
		{"arguments after rescan", "#define F(x) <x>\n#define G F\nG(5)", "< 5 >"},
		{"call spanning lines", "#define ADD(a,b) a+b\nADD(1,\n2)", "1 + 2"},
		{"parameter not a prefix", "#define F(x) xx x\nF(1)", "xx 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, s := expandString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if s.HadError() {
				t.Errorf("unexpected diagnostics:\n%s", s.Diagnostics().Log())
			}
		})
	}
}

func TestStringification(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"identifier", "#define S(x) #x\nS(foo)", `"foo"`},
		{"collapses spaces", "#define S(x) #x\nS(a   +  b)", `"a + b"`},
		{"escapes quotes", "#define S(x) #x\nS(\"hi\\n\")", `"\"hi\\n\""`},
		{"empty", "#define S(x) #x\nS()", `""`},
		{"not pre-expanded", "#define V 4\n#define S(x) #x\nS(V)", `"V"`},
		{"two level", "#define V 4\n#define S(x) #x\n#define XS(x) S(x)\nXS(V)", `"4"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := expandString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTokenPasting(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"identifiers", "#define CAT(a,b) a##b\nCAT(foo,bar)", "foobar"},
		{"numbers", "#define CAT(a,b) a##b\nCAT(1,2)", "12"},
		{"empty left", "#define CAT(a,b) a##b\nCAT(,x)", "x"},
		{"empty right", "#define CAT(a,b) a##b\nCAT(x,)", "x"},
		{"operands not expanded", "#define V 4\n#define CAT(a,b) a##b\nCAT(V,1)", "V1"},
		{"pasted name rescanned", "#define AB 7\n#define CAT(a,b) a ## b\nCAT(A,B)", "7"},
		{"operator", "#define CAT(a,b) a##b\nCAT(+,=)", "+="},
		{"with literal", "#define PRE(x) pre_##x\nPRE(1)", "pre_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, s := expandString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if s.HadError() {
				t.Errorf("unexpected diagnostics:\n%s", s.Diagnostics().Log())
			}
		})
	}
}

func TestVariadicMacros(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"va args", "#define V(f, ...) p(f, __VA_ARGS__)\nV(\"x\", 1, 2)", `p ( "x" , 1 , 2 )`},
		{"only va", "#define V(...) [__VA_ARGS__]\nV(a, (b, c))", "[ a , ( b , c ) ]"},
		{"empty va", "#define V(f, ...) f __VA_ARGS__\nV(1)", "1"},
		{"stringified va", "#define S(...) #__VA_ARGS__\nS(a,b)", `"a,b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, s := expandString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if s.HadError() {
				t.Errorf("unexpected diagnostics:\n%s", s.Diagnostics().Log())
			}
		})
	}
}

func TestRecursiveExpansionPrevention(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"self reference", "#define X X\nX", "X"},
		{"self reference in body", "#define X (1 + X)\nX", "( 1 + X )"},
		{"mutual", "#define A B\n#define B A\nA B", "A B"},
		{"function self reference", "#define foo(x) foo(x)+1\nfoo(2)", "foo ( 2 ) + 1"},
		{"function mutual", "#define f(x) g(x)\n#define g(x) f(x)\nf(1)", "f ( 1 )"},
		{"guard only on the path", "#define X X\n#define Y X X\nY", "X X"},
		{"guard through argument", "#define X f(X)\n#define f(a) a\nX", "X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, s := expandString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if s.HadError() {
				t.Errorf("unexpected diagnostics:\n%s", s.Diagnostics().Log())
			}
		})
	}
}

func TestBuiltinMacros(t *testing.T) {
	got, _ := expandString(t, "a\n__LINE__ __FILE__")
	if got != `a 2 "test.c"` {
		t.Errorf("got %q", got)
	}

	// __LINE__ inside an expansion is the line of the invocation
	got, _ = expandString(t, "#define L __LINE__\n\n\nL")
	if got != "4" {
		t.Errorf("got %q, want 4", got)
	}
}

func TestExpansionErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{"too few args", "#define F(a,b) a b\nF(1)", "1", "requires 2 arguments, got 1"},
		{"too many args", "#define F(a) a\nF(1,2)", "1", "requires 1 arguments, got 2"},
		{"variadic too few", "#define V(a, b, ...) a\nV(1)", "1", "at least 2 arguments"},
		{"unterminated call", "#define F(a) a\nF(1", "1", "unterminated argument list"},
		{"stray hash", "#define H(x) #y\nH(1)", "# y", "'#' is not followed by a macro parameter"},
		{"paste at end", "#define P(x) x ##\nP(1)", "1", "'##' cannot appear at either end"},
		{"invalid paste", "#define P(a,b) a##b\nP(+,/)", "+ /", "does not give a valid preprocessing token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, s := expandString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !s.HadError() {
				t.Fatal("expected an error")
			}
			if log := s.Diagnostics().Log(); !strings.Contains(log, tt.wantErr) {
				t.Errorf("log %q does not contain %q", log, tt.wantErr)
			}
		})
	}
}

func TestExpansionDepthLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExpansionDepth = 3
	got, s := expandWith(t, cfg, "#define A B\n#define B C\n#define C D\n#define D E\nA")
	if got != "D" {
		t.Errorf("got %q, want D", got)
	}
	if !strings.Contains(s.Diagnostics().Log(), "nested deeper than 3") {
		t.Errorf("missing depth diagnostic:\n%s", s.Diagnostics().Log())
	}
}

func TestExpansionLocation(t *testing.T) {
	s := NewScanner(nil)
	s.PushString("loc.c", "#define A 1 2\n\n  A")
	var locs []SourceLoc
	for tok := s.Next(); tok.Type != PP_EOF; tok = s.Next() {
		locs = append(locs, tok.Loc)
	}
	want := []SourceLoc{
		{File: "loc.c", FileIndex: 0, Line: 3, Column: 3},
		{File: "loc.c", FileIndex: 0, Line: 3, Column: 3},
	}
	if diff := cmp.Diff(want, locs); diff != "" {
		t.Errorf("locations mismatch (-want +got):\n%s", diff)
	}
}

func TestStringify(t *testing.T) {
	tokens := lexAll(`  a  'x'  "q\"" `)
	if got := stringify(trimWhitespace(tokens)).Text; got != `"a 'x' \"q\\\"\""` {
		t.Errorf("got %s", got)
	}
}

func TestJoinTokens(t *testing.T) {
	tests := []struct {
		tokens []Token
		want   string
	}{
		{[]Token{{Type: PP_PUNCTUATOR, Text: "-"}, {Type: PP_NUMBER, Text: "-1"}}, "- -1"},
		{[]Token{{Type: PP_PUNCTUATOR, Text: "+"}, {Type: PP_PUNCTUATOR, Text: "+"}}, "+ +"},
		{[]Token{{Type: PP_IDENTIFIER, Text: "a"}, {Type: PP_IDENTIFIER, Text: "b"}}, "a b"},
		{[]Token{{Type: PP_IDENTIFIER, Text: "f"}, {Type: PP_PUNCTUATOR, Text: "("}}, "f("},
		{[]Token{{Type: PP_IDENTIFIER, Text: "a"}, {Type: PP_WHITESPACE, Text: "\t"}, {Type: PP_IDENTIFIER, Text: "b"}}, "a b"},
		{[]Token{{Type: PP_PLACEHOLDER}, {Type: PP_NUMBER, Text: "1"}}, "1"},
	}
	for _, tc := range tests {
		if got := joinTokens(tc.tokens); got != tc.want {
			t.Errorf("joinTokens(%v) = %q, want %q", tc.tokens, got, tc.want)
		}
	}
}

func TestArgCountError(t *testing.T) {
	zero := &Macro{Name: "Z", Kind: MacroFunction}
	if err := argCountError(zero, [][]Token{nil}); err != nil {
		t.Errorf("Z(): %v", err)
	}
	two := &Macro{Name: "T", Kind: MacroFunction, Params: []string{"a", "b"}}
	if err := argCountError(two, [][]Token{nil, nil}); err != nil {
		t.Errorf("T(,): %v", err)
	}
	if err := argCountError(two, [][]Token{nil}); err == nil {
		t.Error("T(): expected error")
	}
	va := &Macro{Name: "V", Kind: MacroFunction, Params: []string{"a"}, IsVariadic: true}
	if err := argCountError(va, [][]Token{nil, nil, nil}); err != nil {
		t.Errorf("V(,,): %v", err)
	}
}
