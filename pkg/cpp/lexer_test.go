package cpp

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gopkg.in/yaml.v3"
)

// LexerSpec is one case from lexer.yaml. Tokens are "KIND text", with the
// text left out for whitespace and newlines.
type LexerSpec struct {
	Name   string   `yaml:"name"`
	Input  string   `yaml:"input"`
	Tokens []string `yaml:"tokens"`
}

type LexerTestFile struct {
	Tests []LexerSpec `yaml:"tests"`
}

func describeTokens(tokens []Token) []string {
	var out []string
	for _, tok := range tokens {
		switch tok.Type {
		case PP_EOF:
		case PP_WHITESPACE, PP_NEWLINE:
			out = append(out, tok.Type.String())
		default:
			out = append(out, tok.Type.String()+" "+tok.Text)
		}
	}
	return out
}

func TestLexerYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/lexer.yaml")
	if err != nil {
		t.Fatalf("failed to read lexer.yaml: %v", err)
	}
	var testFile LexerTestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse lexer.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			got := describeTokens(NewLexer(tc.Input, "test.c").AllTokens())
			if diff := cmp.Diff(tc.Tokens, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLexerEndsWithEOF(t *testing.T) {
	for _, input := range []string{"", "a", "a\n", "/* c */"} {
		tokens := NewLexer(input, "test.c").AllTokens()
		if len(tokens) == 0 || tokens[len(tokens)-1].Type != PP_EOF {
			t.Errorf("input %q: token list does not end with EOF: %v", input, tokens)
		}
	}
	if got := TokenType(999).String(); got != "UNKNOWN" {
		t.Errorf("TokenType(999) = %q", got)
	}
}

func TestLexerLocations(t *testing.T) {
	var got []string
	for _, tok := range NewLexer("ab  c\n\tx = 1\n", "loc.c").AllTokens() {
		if tok.Type == PP_IDENTIFIER || tok.Type == PP_NUMBER {
			got = append(got, tok.Text+"@"+tok.Loc.String())
		}
	}
	want := []string{"ab@loc.c:1:1", "c@loc.c:1:5", "x@loc.c:2:2", "1@loc.c:2:6"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("locations mismatch (-want +got):\n%s", diff)
	}
}

func TestLexerBlockCommentSpansLines(t *testing.T) {
	l := NewLexer("a /* one\ntwo */ b\nc", "test.c")
	got := describeTokens(l.AllTokens())
	want := []string{"IDENTIFIER a", "WHITESPACE", "IDENTIFIER b", "NEWLINE", "IDENTIFIER c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	if l.line != 3 {
		t.Errorf("line = %d, want 3", l.line)
	}
}

func TestScanHeaderName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`<stdio.h>`, "HEADER_NAME <stdio.h>"},
		{` "my file.h"`, `HEADER_NAME "my file.h"`},
		{`<sys/types.h> // trailing`, "HEADER_NAME <sys/types.h>"},
		{" HDR\n", "IDENTIFIER HDR"},
		{"  \nx", "EOF "},
	}
	for _, tc := range tests {
		l := NewLexer(tc.input, "test.c")
		l.atBOL = false
		tok := l.ScanHeaderName()
		if got := tok.Type.String() + " " + tok.Text; got != tc.want {
			t.Errorf("ScanHeaderName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestTokensToStringAndIsIdentifier(t *testing.T) {
	tokens := NewLexer("foo =\t42", "test.c").AllTokens()
	if got := TokensToString(tokens); got != "foo =\t42" {
		t.Errorf("TokensToString = %q", got)
	}

	idents := map[string]bool{
		"foo": true, "_bar": true, "foo123": true, "__FILE__": true,
		"123abc": false, "foo-bar": false, "": false,
	}
	for s, want := range idents {
		if got := IsIdentifier(s); got != want {
			t.Errorf("IsIdentifier(%q) = %v, want %v", s, got, want)
		}
	}
}

// collectErrors returns a lexer over input that records reported errors.
func collectErrors(input string) (*Lexer, *[]string) {
	var errs []string
	l := NewFileLexer(input, "test.c", 0, func(loc SourceLoc, msg string) {
		errs = append(errs, loc.String()+": "+msg)
	})
	return l, &errs
}

func TestLexerUnterminatedLiteral(t *testing.T) {
	tests := []struct {
		input   string
		wantTok string
		wantErr string
	}{
		{"\"abc\nx", `"abc`, "unterminated string literal"},
		{"'a\nx", `'a`, "unterminated character constant"},
		{`"abc`, `"abc`, "unterminated string literal"},
	}
	for _, tc := range tests {
		l, errs := collectErrors(tc.input)
		tok := l.NextToken()
		if tok.Text != tc.wantTok {
			t.Errorf("input %q: got %q, want %q", tc.input, tok.Text, tc.wantTok)
		}
		if len(*errs) != 1 || !strings.Contains((*errs)[0], tc.wantErr) {
			t.Errorf("input %q: errors = %v, want one containing %q", tc.input, *errs, tc.wantErr)
		}
		// lexing resumes on the next line
		if rest := l.AllTokens(); len(rest) > 1 && rest[0].Type != PP_NEWLINE {
			t.Errorf("input %q: got %v after literal, want NEWLINE", tc.input, rest[0])
		}
	}
}

func TestLexerInvalidCharacter(t *testing.T) {
	l, errs := collectErrors("a @ b")
	var texts []string
	for _, tok := range l.AllTokens() {
		if tok.Type == PP_IDENTIFIER {
			texts = append(texts, tok.Text)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, texts); diff != "" {
		t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
	}
	if len(*errs) != 1 || !strings.Contains((*errs)[0], "test.c:1:3") {
		t.Errorf("errors = %v, want one at test.c:1:3", *errs)
	}
}

func TestLexerUnterminatedComment(t *testing.T) {
	l, errs := collectErrors("a /* never closed")
	l.AllTokens()
	if len(*errs) != 1 || !strings.Contains((*errs)[0], "unterminated comment") {
		t.Errorf("errors = %v, want unterminated comment", *errs)
	}
}

func TestLexerLineContinuationCRLF(t *testing.T) {
	l := NewLexer("#define A \\\r\n 1\nA", "test.c")
	var newlines int
	for _, tok := range l.AllTokens() {
		if tok.Type == PP_NEWLINE {
			newlines++
		}
	}
	if newlines != 1 {
		t.Errorf("got %d newlines, want 1", newlines)
	}
}

func TestLexerContinuationKeepsLineCount(t *testing.T) {
	l := NewLexer("a \\\n b\nc", "test.c")
	var last Token
	for _, tok := range l.AllTokens() {
		if tok.Type == PP_IDENTIFIER {
			last = tok
		}
	}
	if last.Text != "c" || last.Loc.Line != 3 {
		t.Errorf("got %q at line %d, want c at line 3", last.Text, last.Loc.Line)
	}
}

func TestRescanLexerHasNoDirectives(t *testing.T) {
	l := newRescanLexer("# x", SourceLoc{File: "m.c", Line: 7, Column: 3}, nil)
	tok := l.NextToken()
	if tok.Type != PP_PUNCTUATOR || tok.Text != "#" {
		t.Errorf("got %v, want PUNCTUATOR #", tok)
	}
	if tok.Loc.Line != 7 {
		t.Errorf("got line %d, want 7", tok.Loc.Line)
	}
}

func TestNextOnLineStopsAtNewline(t *testing.T) {
	l := NewLexer("a b\nc", "test.c")
	var got []string
	for tok := l.NextOnLine(); tok.Type != PP_EOF; tok = l.NextOnLine() {
		got = append(got, tok.Text)
	}
	if diff := cmp.Diff([]string{"a", " ", "b"}, got); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	if tok := l.NextToken(); tok.Type != PP_NEWLINE {
		t.Errorf("got %v, want NEWLINE left in place", tok)
	}
}

func TestRestOfLine(t *testing.T) {
	l := NewLexer("#if A && \\\n B\nx", "test.c")
	l.NextToken() // #
	l.NextToken() // if
	got := TokensToString(l.RestOfLine())
	if got != " A &&  B" {
		t.Errorf("got %q, want %q", got, " A &&  B")
	}
	if tok := l.NextToken(); tok.Type != PP_NEWLINE {
		t.Errorf("got %v, want NEWLINE", tok)
	}
}

func TestRestOfLineInvalidCharBeforeNewline(t *testing.T) {
	l, _ := collectErrors("a @\nb")
	l.RestOfLine()
	if tok := l.NextToken(); tok.Type != PP_NEWLINE {
		t.Errorf("got %v, want NEWLINE", tok)
	}
	if tok := l.NextToken(); tok.Text != "b" || tok.Loc.Line != 2 {
		t.Errorf("got %v at line %d, want b at line 2", tok, tok.Loc.Line)
	}
}

func TestScanHeaderNameUnterminated(t *testing.T) {
	l, errs := collectErrors("<stdio.h\n")
	tok := l.ScanHeaderName()
	if tok.Type != PP_HEADER_NAME || tok.Text != "<stdio.h" {
		t.Errorf("got %v, want HEADER_NAME <stdio.h", tok)
	}
	if len(*errs) != 1 {
		t.Errorf("errors = %v, want one", *errs)
	}
}

func TestLexerSetLine(t *testing.T) {
	l := NewLexer("#line 40 \"x.c\"\na", "test.c")
	l.NextToken() // #
	l.NextToken() // line
	l.RestOfLine()
	l.SetLine(40, "x.c")
	l.NextToken() // newline
	tok := l.NextToken()
	if tok.Loc.Line != 40 || tok.Loc.File != "x.c" {
		t.Errorf("got %s, want x.c:40", tok.Loc)
	}
}
