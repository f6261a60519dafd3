// Package cpp implements a standalone C preprocessor built around a stack of
// scanning contexts: one per open file and one per macro rescan.
package cpp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TokenType represents the type of a preprocessing token.
type TokenType int

const (
	PP_EOF TokenType = iota
	PP_IDENTIFIER
	PP_NUMBER
	PP_CHAR_CONST
	PP_STRING
	PP_PUNCTUATOR
	PP_HASH        // # at line start (directive marker)
	PP_HASHHASH    // ## (token pasting)
	PP_NEWLINE     // significant for directive boundaries
	PP_WHITESPACE  // spaces and comments, collapsed into one token
	PP_HEADER_NAME // <file> or "file" after #include
	PP_PLACEHOLDER // placeholder during macro expansion
)

func (t TokenType) String() string {
	switch t {
	case PP_EOF:
		return "EOF"
	case PP_IDENTIFIER:
		return "IDENTIFIER"
	case PP_NUMBER:
		return "NUMBER"
	case PP_CHAR_CONST:
		return "CHAR_CONST"
	case PP_STRING:
		return "STRING"
	case PP_PUNCTUATOR:
		return "PUNCTUATOR"
	case PP_HASH:
		return "HASH"
	case PP_HASHHASH:
		return "HASHHASH"
	case PP_NEWLINE:
		return "NEWLINE"
	case PP_WHITESPACE:
		return "WHITESPACE"
	case PP_HEADER_NAME:
		return "HEADER_NAME"
	case PP_PLACEHOLDER:
		return "PLACEHOLDER"
	default:
		return "UNKNOWN"
	}
}

// SourceLoc represents a position in a source file. FileIndex is the stable
// index the include registry assigned to File, or -1 for synthetic buffers.
type SourceLoc struct {
	File      string
	FileIndex int
	Line      int
	Column    int
}

func (l SourceLoc) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Token represents a preprocessing token.
type Token struct {
	Type TokenType
	Text string
	Loc  SourceLoc
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q", t.Type, t.Text)
}

// ErrorHandler receives lexical errors. The lexer keeps going after calling it.
type ErrorHandler func(loc SourceLoc, msg string)

// Lexer tokenizes C source code into preprocessing tokens.
type Lexer struct {
	input      string
	pos        int
	line       int
	column     int
	filename   string
	fileIndex  int
	atBOL      bool // at beginning of line (for # detection)
	directives bool // false for rescan buffers: # never starts a directive
	onError    ErrorHandler
}

// NewLexer creates a new preprocessor lexer.
func NewLexer(input, filename string) *Lexer {
	return NewFileLexer(input, filename, -1, nil)
}

// NewFileLexer creates a lexer for the file registered under index.
func NewFileLexer(input, filename string, index int, onError ErrorHandler) *Lexer {
	return &Lexer{
		input:      input,
		line:       1,
		column:     1,
		filename:   filename,
		fileIndex:  index,
		atBOL:      true,
		directives: true,
		onError:    onError,
	}
}

// newRescanLexer lexes synthesized replacement text. Its tokens never start
// a directive.
func newRescanLexer(text string, loc SourceLoc, onError ErrorHandler) *Lexer {
	l := NewFileLexer(text, loc.File, loc.FileIndex, onError)
	l.line = loc.Line
	l.column = loc.Column
	l.atBOL = false
	l.directives = false
	return l
}

// NextToken returns the next preprocessing token. At the end of input it
// returns PP_EOF, repeatedly.
func (l *Lexer) NextToken() Token {
	for {
		l.handleLineContinuation()

		if l.pos >= len(l.input) {
			return Token{Type: PP_EOF, Text: "", Loc: l.loc()}
		}

		// Check for newline (significant for directive boundaries)
		if l.peek() == '\n' {
			tok := Token{Type: PP_NEWLINE, Text: "\n", Loc: l.loc()}
			l.advance()
			l.atBOL = true
			return tok
		}

		if l.isWhitespace(l.peek()) || l.atComment() {
			return l.scanWhitespace()
		}

		if l.peek() == '#' && l.atBOL && l.directives {
			return l.scanHash()
		}

		if l.peek() >= utf8.RuneSelf || l.isInvalid(l.peek()) {
			l.skipInvalid()
			continue
		}

		l.atBOL = false
		return l.scanToken()
	}
}

func (l *Lexer) scanToken() Token {
	// Check for ## (token pasting)
	if l.peek() == '#' && l.peekAt(1) == '#' {
		tok := Token{Type: PP_HASHHASH, Text: "##", Loc: l.loc()}
		l.advance()
		l.advance()
		return tok
	}

	// Check for # (stringification operator in macros)
	if l.peek() == '#' {
		tok := Token{Type: PP_PUNCTUATOR, Text: "#", Loc: l.loc()}
		l.advance()
		return tok
	}

	if l.peek() == '"' {
		return l.scanQuoted('"', PP_STRING, "string literal")
	}

	if l.peek() == '\'' {
		return l.scanQuoted('\'', PP_CHAR_CONST, "character constant")
	}

	// Preprocessing numbers are broader than C numbers
	if l.isDigit(l.peek()) || (l.peek() == '.' && l.isDigit(l.peekAt(1))) {
		return l.scanNumber()
	}

	if l.isIdentStart(l.peek()) {
		return l.scanIdentifier()
	}

	return l.scanPunctuator()
}

// AllTokens returns all tokens from the input, ending with PP_EOF.
func (l *Lexer) AllTokens() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == PP_EOF {
			break
		}
	}
	return tokens
}

// AtEOF reports whether the whole buffer has been consumed.
func (l *Lexer) AtEOF() bool {
	l.handleLineContinuation()
	return l.pos >= len(l.input)
}

func (l *Lexer) handleLineContinuation() {
	for l.skipLineContinuation() {
	}
}

// skipLineContinuation checks for and skips a line continuation at the current position.
// Returns true if a continuation was skipped.
func (l *Lexer) skipLineContinuation() bool {
	if l.peek() != '\\' {
		return false
	}
	n := 1
	if l.peekAt(1) == '\r' {
		n++
	}
	if l.peekAt(n) != '\n' {
		return false
	}
	l.pos += n + 1
	l.line++
	l.column = 1
	return true
}

func (l *Lexer) report(loc SourceLoc, format string, args ...any) {
	if l.onError != nil {
		l.onError(loc, fmt.Sprintf(format, args...))
	}
}

func (l *Lexer) loc() SourceLoc {
	return SourceLoc{File: l.filename, FileIndex: l.fileIndex, Line: l.line, Column: l.column}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) advance() {
	if l.pos < len(l.input) {
		if l.input[l.pos] == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
		l.pos++
	}
}

func (l *Lexer) atComment() bool {
	return l.peek() == '/' && (l.peekAt(1) == '/' || l.peekAt(1) == '*')
}

func (l *Lexer) isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func (l *Lexer) isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *Lexer) isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func (l *Lexer) isIdentContinue(c byte) bool {
	return l.isIdentStart(c) || l.isDigit(c)
}

func (l *Lexer) isInvalid(c byte) bool {
	return c == '@' || c == '`' || c == '$' || (c < ' ' && !l.isWhitespace(c) && c != '\n')
}

// skipInvalid reports and drops one character that cannot start a token.
func (l *Lexer) skipInvalid() {
	loc := l.loc()
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	if r == utf8.RuneError && size <= 1 {
		l.report(loc, "invalid byte 0x%02x in source", l.peek())
	} else {
		l.report(loc, "invalid character %q in source", r)
	}
	for i := 0; i < size; i++ {
		l.advance()
	}
}

// scanWhitespace collapses a run of blanks and comments into one token.
// Comments are replaced with a single space.
func (l *Lexer) scanWhitespace() Token {
	loc := l.loc()
	var sb strings.Builder
	for l.pos < len(l.input) {
		l.handleLineContinuation()
		switch {
		case l.isWhitespace(l.peek()):
			sb.WriteByte(l.peek())
			l.advance()
		case l.peek() == '/' && l.peekAt(1) == '/':
			l.skipLineComment()
			sb.WriteByte(' ')
		case l.peek() == '/' && l.peekAt(1) == '*':
			l.skipBlockComment()
			sb.WriteByte(' ')
		default:
			return Token{Type: PP_WHITESPACE, Text: sb.String(), Loc: loc}
		}
	}
	return Token{Type: PP_WHITESPACE, Text: sb.String(), Loc: loc}
}

func (l *Lexer) skipLineComment() {
	l.advance()
	l.advance()
	for l.pos < len(l.input) && l.peek() != '\n' {
		if l.skipLineContinuation() {
			continue
		}
		l.advance()
	}
}

func (l *Lexer) skipBlockComment() {
	loc := l.loc()
	l.advance()
	l.advance()
	for l.pos < len(l.input) {
		if l.peek() == '*' && l.peekAt(1) == '/' {
			l.advance()
			l.advance()
			return
		}
		l.advance()
	}
	l.report(loc, "unterminated comment")
}

func (l *Lexer) scanHash() Token {
	loc := l.loc()
	l.advance() // consume #
	l.atBOL = false

	// Check for ## at start of line
	if l.peek() == '#' {
		l.advance()
		return Token{Type: PP_HASHHASH, Text: "##", Loc: loc}
	}

	return Token{Type: PP_HASH, Text: "#", Loc: loc}
}

// scanQuoted scans a string literal or character constant. An unterminated
// literal is reported and ends at the end of the line.
func (l *Lexer) scanQuoted(quote byte, typ TokenType, what string) Token {
	loc := l.loc()
	start := l.pos
	l.advance() // consume opening quote
	for {
		if l.pos >= len(l.input) || l.peek() == '\n' {
			l.report(loc, "unterminated %s", what)
			break
		}
		if l.peek() == quote {
			l.advance()
			break
		}
		if l.peek() == '\\' && l.pos+1 < len(l.input) {
			l.advance() // skip backslash
			l.advance() // skip escaped char
			continue
		}
		l.advance()
	}
	return Token{Type: typ, Text: l.input[start:l.pos], Loc: loc}
}

func (l *Lexer) scanNumber() Token {
	// pp-number: digit | . digit | pp-number digit | pp-number identifier-nondigit
	//          | pp-number e sign | pp-number E sign | pp-number p sign | pp-number P sign
	//          | pp-number .
	loc := l.loc()
	start := l.pos

	for l.pos < len(l.input) {
		c := l.peek()
		if !l.isIdentContinue(c) && c != '.' {
			break
		}
		if c == 'e' || c == 'E' || c == 'p' || c == 'P' {
			if next := l.peekAt(1); next == '+' || next == '-' {
				l.advance()
			}
		}
		l.advance()
	}
	return Token{Type: PP_NUMBER, Text: l.input[start:l.pos], Loc: loc}
}

func (l *Lexer) scanIdentifier() Token {
	loc := l.loc()
	var text strings.Builder
	for {
		// Skip any line continuations
		for l.skipLineContinuation() {
		}
		if l.pos >= len(l.input) || !l.isIdentContinue(l.peek()) {
			break
		}
		text.WriteByte(l.peek())
		l.advance()
	}
	return Token{Type: PP_IDENTIFIER, Text: text.String(), Loc: loc}
}

var (
	punct3 = []string{"<<=", ">>=", "..."}
	punct2 = []string{"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=",
		"&&", "||", "*=", "/=", "%=", "+=", "-=", "&=", "^=", "|="}
)

// scanPunctuator matches the longest punctuator at the current position.
func (l *Lexer) scanPunctuator() Token {
	loc := l.loc()
	remaining := l.input[l.pos:]

	for _, group := range [][]string{punct3, punct2} {
		for _, p := range group {
			if strings.HasPrefix(remaining, p) {
				for range p {
					l.advance()
				}
				return Token{Type: PP_PUNCTUATOR, Text: p, Loc: loc}
			}
		}
	}

	start := l.pos
	l.advance()
	return Token{Type: PP_PUNCTUATOR, Text: l.input[start:l.pos], Loc: loc}
}

// ScanHeaderName scans a header name after #include directive.
// Anything other than <file> or "file" is lexed as an ordinary token so the
// caller can macro-expand it.
func (l *Lexer) ScanHeaderName() Token {
	for l.pos < len(l.input) && (l.isWhitespace(l.peek()) || l.atComment()) {
		l.scanWhitespace()
	}

	l.handleLineContinuation()
	if l.pos >= len(l.input) || l.peek() == '\n' {
		return Token{Type: PP_EOF, Text: "", Loc: l.loc()}
	}

	loc := l.loc()
	start := l.pos

	var closing byte
	switch l.peek() {
	case '<':
		closing = '>'
	case '"':
		closing = '"'
	default:
		return l.NextOnLine()
	}

	l.advance()
	for l.pos < len(l.input) && l.peek() != closing && l.peek() != '\n' {
		l.advance()
	}
	if l.peek() == closing {
		l.advance()
	} else {
		l.report(loc, "missing terminating %c in header name", closing)
	}
	return Token{Type: PP_HEADER_NAME, Text: l.input[start:l.pos], Loc: loc}
}

// NextOnLine returns the next token of the current logical line. At a
// newline it returns PP_EOF and leaves the newline unconsumed.
func (l *Lexer) NextOnLine() Token {
	l.handleLineContinuation()
	if l.pos >= len(l.input) || l.peek() == '\n' {
		return Token{Type: PP_EOF, Text: "", Loc: l.loc()}
	}
	tok := l.NextToken()
	if tok.Type == PP_NEWLINE {
		// reached through a skipped invalid character; leave it for the caller
		l.pos--
		l.line = tok.Loc.Line
		l.column = tok.Loc.Column
		l.atBOL = false
		return Token{Type: PP_EOF, Text: "", Loc: tok.Loc}
	}
	return tok
}

// RestOfLine consumes tokens up to, but not including, the next newline.
func (l *Lexer) RestOfLine() []Token {
	var tokens []Token
	for {
		tok := l.NextOnLine()
		if tok.Type == PP_EOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

// SetLine renumbers the input so that the next line is line n. A non-empty
// file replaces the name reported in locations.
func (l *Lexer) SetLine(n int, file string) {
	l.line = n - 1
	if file != "" {
		l.filename = file
	}
}

// TokensToString converts a slice of tokens back to source text.
func TokensToString(tokens []Token) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(tok.Text)
	}
	return sb.String()
}

// IsIdentifier checks if a string is a valid C identifier.
func IsIdentifier(s string) bool {
	if len(s) == 0 {
		return false
	}
	l := &Lexer{}
	if !l.isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !l.isIdentContinue(s[i]) {
			return false
		}
	}
	return true
}
