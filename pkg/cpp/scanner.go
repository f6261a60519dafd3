// scanner.go implements the scanning session: a stack of lexer contexts
// (one per open file and one per macro rescan) exposed as a single token
// stream with one token of lookahead.
package cpp

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

type contextKind int

const (
	fileContext contextKind = iota
	rescanContext
)

// scanContext is one entry of the context stack.
type scanContext struct {
	kind contextKind
	lex  *Lexer

	// file contexts
	file  *IncludedFile
	dir   string // directory searched first by quoted includes
	cond  *ConditionalStack
	atEOL bool

	// rescan contexts
	macro  string
	guard  hideSet
	origin SourceLoc // location of the invocation, given to every token
}

// rawToken is a token before expansion, with the recursion guard of the
// context that produced it.
type rawToken struct {
	tok   Token
	guard hideSet
}

// Scanner is one preprocessing session. It is not safe for concurrent use;
// run one Scanner per goroutine.
type Scanner struct {
	cfg    *Config
	log    logrus.FieldLogger
	macros *MacroTable
	files  *IncludeResolver
	diags  *Diagnostics

	stack   []*scanContext
	pending []rawToken // raw tokens given back by a failed lookahead (LIFO)

	hasLookAhead bool
	lookAhead    Token

	exprMode      bool // reading an #if expression: "defined" operands stay unexpanded
	baseDepth     int  // rescan depth inherited by sub-scanners
	includeCutoff bool // nesting limit hit: no includes until back in the main file
	fatal         error
}

// NewScanner creates a session. cfg may be nil.
func NewScanner(cfg *Config) *Scanner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Validate()

	resolver := NewIncludeResolver()
	for _, p := range cfg.IncludePaths {
		resolver.AddUserPath(p)
	}
	for _, p := range cfg.SystemPaths {
		resolver.AddSystemPath(p)
	}
	if cfg.DetectSystemPaths {
		resolver.EnableSystemPathDetection()
	}

	s := &Scanner{
		cfg:    cfg,
		log:    cfg.Logger,
		macros: NewMacroTable(),
		files:  resolver,
		diags:  &Diagnostics{},
	}
	if err := s.macros.ApplyCmdlineDefines(cfg.Defines, cfg.Undefines); err != nil {
		s.report(CategoryMacro, SeverityError, SourceLoc{File: "<command line>", FileIndex: -1}, err.Error())
	}
	return s
}

// PushFile opens path as a new file context.
func (s *Scanner) PushFile(path string) error {
	f := s.files.Register(path)
	content, err := s.files.Load(f)
	if err != nil {
		return err
	}
	s.pushFile(f, content)
	return nil
}

// PushString opens an in-memory buffer as a file context. Quoted includes
// are searched relative to the directory of name.
func (s *Scanner) PushString(name, text string) {
	f := s.files.RegisterBuffer(name)
	f.Size = len(text)
	s.pushFile(f, text)
}

func (s *Scanner) pushFile(f *IncludedFile, content string) {
	level := s.includeDepth() + 1
	if f.Entries == 0 {
		f.Level = level
	}
	f.Entries++
	s.stack = append(s.stack, &scanContext{
		kind:  fileContext,
		lex:   NewFileLexer(content, f.Path, f.Index, s.lexError),
		file:  f,
		dir:   filepath.Dir(absPath(f.Path)),
		cond:  NewConditionalStack(),
		atEOL: true,
	})
	s.log.WithFields(logrus.Fields{"file": f.Path, "index": f.Index, "level": level}).Debug("enter file")
}

// pushRescan pushes the replacement text of macro for rescanning.
func (s *Scanner) pushRescan(macro, text string, guard hideSet, origin SourceLoc) {
	if text == "" {
		return
	}
	s.stack = append(s.stack, &scanContext{
		kind:   rescanContext,
		lex:    newRescanLexer(text, origin, s.lexError),
		macro:  macro,
		guard:  guard.with(macro),
		origin: origin,
	})
}

// popFile closes the top file context.
func (s *Scanner) popFile(ctx *scanContext) {
	if err := ctx.cond.CheckBalanced(); err != nil {
		s.report(CategoryDirective, SeverityError, ctx.lex.loc(), err.Error())
	}
	s.stack = s.stack[:len(s.stack)-1]
	if s.includeDepth() <= 1 {
		s.includeCutoff = false
	}
	s.log.WithField("file", ctx.file.Path).Debug("leave file")
}

func (s *Scanner) top() *scanContext {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// fileContext returns the innermost file context, or nil.
func (s *Scanner) fileContext() *scanContext {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].kind == fileContext {
			return s.stack[i]
		}
	}
	return nil
}

func (s *Scanner) includeDepth() int {
	n := 0
	for _, ctx := range s.stack {
		if ctx.kind == fileContext {
			n++
		}
	}
	return n
}

func (s *Scanner) expansionDepth() int {
	n := s.baseDepth
	for _, ctx := range s.stack {
		if ctx.kind == rescanContext {
			n++
		}
	}
	return n
}

// visible reports whether the current conditional state emits tokens.
func (s *Scanner) visible() bool {
	ctx := s.fileContext()
	return ctx == nil || ctx.cond.Visible()
}

// readRaw returns the next unexpanded token, popping exhausted contexts.
// With stopAtFileEnd it returns PP_EOF at the end of the current file
// instead of leaving it.
func (s *Scanner) readRaw(stopAtFileEnd bool) rawToken {
	if n := len(s.pending); n > 0 {
		rt := s.pending[n-1]
		s.pending = s.pending[:n-1]
		return rt
	}
	for {
		ctx := s.top()
		if ctx == nil || s.fatal != nil {
			return rawToken{tok: Token{Type: PP_EOF, Loc: SourceLoc{FileIndex: -1}}}
		}

		tok := ctx.lex.NextToken()
		if tok.Type != PP_EOF {
			if ctx.kind == rescanContext {
				tok.Loc = ctx.origin
			} else {
				ctx.atEOL = tok.Type == PP_NEWLINE
			}
			return rawToken{tok: tok, guard: ctx.guard}
		}

		if ctx.kind == rescanContext {
			s.stack = s.stack[:len(s.stack)-1]
			continue
		}
		if stopAtFileEnd {
			return rawToken{tok: tok}
		}
		// An included file always ends its last line
		if !ctx.atEOL && s.includeDepth() > 1 {
			ctx.atEOL = true
			return rawToken{tok: Token{Type: PP_NEWLINE, Text: "\n", Loc: tok.Loc}}
		}
		s.popFile(ctx)
	}
}

func (s *Scanner) unread(rts []rawToken) {
	for i := len(rts) - 1; i >= 0; i-- {
		if rts[i].tok.Type != PP_EOF {
			s.pending = append(s.pending, rts[i])
		}
	}
}

// Next returns the next visible, fully expanded token. At the end of the
// input it returns PP_EOF, repeatedly.
func (s *Scanner) Next() Token {
	if s.hasLookAhead {
		s.hasLookAhead = false
		return s.lookAhead
	}
	for {
		rt := s.readRaw(false)
		tok := rt.tok

		switch tok.Type {
		case PP_EOF:
			return tok
		case PP_HASH:
			s.handleDirective(tok)
			continue
		}

		if !s.visible() {
			continue
		}

		switch tok.Type {
		case PP_WHITESPACE, PP_NEWLINE:
			if s.cfg.IncludeSpaces && !s.exprMode {
				return tok
			}
			continue
		case PP_IDENTIFIER:
			if s.tryExpand(rt) {
				continue
			}
		}
		return tok
	}
}

// NextUnexpanded returns the next non-blank token without macro expansion.
// The evaluator uses it for the operand of "defined".
func (s *Scanner) NextUnexpanded() Token {
	if s.hasLookAhead {
		s.hasLookAhead = false
		return s.lookAhead
	}
	for {
		rt := s.readRaw(true)
		if rt.tok.Type != PP_WHITESPACE && rt.tok.Type != PP_NEWLINE {
			return rt.tok
		}
	}
}

// Peek returns the next token without consuming it.
func (s *Scanner) Peek() Token {
	if !s.hasLookAhead {
		s.lookAhead = s.Next()
		s.hasLookAhead = true
	}
	return s.lookAhead
}

// PushBack makes tok the next token returned by Next. Only one token can be
// pushed back at a time.
func (s *Scanner) PushBack(tok Token) {
	if s.hasLookAhead {
		panic("cpp: PushBack with lookahead already present")
	}
	s.lookAhead = tok
	s.hasLookAhead = true
}

// tryExpand expands the identifier if it names a macro that is not in the
// token's recursion guard. It reports whether an expansion happened.
func (s *Scanner) tryExpand(rt rawToken) bool {
	name := rt.tok.Text
	m := s.macros.Lookup(name)
	if m == nil || rt.guard.contains(name) {
		return false
	}
	loc := rt.tok.Loc
	if s.expansionDepth() >= s.cfg.MaxExpansionDepth {
		s.report(CategoryMacro, SeverityError, loc,
			fmt.Sprintf("macro expansion nested deeper than %d while expanding %s", s.cfg.MaxExpansionDepth, name))
		return false
	}

	var text string
	var errs []error
	switch m.Kind {
	case MacroBuiltin:
		text = s.builtinText(m, loc)
	case MacroObject:
		text, errs = replacementText(m)
	case MacroFunction:
		args, ok := s.collectArgs(m, loc)
		if !ok {
			return false
		}
		if err := argCountError(m, args); err != nil {
			s.report(CategoryMacro, SeverityError, loc, err.Error())
		}
		sub := newSubstitution(m, args, func(tokens []Token) []Token {
			return s.expandTokens(tokens, rt.guard, loc)
		})
		text, errs = sub.run()
	}
	for _, err := range errs {
		s.report(CategoryMacro, SeverityError, loc, err.Error())
	}

	s.log.WithFields(logrus.Fields{"macro": name, "file": loc.File, "line": loc.Line}).Debugf("expand to %q", text)
	s.pushRescan(name, text, rt.guard, loc)
	return true
}

func (s *Scanner) builtinText(m *Macro, loc SourceLoc) string {
	switch m.Name {
	case "__FILE__":
		return strconv.Quote(loc.File)
	case "__LINE__":
		return strconv.Itoa(loc.Line)
	}
	return ""
}

// collectArgs reads the argument list of a function-like macro invocation.
// It returns false, leaving the input untouched, when the name is not
// followed by '('.
func (s *Scanner) collectArgs(m *Macro, loc SourceLoc) ([][]Token, bool) {
	var skipped []rawToken
	for {
		rt := s.readRaw(true)
		if rt.tok.Type == PP_WHITESPACE || rt.tok.Type == PP_NEWLINE {
			skipped = append(skipped, rt)
			continue
		}
		if rt.tok.Type == PP_PUNCTUATOR && rt.tok.Text == "(" {
			break
		}
		s.unread(append(skipped, rt))
		return nil, false
	}

	args := [][]Token{nil}
	depth := 1
	for {
		rt := s.readRaw(true)
		tok := rt.tok
		last := len(args) - 1

		switch {
		case tok.Type == PP_EOF:
			s.report(CategoryMacro, SeverityError, loc,
				fmt.Sprintf("unterminated argument list invoking macro %s", m.Name))
			return args, true
		case tok.Type == PP_HASH:
			// directives inside an argument list are processed in place
			s.handleDirective(tok)
			continue
		case !s.visible():
			continue
		case tok.Type == PP_NEWLINE:
			args[last] = append(args[last], Token{Type: PP_WHITESPACE, Text: " ", Loc: tok.Loc})
			continue
		case tok.Type != PP_PUNCTUATOR:
			args[last] = append(args[last], tok)
			continue
		}

		switch tok.Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return args, true
			}
		case ",":
			if depth == 1 && (!m.IsVariadic || len(args) <= len(m.Params)) {
				args = append(args, nil)
				continue
			}
		}
		args[last] = append(args[last], tok)
	}
}

// subScanner returns a session over text that shares the macro table,
// registry and diagnostics of s.
func (s *Scanner) subScanner(text string, guard hideSet, origin SourceLoc) *Scanner {
	cfg := *s.cfg
	sub := &Scanner{
		cfg:       &cfg,
		log:       s.log,
		macros:    s.macros,
		files:     s.files,
		diags:     s.diags,
		baseDepth: s.expansionDepth(),
	}
	sub.stack = []*scanContext{{
		kind:   rescanContext,
		lex:    newRescanLexer(text, origin, sub.lexError),
		guard:  guard,
		origin: origin,
	}}
	return sub
}

// expandTokens fully expands a token sequence in isolation, keeping
// whitespace. Macro arguments are expanded this way before substitution.
func (s *Scanner) expandTokens(tokens []Token, guard hideSet, origin SourceLoc) []Token {
	if len(tokens) == 0 {
		return nil
	}
	sub := s.subScanner(joinTokens(tokens), guard, origin)
	sub.cfg.IncludeSpaces = true
	var out []Token
	for {
		tok := sub.Next()
		if tok.Type == PP_EOF {
			return out
		}
		out = append(out, tok)
	}
}

func (s *Scanner) lexError(loc SourceLoc, msg string) {
	if s.visible() {
		s.report(CategoryLexical, SeverityError, loc, msg)
	}
}

func (s *Scanner) report(cat Category, sev Severity, loc SourceLoc, msg string) {
	d := Diagnostic{Loc: loc, Category: cat, Severity: sev, Msg: msg}
	s.diags.Add(d)
	s.log.WithFields(logrus.Fields{
		"category": cat.String(),
		"file":     loc.File,
		"line":     loc.Line,
	}).Debug(msg)
}

// abort stops the session after a resource failure.
func (s *Scanner) abort(loc SourceLoc, err error) {
	s.report(CategoryResource, SeverityFatal, loc, err.Error())
	s.fatal = err
	s.stack = nil
	s.pending = nil
}

// ReportError records an error at the current position and continues.
func (s *Scanner) ReportError(msg string) {
	s.report(CategoryClient, SeverityError, s.currentLoc(), msg)
}

func (s *Scanner) currentLoc() SourceLoc {
	ctx := s.fileContext()
	if ctx == nil {
		return SourceLoc{FileIndex: -1}
	}
	return ctx.lex.loc()
}

// CurrentFile returns the path of the innermost open file.
func (s *Scanner) CurrentFile() string {
	return s.currentLoc().File
}

// CurrentFileIndex returns the registry index of the innermost open file.
func (s *Scanner) CurrentFileIndex() int {
	return s.currentLoc().FileIndex
}

// CurrentLine returns the line the innermost open file is positioned at.
func (s *Scanner) CurrentLine() int {
	return s.currentLoc().Line
}

// Diagnostics returns the accumulated diagnostics.
func (s *Scanner) Diagnostics() *Diagnostics {
	return s.diags
}

// HadError reports whether any error was recorded.
func (s *Scanner) HadError() bool {
	return s.diags.HadError()
}

// Err returns the fatal error that stopped the session, or the accumulated
// diagnostics as an error, or nil.
func (s *Scanner) Err() error {
	if s.fatal != nil {
		return s.fatal
	}
	return s.diags.Err()
}

// Macros returns the session's macro table.
func (s *Scanner) Macros() *MacroTable {
	return s.macros
}

// Files returns the session's include registry.
func (s *Scanner) Files() *IncludeResolver {
	return s.files
}
