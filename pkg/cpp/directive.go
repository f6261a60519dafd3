// directive.go dispatches the directive lines of the current file.
package cpp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// handleDirective processes the directive that starts with hash. The rest of
// the line is always consumed; the newline that ends it is left in place.
func (s *Scanner) handleDirective(hash Token) {
	ctx := s.top()
	if ctx == nil || ctx.kind != fileContext {
		return
	}
	lex := ctx.lex
	loc := hash.Loc

	nameTok := lex.NextOnLine()
	if nameTok.Type == PP_WHITESPACE {
		nameTok = lex.NextOnLine()
	}
	if nameTok.Type == PP_EOF {
		return // null directive
	}
	name := nameTok.Text

	switch name {
	case "if", "ifdef", "ifndef", "elif", "else", "endif":
		s.conditionalDirective(ctx, name, lex.RestOfLine(), loc)
		return
	}

	if !ctx.cond.Visible() {
		lex.RestOfLine()
		return
	}
	s.log.WithFields(logrus.Fields{"directive": name, "file": loc.File, "line": loc.Line}).Debug("directive")

	switch {
	case nameTok.Type == PP_IDENTIFIER && name == "include":
		s.includeDirective(ctx, loc)
		return
	case nameTok.Type == PP_NUMBER:
		// GCC line marker: # 12 "file" flags
		s.lineDirective(ctx, append([]Token{nameTok}, lex.RestOfLine()...), loc)
		return
	}

	rest := lex.RestOfLine()
	if nameTok.Type != PP_IDENTIFIER {
		s.report(CategoryDirective, SeverityError, loc, fmt.Sprintf("invalid preprocessing directive #%s", name))
		return
	}

	switch name {
	case "define":
		s.defineDirective(rest, loc)
	case "undef":
		if id, ok := s.directiveIdent(name, rest, loc); ok {
			s.macros.Undefine(id)
		}
	case "line":
		s.lineDirective(ctx, rest, loc)
	case "pragma":
		s.pragmaDirective(ctx, rest, loc)
	case "error":
		s.report(CategoryDirective, SeverityError, loc, "#error "+normalizeBody(rest))
	case "warning":
		s.report(CategoryDirective, SeverityWarning, loc, "#warning "+normalizeBody(rest))
	default:
		s.report(CategoryDirective, SeverityError, loc, fmt.Sprintf("invalid preprocessing directive #%s", name))
	}
}

// conditionalDirective runs even in skipped regions so nesting stays
// balanced. Conditions are evaluated lazily by the ConditionalStack.
func (s *Scanner) conditionalDirective(ctx *scanContext, name string, rest []Token, loc SourceLoc) {
	cond := ctx.cond
	var err error

	switch name {
	case "if":
		cond.PushIf(loc, func() bool {
			return s.evalCondition(name, rest, loc)
		})
	case "ifdef", "ifndef":
		cond.PushIf(loc, func() bool {
			id, ok := s.directiveIdent(name, rest, loc)
			if !ok {
				return false
			}
			return s.macros.IsDefined(id) == (name == "ifdef")
		})
	case "elif":
		err = cond.Elif(func() bool {
			return s.evalCondition(name, rest, loc)
		})
	case "else":
		err = cond.Else()
	case "endif":
		err = cond.Endif()
	}

	if err != nil {
		s.report(CategoryDirective, SeverityError, loc, err.Error())
	}
}

func (s *Scanner) evalCondition(name string, rest []Token, loc SourceLoc) bool {
	val, err := s.evalExpression(TokensToString(rest), loc)
	if err != nil {
		s.report(CategoryDirective, SeverityError, loc, fmt.Sprintf("#%s: %v", name, err))
		return false
	}
	return val != 0
}

// directiveIdent returns the single identifier operand of #ifdef, #ifndef
// or #undef.
func (s *Scanner) directiveIdent(name string, rest []Token, loc SourceLoc) (string, bool) {
	i := skipWS(rest, 0)
	if i >= len(rest) || rest[i].Type != PP_IDENTIFIER {
		s.report(CategoryDirective, SeverityError, loc, fmt.Sprintf("#%s expects an identifier", name))
		return "", false
	}
	if skipWS(rest, i+1) < len(rest) {
		s.report(CategoryDirective, SeverityWarning, loc, fmt.Sprintf("extra tokens at end of #%s directive", name))
	}
	return rest[i].Text, true
}

func (s *Scanner) defineDirective(rest []Token, loc SourceLoc) {
	m, err := ParseDefine(rest, loc)
	if err != nil {
		s.report(CategoryMacro, SeverityError, loc, err.Error())
		return
	}

	if prev := s.macros.Define(m); prev != nil && !prev.sameDefinition(m) {
		s.log.WithFields(logrus.Fields{"macro": m.Name, "file": loc.File, "line": loc.Line}).Debug("macro redefined")
		if s.cfg.StrictRedefinition {
			msg := fmt.Sprintf("%q redefined", m.Name)
			if prev.Loc.File != "" {
				msg += fmt.Sprintf(", previous definition at %s", prev.Loc)
			}
			s.report(CategoryMacro, SeverityError, loc, msg)
		}
	}
}

func (s *Scanner) pragmaDirective(ctx *scanContext, rest []Token, loc SourceLoc) {
	i := skipWS(rest, 0)
	if i < len(rest) && rest[i].Type == PP_IDENTIFIER && rest[i].Text == "once" {
		s.files.MarkPragmaOnce(ctx.file)
		return
	}
	s.log.WithFields(logrus.Fields{"file": loc.File, "line": loc.Line}).Debugf("ignoring #pragma %s", normalizeBody(rest))
}

// lineDirective handles #line N ["file"] and GCC line markers. The line
// after the directive gets number N.
func (s *Scanner) lineDirective(ctx *scanContext, rest []Token, loc SourceLoc) {
	var operands []Token
	for _, tok := range s.expandTokens(rest, nil, loc) {
		if tok.Type != PP_WHITESPACE && tok.Type != PP_NEWLINE {
			operands = append(operands, tok)
		}
	}

	if len(operands) == 0 || operands[0].Type != PP_NUMBER {
		s.report(CategoryDirective, SeverityError, loc, "#line expects a positive line number")
		return
	}
	n, err := strconv.Atoi(operands[0].Text)
	if err != nil || n <= 0 {
		s.report(CategoryDirective, SeverityError, loc, fmt.Sprintf("%q is not a valid line number", operands[0].Text))
		return
	}

	file := ""
	if len(operands) > 1 {
		if operands[1].Type != PP_STRING {
			s.report(CategoryDirective, SeverityError, loc, fmt.Sprintf("invalid filename %q in #line", operands[1].Text))
			return
		}
		file, err = strconv.Unquote(operands[1].Text)
		if err != nil {
			file = strings.Trim(operands[1].Text, "\"")
		}
	}
	ctx.lex.SetLine(n, file)
}

// includeDirective resolves the operand of #include and enters the file.
func (s *Scanner) includeDirective(ctx *scanContext, loc SourceLoc) {
	var spec string
	tok := ctx.lex.ScanHeaderName()

	switch tok.Type {
	case PP_HEADER_NAME:
		spec = tok.Text
		if extra := ctx.lex.RestOfLine(); len(trimWhitespace(extra)) > 0 {
			s.report(CategoryDirective, SeverityWarning, loc, "extra tokens at end of #include directive")
		}
	case PP_EOF:
		s.report(CategoryDirective, SeverityError, loc, "#include expects \"FILENAME\" or <FILENAME>")
		return
	default:
		// computed include: the operand is macro-expanded first
		tokens := append([]Token{tok}, ctx.lex.RestOfLine()...)
		spec = joinTokens(s.expandTokens(tokens, nil, loc))
	}

	name, kind, err := ParseHeaderName(spec)
	if err != nil {
		s.report(CategoryDirective, SeverityError, loc, err.Error())
		return
	}
	path, err := s.files.Resolve(name, kind, ctx.dir)
	if err != nil {
		s.report(CategoryInclude, SeverityError, loc, err.Error())
		return
	}
	s.enterFile(path, loc)
}

// enterFile pushes a resolved include unless #pragma once, an include
// guard or the nesting limit keeps it out.
func (s *Scanner) enterFile(path string, loc SourceLoc) {
	f := s.files.Register(path)
	log := s.log.WithFields(logrus.Fields{"file": path, "from": loc.File, "line": loc.Line})

	if s.files.IsAlreadyIncluded(f) {
		log.Debug("skip #pragma once file")
		return
	}
	if f.Guard != "" && s.macros.IsDefined(f.Guard) {
		log.WithField("guard", f.Guard).Debug("skip guarded file")
		return
	}
	if s.includeCutoff {
		return
	}
	if s.includeDepth() >= s.cfg.MaxIncludeDepth {
		err := &IncludeDepthError{Path: path, Limit: s.cfg.MaxIncludeDepth, Stack: s.includeStack()}
		s.report(CategoryInclude, SeverityFatal, loc, err.Error())
		s.includeCutoff = true
		return
	}

	content, err := s.files.Load(f)
	if err != nil {
		s.abort(loc, err)
		return
	}
	if f.Entries == 0 {
		f.Guard = detectIncludeGuard(content)
	}
	if s.cfg.PrintIncludes {
		log.WithField("level", s.includeDepth()+1).Info("include")
	}
	s.pushFile(f, content)
}

// includeStack lists the open files, outermost first.
func (s *Scanner) includeStack() []string {
	var stack []string
	for _, ctx := range s.stack {
		if ctx.kind == fileContext {
			stack = append(stack, ctx.file.Path)
		}
	}
	return stack
}

// detectIncludeGuard returns G when the whole file is wrapped in
// #ifndef G ... #endif, with nothing but blanks outside it.
func detectIncludeGuard(content string) string {
	lex := NewLexer(content, "")
	guard := ""
	depth := 0
	closed := false

	for {
		tok := lex.NextToken()
		switch tok.Type {
		case PP_EOF:
			if closed {
				return guard
			}
			return ""
		case PP_WHITESPACE, PP_NEWLINE:
			continue
		case PP_HASH:
		default:
			if guard == "" || closed {
				return ""
			}
			continue
		}

		if closed {
			return ""
		}
		line := lex.RestOfLine()
		i := skipWS(line, 0)
		if i >= len(line) {
			continue
		}
		switch name := line[i].Text; {
		case guard == "":
			j := skipWS(line, i+1)
			if name != "ifndef" || j >= len(line) || line[j].Type != PP_IDENTIFIER {
				return ""
			}
			guard = line[j].Text
			depth = 1
		case name == "if" || name == "ifdef" || name == "ifndef":
			depth++
		case (name == "else" || name == "elif") && depth == 1:
			return ""
		case name == "endif":
			depth--
			closed = depth == 0
		}
	}
}
