// preprocess.go implements the print-mode driver on top of the Scanner.
package cpp

import (
	"fmt"
	"strings"
)

// Preprocessor is the main driver for C preprocessing. Every Preprocess or
// Tokens call runs a fresh session; Scanner returns the last one.
type Preprocessor struct {
	cfg     Config
	scanner *Scanner
}

// NewPreprocessor creates a new preprocessor instance. cfg may be nil.
func NewPreprocessor(cfg *Config) *Preprocessor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Validate()
	return &Preprocessor{cfg: *cfg}
}

// Scanner returns the session of the last call, or nil.
func (p *Preprocessor) Scanner() *Scanner {
	return p.scanner
}

func (p *Preprocessor) newSession(spaces bool) *Scanner {
	cfg := p.cfg
	cfg.IncludeSpaces = spaces
	p.scanner = NewScanner(&cfg)
	return p.scanner
}

// PreprocessFile preprocesses a file and returns the result. On error the
// returned text is the best-effort output.
func (p *Preprocessor) PreprocessFile(filename string) (string, error) {
	s := p.newSession(true)
	if err := s.PushFile(filename); err != nil {
		return "", err
	}
	return p.print(s)
}

// PreprocessString preprocesses a string with a given filename for error messages.
func (p *Preprocessor) PreprocessString(source, filename string) (string, error) {
	s := p.newSession(true)
	s.PushString(filename, source)
	return p.print(s)
}

// Tokens returns the fully expanded, visible tokens of a file, without
// whitespace or newlines.
func (p *Preprocessor) Tokens(filename string) ([]Token, error) {
	s := p.newSession(false)
	if err := s.PushFile(filename); err != nil {
		return nil, err
	}
	return collect(s)
}

// TokensString is Tokens for an in-memory buffer.
func (p *Preprocessor) TokensString(source, filename string) ([]Token, error) {
	s := p.newSession(false)
	s.PushString(filename, source)
	return collect(s)
}

func collect(s *Scanner) ([]Token, error) {
	var tokens []Token
	for {
		tok := s.Next()
		if tok.Type == PP_EOF {
			return tokens, s.Err()
		}
		tokens = append(tokens, tok)
	}
}

// print reconstructs source text from the token stream. Leading blanks of a
// line are held back so a line marker can go before them.
func (p *Preprocessor) print(s *Scanner) (string, error) {
	var out strings.Builder
	var indent, prev string
	lastFile := -2
	atBOL := true

	for {
		tok := s.Next()
		switch tok.Type {
		case PP_EOF:
			return out.String(), s.Err()
		case PP_NEWLINE:
			out.WriteByte('\n')
			indent, prev = "", ""
			atBOL = true
			continue
		case PP_WHITESPACE:
			if atBOL {
				indent += tok.Text
			} else {
				out.WriteByte(' ')
			}
			prev = ""
			continue
		}

		if p.cfg.LineMarkers && tok.Loc.FileIndex != lastFile {
			if !atBOL {
				out.WriteByte('\n')
			}
			fmt.Fprintf(&out, "# %d %q\n", tok.Loc.Line, tok.Loc.File)
			lastFile = tok.Loc.FileIndex
			atBOL, prev = true, ""
		}
		if atBOL {
			out.WriteString(indent)
			indent = ""
			atBOL = false
		} else if wouldGlue(prev, tok.Text) {
			// tokens of an expansion that would lex differently when adjacent
			out.WriteByte(' ')
		}
		out.WriteString(tok.Text)
		prev = tok.Text
	}
}
