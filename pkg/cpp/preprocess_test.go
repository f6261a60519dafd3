package cpp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// PreprocessSpec is one case from preprocess.yaml
type PreprocessSpec struct {
	Name            string            `yaml:"name"`
	Input           string            `yaml:"input"`
	Files           map[string]string `yaml:"files,omitempty"`
	Includes        []string          `yaml:"includes,omitempty"`
	Defines         []string          `yaml:"defines,omitempty"`
	Undefines       []string          `yaml:"undefines,omitempty"`
	MaxIncludeDepth int               `yaml:"max_include_depth,omitempty"`
	Expect          string            `yaml:"expect"`
	Errors          []string          `yaml:"errors,omitempty"`
	Warnings        []string          `yaml:"warnings,omitempty"`
	Skip            string            `yaml:"skip,omitempty"`
}

// PreprocessTestFile represents the preprocess.yaml file structure
type PreprocessTestFile struct {
	Tests []PreprocessSpec `yaml:"tests"`
}

func TestPreprocessYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/preprocess.yaml")
	if err != nil {
		t.Fatalf("failed to read preprocess.yaml: %v", err)
	}

	var testFile PreprocessTestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse preprocess.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}

			dir := t.TempDir()
			for name, content := range tc.Files {
				writeFile(t, filepath.Join(dir, name), content)
			}
			mainFile := filepath.Join(dir, "main.c")
			writeFile(t, mainFile, tc.Input)

			cfg := &Config{
				Defines:         tc.Defines,
				Undefines:       tc.Undefines,
				MaxIncludeDepth: tc.MaxIncludeDepth,
			}
			for _, inc := range tc.Includes {
				cfg.IncludePaths = append(cfg.IncludePaths, filepath.Join(dir, inc))
			}

			pp := NewPreprocessor(cfg)
			tokens, err := pp.Tokens(mainFile)
			log := pp.Scanner().Diagnostics().Log()

			var texts []string
			for _, tok := range tokens {
				texts = append(texts, tok.Text)
			}
			want := strings.Join(strings.Fields(tc.Expect), " ")
			if got := strings.Join(texts, " "); got != want {
				t.Errorf("tokens mismatch\n got: %s\nwant: %s", got, want)
			}

			if len(tc.Errors) == 0 && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if len(tc.Errors) > 0 && !errors.Is(err, ErrPreprocess) {
				t.Errorf("expected a failed session, got %v", err)
			}
			for _, msg := range append(tc.Errors, tc.Warnings...) {
				if !strings.Contains(log, msg) {
					t.Errorf("diagnostics do not contain %q:\n%s", msg, log)
				}
			}

			// print mode must agree on success
			if _, perr := pp.PreprocessFile(mainFile); (perr == nil) != (err == nil) {
				t.Errorf("PreprocessFile error %v, Tokens error %v", perr, err)
			}
		})
	}
}

func TestPreprocessor_PrintsSource(t *testing.T) {
	pp := NewPreprocessor(nil)
	source := `#define VALUE 123
int x = VALUE;
    int  y;	// trailing
`
	result, err := pp.PreprocessString(source, "test.c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "\nint x = 123;\n    int y; \n"
	if result != want {
		t.Errorf("output mismatch\n got: %q\nwant: %q", result, want)
	}
}

func TestPreprocessor_SeparatesGluingTokens(t *testing.T) {
	pp := NewPreprocessor(nil)
	result, err := pp.PreprocessString("#define NEG -1\n#define PLUS +\nx = -NEG; y = a PLUS+b;\n", "test.c")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "x = - -1;") || !strings.Contains(result, "y = a + +b;") {
		t.Errorf("expanded tokens were glued together: %q", result)
	}
}

func TestPreprocessor_LineMarkers(t *testing.T) {
	dir := t.TempDir()
	mainFile := filepath.Join(dir, "main.c")
	header := filepath.Join(dir, "h.h")
	writeFile(t, header, "H\n")
	writeFile(t, mainFile, "a\n#include \"h.h\"\nb\n")

	pp := NewPreprocessor(&Config{LineMarkers: true})
	result, err := pp.PreprocessFile(mainFile)
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("# 1 %q\na\n# 1 %q\nH\n\n# 3 %q\nb\n", mainFile, header, mainFile)
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("line markers mismatch (-want +got):\n%s", diff)
	}
}

func TestPreprocessor_ErrorKeepsBestEffortOutput(t *testing.T) {
	pp := NewPreprocessor(nil)
	result, err := pp.PreprocessString("before\n#error stop\nafter\n", "test.c")
	if !errors.Is(err, ErrPreprocess) {
		t.Fatalf("expected ErrPreprocess, got %v", err)
	}
	if !strings.Contains(err.Error(), "test.c:2:1: error: #error stop") {
		t.Errorf("error does not carry the diagnostic: %v", err)
	}
	if !strings.Contains(result, "before") || !strings.Contains(result, "after") {
		t.Errorf("best-effort output missing text: %q", result)
	}
}

func TestPreprocessor_MissingFile(t *testing.T) {
	pp := NewPreprocessor(nil)
	if _, err := pp.PreprocessFile(filepath.Join(t.TempDir(), "nope.c")); !errors.Is(err, ErrResource) {
		t.Errorf("expected ErrResource, got %v", err)
	}
	if _, err := pp.Tokens(filepath.Join(t.TempDir(), "nope.c")); !errors.Is(err, ErrResource) {
		t.Errorf("expected ErrResource, got %v", err)
	}
}

func TestPreprocessor_TokensString(t *testing.T) {
	pp := NewPreprocessor(nil)
	tokens, err := pp.TokensString("#define F(x) x*2\n\nF(3)\n", "t.c")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, tok := range tokens {
		got = append(got, fmt.Sprintf("%s %s %d", tok.Type, tok.Text, tok.Loc.Line))
	}
	want := []string{"NUMBER 3 3", "PUNCTUATOR * 3", "NUMBER 2 3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestPreprocessor_FreshSessionPerCall(t *testing.T) {
	pp := NewPreprocessor(nil)
	if pp.Scanner() != nil {
		t.Error("Scanner() before any call should be nil")
	}
	if _, err := pp.PreprocessString("#define A 1\n", "one.c"); err != nil {
		t.Fatal(err)
	}
	first := pp.Scanner()

	out, err := pp.PreprocessString("A\n", "two.c")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "A" {
		t.Errorf("macro leaked between sessions: %q", out)
	}
	if pp.Scanner() == first {
		t.Error("Scanner() should return the latest session")
	}
}
