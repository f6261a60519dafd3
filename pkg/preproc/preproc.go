// Package preproc drives preprocessing sessions for the command line.
// It runs the internal preprocessor on one or many files, falls back to an
// external system preprocessor (cc -E) on request, and reports the files
// each translation unit depends on.
package preproc

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/raymyers/ralph-cpp/pkg/cpp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Options configures the preprocessing step
type Options struct {
	IncludePaths       []string `yaml:"include_paths"`       // -I directories
	SystemPaths        []string `yaml:"system_paths"`        // -isystem directories
	Defines            []string `yaml:"defines"`             // -D macros, NAME or NAME=VALUE
	Undefines          []string `yaml:"undefines"`           // -U macros
	UseExternal        bool     `yaml:"external"`            // Force use of external preprocessor
	LineMarkers        bool     `yaml:"line_markers"`        // Generate # N "file" markers
	PrintIncludes      bool     `yaml:"print_includes"`      // Log every entered include
	StrictRedefinition bool     `yaml:"strict_redefinition"` // Report conflicting #define
	DetectSystemPaths  bool     `yaml:"detect_system_paths"` // Ask cc for its include paths
	MaxIncludeDepth    int      `yaml:"max_include_depth"`
	MaxExpansionDepth  int      `yaml:"max_expansion_depth"`
	Jobs               int      `yaml:"jobs"` // files preprocessed concurrently
	Dump               bool     `yaml:"dump"` // attach a session state dump to each Result

	Logger logrus.FieldLogger `yaml:"-"`
}

// LoadOptions reads Options from a YAML file.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options: %w", err)
	}
	opts := &Options{}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing options %s: %w", path, err)
	}
	return opts, nil
}

// Config converts the options into a session configuration.
func (o *Options) Config() *cpp.Config {
	if o == nil {
		return cpp.DefaultConfig()
	}
	cfg := &cpp.Config{
		IncludePaths:       o.IncludePaths,
		SystemPaths:        o.SystemPaths,
		Defines:            o.Defines,
		Undefines:          o.Undefines,
		LineMarkers:        o.LineMarkers,
		PrintIncludes:      o.PrintIncludes,
		StrictRedefinition: o.StrictRedefinition,
		DetectSystemPaths:  o.DetectSystemPaths,
		MaxIncludeDepth:    o.MaxIncludeDepth,
		MaxExpansionDepth:  o.MaxExpansionDepth,
		Logger:             o.Logger,
	}
	cfg.Validate()
	return cfg
}

func (o *Options) logger() logrus.FieldLogger {
	if o == nil || o.Logger == nil {
		return cpp.DefaultConfig().Logger
	}
	return o.Logger
}

// Mode selects what a session produces.
type Mode int

const (
	ModePrint  Mode = iota // reconstructed source text
	ModeTokens             // expanded token stream
)

// Dependency is one file read while preprocessing a translation unit.
type Dependency struct {
	Path  string
	Level int    // include depth at first entry; the main file is level 1
	Size  int    // bytes
	Hash  uint64 // xxhash of the content
}

// Result is the outcome of preprocessing one file.
type Result struct {
	File        string
	Output      string      // ModePrint
	Tokens      []cpp.Token // ModeTokens
	Deps        []Dependency
	Macros      []string // #define lines for the macros live at the end
	Diagnostics []cpp.Diagnostic
	Dump        string // set when Options.Dump is on
	Err         error
}

// Preprocess runs the C preprocessor on the given source file and returns
// the preprocessed source code as a string.
// By default, it uses the internal preprocessor. Set UseExternal option
// to force use of the system preprocessor.
func Preprocess(filename string, opts *Options) (string, error) {
	if opts != nil && opts.UseExternal {
		return preprocessExternal(filename, opts)
	}
	r := Run(filename, opts, ModePrint)
	return r.Output, r.Err
}

// PreprocessString preprocesses C source code provided as a string.
// filename names the buffer in diagnostics and anchors quoted includes.
func PreprocessString(source, filename string, opts *Options) (string, error) {
	if opts == nil || !opts.UseExternal {
		return cpp.NewPreprocessor(opts.Config()).PreprocessString(source, filename)
	}

	// The external preprocessor needs a real file
	tmp, err := os.CreateTemp("", "ralph-cpp-*-"+filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(source); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return preprocessExternal(tmp.Name(), opts)
}

// Run preprocesses one file with the internal preprocessor.
func Run(filename string, opts *Options, mode Mode) *Result {
	log := opts.logger().WithField("file", filename)
	pp := cpp.NewPreprocessor(opts.Config())

	r := &Result{File: filename}
	switch mode {
	case ModeTokens:
		r.Tokens, r.Err = pp.Tokens(filename)
	default:
		r.Output, r.Err = pp.PreprocessFile(filename)
	}

	s := pp.Scanner()
	r.Diagnostics = s.Diagnostics().List()
	r.Deps = dependencies(s)
	r.Macros = macroDefinitions(s.Macros())
	if opts != nil && opts.Dump {
		r.Dump = s.DebugDump()
	}
	log.WithFields(logrus.Fields{"deps": len(r.Deps), "diagnostics": len(r.Diagnostics)}).Debug("preprocessed")
	return r
}

// PreprocessFiles runs one session per file on a worker pool and returns
// the results in input order.
func PreprocessFiles(files []string, opts *Options, mode Mode) ([]*Result, error) {
	workers := runtime.NumCPU()
	if opts != nil && opts.Jobs > 0 {
		workers = opts.Jobs
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]*Result, len(files))
	var wg sync.WaitGroup
	for i, file := range files {
		i, file := i, file
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if opts != nil && opts.UseExternal && mode == ModePrint {
				out, err := preprocessExternal(file, opts)
				results[i] = &Result{File: file, Output: out, Err: err}
				return
			}
			results[i] = Run(file, opts, mode)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			results[i] = &Result{File: file, Err: fmt.Errorf("scheduling %s: %w", file, err)}
		}
	}
	wg.Wait()
	return results, nil
}

func dependencies(s *cpp.Scanner) []Dependency {
	var deps []Dependency
	for _, f := range s.Files().Files() {
		if f.Entries == 0 {
			continue
		}
		deps = append(deps, Dependency{Path: f.Path, Level: f.Level, Size: f.Size, Hash: f.Hash})
	}
	return deps
}

// Fingerprint combines the paths and content hashes of deps into one hash.
// It changes whenever any file the translation unit read changes.
func Fingerprint(deps []Dependency) uint64 {
	d := xxhash.New()
	for _, dep := range deps {
		fmt.Fprintf(d, "%s\x00%016x\n", dep.Path, dep.Hash)
	}
	return d.Sum64()
}

func macroDefinitions(mt *cpp.MacroTable) []string {
	var defs []string
	for _, name := range mt.Names() {
		m := mt.Lookup(name)
		if m.Kind == cpp.MacroBuiltin {
			continue
		}
		defs = append(defs, "#define "+strings.TrimRight(m.String(), " "))
	}
	return defs
}

// preprocessExternal uses the system C preprocessor (cc -E)
func preprocessExternal(filename string, opts *Options) (string, error) {
	args := []string{"-E"}
	if !opts.LineMarkers {
		args = append(args, "-P")
	}
	for _, path := range opts.IncludePaths {
		args = append(args, "-I"+absOrSelf(path))
	}
	for _, path := range opts.SystemPaths {
		args = append(args, "-isystem", absOrSelf(path))
	}
	for _, d := range opts.Defines {
		args = append(args, "-D"+d)
	}
	for _, name := range opts.Undefines {
		args = append(args, "-U"+name)
	}
	args = append(args, absOrSelf(filename))

	cppCmd := findPreprocessor()
	if cppCmd == "" {
		return "", fmt.Errorf("no C preprocessor found (tried: cc, gcc, clang)")
	}
	opts.logger().WithFields(logrus.Fields{"command": cppCmd, "args": args}).Debug("running external preprocessor")

	cmd := exec.Command(cppCmd, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Set the working directory to the file's directory for relative includes
	cmd.Dir = filepath.Dir(absOrSelf(filename))

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %v\n%s", cpp.ErrPreprocess, cppCmd, err, stderr.String())
	}
	return stdout.String(), nil
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// NeedsPreprocessing returns true if the file might need preprocessing.
// Files ending in .i or .p are considered already preprocessed.
func NeedsPreprocessing(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext != ".i" && ext != ".p"
}

// findPreprocessor searches for a C preprocessor on the system
func findPreprocessor() string {
	for _, cmd := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(cmd); err == nil {
			return path
		}
	}
	return ""
}
