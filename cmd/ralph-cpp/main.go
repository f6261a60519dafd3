package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raymyers/ralph-cpp/pkg/cpp"
	"github.com/raymyers/ralph-cpp/pkg/preproc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var version = "0.1.0"

// Preprocessor options
var (
	includePaths   []string
	systemPaths    []string
	defineFlags    []string
	undefineFlags  []string
	configFile     string
	outputFile     string
	useExternalPP  bool // Use external preprocessor
	lineMarkers    bool
	strictRedef    bool
	detectSysPaths bool
	jobs           int
)

// Output modes
var (
	preprocessOnly bool // -E flag
	tokensMode     bool
	depsMode       bool
	macrosMode     bool // -dM
	printIncludes  bool // -H
	dumpState      bool
	verbose        bool
)

// ErrFailed is returned when at least one input had errors
var ErrFailed = errors.New("preprocessing failed")

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	// Accept GCC-style single-dash long flags
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// singleDashFlags lists long flags that GCC spells with a single dash
var singleDashFlags = []string{"isystem", "dM"}

// normalizeFlags converts GCC-style single-dash flags like -isystem to --isystem
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = arg
		for _, name := range singleDashFlags {
			if arg == "-"+name {
				result[i] = "--" + name
				break
			}
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-cpp [files...]",
		Short: "ralph-cpp is a C preprocessor",
		Long: `ralph-cpp runs the C preprocessor over each input file: it expands
macros, evaluates conditional directives and splices #include files.
By default the preprocessed source is written to stdout.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}

			opts, err := buildPreprocessorOptions(cmd, errOut)
			if err != nil {
				fmt.Fprintf(errOut, "ralph-cpp: %v\n", err)
				return err
			}
			if opts.UseExternal && (tokensMode || depsMode || macrosMode || dumpState) {
				err := errors.New("--external-cpp only supports -E output")
				fmt.Fprintf(errOut, "ralph-cpp: %v\n", err)
				return err
			}
			if outputFile != "" && len(args) > 1 {
				err := errors.New("-o cannot be used with multiple input files")
				fmt.Fprintf(errOut, "ralph-cpp: %v\n", err)
				return err
			}

			mode := preproc.ModePrint
			if tokensMode {
				mode = preproc.ModeTokens
			}
			results, err := preproc.PreprocessFiles(args, opts, mode)
			if err != nil {
				fmt.Fprintf(errOut, "ralph-cpp: %v\n", err)
				return err
			}

			failed := false
			for _, r := range results {
				reportDiagnostics(errOut, r)
				if r.Err != nil {
					failed = true
				}
				if err := writeResult(out, r); err != nil {
					fmt.Fprintf(errOut, "ralph-cpp: %v\n", err)
					return err
				}
			}
			if failed {
				return ErrFailed
			}
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.Flags()
	flags.StringArrayVarP(&includePaths, "include", "I", nil, "Add directory to include search path")
	flags.StringArrayVar(&systemPaths, "isystem", nil, "Add directory to system include search path")
	flags.StringArrayVarP(&defineFlags, "define", "D", nil, "Define macro (NAME or NAME=VALUE)")
	flags.StringArrayVarP(&undefineFlags, "undefine", "U", nil, "Undefine macro")
	flags.StringVar(&configFile, "config", "", "Read options from a YAML file")
	flags.StringVarP(&outputFile, "output", "o", "", "Write output to file instead of stdout")
	flags.BoolVar(&useExternalPP, "external-cpp", false, "Use external C preprocessor instead of internal")
	flags.BoolVar(&lineMarkers, "line-markers", false, "Emit # N \"file\" line markers")
	flags.BoolVar(&strictRedef, "strict-redefinition", false, "Report macro redefinitions that differ")
	flags.BoolVar(&detectSysPaths, "system-paths", false, "Search the host C compiler's include paths")
	flags.IntVarP(&jobs, "jobs", "j", 0, "Number of files preprocessed in parallel (default: CPU count)")

	flags.BoolVarP(&preprocessOnly, "preprocess", "E", false, "Preprocess only, output to stdout (default)")
	flags.BoolVar(&tokensMode, "tokens", false, "Print the expanded token stream")
	flags.BoolVar(&depsMode, "deps", false, "List the files each input depends on, with content hashes")
	flags.BoolVar(&macrosMode, "dM", false, "Print the macros defined at the end of each input")
	flags.BoolVarP(&printIncludes, "print-includes", "H", false, "Log each included file")
	flags.BoolVar(&dumpState, "dump", false, "Dump the final session state")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	return rootCmd
}

// buildPreprocessorOptions creates preproc.Options from the config file and
// CLI flags. Flags extend or override file values.
func buildPreprocessorOptions(cmd *cobra.Command, errOut io.Writer) (*preproc.Options, error) {
	opts := &preproc.Options{}
	if configFile != "" {
		loaded, err := preproc.LoadOptions(configFile)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	opts.IncludePaths = append(opts.IncludePaths, includePaths...)
	opts.SystemPaths = append(opts.SystemPaths, systemPaths...)
	opts.Defines = append(opts.Defines, defineFlags...)
	opts.Undefines = append(opts.Undefines, undefineFlags...)
	opts.UseExternal = opts.UseExternal || useExternalPP
	opts.LineMarkers = opts.LineMarkers || lineMarkers
	opts.PrintIncludes = opts.PrintIncludes || printIncludes
	opts.StrictRedefinition = opts.StrictRedefinition || strictRedef
	opts.DetectSystemPaths = opts.DetectSystemPaths || detectSysPaths
	opts.Dump = opts.Dump || dumpState
	if cmd.Flags().Changed("jobs") {
		opts.Jobs = jobs
	}
	opts.Logger = newLogger(errOut)
	return opts, nil
}

func newLogger(errOut io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(errOut)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    !isTerminal(errOut),
	})
	switch {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	case printIncludes:
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// reportDiagnostics prints the diagnostics of one input, coloured on a terminal
func reportDiagnostics(errOut io.Writer, r *preproc.Result) {
	color := isTerminal(errOut)
	for _, d := range r.Diagnostics {
		line := d.String()
		if color {
			c := colorRed
			if d.Severity == cpp.SeverityWarning {
				c = colorYellow
			}
			line = c + line + colorReset
		}
		fmt.Fprintln(errOut, line)
	}
	// failures that never became a diagnostic (unreadable input, external cpp)
	if r.Err != nil && len(r.Diagnostics) == 0 {
		fmt.Fprintf(errOut, "ralph-cpp: %v\n", r.Err)
	}
}

// writeResult prints one input's output for the selected mode
func writeResult(out io.Writer, r *preproc.Result) error {
	switch {
	case depsMode:
		fmt.Fprintf(out, "%s: %016x\n", r.File, preproc.Fingerprint(r.Deps))
		for _, dep := range r.Deps {
			fmt.Fprintf(out, "%s%016x %7d %s\n", strings.Repeat("  ", dep.Level), dep.Hash, dep.Size, dep.Path)
		}
	case macrosMode:
		for _, def := range r.Macros {
			fmt.Fprintln(out, def)
		}
	case tokensMode:
		for _, tok := range r.Tokens {
			fmt.Fprintf(out, "%-10s %s:%d:%d %s\n", tok.Type, tok.Loc.File, tok.Loc.Line, tok.Loc.Column, tok.Text)
		}
	case r.Err == nil:
		if outputFile != "" {
			if err := os.WriteFile(outputFile, []byte(r.Output), 0644); err != nil {
				return fmt.Errorf("writing %s: %w", outputFile, err)
			}
			break
		}
		fmt.Fprint(out, r.Output)
	}

	if dumpState && r.Dump != "" {
		fmt.Fprint(out, r.Dump)
	}
	return nil
}
