// Include path handling for the C preprocessor.
package cpp

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// IncludeKind distinguishes between <file>, "file" and absolute includes.
type IncludeKind int

const (
	IncludeQuoted   IncludeKind = iota // "file" form
	IncludeAngled                      // <file> form
	IncludeFullPath                    // absolute path, used verbatim
)

func (k IncludeKind) String() string {
	switch k {
	case IncludeQuoted:
		return "quoted"
	case IncludeAngled:
		return "angled"
	case IncludeFullPath:
		return "full path"
	default:
		return "unknown"
	}
}

// IncludedFile is the registry entry for one distinct absolute path. Entries
// live for the whole session.
type IncludedFile struct {
	Path       string
	Index      int
	PragmaOnce bool
	Level      int    // include depth at which the file was first entered
	Entries    int    // number of times the file was pushed
	Size       int    // bytes read
	Hash       uint64 // xxhash of the content
	Guard      string // include guard macro, if the whole file is wrapped in one
}

// IncludeResolver resolves include specs and owns the included-file registry.
type IncludeResolver struct {
	UserPaths   []string // -I directories
	SystemPaths []string // -isystem directories

	files          map[string]*IncludedFile
	byIndex        []*IncludedFile
	detect         bool
	systemDetected bool
}

// NewIncludeResolver creates a new include resolver.
func NewIncludeResolver() *IncludeResolver {
	return &IncludeResolver{
		files:          make(map[string]*IncludedFile),
		systemDetected: true,
	}
}

// AddUserPath adds a -I include directory.
func (r *IncludeResolver) AddUserPath(path string) {
	r.UserPaths = append(r.UserPaths, path)
}

// AddSystemPath adds a -isystem include directory.
func (r *IncludeResolver) AddSystemPath(path string) {
	r.SystemPaths = append(r.SystemPaths, path)
}

// EnableSystemPathDetection makes the first Resolve call query the host
// compiler for its include paths.
func (r *IncludeResolver) EnableSystemPathDetection() {
	r.detect = true
	r.systemDetected = false
}

// DetectSystemPaths appends the host compiler's include paths, once.
func (r *IncludeResolver) DetectSystemPaths() {
	if r.systemDetected {
		return
	}
	r.systemDetected = true

	if paths := queryCompilerIncludePaths(); len(paths) > 0 {
		r.SystemPaths = append(r.SystemPaths, paths...)
		return
	}
	for _, p := range []string{"/usr/local/include", "/usr/include"} {
		if dirExists(p) {
			r.SystemPaths = append(r.SystemPaths, p)
		}
	}
}

// SearchPaths returns the directories searched for kind, in order.
func (r *IncludeResolver) SearchPaths(kind IncludeKind, currentDir string) []string {
	if kind == IncludeFullPath {
		return nil
	}
	r.DetectSystemPaths()

	var searchPaths []string
	if kind == IncludeQuoted && currentDir != "" {
		searchPaths = append(searchPaths, currentDir)
	}
	searchPaths = append(searchPaths, r.UserPaths...)
	searchPaths = append(searchPaths, r.SystemPaths...)
	return searchPaths
}

// Resolve finds the file named by an include spec and returns its absolute
// path. Quoted includes search currentDir first; angled includes only the
// configured directories; full paths are used verbatim.
func (r *IncludeResolver) Resolve(filename string, kind IncludeKind, currentDir string) (string, error) {
	if kind == IncludeFullPath || filepath.IsAbs(filename) {
		if fileExists(filename) {
			return absPath(filename), nil
		}
		return "", &IncludeError{Filename: filename, Kind: IncludeFullPath}
	}

	for _, dir := range r.SearchPaths(kind, currentDir) {
		fullPath := filepath.Join(dir, filename)
		if fileExists(fullPath) {
			return absPath(fullPath), nil
		}
	}

	return "", &IncludeError{Filename: filename, Kind: kind}
}

// Register returns the registry entry for path, creating it with the next
// file index on first sight.
func (r *IncludeResolver) Register(path string) *IncludedFile {
	path = absPath(path)
	if f, ok := r.files[path]; ok {
		return f
	}
	f := &IncludedFile{Path: path, Index: len(r.byIndex)}
	r.files[path] = f
	r.byIndex = append(r.byIndex, f)
	return f
}

// RegisterBuffer registers an in-memory buffer under name without touching
// the file system.
func (r *IncludeResolver) RegisterBuffer(name string) *IncludedFile {
	if f, ok := r.files[name]; ok {
		return f
	}
	f := &IncludedFile{Path: name, Index: len(r.byIndex)}
	r.files[name] = f
	r.byIndex = append(r.byIndex, f)
	return f
}

// Lookup returns the registry entry for path, or nil.
func (r *IncludeResolver) Lookup(path string) *IncludedFile {
	return r.files[absPath(path)]
}

// File returns the entry with the given index, or nil.
func (r *IncludeResolver) File(index int) *IncludedFile {
	if index < 0 || index >= len(r.byIndex) {
		return nil
	}
	return r.byIndex[index]
}

// Files returns all registered files in index order.
func (r *IncludeResolver) Files() []*IncludedFile {
	return r.byIndex
}

// MarkPragmaOnce flags a file as admitted at most once.
func (r *IncludeResolver) MarkPragmaOnce(f *IncludedFile) {
	f.PragmaOnce = true
}

// IsAlreadyIncluded returns true if the file has #pragma once and was already entered.
func (r *IncludeResolver) IsAlreadyIncluded(f *IncludedFile) bool {
	return f.PragmaOnce && f.Entries > 0
}

// Load reads the file and records its size and content hash.
func (r *IncludeResolver) Load(f *IncludedFile) (string, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrResource, f.Path, err)
	}
	f.Size = len(content)
	f.Hash = xxhash.Sum64(content)
	return string(content), nil
}

// IncludeError indicates that an include file was not found.
type IncludeError struct {
	Filename string
	Kind     IncludeKind
}

func (e *IncludeError) Error() string {
	return "include file not found: " + e.Filename + " (" + e.Kind.String() + ")"
}

// IncludeDepthError indicates that include nesting exceeded the limit.
type IncludeDepthError struct {
	Path  string
	Limit int
	Stack []string
}

func (e *IncludeDepthError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#include nested too deeply (limit %d) including %s", e.Limit, e.Path)
	// The innermost few files are enough to show the cycle
	stack := e.Stack
	if len(stack) > 4 {
		stack = stack[len(stack)-4:]
	}
	for _, f := range stack {
		sb.WriteString("\n  from ")
		sb.WriteString(f)
	}
	return sb.String()
}

// ParseHeaderName splits a header-name token into the file name and its
// include kind.
func ParseHeaderName(headerName string) (string, IncludeKind, error) {
	headerName = strings.TrimSpace(headerName)
	if len(headerName) >= 2 {
		first, last := headerName[0], headerName[len(headerName)-1]
		name := headerName[1 : len(headerName)-1]
		switch {
		case first == '<' && last == '>':
			return name, IncludeAngled, nil
		case first == '"' && last == '"':
			if filepath.IsAbs(name) {
				return name, IncludeFullPath, nil
			}
			return name, IncludeQuoted, nil
		}
	}
	return "", IncludeQuoted, fmt.Errorf("#include expects \"FILENAME\" or <FILENAME>, got %q", headerName)
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// queryCompilerIncludePaths queries the system C compiler for include paths.
func queryCompilerIncludePaths() []string {
	for _, compiler := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(compiler); err == nil {
			if paths := queryCompiler(path); len(paths) > 0 {
				return paths
			}
		}
	}
	return nil
}

func queryCompiler(compiler string) []string {
	cmd := exec.Command(compiler, "-v", "-E", "-x", "c", "-")
	cmd.Stdin = strings.NewReader("")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	_ = cmd.Run() // the search list is on stderr either way

	return parseCompilerOutput(stderr.String())
}

func parseCompilerOutput(output string) []string {
	var paths []string
	inSearchList := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, "search starts here:"):
			inSearchList = true
		case strings.Contains(line, "End of search list"):
			inSearchList = false
		case inSearchList:
			path := strings.TrimSpace(line)
			// Skip framework paths (macOS specific)
			if strings.HasSuffix(path, " (framework directory)") {
				continue
			}
			if path != "" && dirExists(path) {
				paths = append(paths, path)
			}
		}
	}

	return paths
}
