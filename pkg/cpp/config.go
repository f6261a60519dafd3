package cpp

import (
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxIncludeDepth is the maximum allowed include nesting.
	DefaultMaxIncludeDepth = 200

	// DefaultMaxExpansionDepth bounds the number of nested macro rescans.
	DefaultMaxExpansionDepth = 256
)

// Config configures a scanning session.
type Config struct {
	IncludePaths []string // -I directories
	SystemPaths  []string // -isystem directories
	Defines      []string // -D definitions, NAME or NAME=VALUE
	Undefines    []string // -U undefinitions

	// IncludeSpaces makes Next return whitespace and newline tokens too.
	IncludeSpaces bool
	// LineMarkers makes print mode emit # N "file" lines on file switches.
	LineMarkers bool
	// PrintIncludes logs every entered include at info level.
	PrintIncludes bool
	// StrictRedefinition reports redefinitions that differ from the
	// previous definition. The new definition wins either way.
	StrictRedefinition bool
	// DetectSystemPaths asks the host C compiler for its include paths.
	DetectSystemPaths bool

	MaxIncludeDepth   int
	MaxExpansionDepth int

	Logger logrus.FieldLogger
}

// DefaultConfig returns a Config with limits and logger populated.
func DefaultConfig() *Config {
	c := &Config{}
	c.Validate()
	return c
}

// Validate populates missing Config entries with defaults.
func (c *Config) Validate() {
	if c.MaxIncludeDepth <= 0 {
		c.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	if c.MaxExpansionDepth <= 0 {
		c.MaxExpansionDepth = DefaultMaxExpansionDepth
	}
	if c.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		c.Logger = logger
	}
}
