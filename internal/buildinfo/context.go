// Package buildinfo holds build-time metadata injected with -ldflags,
// kept apart from user configuration.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not set.
const UnknownValue = "unknown"

// Context is the build metadata of the running binary.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates a Context. Empty values read back as UnknownValue.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// Version returns the release tag the binary was built from.
func (c *Context) Version() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.version)
}

// BuildDate returns when the binary was built.
func (c *Context) BuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.buildDate)
}

func (c *Context) String() string {
	return fmt.Sprintf("audiorm %s (built %s)", c.Version(), c.BuildDate())
}
