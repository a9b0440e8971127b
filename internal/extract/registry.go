package extract

import (
	"fmt"
	"sort"
)

// DefaultVersion is the ruleset used for live extraction runs.
const DefaultVersion = "V0.2.1"

// UnknownVersionError reports a version identifier with no registered
// assembler. It is a configuration error, not a runtime lookup miss.
type UnknownVersionError struct {
	Version string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown extractor version: %q", e.Version)
}

// Registry resolves version identifiers to assemblers. It is built once at
// startup and read-only afterwards.
type Registry struct {
	assemblers map[string]Assembler
}

// NewRegistry builds a registry over the given assemblers.
func NewRegistry(assemblers ...Assembler) *Registry {
	r := &Registry{assemblers: make(map[string]Assembler, len(assemblers))}
	for _, a := range assemblers {
		r.assemblers[a.Version()] = a
	}
	return r
}

// DefaultRegistry returns a registry holding every shipped ruleset version.
func DefaultRegistry() *Registry {
	return NewRegistry(NewV011(), NewV021())
}

// ForVersion returns the assembler registered under version, or an
// UnknownVersionError. The empty version resolves to DefaultVersion.
func (r *Registry) ForVersion(version string) (Assembler, error) {
	if version == "" {
		version = DefaultVersion
	}
	a, ok := r.assemblers[version]
	if !ok {
		return nil, &UnknownVersionError{Version: version}
	}
	return a, nil
}

// Versions lists the registered version identifiers in sorted order.
func (r *Registry) Versions() []string {
	versions := make([]string, 0, len(r.assemblers))
	for v := range r.assemblers {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
