// Package version provides version information for the Stellar Local player.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set at build time using -ldflags
var (
	// Name is the application name
	Name = "Stellar Local"

	// Version is the semantic version (set via -ldflags at build time)
	Version = "0.1.0"

	// BuildTime is the build timestamp (set via -ldflags at build time)
	BuildTime = ""

	// GitCommit is the git commit hash (set via -ldflags at build time)
	GitCommit = ""
)

// Info contains version information
type Info struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	BuildTime     string `json:"buildTime,omitempty"`
	GitCommit     string `json:"gitCommit,omitempty"`
	GoVersion     string `json:"goVersion"`
	SchemaVersion string `json:"schemaVersion,omitempty"`
}

// GetInfo returns the current version information. Without ldflags the
// commit falls back to the VCS stamp embedded by the go tool.
func GetInfo() Info {
	info := Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
	if info.GitCommit == "" {
		info.GitCommit = vcsSetting("vcs.revision")
	}
	if info.BuildTime == "" {
		info.BuildTime = vcsSetting("vcs.time")
	}
	return info
}

// WithSchema returns a copy of i carrying the storage schema version.
func (i Info) WithSchema(v string) Info {
	i.SchemaVersion = v
	return i
}

// String returns a formatted version string
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += fmt.Sprintf(" built %s", i.BuildTime)
	}
	return s
}

func vcsSetting(key string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
