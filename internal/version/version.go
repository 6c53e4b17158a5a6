// Package version reports build metadata injected via ldflags, falling back
// to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is the application version, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = "unknown"
	// BuildID is the build identifier, set via ldflags during build.
	BuildID = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

var vcs = sync.OnceValue(func() map[string]string {
	settings := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		settings["module.version"] = info.Main.Version
	}
	return settings
})

// Get returns version and build information.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	stamp := vcs()
	if info.Version == "dev" && stamp["module.version"] != "" {
		info.Version = stamp["module.version"]
	}
	if info.GitCommit == "unknown" && stamp["vcs.revision"] != "" {
		info.GitCommit = shortRevision(stamp["vcs.revision"])
		if stamp["vcs.modified"] == "true" {
			info.GitCommit += "-dirty"
		}
	}
	if info.BuildDate == "unknown" && stamp["vcs.time"] != "" {
		info.BuildDate = stamp["vcs.time"]
	}
	return info
}

// String returns a one-line version summary for the CLI.
func String() string {
	info := Get()
	return fmt.Sprintf("tablemd %s (%s, built %s, %s %s)",
		info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
