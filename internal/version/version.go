// Package version holds build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

// Set at link time, e.g.
// -ldflags "-X github.com/smazurov/sinkcam/internal/version.Version=v0.3.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	BuildID   = "unknown"
)

// Info is the build metadata served by /api/version and "sinkcam version".
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// Get collects the build metadata of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the bare version, used as the OpenAPI document version.
func String() string {
	return Version
}

// Summary is a one-line description such as "sinkcam dev (unknown, linux/amd64)".
func Summary() string {
	i := Get()
	short := i.GitCommit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("sinkcam %s (%s, %s)", i.Version, short, i.Platform)
}
