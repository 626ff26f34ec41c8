// Package version reports build information for the redispool binary.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/redispool/version.Version=1.2.0 \
//	    -X github.com/go-i2p/redispool/version.GitCommit=$(git rev-parse --short HEAD) \
//	    -X github.com/go-i2p/redispool/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	// Version is the release, "dev" for local builds.
	Version = "dev"
	// GitCommit is the short commit hash.
	GitCommit = ""
	// BuildTime is the UTC build timestamp.
	BuildTime = ""
)

// Full returns Version with the commit and build time appended when set.
// A dev build installed with "go install module@version" reports the
// module version instead.
func Full() string {
	v := Version
	if v == "dev" {
		if mod := moduleVersion(); mod != "" {
			v = mod
		}
	}
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// Info is build information suitable for logging.
type Info struct {
	Version   string
	GitCommit string
	BuildTime string
	GoVersion string
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func moduleVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "" || bi.Main.Version == "(devel)" {
		return ""
	}
	return bi.Main.Version
}
