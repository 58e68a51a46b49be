// Package version reports build metadata. Version, Commit and BuildTime are
// set with -ldflags "-X"; Commit falls back to the VCS revision embedded by
// the Go toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const Name = "kubinaut"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	info := Info{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			info.Commit = rev
		}
	}
	return info
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

func String() string {
	i := Get()
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s)", i.Name, i.Version, i.Commit, i.BuildTime, i.GoVersion)
}
