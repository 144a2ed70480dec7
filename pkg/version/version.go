// Package version provides build and version information for fabindex.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information, set via ldflags:
//
//	-X github.com/Aman-CERP/fabindex/pkg/version.Version=v0.3.0
//	-X github.com/Aman-CERP/fabindex/pkg/version.Commit=abc1234
//	-X github.com/Aman-CERP/fabindex/pkg/version.Date=2026-01-02T10:00:00Z
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the build information. Values not set by ldflags are
// filled from the VCS stamp embedded by the go tool, when present.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildSettings(&info, bi.Main.Version, bi.Settings)
	}
	return info
}

func fillFromBuildSettings(info *BuildInfo, mainVersion string, settings []debug.BuildSetting) {
	if info.Version == "dev" && mainVersion != "" && mainVersion != "(devel)" {
		info.Version = mainVersion
	}
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
				if len(info.Commit) > 7 {
					info.Commit = info.Commit[:7]
				}
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// String returns a one-line version string with all build info.
func String() string {
	i := GetInfo()
	dirty := ""
	if i.Modified {
		dirty = "+dirty"
	}
	return fmt.Sprintf("fabindex %s (commit: %s%s, built: %s, go: %s, %s/%s)",
		i.Version, i.Commit, dirty, i.Date, i.GoVersion, i.OS, i.Arch)
}

// Short returns just the version string.
func Short() string {
	return GetInfo().Version
}
