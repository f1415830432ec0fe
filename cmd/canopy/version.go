package main

import (
	"runtime/debug"
	"strings"
)

// version is stamped with -ldflags "-X main.version=..." on release builds.
var version = "dev"

var readBuildInfo = debug.ReadBuildInfo

// currentVersion prefers the stamped version, then the module version, and
// finally "dev" with the short VCS revision when the build recorded one.
func currentVersion() string {
	if v := strings.TrimSpace(version); v != "" && v != "dev" {
		return v
	}
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return "dev"
	}
	if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
		return mv
	}
	rev, dirty := buildRevision(info)
	if rev == "" {
		return "dev"
	}
	if dirty {
		rev += "-dirty"
	}
	return "dev+" + rev
}

func buildRevision(info *debug.BuildInfo) (string, bool) {
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return rev, dirty
}
