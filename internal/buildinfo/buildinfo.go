package buildinfo

import "runtime/debug"

// version is overridden with -ldflags "-X .../internal/buildinfo.version=v1.2.3".
var version = "dev"

// SetVersion allows build scripts to override the recorder version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// Version returns the release version, falling back to the module version
// embedded by the Go toolchain.
func Version() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// Revision returns the short VCS revision the binary was built from, with
// a "-dirty" suffix for modified trees, or "" when unknown.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
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
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
