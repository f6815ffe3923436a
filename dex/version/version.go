// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package version parses semantic version strings and stamps the application
// version with the VCS revision it was built from.
package version

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"

	"decred.org/mmswap/dex"
)

// semverRE matches major.minor.patch[-prerelease][+build] per semver 2.0.0.
var semverRE = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*` +
	`[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Version is a parsed semantic version.
type Version struct {
	dex.Semver
	PreRelease string
	Build      string
}

// String formats the version, including the pre-release and build parts.
func (v *Version) String() string {
	s := v.Semver.String()
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// ParseSemVer parses a semantic version string.
func ParseSemVer(s string) (*Version, error) {
	m := semverRE.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("malformed version string %q: does not conform to "+
			"semver specification", s)
	}
	var parts [3]uint32
	for i, name := range []string{"major", "minor", "patch"} {
		n, err := strconv.ParseUint(m[i+1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed semver %s: %w", name, err)
		}
		parts[i] = uint32(n)
	}
	return &Version{
		Semver:     dex.Semver{Major: parts[0], Minor: parts[1], Patch: parts[2]},
		PreRelease: m[4],
		Build:      m[5],
	}, nil
}

// Parse returns the application version with the VCS revision as build
// metadata, if the version has none and the binary was built from a VCS
// checkout. Parse panics on a malformed version.
func Parse(appVersion string) string {
	v, err := ParseSemVer(appVersion)
	if err != nil {
		panic(err)
	}
	if v.Build == "" {
		v.Build = vcsCommitID()
	}
	return v.String()
}

func vcsCommitID() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 9 {
		rev = rev[:9]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
