package tsserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"
)

// minIPCVersion is the oldest server that understands --useNodeIpc.
const minIPCVersion = "4.4"

// APIVersion is a validated tsserver version. The zero value is
// VersionUnknown, which fails every AtLeast check so gated features
// default off.
type APIVersion struct {
	v string
}

// VersionUnknown is the version of a server whose package.json could not
// be read or parsed.
var VersionUnknown = APIVersion{}

// ParseAPIVersion validates a version string. Invalid input yields
// VersionUnknown.
func ParseAPIVersion(s string) APIVersion {
	v := "v" + strings.TrimPrefix(s, "v")
	if !semver.IsValid(v) {
		return VersionUnknown
	}
	return APIVersion{v: semver.Canonical(v)}
}

// Known reports whether the version was successfully determined.
func (a APIVersion) Known() bool {
	return a.v != ""
}

// String returns the bare version ("4.9.5") or "unknown".
func (a APIVersion) String() string {
	if a.v == "" {
		return "unknown"
	}
	return strings.TrimPrefix(a.v, "v")
}

// AtLeast reports whether the version is known and at least min
// ("4.4", "4.9.5").
func (a APIVersion) AtLeast(min string) bool {
	if a.v == "" {
		return false
	}
	return semver.Compare(a.v, "v"+strings.TrimPrefix(min, "v")) >= 0
}

// LookupVersion finds the server version by reading the package.json
// above the tsserver entry script. Typical layouts put the entry at
// lib/tsserver.js or bin/tsserver under the package root.
func LookupVersion(serverPath string) (APIVersion, error) {
	dir := filepath.Dir(serverPath)
	for i := 0; i < 3; i++ {
		candidate := filepath.Join(dir, "package.json")
		data, err := os.ReadFile(candidate)
		if err == nil {
			v := gjson.GetBytes(data, "version")
			if !v.Exists() {
				return VersionUnknown, fmt.Errorf("no version field in %s", candidate)
			}
			av := ParseAPIVersion(v.String())
			if !av.Known() {
				return VersionUnknown, fmt.Errorf("invalid version %q in %s", v.String(), candidate)
			}
			return av, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return VersionUnknown, fmt.Errorf("no package.json near %s", serverPath)
}
