// Package version reports how the playground binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set with -ldflags "-X github.com/conneroisu/playground/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info is the build description shown by the version command and the page
// footer.
type Info struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	Dirty     bool      `json:"dirty,omitempty"`
	BuildTime time.Time `json:"buildTime,omitempty"`
	GoVersion string    `json:"goVersion"`
	Platform  string    `json:"platform"`
}

// Get merges the link-time variables with the module build settings.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildTime.IsZero() {
				info.BuildTime, _ = time.Parse(time.RFC3339, s.Value)
			}
		}
	}
	return info
}

// Short is the one-line form, e.g. "v1.2.0 (abc1234)" or "dev-abc1234".
func (i Info) Short() string {
	if len(i.Commit) < 7 {
		return i.Version
	}
	commit := i.Commit[:7]
	if i.Dirty {
		commit += "-dirty"
	}
	if i.Version == "dev" {
		return "dev-" + commit
	}
	return fmt.Sprintf("%s (%s)", i.Version, commit)
}

func (i Info) String() string {
	lines := []string{"Version: " + i.Version}
	if i.Commit != "" {
		lines = append(lines, "Commit: "+i.Commit)
	}
	if !i.BuildTime.IsZero() {
		lines = append(lines, "Built: "+i.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+i.GoVersion, "Platform: "+i.Platform)
	return strings.Join(lines, "\n")
}

// Short returns Get().Short().
func Short() string {
	return Get().Short()
}

// IsRelease reports whether the binary carries a tagged version.
func IsRelease() bool {
	v := Get().Version
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}
