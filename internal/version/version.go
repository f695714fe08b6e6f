// Package version holds build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/pdf2xhtml/internal/version.Version=1.0.0 \
//	  -X github.com/jmylchreest/pdf2xhtml/internal/version.Commit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Name is the program name shown in version output.
const Name = "pdf2xhtml"

var (
	Version   = "dev"
	Commit    = "unknown"
	Dirty     = "false"
	BuildDate = "unknown"
)

// Info is the structured form of the build metadata.
type Info struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Dirty     bool   `json:"dirty" yaml:"dirty"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

func Get() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		Dirty:     Dirty == "true",
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the version with a -dirty marker when applicable.
func String() string {
	if Dirty == "true" {
		return Version + "-dirty"
	}
	return Version
}

// String renders Info as the multi-line block printed by `pdf2xhtml version`.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", i.Name, String())
	fmt.Fprintf(&sb, "  Commit:     %s\n", i.Commit)
	if i.Dirty {
		sb.WriteString("  Dirty:      yes\n")
	}
	fmt.Fprintf(&sb, "  Built:      %s\n", i.BuildDate)
	fmt.Fprintf(&sb, "  Go version: %s\n", i.GoVersion)
	fmt.Fprintf(&sb, "  OS/Arch:    %s", i.Platform)
	return sb.String()
}
