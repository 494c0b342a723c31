package version

import (
	"fmt"
	"runtime"
)

const Name = "testtrack-client"

// Injected via -ldflags "-X .../version.Version=..." at build time.
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
	return Info{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// UserAgent identifies this client to remote services.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s)", Name, Version, runtime.Version())
}
