package version

import (
	"fmt"
	"runtime"
)

// will be replaced with the release version when using goreleaser
var version = "development"

// OTAVersion returns the version of the binaries
func OTAVersion() string {
	return version
}

// UserAgent returns the User-Agent value sent by the given component
func UserAgent(component string) string {
	return fmt.Sprintf("kivyx-ota-%s/%s (%s; %s)", component, version, runtime.GOOS, runtime.GOARCH)
}
