package common

import "fmt"

// These variables are injected at build time using -ldflags
var (
	SUMMARY = "development"
	BRANCH  = "unknown"
	VERSION = "dev"
	COMMIT  = "unknown"
)

func GetVersion() string {
	if VERSION == "dev" {
		return "1.0.0-dev"
	}
	return VERSION
}

// UserAgent is sent on every request to the printer and cloud APIs.
func UserAgent() string {
	return fmt.Sprintf("homeassistant-ultimaker/%s", GetVersion())
}
