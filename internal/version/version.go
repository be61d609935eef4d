// Package version holds build version information.
package version

// Version is the current release version, overridden at build time via
// -ldflags "-X attend-sync/internal/version.Version=v1.2.3".
var Version = "dev"
