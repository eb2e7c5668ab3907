// Package version exposes build identification set at link time.
package version

// Version is overridden via -ldflags at release build time.
var Version = "dev"
