package version

// Version is overridden at build time with -ldflags "-X printcast/pkg/version.Version=...".
var Version = "v0.3.0"
