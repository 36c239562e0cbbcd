package version

// Version is the current version of dicebox.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/niklaspandersson/dicebox/internal/version.Version=v1.0.0'"
var Version = "dev"
