package config

// Build metadata set at link time:
//
//	go build -ldflags "-X classbook/internal/config.version=1.4.0 \
//	    -X classbook/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X classbook/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
