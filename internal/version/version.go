// ABOUTME: Build and product identity constants
// ABOUTME: Reported by the CLI and stamped into session logs
package version

const (
	// Version is the semantic version of this build.
	Version = "0.1.0"

	// Product is the tool's display name.
	Product = "CaptureKit"
)
