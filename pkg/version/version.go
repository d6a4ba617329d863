// Package version provides version information for the price-oracle engine.
package version

// Version is the current version of the price-oracle engine.
const Version = "0.3.0"

// AgentString returns the full agent string with versioning.
// Format: saros-price-oracle@v{version}
func AgentString() string {
	return "saros-price-oracle@v" + Version
}
