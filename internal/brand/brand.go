// Package brand provides centralized naming and default locations for the daemon.
package brand

import "os"

const (
	// Name is the display name used in logs and the metrics namespace.
	Name = "dynipsets"
	// LowerName is the process name shown in console log lines.
	LowerName = "dynipsets"
	// Description is a one-line summary for usage output.
	Description = "Keeps a Proxmox VE firewall config in sync with DNS-resolved ipsets"

	// ConfigEnvPrefix prefixes environment overrides, e.g. DYNIPSETS_DIR.
	ConfigEnvPrefix = "DYNIPSETS"

	// DefaultDirectory holds *.group, *.domains, static/ and generated/.
	DefaultDirectory = "/opt/pve-dynamic-ipsets/"
	// DefaultDestination is the firewall config the daemon republishes to.
	DefaultDestination = "/etc/pve/firewall/cluster.fw"
	// SettingsFileName is the optional HCL settings file inside the directory.
	SettingsFileName = "dynipsets.hcl"
)

// Version is set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// GetDirectory returns the working directory default, checking the environment first.
// Priority: DYNIPSETS_DIR > DefaultDirectory
func GetDirectory() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_DIR"); dir != "" {
		return dir
	}
	return DefaultDirectory
}

// GetDestination returns the destination default, checking the environment first.
// Priority: DYNIPSETS_DESTINATION > DefaultDestination
func GetDestination() string {
	if path := os.Getenv(ConfigEnvPrefix + "_DESTINATION"); path != "" {
		return path
	}
	return DefaultDestination
}
