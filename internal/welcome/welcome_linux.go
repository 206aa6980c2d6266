//go:build linux

package welcome

// ShowWelcome is a no-op on Linux (no tray = no welcome popup)
func ShowWelcome() {
	// Linux runs as a headless service, no popup needed
}

// ShowAbout is a no-op on Linux
func ShowAbout(version string) {
	// Linux runs as a headless service, no popup needed
}

// PromptAutostart is a no-op on Linux (headless service)
// Auto-start is handled by the XDG autostart installation
func PromptAutostart() bool {
	return false
}

// PromptCrashReporting is a no-op on Linux; crash reporting stays opt-in
// via the settings API
func PromptCrashReporting() bool {
	return false
}
