//go:build darwin

package welcome

import (
	"os/exec"
	"strings"
)

const welcomeTitle = "Passkey Agent"
const welcomeMessage = `Passkey Agent is now running!

The app runs quietly in your menu bar and provides a local API that lets your browser and other applications manage the passkeys stored on your FIDO2 security key.

You can access the status page at:
http://127.0.0.1:32147

Click the menu bar icon anytime to check status or quit.`

const aboutMessage = `Passkey Agent

A lightweight background service for managing the resident passkeys on FIDO2 security keys connected to your computer.

Features:
- Automatic security key detection
- PIN-gated passkey listing and deletion
- Secure local API (127.0.0.1 only)

Status page: http://127.0.0.1:32147

© PicoForge`

// ShowWelcome displays a native welcome dialog on macOS
func ShowWelcome() {
	script := `display dialog "` + escapeAppleScript(welcomeMessage) + `" with title "` + welcomeTitle + `" buttons {"Got it!"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

// ShowAbout displays a native about dialog on macOS
func ShowAbout(version string) {
	msg := aboutMessage + "\nVersion: " + version
	script := `display dialog "` + escapeAppleScript(msg) + `" with title "About Passkey Agent" buttons {"OK"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

func escapeAppleScript(s string) string {
	result := ""
	for _, c := range s {
		if c == '"' {
			result += `\"`
		} else if c == '\\' {
			result += `\\`
		} else {
			result += string(c)
		}
	}
	return result
}

const autostartPromptMessage = `Would you like Passkey Agent to start automatically when you log in?

This ensures the agent is always available when you plug in your security key.

You can change this later in the status page settings.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	script := `display dialog "` + escapeAppleScript(autostartPromptMessage) + `" with title "Passkey Agent" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}

const crashReportingPromptMessage = `Help improve Passkey Agent by sending anonymous crash reports?

If the app crashes, diagnostic information will be sent to help us fix bugs faster. No personal data and no PINs are collected.

You can change this later in the status page settings.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	script := `display dialog "` + escapeAppleScript(crashReportingPromptMessage) + `" with title "Passkey Agent" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}
