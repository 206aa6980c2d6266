//go:build windows

package welcome

import (
	"golang.org/x/sys/windows"
)

const welcomeTitle = "Passkey Agent"
const welcomeMessage = `Passkey Agent is now running!

The app runs quietly in your system tray and provides a local API that lets your browser and other applications manage the passkeys stored on your FIDO2 security key.

You can access the status page at:
http://127.0.0.1:32147

Click the tray icon anytime to check status or quit.`

const aboutMessage = `Passkey Agent

A lightweight background service for managing the resident passkeys on FIDO2 security keys connected to your computer.

Features:
• Automatic security key detection
• PIN-gated passkey listing and deletion
• Secure local API (127.0.0.1 only)

Status page: http://127.0.0.1:32147

© PicoForge`

// ShowWelcome displays a native welcome dialog on Windows
func ShowWelcome() {
	messageBox(welcomeTitle, welcomeMessage, windows.MB_OK|windows.MB_ICONINFORMATION)
}

// ShowAbout displays a native about dialog on Windows
func ShowAbout(version string) {
	msg := aboutMessage + "\nVersion: " + version
	messageBox("About Passkey Agent", msg, windows.MB_OK|windows.MB_ICONINFORMATION)
}

func messageBox(title, message string, flags uint32) int32 {
	titlePtr, _ := windows.UTF16PtrFromString(title)
	messagePtr, _ := windows.UTF16PtrFromString(message)
	ret, _ := windows.MessageBox(0, messagePtr, titlePtr, flags)
	return ret
}

const autostartPromptMessage = `Would you like Passkey Agent to start automatically when you log in?

This ensures the agent is always available when you plug in your security key.

You can change this later in the status page settings.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	ret := messageBox("Passkey Agent", autostartPromptMessage,
		windows.MB_YESNO|windows.MB_ICONQUESTION)
	return ret == windows.IDYES
}

const crashReportingPromptMessage = `Help improve Passkey Agent by sending anonymous crash reports?

If the app crashes, diagnostic information will be sent to help us fix bugs faster. No personal data and no PINs are collected.

You can change this later in the status page settings.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	ret := messageBox("Passkey Agent", crashReportingPromptMessage,
		windows.MB_YESNO|windows.MB_ICONQUESTION)
	return ret == windows.IDYES
}
