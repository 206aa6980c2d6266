//go:build linux

// Tray support is disabled on Linux: systray needs a GTK main loop and the
// agent runs headless under XDG autostart there.
package tray

import (
	"github.com/picoforge/passkey-agent/internal/fido"
)

// TrayApp is a no-op placeholder on Linux.
type TrayApp struct{}

// New creates a new TrayApp instance
func New(serverAddr string, session *fido.Session, watcher *fido.Watcher, onQuit func()) *TrayApp {
	return &TrayApp{}
}

// Run is a no-op on Linux.
func (t *TrayApp) Run() {}

// RunWithServer runs the server directly; there is no tray loop to block on.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		serverStart()
	}
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return false
}
