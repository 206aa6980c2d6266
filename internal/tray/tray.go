//go:build !linux

package tray

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/getlantern/systray"
	"github.com/picoforge/passkey-agent/internal/api"
	"github.com/picoforge/passkey-agent/internal/fido"
	"github.com/picoforge/passkey-agent/internal/welcome"
)

// TrayApp manages the system tray icon and menu
type TrayApp struct {
	serverAddr string
	session    *fido.Session
	watcher    *fido.Watcher
	onQuit     func()
	mu         sync.Mutex

	// Menu items for updating
	mStatus  *systray.MenuItem
	mDevice  *systray.MenuItem
	mStorage *systray.MenuItem
}

// New creates a new TrayApp instance
func New(serverAddr string, session *fido.Session, watcher *fido.Watcher, onQuit func()) *TrayApp {
	return &TrayApp{
		serverAddr: serverAddr,
		session:    session,
		watcher:    watcher,
		onQuit:     onQuit,
	}
}

// Run starts the system tray. This function blocks until the tray is closed.
func (t *TrayApp) Run() {
	systray.Run(t.onReady, t.onExit)
}

// RunWithServer runs the tray on the main thread and starts the server in a goroutine.
// This function BLOCKS - it must be called from the main goroutine on macOS.
func (t *TrayApp) RunWithServer(serverStart func()) {
	systray.Run(func() {
		t.onReady()
		if serverStart != nil {
			go serverStart()
		}
	}, t.onExit)
}

func (t *TrayApp) onReady() {
	// Set icon
	systray.SetIcon(iconData)
	systray.SetTitle("") // Empty title for cleaner menu bar (macOS)
	systray.SetTooltip("Passkey Agent")

	// Version header (disabled, just for display)
	// Only add "v" prefix for proper version numbers (e.g., "1.2.3"), not for dev builds
	versionStr := api.Version
	if len(versionStr) > 0 && versionStr[0] >= '0' && versionStr[0] <= '9' {
		versionStr = "v" + versionStr
	}
	mVersion := systray.AddMenuItem(fmt.Sprintf("Passkey Agent %s", versionStr), "")
	mVersion.Disable()

	systray.AddSeparator()

	// Status indicator
	t.mStatus = systray.AddMenuItem("Status: Starting...", "Server status")
	t.mStatus.Disable()

	// Security key presence
	t.mDevice = systray.AddMenuItem("Security key: Checking...", "Connected security key")
	t.mDevice.Disable()

	// Credential storage lock state
	t.mStorage = systray.AddMenuItem("Storage: Locked", "Credential storage state")
	t.mStorage.Disable()

	systray.AddSeparator()

	// Lock storage shortcut
	mLock := systray.AddMenuItem("Lock Storage", "Clear the cached PIN and credential list")

	// Open status page
	mOpenUI := systray.AddMenuItem("Open Status Page", "Open web UI in browser")

	// About
	mAbout := systray.AddMenuItem("About", "About Passkey Agent")

	systray.AddSeparator()

	// Quit
	mQuit := systray.AddMenuItem("Quit", "Exit Passkey Agent")

	t.refresh()
	go t.watchEvents()

	// Handle menu clicks
	go func() {
		for {
			select {
			case <-mLock.ClickedCh:
				if t.session != nil {
					t.session.Lock()
				}
			case <-mOpenUI.ClickedCh:
				t.openBrowser(fmt.Sprintf("http://%s/", t.serverAddr))
			case <-mAbout.ClickedCh:
				go welcome.ShowAbout(api.Version)
			case <-mQuit.ClickedCh:
				systray.Quit()
			}
		}
	}()
}

func (t *TrayApp) onExit() {
	if t.onQuit != nil {
		t.onQuit()
	}
}

// watchEvents keeps the menu in sync with session and device changes.
func (t *TrayApp) watchEvents() {
	if t.session == nil || t.watcher == nil {
		return
	}

	sessCh, sessOff := t.session.Subscribe()
	defer sessOff()
	devCh, devOff := t.watcher.Subscribe()
	defer devOff()

	for {
		select {
		case <-sessCh:
		case <-devCh:
		}
		t.refresh()
	}
}

// refresh repaints the status lines from the current state.
func (t *TrayApp) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mStatus != nil {
		t.mStatus.SetTitle("Status: Running")
	}

	if t.mDevice != nil && t.watcher != nil {
		if info := t.watcher.Current(); info != nil {
			name := info.Product
			if name == "" {
				name = "Connected"
			}
			t.mDevice.SetTitle("Security key: " + name)
		} else {
			t.mDevice.SetTitle("Security key: Not connected")
		}
	}

	if t.mStorage != nil && t.session != nil {
		snap := t.session.State()
		switch snap.LockState {
		case fido.Unlocked:
			if n := len(snap.Credentials); n == 1 {
				t.mStorage.SetTitle("Storage: Unlocked (1 passkey)")
			} else {
				t.mStorage.SetTitle(fmt.Sprintf("Storage: Unlocked (%d passkeys)", n))
			}
		default:
			t.mStorage.SetTitle("Storage: Locked")
		}
	}
}

func (t *TrayApp) openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	cmd.Start()
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return true
}
