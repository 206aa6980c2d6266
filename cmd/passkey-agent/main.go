package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/picoforge/passkey-agent/internal/api"
	"github.com/picoforge/passkey-agent/internal/config"
	"github.com/picoforge/passkey-agent/internal/data"
	"github.com/picoforge/passkey-agent/internal/fido"
	"github.com/picoforge/passkey-agent/internal/logging"
	"github.com/picoforge/passkey-agent/internal/service"
	"github.com/picoforge/passkey-agent/internal/settings"
	"github.com/picoforge/passkey-agent/internal/tray"
	"github.com/picoforge/passkey-agent/internal/welcome"
)

func main() {
	// Define flags
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	noTrayFlag := flag.Bool("no-tray", false, "Run without system tray (headless mode)")

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Passkey Agent - Local FIDO2 security key passkey manager\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  passkey-agent [flags]\n")
		fmt.Fprintf(os.Stderr, "  passkey-agent <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  install     Install auto-start service\n")
		fmt.Fprintf(os.Stderr, "  uninstall   Remove auto-start service\n")
		fmt.Fprintf(os.Stderr, "  version     Print version information\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  PASSKEY_AGENT_PORT    Port to listen on (default: %d)\n", config.DefaultPort)
		fmt.Fprintf(os.Stderr, "  PASSKEY_AGENT_HOST    Host to bind to (default: %s)\n", config.DefaultHost)
		fmt.Fprintf(os.Stderr, "  PASSKEY_AGENT_SENTRY  Set to 1/0 to force crash reporting on/off\n")
	}

	flag.Parse()

	// Handle version flag
	if *versionFlag {
		printVersion()
		return
	}

	// Handle commands (non-flag arguments)
	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "install":
			if err := installService(); err != nil {
				log.Fatalf("Failed to install service: %v", err)
			}
			fmt.Println("Auto-start service installed successfully")
			return
		case "uninstall":
			if err := uninstallService(); err != nil {
				log.Fatalf("Failed to uninstall service: %v", err)
			}
			fmt.Println("Auto-start service removed successfully")
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
	}

	// Load configuration
	cfg := config.Load()

	// Start the server
	run(cfg, *noTrayFlag)
}

func printVersion() {
	fmt.Printf("passkey-agent %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

func run(cfg *config.Config, headless bool) {
	// Initialize logging system
	logging.Init(1000, logging.LevelDebug)
	logging.Info(logging.CatSystem, "Passkey Agent starting", map[string]any{
		"version": api.Version,
	})

	// Load persisted user settings before anything depends on them
	if _, err := settings.Load(); err != nil {
		logging.Warn(logging.CatSystem, "Failed to load settings, using defaults", map[string]any{
			"error": err.Error(),
		})
	}

	// Crash reporting is opt-in
	if logging.InitSentry(api.Version, settings.IsCrashReportingEnabled()) {
		logging.Info(logging.CatSystem, "Crash reporting enabled", nil)
		defer logging.FlushSentry(2 * time.Second)
	}

	// Wire the device stack: driver -> gateway -> session -> watcher
	gateway := fido.NewGateway(fido.NewLibFIDO2Driver())
	session := fido.NewSession(gateway)
	watcher := fido.NewWatcher(gateway, session, settings.DevicePollInterval(), data.LookupAAGUID)
	watcher.Start()
	defer watcher.Stop()

	api.Configure(session, watcher)

	mux := api.NewMux()

	// Add WebSocket endpoint
	mux.HandleFunc("/v1/ws", api.InitWebSocket())

	addr := cfg.Address()

	shutdown := func() {
		logging.Info(logging.CatSystem, "Shutting down", nil)
		session.Lock()
		watcher.Stop()
		logging.FlushSentry(2 * time.Second)
		os.Exit(0)
	}
	api.SetShutdownHandler(shutdown)

	// Server start function
	startServer := func() {
		log.Printf("passkey-agent %s listening on http://%s\n", api.Version, addr)
		log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": addr,
		})

		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	// Determine if we should use system tray
	useTray := !headless && tray.IsSupported()

	if useTray {
		log.Println("Starting with system tray...")

		// Show welcome popup and first-run prompts
		if welcome.IsFirstRun() {
			go func() {
				welcome.ShowWelcome()
				_ = welcome.MarkAsShown() // Ignore error - non-critical

				if welcome.PromptAutostart() {
					if err := service.New().Install(); err != nil {
						logging.Error(logging.CatSystem, "Failed to enable auto-start", map[string]any{
							"error": err.Error(),
						})
					}
				}
				if welcome.PromptCrashReporting() {
					if err := settings.SetCrashReporting(true); err == nil {
						logging.InitSentry(api.Version, true)
					}
				}
			}()
		}

		// Create tray app with quit handler
		trayApp := tray.New(addr, session, watcher, shutdown)

		// Run tray with server - this blocks on the main thread until quit
		// (required for macOS Cocoa compatibility)
		trayApp.RunWithServer(startServer)
	} else {
		if headless {
			log.Println("Running in headless mode (no system tray)")
		} else {
			log.Println("System tray not supported on this platform, running headless")
		}

		// Set up signal handling for graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			shutdown()
		}()

		startServer()
	}
}

// installService installs the auto-start service for the current platform.
func installService() error {
	svc := service.New()
	return svc.Install()
}

// uninstallService removes the auto-start service for the current platform.
func uninstallService() error {
	svc := service.New()
	return svc.Uninstall()
}
