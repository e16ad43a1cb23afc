// screencastd controls screen recordings over the D-Bus session bus:
// the daemon subcommand owns the capture process, the other
// subcommands are thin clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/screencastd/screencastd/internal/api"
	"github.com/screencastd/screencastd/internal/capture"
	"github.com/screencastd/screencastd/internal/cli"
	"github.com/screencastd/screencastd/internal/config"
	"github.com/screencastd/screencastd/internal/daemon"
	"github.com/screencastd/screencastd/internal/notify"
	"github.com/screencastd/screencastd/internal/service"
	"github.com/screencastd/screencastd/internal/session"
)

var progName = filepath.Base(os.Args[0])

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "start":
		runClient("start", os.Args[2:])
	case "stop":
		runClient("stop", os.Args[2:])
	case "toggle":
		runClient("toggle", os.Args[2:])
	case "status":
		runClient("status", os.Args[2:])
	case "service":
		runService(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  daemon        Run the recording daemon
  start         Start a recording (select a region first)
  stop          Stop the current recording
  toggle        Stop if recording, start otherwise
  status        Show whether a recording is in progress
  service       Manage the systemd user service

Run '%s <command> -h' for command-specific help.
`, progName, progName)
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/screencastd/config.yaml)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text (colored) or json")
	listenAddr := fs.String("listen", "", "Status API listen address (empty disables the API)")
	outputDir := fs.String("output-dir", "", "Recording output directory (default: <videos dir>/Screencasts)")
	container := fs.String("container", "", "Output container extension (default: mp4)")
	frameRate := fs.Int("fps", 0, "Capture frame rate (default: 60)")
	codec := fs.String("codec", "", "Video codec passed to the capture tool")
	openCmd := fs.String("open-cmd", "", "Command used to open a finished recording")
	notifications := fs.Bool("notifications", true, "Enable desktop notifications")
	fs.Parse(args)

	// Load config, let environment override it, then let explicit
	// flags override both.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	set := setFlags(fs)
	if !set["listen"] && cfg.Listen != "" {
		*listenAddr = cfg.Listen
	}
	if !set["output-dir"] && cfg.Recorder.OutputDir != "" {
		*outputDir = cfg.Recorder.OutputDir
	}
	if !set["container"] && cfg.Recorder.Container != "" {
		*container = cfg.Recorder.Container
	}
	if !set["fps"] && cfg.Recorder.FrameRate != 0 {
		*frameRate = cfg.Recorder.FrameRate
	}
	if !set["codec"] && cfg.Recorder.Codec != "" {
		*codec = cfg.Recorder.Codec
	}
	if !set["open-cmd"] && cfg.Recorder.OpenCommand != "" {
		*openCmd = cfg.Recorder.OpenCommand
	}
	if !set["log-level"] && cfg.Daemon.LogLevel != "" {
		*logLevel = cfg.Daemon.LogLevel
	}
	if !set["log-format"] && cfg.Daemon.LogFormat != "" {
		*logFormat = cfg.Daemon.LogFormat
	}
	if !set["notifications"] && cfg.Daemon.Notifications != nil {
		*notifications = *cfg.Daemon.Notifications
	}

	level := parseLogLevel(*logLevel)

	// Set global slog default with configured level and format
	var handler slog.Handler
	switch *logFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		// When running under systemd, the journal adds its own timestamps.
		underSystemd := os.Getenv("INVOCATION_ID") != ""
		opts := &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    underSystemd,
		}
		if underSystemd {
			opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			}
		}
		handler = tint.NewHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	recorder := capture.NewRecorder(capture.Options{
		OutputDir: *outputDir,
		Container: *container,
		FrameRate: *frameRate,
		Codec:     *codec,
	})
	selector := capture.NewSlurpSelector()

	// Desktop notifications are best effort: a missing notification
	// service must not keep recordings from working.
	var notifier session.Notifier = session.NopNotifier{}
	var desktopNotifier *notify.DesktopNotifier
	if *notifications {
		n, err := notify.New(notify.Config{OpenCommand: *openCmd})
		if err != nil {
			slog.Warn("failed to create desktop notifier, notifications disabled", "error", err)
		} else {
			desktopNotifier = n
			notifier = n
			slog.Debug("desktop notifications enabled")
		}
	}

	events := &session.Fanout{}
	ctrl := session.NewController(selector, recorder, notifier, events, session.GoSpawner{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if desktopNotifier != nil {
		defer desktopNotifier.Close()
	}

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Status API
	if *listenAddr != "" {
		apiServer, err := api.NewServer(*listenAddr, ctrl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error starting status API: %v\n", err)
			os.Exit(1)
		}
		events.Add(apiServer)
		apiServer.Start()
		slog.Info("status API started", "url", "http://"+apiServer.Addr())
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			apiServer.Shutdown(shutdownCtx)
		}()
	}

	// Live reload of capture settings. Flags stay authoritative for
	// anything set on the command line.
	watchPath := *configPath
	if watchPath == "" {
		watchPath = config.DefaultPath()
	}
	if watchPath != "" {
		go func() {
			err := config.Watch(ctx, watchPath, func(newCfg *config.Config) {
				opts := capture.Options{
					OutputDir: *outputDir,
					Container: *container,
					FrameRate: *frameRate,
					Codec:     *codec,
				}
				if !set["output-dir"] {
					opts.OutputDir = newCfg.Recorder.OutputDir
				}
				if !set["container"] {
					opts.Container = newCfg.Recorder.Container
				}
				if !set["fps"] {
					opts.FrameRate = newCfg.Recorder.FrameRate
				}
				if !set["codec"] {
					opts.Codec = newCfg.Recorder.Codec
				}
				recorder.SetOptions(opts)
				slog.Info("capture settings reloaded", "path", watchPath)
			})
			if err != nil && err != context.Canceled {
				slog.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	if err := daemon.Run(ctx, daemon.Config{Controller: ctrl, Events: events}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Parse(args)

	client, err := cli.Connect()
	if err != nil {
		connectFail()
	}
	defer client.Close()

	switch cmd {
	case "start":
		ok, err := client.Start()
		if err != nil {
			connectFail()
		}
		if ok {
			fmt.Println("Recording started")
		} else {
			fmt.Println("Failed to start recording (already recording or region selection failed)")
		}
	case "stop":
		ok, err := client.Stop()
		if err != nil {
			connectFail()
		}
		if ok {
			fmt.Println("Recording stopped")
		} else {
			fmt.Println("No recording in progress")
		}
	case "toggle":
		if _, err := client.Toggle(); err != nil {
			connectFail()
		}
		fmt.Println("Recording toggled")
	case "status":
		recording, file, err := client.Status()
		if err != nil {
			connectFail()
		}
		if recording {
			fmt.Println("Recording: yes")
			fmt.Printf("File: %s\n", file)
		} else {
			fmt.Println("Recording: no")
		}
	}
}

func connectFail() {
	fmt.Fprintf(os.Stderr, "error: could not connect to daemon. Is it running? (%s daemon)\n", progName)
	os.Exit(1)
}

// runService handles the "service" subcommand group (install/uninstall/status).
func runService(args []string) {
	if len(args) == 0 {
		printServiceUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		runServiceInstall(args[1:])
	case "uninstall":
		if err := service.Uninstall(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		service.Status()
	case "-h", "--help", "help":
		printServiceUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n\n", args[0])
		printServiceUsage()
		os.Exit(1)
	}
}

func runServiceInstall(args []string) {
	fs := flag.NewFlagSet("service install", flag.ExitOnError)
	start := fs.Bool("start", false, "Start the service immediately after installing")
	configPath := fs.String("config", "", "Config file path to embed in the unit file")
	fs.Parse(args)

	if err := service.Install(service.Options{
		ConfigPath: *configPath,
		Start:      *start,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printServiceUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s service <command> [options]

Commands:
  install       Install and enable the systemd user service
  uninstall     Stop, disable, and remove the systemd user service
  status        Show the service status

Install options:
  --start       Start the service immediately after installing
  --config      Config file path to embed in the unit file's ExecStart
`, progName)
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig loads a config file. An explicit path that doesn't exist is an error.
// A missing default path is silently ignored (returns empty config).
func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", explicitPath)
		}
		cfg, err := config.Load(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", explicitPath, err)
		}
		return cfg, nil
	}

	defaultPath := config.DefaultPath()
	if defaultPath == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", defaultPath, err)
	}
	return cfg, nil
}

// setFlags returns the set of flag names that were explicitly provided on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	m := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}
