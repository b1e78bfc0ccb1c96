package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"scrollglide/internal/capture"
	"scrollglide/internal/daemon"
	"scrollglide/internal/logging"
	"scrollglide/internal/settings"
)

const version = "0.3.0"

const defaultConfigPath = "~/.config/scrollglide/config.yaml"

func printVersion() {
	fmt.Printf("scrollglide v%s\n", version)
	fmt.Println("Smooth, momentum-based mouse wheel scrolling for Linux input devices")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  scrollglide [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Grabs wheel events from the configured pointer devices and replays them")
	fmt.Println("  through a virtual pointer as a stream of small steps with inertia and")
	fmt.Println("  glide. Per-application overrides and exclusions come from the config file.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        YAML config file (default %q; missing default file means built-in defaults)\n", defaultConfigPath)
	fmt.Println()
	fmt.Println("  -pointer string")
	fmt.Println("        Wheel input device, replaces capture.pointers")
	fmt.Println()
	fmt.Println("  -keyboard string")
	fmt.Println("        Keyboard device read for the Ctrl (zoom) modifier")
	fmt.Println()
	fmt.Println("  -grab")
	fmt.Println("        Take exclusive access to the pointer devices")
	fmt.Println()
	fmt.Println("  -uinput string")
	fmt.Println("        uinput device path")
	fmt.Println()
	fmt.Println("  -smoothness, -acceleration, -friction, -momentum float")
	fmt.Println("        Engine tuning, replaces the engine section values")
	fmt.Println()
	fmt.Println("  -easing string")
	fmt.Println("        Easing curve: linear, ease_out_quad, ease_out_cubic, ease_out_expo,")
	fmt.Println("        ease_out_circ, ease_in_out_quad, ease_out_elastic, ease_out_back")
	fmt.Println()
	fmt.Println("  -scroll-multiplier float")
	fmt.Println("        Raw delta multiplier applied before the engine")
	fmt.Println()
	fmt.Println("  -update-hz int")
	fmt.Println("        Simulation rate in Hz (60-1000)")
	fmt.Println()
	fmt.Println("  -disabled")
	fmt.Println("        Start with the engine disabled (events pass through)")
	fmt.Println()
	fmt.Println("  -telemetry")
	fmt.Println("        Serve the telemetry WebSocket")
	fmt.Println()
	fmt.Println("  -telemetry-port int")
	fmt.Println("        Telemetry WebSocket port")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug")
	fmt.Println()
	fmt.Println("  -dump-config")
	fmt.Println("        Print the effective configuration as YAML and exit")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  scrollglide -pointer /dev/input/by-id/usb-Logitech_USB_Receiver-event-mouse")
	fmt.Println("  scrollglide -config ~/.config/scrollglide/config.yaml -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input devices and write access to /dev/uinput")
	fmt.Println("  - Per-application rules need capture.focus_command (e.g. xdotool getactivewindow getwindowpid)")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath   = flag.String("config", defaultConfigPath, "YAML config file")
		pointer      = flag.String("pointer", "", "Wheel input device")
		keyboard     = flag.String("keyboard", "", "Keyboard device for the zoom modifier")
		grab         = flag.Bool("grab", true, "Take exclusive access to the pointer devices")
		uinputPath   = flag.String("uinput", "", "uinput device path")
		smoothness   = flag.Float64("smoothness", 0, "Engine smoothness factor")
		acceleration = flag.Float64("acceleration", 0, "Engine acceleration factor")
		friction     = flag.Float64("friction", 0, "Engine friction factor")
		momentum     = flag.Float64("momentum", 0, "Engine momentum factor")
		easingName   = flag.String("easing", "", "Easing curve name")
		multiplier   = flag.Float64("scroll-multiplier", 0, "Raw delta multiplier")
		updateHz     = flag.Int("update-hz", 0, "Simulation rate in Hz")
		disabled     = flag.Bool("disabled", false, "Start with the engine disabled")
		telemetryOn  = flag.Bool("telemetry", false, "Serve the telemetry WebSocket")
		telePort     = flag.Int("telemetry-port", 0, "Telemetry WebSocket port")
		ipcSocket    = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		logLevelStr  = flag.String("log-level", "", "Log level: error, warn, info, debug")
		dumpConfig   = flag.Bool("dump-config", false, "Print the effective configuration and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	// Only flags given on the command line override the file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	pick := func(name string) bool { return set[name] }

	var ov settings.FlagOverrides
	if pick("pointer") {
		ov.Pointer = pointer
	}
	if pick("keyboard") {
		ov.Keyboard = keyboard
	}
	if pick("grab") {
		ov.Grab = grab
	}
	if pick("uinput") {
		ov.UinputPath = uinputPath
	}
	if pick("smoothness") {
		ov.Smoothness = smoothness
	}
	if pick("acceleration") {
		ov.Acceleration = acceleration
	}
	if pick("friction") {
		ov.Friction = friction
	}
	if pick("momentum") {
		ov.Momentum = momentum
	}
	if pick("easing") {
		ov.Easing = easingName
	}
	if pick("scroll-multiplier") {
		ov.ScrollMultiplier = multiplier
	}
	if pick("update-hz") {
		ov.UpdateHz = updateHz
	}
	if pick("disabled") {
		ov.Disabled = disabled
	}
	if pick("telemetry") {
		ov.TelemetryEnabled = telemetryOn
	}
	if pick("telemetry-port") {
		ov.TelemetryPort = telePort
	}
	if pick("ipc-socket") {
		ov.IPCSocketPath = ipcSocket
	}
	if pick("log-level") {
		ov.LogLevel = logLevelStr
	}

	cfg, loadedFrom, err := loadConfig(*configPath, pick("config"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	ov.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid configuration:", err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.New(level, os.Stdout)

	if err := run(cfg, loadedFrom, logger); err != nil {
		logger.Error("scrollglide failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly.
func loadConfig(path string, explicit bool) (settings.Config, string, error) {
	cfg, err := settings.LoadConfigFile(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return settings.DefaultConfig(), "", nil
	}
	return settings.Config{}, "", err
}

func run(cfg settings.Config, configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vdev, err := capture.OpenVirtualDevice(cfg.Capture.UinputPath, cfg.Capture.DeviceName)
	if err != nil {
		return fmt.Errorf("open virtual pointer (tip: load the uinput module and check permissions): %w", err)
	}
	defer vdev.Close()

	var (
		tracker *capture.FocusTracker
		focus   capture.FocusSource
	)
	if len(cfg.Capture.FocusCommand) > 0 {
		cache := capture.NewProcessCache(0, capture.ProcComm)
		interval := time.Duration(cfg.Capture.FocusPollMS) * time.Millisecond
		tracker, err = capture.NewFocusTracker(cfg.Capture.FocusCommand, interval, cache, logger.With("component", "focus"))
		if err != nil {
			return err
		}
		focus = tracker
	} else if len(cfg.ExcludedApps) > 0 || len(cfg.PerApp) > 0 {
		logger.Warn("no capture.focus_command configured; per-app rules and exclusions cannot match")
	}

	evCfg := capture.EvdevConfig{
		Pointers:  cfg.Capture.Pointers,
		Keyboards: cfg.Capture.Keyboards,
		Grab:      cfg.Capture.Grab,
		SkipName:  vdev.Name(),
	}

	mgr, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Backend:    "evdev",
		Sink:       vdev,
		NewSource: func(h capture.Handler) (capture.Source, error) {
			return capture.NewEvdev(evCfg, h, vdev, focus, logger.With("component", "capture")), nil
		},
		Focus:  tracker,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	logger.Info("scrollglide starting",
		"version", version,
		"config", configPath,
		"pointers", cfg.Capture.Pointers,
		"grab", cfg.Capture.Grab,
		"update_hz", cfg.Clock.UpdateHz,
		"ipc", cfg.IPC.SocketPath,
		"telemetry", cfg.Telemetry.Enabled)
	logger.Debug("engine configuration", "engine", fmt.Sprintf("%+v", cfg.ToEngineConfig()))

	return mgr.Run(ctx)
}
