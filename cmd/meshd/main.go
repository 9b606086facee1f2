// meshd runs a single mesh node process: it loads configuration, starts a
// Node (discovery + data transport), drives a Scheduler, and constructs the
// configured example modules from the registry.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kestrelmesh/meshrt/internal/config"
	"github.com/kestrelmesh/meshrt/internal/metrics"
	"github.com/kestrelmesh/meshrt/internal/modules"
	"github.com/kestrelmesh/meshrt/internal/node"
	"github.com/kestrelmesh/meshrt/internal/registry"
	"github.com/kestrelmesh/meshrt/internal/scheduler"
	"github.com/kestrelmesh/meshrt/internal/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "meshd",
		Short: "meshd runs a mesh pub/sub node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level")

	root.AddCommand(newRunCmd(&configPath, &logLevel))
	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigCmd(&configPath))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("meshd %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}

func newConfigCmd(configPath *string) *cobra.Command {
	validate := &cobra.Command{
		Use:   "validate",
		Short: "validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(*configPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cfgCmd := &cobra.Command{Use: "config", Short: "configuration utilities"}
	cfgCmd.AddCommand(validate)
	return cfgCmd
}

func newRunCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the node until a shutdown signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(*configPath, *logLevel)
		},
	}
}

func runNode(configPath, logLevelOverride string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnvOverrides()
	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	setupLogger(cfg.LogLevel)
	logger := slog.Default()

	logger.Info("meshd starting", "version", Version, "node_name", cfg.NodeName)

	n, err := node.New(cfg.NodeName, cfg.DataPort, cfg.MulticastGroup, cfg.MulticastPort, logger)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	m := metrics.New("meshrt")
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("metrics registration failed", "error", err)
	}

	n.Transport().SetHooks(m.MessagesSent.Inc, m.MessagesRecv.Inc, m.MalformedDrops.Inc)
	n.Discovery().SetHooks(nil, m.MalformedDrops.Inc)
	n.SetOnPeerDiscovered(m.PeersDiscovered.Inc)

	if err := n.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer n.Stop()

	sched := scheduler.New()
	sched.SetOnDispatch(m.SchedulerRuns.Inc)
	go sched.Run()
	defer sched.Stop()

	reporter := telemetry.NewReporter(n, 0)
	sched.AddPeriodic("telemetry-collect", 10*time.Second, func() {
		snap := reporter.Collect()
		m.RemoteEndpoints.Set(float64(snap.RemoteSubscribers))
	})

	reg := registry.New()
	reg.Register("echo-publisher", modules.NewEchoPublisher(n, sched, logger))
	reg.Register("echo-subscriber", modules.NewEchoSubscriber(n, logger))

	for _, name := range cfg.Modules {
		mod, err := reg.Create(registry.Config{"type": name})
		if err != nil {
			logger.Error("module construction failed", "module", name, "error", err)
			continue
		}
		if err := mod.Run(); err != nil {
			logger.Error("module run failed", "module", mod.Name(), "error", err)
			continue
		}
		logger.Info("module started", "module", mod.Name())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig)
	return nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
