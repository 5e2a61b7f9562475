package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"samplecart/internal/config"
	"samplecart/internal/daemon"
	"samplecart/internal/ipc"
	"samplecart/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	// Ready, when set, receives the daemon once the socket is serving.
	Ready func(*daemon.Daemon)
	// DaemonOptions are passed through to daemon.New.
	DaemonOptions []daemon.Option
}

// Run starts the samplecart daemon and blocks until ctx ends or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logStartup(logger, cfg)

	d, err := daemon.New(signalCtx, cfg, logger, opts.DaemonOptions...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check mount roots and api_bind, then run samplecart daemon start"),
			logging.String(logging.FieldImpact, "volumes will not be detected until the daemon starts"),
		)
	}
	if opts.Ready != nil {
		opts.Ready(d)
	}

	<-signalCtx.Done()
	logger.Info("samplecart daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartup(logger *slog.Logger, cfg *config.Config) {
	logger.Info("samplecart daemon starting",
		logging.String(logging.FieldEventType, "daemon_boot"),
		logging.String("socket", cfg.Paths.SocketPath),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Int("local_roots", len(cfg.Paths.LocalRoots)),
		logging.Int("mount_roots", len(cfg.Devices.MountRoots)),
		logging.Bool("journal", cfg.Transfer.Journal),
		logging.Bool("netlink", cfg.Devices.Netlink),
		logging.Int("convert_workers", cfg.Transfer.ConvertWorkers),
		logging.Int("copy_workers", cfg.Transfer.CopyWorkers),
	)
}
