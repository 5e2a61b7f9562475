package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"samplecart/internal/config"
	"samplecart/internal/daemonrun"
)

const serviceName = "samplecart"

// program adapts daemonrun to the service manager's Start/Stop contract.
type program struct {
	cfg *config.Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	p.mu.Lock()
	p.cancel, p.done = cancel, done
	p.mu.Unlock()
	go func() { done <- daemonrun.Run(ctx, p.cfg, daemonrun.Options{}) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	return <-done
}

func newSystemService(ctx *commandContext, prg *program) (service.Service, error) {
	exe, err := daemonExecutable()
	if err != nil {
		return nil, err
	}
	args := []string{"service", "run"}
	if path := ctx.configPath(); path != "" {
		args = append(args, "--config", path)
	}
	return service.New(prg, &service.Config{
		Name:        serviceName,
		DisplayName: "samplecart daemon",
		Description: "Watches removable media and moves audio samples between local libraries and cards",
		Executable:  exe,
		Arguments:   args,
		Option: service.KeyValue{
			"UserService": true,
			"Restart":     "on-failure",
		},
	})
}

func newServiceCommand(ctx *commandContext) *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Register the daemon with the system service manager",
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install and enable the user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSystemService(ctx, &program{})
			if err != nil {
				return err
			}
			if err := svc.Install(); err != nil {
				return fmt.Errorf("install service: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s service (%s)\n", serviceName, service.Platform())
			return nil
		},
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSystemService(ctx, &program{})
			if err != nil {
				return err
			}
			if err := svc.Uninstall(); err != nil {
				return fmt.Errorf("uninstall service: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s service\n", serviceName)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the service manager's view of the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSystemService(ctx, &program{})
			if err != nil {
				return err
			}
			status, err := svc.Status()
			if err != nil {
				return fmt.Errorf("service status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), serviceStatusText(status))
			return nil
		},
	}

	runCmd := &cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			svc, err := newSystemService(ctx, &program{cfg: cfg})
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}

	serviceCmd.AddCommand(installCmd, uninstallCmd, statusCmd, runCmd)
	return serviceCmd
}

func serviceStatusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Running"
	case service.StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
