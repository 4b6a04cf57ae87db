package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/flemzord/toolhost/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceStopTimeout = 30 * time.Second

// program runs toolhost under the OS service manager.
type program struct {
	params app.RunParams
	logger service.Logger

	cancel context.CancelFunc
	done   chan error
}

// Start implements service.Interface. It must not block.
func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := app.Run(ctx, p.params)
		if err != nil && p.logger != nil {
			_ = p.logger.Error(err)
		}
		p.done <- err
	}()
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(serviceStopTimeout):
		return errors.New("toolhost did not stop in time")
	}
}

func serviceConfig(cfgPath string) (*service.Config, error) {
	args := []string{"service", "run"}
	if cfgPath != "" {
		abs, err := filepath.Abs(cfgPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	return &service.Config{
		Name:        "toolhost",
		DisplayName: "toolhost",
		Description: "Hosts, confirms and runs tools for AI agents.",
		Arguments:   args,
	}, nil
}

func newService(cfgPath string) (service.Service, *program, error) {
	cfg, err := serviceConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	prg := &program{params: app.RunParams{
		ConfigPath: cfgPath,
		Version:    version,
		Commit:     commit,
		Date:       date,
		LogLevel:   slog.LevelInfo,
	}}
	s, err := service.New(prg, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("service: %w", err)
	}
	return s, prg, nil
}

func serviceCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage toolhost as a system service",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: action + " the toolhost service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, _, err := newService(cfgPath)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the toolhost service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := newService(cfgPath)
			if err != nil {
				return err
			}
			status, err := s.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusString(status, err))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, prg, err := newService(cfgPath)
			if err != nil {
				return err
			}
			if prg.logger, err = s.Logger(nil); err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}

func statusString(status service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
