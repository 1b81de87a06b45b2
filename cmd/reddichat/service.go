package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/reddichat/pkg/app"
)

// program runs the server under a system service manager.
type program struct {
	params app.RunParams
	rt     *app.Runtime
}

// Start implements service.Interface. It must not block.
func (p *program) Start(_ service.Service) error {
	cfg, _, err := app.LoadConfig(p.params.ConfigPath)
	if err != nil {
		return err
	}
	rt, err := app.Build(context.Background(), cfg, app.BuildOptions{
		DataDir: p.params.DataDir,
		Version: p.params.Version,
		Serve:   true,
	})
	if err != nil {
		return err
	}
	if err := rt.App.Start(); err != nil {
		_ = rt.Close(context.Background())
		return err
	}
	p.rt = rt
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(_ service.Service) error {
	if p.rt == nil {
		return nil
	}
	p.rt.App.Stop()
	return p.rt.Close(context.Background())
}

func newService(cfgPath, dataDir string) (service.Service, error) {
	args := []string{"service", "run"}
	if cfgPath != "" {
		abs, err := filepath.Abs(cfgPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
		cfgPath = abs
	}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	prg := &program{params: app.RunParams{ConfigPath: cfgPath, DataDir: dataDir, Version: version}}
	return service.New(prg, &service.Config{
		Name:        "reddichat",
		DisplayName: "ReddiChat",
		Description: "Streaming chat assistant for Reddit and web research.",
		Arguments:   args,
	})
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage reddichat as a system service",
	}
	cmd.PersistentFlags().String("data-dir", "", "Persistent data directory")

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFromFlags(cmd)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFromFlags(cmd)
			if err != nil {
				return err
			}
			st, err := svc.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusText(st))
			return nil
		},
	})

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the service", action),
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := serviceFromFlags(cmd)
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("service "+action+": ok"))
				return nil
			},
		})
	}
	return cmd
}

func serviceFromFlags(cmd *cobra.Command) (service.Service, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return newService(cfgPath, dataDir)
}

func statusText(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return successStyle.Render("running")
	case service.StatusStopped:
		return warningStyle.Render("stopped")
	default:
		return dimStyle.Render("unknown")
	}
}
