package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ft54482/owl-workshop/internal/common"
	"github.com/ft54482/owl-workshop/internal/scheduler"
	"github.com/ft54482/owl-workshop/internal/scheduler/configuration"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:  "run",
		RunE: runCmdE,
	}

	cmd.Flags().String("config", "./config/scheduler", "Directory containing config.yaml")

	return cmd
}

func runCmdE(cmd *cobra.Command, args []string) error {
	g, ctx := errgroup.WithContext(context.Background())

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	var config configuration.SchedulerConfiguration
	if err := common.LoadConfig(&config, configPath); err != nil {
		return err
	}

	app := scheduler.New(&config)
	g.Go(func() error {
		return app.StartUp(ctx)
	})

	// Cancel the errgroup context on SIGINT and SIGTERM,
	// which shuts everything down gracefully.
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-stopSignal:
			return fmt.Errorf("received signal %v", sig)
		}
	})
	return g.Wait()
}
