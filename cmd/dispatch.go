package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raftaar/ambudispatch/app"
	"github.com/raftaar/ambudispatch/config"
	"github.com/raftaar/ambudispatch/infra/logger"
)

var dispatchFile string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch a single booking described by a JSON file and exit",
	RunE:  dispatchBooking,
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchFile, "file", "f", "", "JSON file with booking and candidates")
	_ = dispatchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(dispatchCmd)
}

func dispatchBooking(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New("dispatch-command")
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	out, err := svc.DispatchFile(ctx, dispatchFile)
	if err != nil {
		return fmt.Errorf("dispatch booking: %w", err)
	}
	logg.Infof("booking %s resolved: action=%s driver=%s", out.BookingID, out.Action, out.DriverID)
	return nil
}
