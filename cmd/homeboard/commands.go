package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"homeboard/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := assemble(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.service.Bootstrap(ctx); err != nil {
				log.Printf("WARNING: bootstrap error (will retry on next refresh): %v", err)
			}
			go d.service.RunScheduler()

			httpServer := app.NewHTTPServer(d.service, d.cfg.CORSOrigin)
			server := &http.Server{
				Addr:              d.cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      2 * time.Minute,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("homeboard listening on %s (device %s)", d.cfg.Addr, d.cfg.DeviceID)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("shutdown error: %v", err)
			}
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch one dashboard snapshot and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := assemble(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			snapshot, err := d.service.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(snapshot)
		},
	}
}

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play [briefing-id]",
		Short: "Play a briefing now and wait for it to finish",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := assemble(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.service.Bootstrap(ctx); err != nil {
				log.Printf("WARNING: bootstrap error: %v", err)
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			cfg, err := d.service.PlayBriefing(id)
			if err != nil {
				return err
			}
			d.service.Wait()
			if notice := d.service.Dashboard().Notice; notice != "" {
				return errors.New(notice)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "played %q\n", cfg.Title)
			return nil
		},
	}
}

func syncDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-devices",
		Short: "Re-import the smart-device roster and list it",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := assemble(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			list, err := d.service.SyncDevices(cmd.Context())
			if err != nil {
				return err
			}
			for _, device := range list {
				state := "offline"
				if device.Online {
					state = "online"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d briefings\n", device.ID, device.Name, state, len(device.BriefingIDs))
			}
			return nil
		},
	}
}
