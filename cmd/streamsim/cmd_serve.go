package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/streamsim/internal/delivery"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/metrics"
	"github.com/rewired-gh/streamsim/internal/simulation"
	"github.com/rewired-gh/streamsim/internal/storage"
	"github.com/rewired-gh/streamsim/internal/telegram"
	"github.com/rewired-gh/streamsim/internal/transport/httpapi"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server with live emission",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := storage.New(cfg.Storage.MaxEvents, cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close storage: %v", err)
				}
			}()

			m := metrics.New()
			hub := delivery.NewHub(delivery.Config{
				MaxClients:   cfg.Delivery.MaxClients,
				SendBuffer:   cfg.Delivery.SendBuffer,
				CatchupLimit: cfg.Delivery.CatchupLimit,
			}, store, m)
			defer hub.Close()

			opts := []simulation.Option{
				simulation.WithStore(store),
				simulation.WithPublisher(hub),
				simulation.WithMetrics(m),
			}

			var telegramClient *telegram.Client
			if cfg.Telegram.Enabled {
				telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
					cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, cfg.Telegram.AnomalyCooldown)
				if err != nil {
					return fmt.Errorf("failed to initialize Telegram client: %w", err)
				}
				opts = append(opts, simulation.WithNotifier(telegramClient))
				logger.Info("Telegram client initialized successfully")
			} else {
				logger.Debug("Telegram notifications disabled")
			}

			sim, err := newSimulator(cfg, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sim.LoadBaseline(ctx); err != nil {
				return fmt.Errorf("failed to load baseline: %w", err)
			}

			if telegramClient != nil {
				telegramClient.ListenForCommands(ctx, sim.Summary)
			}

			if cfg.Emitter.Enabled {
				emitter := simulation.NewEmitter(sim, simulation.EmitterConfig{
					High:    cfg.Emitter.HighInterval,
					Medium:  cfg.Emitter.MediumInterval,
					Low:     cfg.Emitter.LowInterval,
					Cleanup: cfg.Emitter.CleanupInterval,
					Rotate:  cfg.Storage.RotateInterval,
				})
				go emitter.Run(ctx)
			} else {
				logger.Info("Live emission disabled")
			}

			server := httpapi.New(httpapi.Config{
				ListenAddr:   cfg.Server.ListenAddr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}, sim, hub, m.Handler())

			errc := make(chan error, 1)
			go func() { errc <- server.ListenAndServe() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
				logger.Info("Shutdown signal received, cleaning up...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			hub.Close()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP shutdown: %v", err)
			}
			sim.PersistCorrelations()
			logger.Info("Service stopped")
			return nil
		},
	}
}
