/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewear/apiserver/config"
	"github.com/rewear/apiserver/internal/db"
	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// notifierCmd consumes exchange events and stores user notifications.
var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Turns exchange events into user notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger.Initialize(cfg.Log.Level, cfg.Log.Format)
		log := logger.WithComponent("notifier")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer dbConn.Close()

		bus, err := mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("init mq: %w", err)
		}
		if bus == nil {
			return errors.New("notifier requires an mq backend")
		}
		defer bus.Close()

		notifications := services.NewNotificationService(store.NewNotificationRepository(dbConn))
		events := mq.NewEventPublisher(bus, cfg.MQ.Channel)

		log.Info("consuming exchange events", "channel", cfg.MQ.Channel, "backend", cfg.MQ.Backend)
		err = events.SubscribeEvents(ctx, func(ctx context.Context, event mq.ExchangeEvent) error {
			return notifications.HandleEvent(ctx, event)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscription stopped: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifierCmd)
}
