package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/stingray/internal/activity"
	"github.com/srg/stingray/internal/publish"
	"github.com/srg/stingray/internal/store"
	"github.com/srg/stingray/pkg/config"
)

// loadConfig reads --config when given and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if f := cmd.Flags().Lookup("activity"); f != nil && f.Changed {
		cfg.Activity = f.Value.String()
	}
	return cfg, nil
}

func selectedActivity(cfg *config.Config) (activity.Type, error) {
	return activity.Parse(cfg.Activity)
}

// openStore opens the configured backend. The returned closer releases the
// backend connection, if any.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		rc := cfg.Store.Redis
		client, err := store.DialRedis(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := client.Close(); err != nil {
				logger.WithField("error", err).Warn("Failed to close redis client")
			}
		}
		return store.NewRedisStore(client, rc.Prefix, logger), closer, nil
	default:
		fs, err := store.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

// newPublisher connects the MQTT uplink when a broker is configured.
func newPublisher(cfg *config.Config, logger *logrus.Logger) (publish.Publisher, error) {
	mc := cfg.MQTT
	if mc.Broker == "" {
		return publish.Nop, nil
	}
	p, err := publish.NewMQTT(publish.MQTTOptions{
		Broker:      mc.Broker,
		ClientID:    mc.ClientID,
		Username:    mc.Username,
		Password:    mc.Password,
		TopicPrefix: mc.TopicPrefix,
		QoS:         mc.QoS,
		Timeout:     mc.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event uplink: %w", err)
	}
	return p, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
