package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"matchbook/internal/config"
	"matchbook/internal/engine"
	"matchbook/internal/net"
	"matchbook/internal/report"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	envPath := flag.String("env", "", "Path to a .env file (default: ./.env if present)")
	address := flag.String("address", "", "Listen address, overrides MATCHBOOK_ADDRESS")
	port := flag.Int("port", 0, "Listen port, overrides MATCHBOOK_PORT")
	workers := flag.Int("workers", 0, "Concurrent client connections, overrides MATCHBOOK_WORKERS")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}
	if *address != "" {
		cfg.Server.Address = *address
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *workers > 0 {
		cfg.Server.Workers = *workers
	}

	zerolog.SetGlobalLevel(cfg.Log.Level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Trades are always logged, and published when brokers are configured.
	reporters := report.Multi{report.LogReporter{}}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := report.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close kafka publisher")
			}
		}()
		reporters = append(reporters, publisher)
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("publishing trades to kafka")
	}

	// Setup the TCP server and the matching engine.
	eng := engine.New(engine.WithReporter(reporters))
	srv := net.New(cfg.Server.Address, cfg.Server.Port, eng, cfg.Server.Workers)

	// Block on running the server.
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		stop()
		os.Exit(1)
	}
}
