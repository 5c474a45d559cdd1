package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/motoxelerate/orderflow/internal/commerce"
	"github.com/motoxelerate/orderflow/internal/config"
	kafkax "github.com/motoxelerate/orderflow/internal/kafka"
	"github.com/motoxelerate/orderflow/internal/redisx"
)

var entities = []string{
	commerce.EntityOrder,
	commerce.EntityAppointment,
	commerce.EntityInvoice,
	commerce.EntityCart,
	commerce.EntityNotification,
}

// The notifier relays committed entity events from Kafka into Redis pub/sub
// channels, where websocket edges pick them up. Delivery here is best
// effort; clients that miss a live event catch up from the notification log.
func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	group := getenv("NOTIFIER_GROUP", "orderflow-notifier")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), 4)

	g, gctx := errgroup.WithContext(ctx)
	for _, entity := range entities {
		entity := entity
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, commerce.TopicFor(entity), workers)
		channel := fmt.Sprintf(redisx.ChanRealtime, entity)
		g.Go(func() error {
			log.Info().Str("topic", commerce.TopicFor(entity)).Str("channel", channel).
				Msg("relay started")
			return cons.Start(gctx, func(ctx context.Context, m kafkago.Message) error {
				var env commerce.Envelope
				if err := json.Unmarshal(m.Value, &env); err != nil {
					log.Warn().Err(err).Str("topic", commerce.TopicFor(entity)).
						Msg("dropping undecodable event")
					return nil
				}
				return rdb.Publish(ctx, channel, m.Value).Err()
			})
		})
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("shutting down relay...")
		cancel()
	}()

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("relay exit")
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
