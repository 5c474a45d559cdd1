package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/motoxelerate/orderflow/internal/commerce"
	"github.com/motoxelerate/orderflow/internal/config"
	"github.com/motoxelerate/orderflow/internal/httpx"
	kafkax "github.com/motoxelerate/orderflow/internal/kafka"
	"github.com/motoxelerate/orderflow/internal/metrics"
	"github.com/motoxelerate/orderflow/internal/notify"
	"github.com/motoxelerate/orderflow/internal/payments"
	"github.com/motoxelerate/orderflow/internal/postgres"
	"github.com/motoxelerate/orderflow/internal/redisx"
)

var entities = []string{
	commerce.EntityOrder,
	commerce.EntityAppointment,
	commerce.EntityInvoice,
	commerce.EntityCart,
	commerce.EntityNotification,
}

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	producers := make(map[string]*kafkax.Producer, len(entities))
	for _, e := range entities {
		p := kafkax.NewProducer(cfg.KafkaBrokers, commerce.TopicFor(e), 1024)
		p.Start(ctx)
		producers[e] = p
	}
	notifier := &notify.KafkaNotifier{Producers: producers, Service: cfg.ServiceName}

	svc := commerce.NewService(commerce.NewRepo(db), notifier)
	pay := payments.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.WebhookCallback, cfg.ProviderTimeout)
	m := metrics.New("api")

	router := httpx.NewRouter()
	h := &httpx.Handler{Svc: svc, Payments: pay, Redis: rdb, Metrics: m}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close()
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
}
