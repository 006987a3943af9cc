package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/evshare/libs/config"
	"github.com/md-rashed-zaman/evshare/libs/httpx"
	"github.com/md-rashed-zaman/evshare/libs/kafkax"
	otelx "github.com/md-rashed-zaman/evshare/libs/otel"
	"github.com/md-rashed-zaman/evshare/libs/runtime"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/events"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/handlers"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/localtime"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/planner"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/policy"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/recommend"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-planner")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	bookingURL, err := config.RequiredString("BOOKING_API_URL")
	if err != nil {
		panic(err)
	}
	codec, err := localtime.Load(config.String("PLANNER_TIMEZONE", ""))
	if err != nil {
		logger.Error("invalid PLANNER_TIMEZONE; using local zone", "err", err)
		codec = localtime.New(nil)
	}

	gatewayToken := config.String("GATEWAY_TOKEN", "")
	outbound := httpx.NewClient(httpx.ClientOptions{
		Timeout:           config.Seconds("HTTP_CLIENT_TIMEOUT_SECONDS", 10*time.Second),
		RequestsPerSecond: config.Float("OUTBOUND_RPS", 20),
	})
	bookingAPI, err := scheduling.NewClient(scheduling.Config{BaseURL: bookingURL, Token: gatewayToken, HTTPClient: outbound})
	if err != nil {
		panic(err)
	}
	recommender := recommend.NewClient(config.String("RECOMMENDATION_API_URL", ""), gatewayToken, outbound)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := events.NewPublisher(brokers, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("event publisher close failed", "err", err)
		}
	}()

	p := planner.New(planner.Config{
		Scheduling:  bookingAPI,
		Recommender: recommender,
		Policy:      policy.NewProvider(logger, config.String("PLANNER_POLICY_FILE", "")),
		Codec:       codec,
		Events:      publisher,
		Logger:      logger,
	})

	if strings.TrimSpace(brokers) != "" {
		host, _ := os.Hostname()
		invalidations := events.NewConsumer(logger, events.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service+"-"+host),
		}, events.InvalidateOnBooking(p.InvalidateVehicle))
		go invalidations.Run(ctx)
	}

	checks := []runtime.ReadyCheck{
		{Name: "booking-api", Check: runtime.HTTPReadyCheck(outbound, bookingAPI.HealthURL())},
	}
	if strings.TrimSpace(brokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	perMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limit httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
		limit = httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, service).Middleware(logger, true)
	} else {
		limit = httpx.NewRateLimiter(perMinute).Middleware()
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewPlannerHandler(p, bookingAPI, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(config.List("CORS_ALLOWED_ORIGINS", ""), "GET, POST, OPTIONS", "Content-Type, Authorization, Idempotency-Key, X-Request-Id"),
		limit,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Seconds("HTTP_SERVER_TIMEOUT_SECONDS", 30*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking-planner")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	runtime.Serve(ctx, srv, logger, 10*time.Second)
}
