package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/funnel-api/internal/catalog"
	"github.com/noah-isme/funnel-api/internal/checkout"
	"github.com/noah-isme/funnel-api/internal/common"
	"github.com/noah-isme/funnel-api/internal/config"
	"github.com/noah-isme/funnel-api/internal/content"
	"github.com/noah-isme/funnel-api/internal/coupon"
	"github.com/noah-isme/funnel-api/internal/db/migrations"
	"github.com/noah-isme/funnel-api/internal/events"
	"github.com/noah-isme/funnel-api/internal/funnel"
	"github.com/noah-isme/funnel-api/internal/health"
	"github.com/noah-isme/funnel-api/internal/lock"
	"github.com/noah-isme/funnel-api/internal/obs"
	"github.com/noah-isme/funnel-api/internal/payment"
	"github.com/noah-isme/funnel-api/internal/ratelimit"
	"github.com/noah-isme/funnel-api/internal/resilience"
	"github.com/noah-isme/funnel-api/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.ObsMetricsNamespace, nil)

	tracingEnabled := cfg.ObsTracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "funnel-api",
			Endpoint:      cfg.ObsOTLPEndpoint,
			Exporter:      cfg.ObsTracingExporter,
			SamplingRatio: cfg.ObsSamplingRatio,
			Environment:   cfg.AppEnv,
			Attributes:    []attribute.KeyValue{attribute.String("funnel.payment_processor", cfg.PaymentProcessor)},
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrateOnStart {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "funnel-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.ObsPrometheusEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	products := catalog.CachedStore{
		Store:  catalog.PGStore{DB: pool},
		Cache:  catalog.NewCache(redisClient, cfg.ProductCacheTTL),
		Logger: logger,
	}

	processor := newProcessor(cfg, logger)

	bus := &events.Bus{}
	if cfg.EventsEnabled {
		taskClient := asynq.NewClient(redisConnOpt(redisOpts))
		defer taskClient.Close()
		bus.Publishers = append(bus.Publishers, events.AsynqPublisher{
			Client:   taskClient,
			Queue:    cfg.EventsQueue,
			MaxRetry: cfg.EventsMaxRetry,
		})
	}

	coupons := coupon.Resolver{Products: products, Coupons: processor, Logger: logger}
	sessions := funnel.SessionSigner{Key: []byte(cfg.FunnelSessionSecret), TTL: cfg.FunnelSessionTTL, Issuer: "funnel-api"}
	paymentSvc := &payment.Service{
		Products:  products,
		Offers:    catalog.Resolver{Store: products},
		Coupons:   coupons,
		Processor: processor,
		Locker: lock.Locker{
			R:            redisClient,
			Prefix:       "funnel:lock:charge:",
			RetryBackoff: 25 * time.Millisecond,
			MaxBackoff:   500 * time.Millisecond,
			WaitTimeout:  cfg.ChargeLockWait,
		},
		LockTTL:  cfg.ChargeLockTTL,
		Sessions: sessions,
		Events:   bus,
		Logger:   logger,
	}
	paymentHandler := payment.Handler{Svc: paymentSvc, Logger: logger}

	quoteHandler := &checkout.Handler{
		Svc: &checkout.Service{
			Products: products,
			Coupons:  coupons,
			Cache:    catalog.NewCache(redisClient, cfg.QuoteCacheTTL),
			Logger:   logger,
		},
		Logger: logger,
	}

	funnelHandler := funnel.Handler{
		Seq: &funnel.Sequencer{
			Products:     products,
			Charger:      paymentSvc,
			Testimonials: content.PGStore{DB: pool},
			Paths:        funnel.Paths{Base: cfg.FunnelBasePath},
			Locale:       cfg.DefaultLocale,
			Logger:       logger,
		},
		Complete: paymentSvc,
		Logger:   logger,
	}

	adminHandler := catalog.AdminHandler{Store: products, Logger: logger}
	adminKey := security.APIKey{Hash: cfg.AdminAPIKeyHash, Logger: logger}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	couponLimiter, err := ratelimit.NewFixedWindow(redisClient, "funnel:rl:coupon")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise coupon rate limiter")
	}
	limitErr := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	couponLimit := ratelimit.Handler{
		Limiter: couponLimiter,
		Config:  ratelimit.Config{Scope: "coupon", Key: ratelimit.ByIP, Window: cfg.CouponRateWindow, Max: cfg.CouponRateLimit},
		OnError: limitErr,
	}
	chargeLimiter := ratelimit.SlidingWindow{Client: redisClient, Prefix: "funnel:rl:"}
	chargeAPILimit := ratelimit.Handler{
		Limiter: chargeLimiter,
		Config:  ratelimit.Config{Scope: "charge", Key: ratelimit.ByJSONFieldOrIP("customerId"), Window: cfg.ChargeRateWindow, Max: cfg.ChargeRateLimit},
		OnError: limitErr,
	}
	chargeStepLimit := ratelimit.Handler{
		Limiter: chargeLimiter,
		Config:  ratelimit.Config{Scope: "charge", Key: ratelimit.ByQueryOrIP(funnel.ParamCustomerID), Window: cfg.ChargeRateWindow, Max: cfg.ChargeRateLimit},
		OnError: limitErr,
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.ObsPrometheusEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.ObsMetricsNamespace, obs.ParseBucketsCSV(cfg.ObsMetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, SkipPaths: []string{"/health/*", "/metrics"}}.Middleware)
	r.Use(security.CORS(strings.Join(cfg.CORSAllowedOrigins, ",")))
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(security.BodyLimit{
		Max:       cfg.BodyLimitBytes,
		Overrides: map[string]int64{"/api/admin/": 4 * cfg.BodyLimitBytes},
	}.Middleware)

	if httpMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.ObsPprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofBasicAuthUser, cfg.PprofBasicAuthPass))
	}

	healthHandler := health.Handler{
		Probes: []health.Probe{
			health.Postgres(pool, cfg.HealthDBTimeout),
			health.Redis(redisClient, cfg.HealthRedisTimeout),
			health.Breaker("payment_processor", processor.Breaker),
		},
		Logger: logger,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(g chi.Router) {
			g.Use(idem.Middleware)
			g.Post("/create-payment-intent", paymentHandler.CreatePaymentIntent)
			g.With(chargeAPILimit.Middleware).Post("/charge-upsell", paymentHandler.ChargeUpsell)
			g.Post("/checkout-complete", funnelHandler.CompleteCheckout)
		})
		api.With(couponLimit.Middleware).Post("/validate-coupon", paymentHandler.ValidateCoupon)
		api.Post("/price-breakdown", quoteHandler.PriceBreakdown)

		api.Route("/admin/products", func(admin chi.Router) {
			admin.Use(adminKey.Middleware)
			admin.Get("/{slug}", adminHandler.Get)
			admin.Put("/{slug}", adminHandler.Put)
		})
	})

	funnelHandler.ChargeMiddleware = []func(http.Handler) http.Handler{idem.Middleware, chargeStepLimit.Middleware}
	r.Route(cfg.FunnelBasePath, funnelHandler.Routes)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("processor", processor.Name()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func newProcessor(cfg *config.Config, logger zerolog.Logger) payment.Guarded {
	var base payment.Processor
	switch cfg.PaymentProcessor {
	case config.ProcessorStripe:
		base = payment.NewStripe(cfg.StripeSecretKey, cfg.StripeTimeout)
	default:
		logger.Warn().Msg("using sandbox payment processor")
		base = payment.NewSandbox()
	}
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("payment_processor").
		WithLogger(logger)
	return payment.Guarded{Processor: base, Breaker: breaker}
}

func redisConnOpt(opts *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
