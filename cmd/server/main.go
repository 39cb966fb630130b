package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veloride/veloride/config"
	"github.com/veloride/veloride/internal/geoindex"
	"github.com/veloride/veloride/internal/handler"
	"github.com/veloride/veloride/internal/idempotency"
	"github.com/veloride/veloride/internal/lock"
	"github.com/veloride/veloride/internal/middleware"
	"github.com/veloride/veloride/internal/psp"
	"github.com/veloride/veloride/internal/repository"
	"github.com/veloride/veloride/internal/service"
	"github.com/veloride/veloride/internal/statuscache"
	"github.com/veloride/veloride/pkg/cache"
	"github.com/veloride/veloride/pkg/db"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, &cfg.Postgres)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()
	logger.Printf("connected to postgres at %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)

	rdb, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatalf("connect redis: %v", err)
	}
	defer rdb.Close()
	logger.Printf("connected to redis at %s", cfg.Redis.Addr())

	// ── Repositories ────────────────────────────────────
	driverRepo := repository.NewDriverRepository(pool, cfg.Postgres.CallTimeout)
	rideRepo := repository.NewRideRepository(pool, cfg.Postgres.CallTimeout)
	tripRepo := repository.NewTripRepository(pool, cfg.Postgres.CallTimeout)
	paymentRepo := repository.NewPaymentRepository(pool, cfg.Postgres.CallTimeout)

	// ── Redis-backed components ─────────────────────────
	geoIndex := geoindex.New(rdb, cfg.Redis.CallTimeout)
	locks := lock.NewManager(rdb, cfg.Match.LockTTL, cfg.Redis.CallTimeout)
	rideCache := statuscache.New(rdb, cfg.Cache.RideStatusTTL, cfg.Redis.CallTimeout)
	metaCache := service.NewMetaCache(rdb, cfg.Cache.DriverMetaTTL, cfg.Redis.CallTimeout)
	idemStore := idempotency.NewStore(rdb, cfg.Idem.TTL, cfg.Idem.InflightWait, cfg.Redis.CallTimeout)

	var provider psp.Client
	if cfg.PSP.BaseURL != "" {
		provider = psp.NewHTTPClient(cfg.PSP.BaseURL, cfg.PSP.APIKey, cfg.PSP.Timeout)
		logger.Printf("payment provider: %s", cfg.PSP.BaseURL)
	} else {
		provider = psp.NewStubClient()
		logger.Printf("payment provider: stub")
	}

	// ── Services ────────────────────────────────────────
	pricingSvc := service.NewPricingService(cfg.Fares, cfg.Surge, rdb, cfg.Redis.CallTimeout,
		log.New(os.Stdout, "[pricing] ", log.LstdFlags))
	matchingSvc := service.NewMatchingService(cfg.Match, geoIndex, locks, rideRepo, rideCache,
		pricingSvc, log.New(os.Stdout, "[matching] ", log.LstdFlags))
	rideSvc := service.NewRideService(rideRepo, rideCache, pricingSvc, matchingSvc,
		log.New(os.Stdout, "[rides] ", log.LstdFlags))
	tripSvc := service.NewTripService(tripRepo, rideRepo, geoIndex, rideCache, pricingSvc, "INR",
		log.New(os.Stdout, "[trips] ", log.LstdFlags))
	paymentSvc := service.NewPaymentService(paymentRepo, provider,
		log.New(os.Stdout, "[payments] ", log.LstdFlags))
	driverSvc := service.NewDriverService(driverRepo, geoIndex, metaCache,
		log.New(os.Stdout, "[drivers] ", log.LstdFlags))
	locationSvc := service.NewLocationService(cfg.Location, driverRepo, driverRepo, metaCache,
		geoIndex, pricingSvc, log.New(os.Stdout, "[locations] ", log.LstdFlags))

	matchingSvc.Start(ctx)
	locationSvc.Start()

	// ── HTTP server ─────────────────────────────────────
	httpLogger := log.New(os.Stdout, "[http] ", log.LstdFlags)
	router := handler.NewRouter(
		handler.NewRideHandler(rideSvc, idemStore, httpLogger),
		handler.NewDriverHandler(driverSvc, locationSvc, tripSvc, httpLogger),
		handler.NewTripHandler(tripSvc, httpLogger),
		handler.NewPaymentHandler(paymentSvc, idemStore, httpLogger),
		handler.NewHealthHandler(pool, rdb),
		middleware.DevVerifier,
		httpLogger,
	)

	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	// Stop intake first, then let in-flight matches and the final location
	// flush finish before the connections close.
	matchingSvc.Close()
	locationSvc.Close()
	logger.Println("stopped")
}
