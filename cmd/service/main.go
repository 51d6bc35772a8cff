package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"weatherdash/internal/cache"
	"weatherdash/internal/client"
	"weatherdash/internal/config"
	"weatherdash/internal/coordinator"
	httphandler "weatherdash/internal/http"
	"weatherdash/internal/models"
	"weatherdash/internal/observability"
	"weatherdash/internal/prefs"
	"weatherdash/internal/refresh"
	"weatherdash/internal/state"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var currentCache cache.Store[models.CurrentWeather]
	var forecastCache cache.Store[models.ForecastBundle]
	var memcacheCloser *cache.MemcachedClient
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		currentCache = cache.NewMemcached[models.CurrentWeather](mc)
		forecastCache = cache.NewMemcached[models.ForecastBundle](mc)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		currentCache = cache.NewInMemory[models.CurrentWeather]()
		forecastCache = cache.NewInMemory[models.ForecastBundle]()
		logger.Info("cache backend: in_memory")
	}

	weatherClient, err := client.NewWeatherAPIClient(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		currentCache,
		forecastCache,
		cfg.CacheTTL,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	var fetcher client.Fetcher = weatherClient
	if cfg.BreakerEnabled {
		fetcher = client.NewBreakerFetcher("weather_api", client.BreakerConfig{
			Interval:            cfg.BreakerInterval,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: uint32(cfg.BreakerFailures),
		}, weatherClient)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailures),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}

	stateStore := state.NewStore()
	coord := coordinator.New(stateStore, logger)

	prefsStore, err := prefs.Open(context.Background(), cfg.PrefsPath, cfg.SearchHistoryLimit, logger)
	if err != nil {
		logger.Fatal("preferences store", zap.Error(err))
	}
	observability.SetTrackedCities(prefsStore.Favorites())

	var refresher *refresh.Refresher
	if cfg.RefreshEnabled {
		refresher = refresh.New(coord, fetcher, prefsStore.Favorites, logger)
		if err := refresher.Start(context.Background(), cfg.RefreshInterval); err != nil {
			logger.Fatal("refresh scheduler", zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(coord, fetcher, stateStore, prefsStore, logger, cfg.CityMinLength, cfg.CityMaxLength)
	if memcacheCloser != nil {
		handler.CachePing = memcacheCloser.Ping
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(httphandler.RateLimitMiddleware(limiter))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/weather/{city}", handler.GetCurrentWeather).Methods("GET")
	api.HandleFunc("/forecast/{city}", handler.GetForecast).Methods("GET")
	api.HandleFunc("/search", handler.SearchCities).Methods("GET")
	api.HandleFunc("/state", handler.GetState).Methods("GET")
	api.HandleFunc("/favorites", handler.GetFavorites).Methods("GET")
	api.HandleFunc("/favorites/{city}", handler.AddFavorite).Methods("POST")
	api.HandleFunc("/favorites/{city}", handler.RemoveFavorite).Methods("DELETE")
	api.HandleFunc("/history", handler.GetSearchHistory).Methods("GET")
	api.HandleFunc("/history", handler.ClearSearchHistory).Methods("DELETE")
	api.HandleFunc("/history/{city}", handler.RecordSearchHistory).Methods("POST")
	api.HandleFunc("/history/{city}", handler.RemoveSearchHistory).Methods("DELETE")
	api.HandleFunc("/settings", handler.GetSettings).Methods("GET")
	api.HandleFunc("/settings/unit", handler.SetUnit).Methods("PUT")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	if refresher != nil {
		refresher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	waitForSettlements(shutdownCtx, coord, logger)

	if err := prefsStore.Close(); err != nil {
		logger.Error("preferences close", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// waitForSettlements polls until no coordinator runs remain in flight or the
// context expires.
func waitForSettlements(ctx context.Context, coord *coordinator.Coordinator, logger *zap.Logger) {
	if n := coord.InFlight(); n == 0 {
		return
	} else {
		logger.Info("waiting for in-flight fetches", zap.Int("count", n))
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Warn("in-flight fetches not settled", zap.Int("remaining", coord.InFlight()))
			return
		case <-ticker.C:
			if coord.InFlight() == 0 {
				return
			}
		}
	}
}
