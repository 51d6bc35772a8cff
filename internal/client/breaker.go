package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"weatherdash/internal/models"
	"weatherdash/internal/observability"
)

// BreakerConfig tunes the circuit breaker guarding the weather provider.
type BreakerConfig struct {
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// BreakerFetcher decorates a Fetcher with a circuit breaker guarding the
// weather provider. Every error counts toward tripping, including
// cancellations.
type BreakerFetcher struct {
	cb      *gobreaker.CircuitBreaker
	wrapped Fetcher
}

// NewBreakerFetcher wraps the given Fetcher with a breaker named name.
func NewBreakerFetcher(name string, cfg BreakerConfig, wrapped Fetcher) *BreakerFetcher {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.BreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
		},
	}
	return &BreakerFetcher{
		cb:      gobreaker.NewCircuitBreaker(settings),
		wrapped: wrapped,
	}
}

func (b *BreakerFetcher) FetchCurrent(ctx context.Context, city string) (models.CurrentWeather, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.wrapped.FetchCurrent(ctx, city)
	})
	if err != nil {
		return models.CurrentWeather{}, breakerErr(err)
	}
	data, ok := result.(models.CurrentWeather)
	if !ok {
		return models.CurrentWeather{}, fmt.Errorf("weather provider returned unexpected result")
	}
	return data, nil
}

func (b *BreakerFetcher) FetchForecast(ctx context.Context, city string) (models.ForecastBundle, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.wrapped.FetchForecast(ctx, city)
	})
	if err != nil {
		return models.ForecastBundle{}, breakerErr(err)
	}
	data, ok := result.(models.ForecastBundle)
	if !ok {
		return models.ForecastBundle{}, fmt.Errorf("weather provider returned unexpected result")
	}
	return data, nil
}

func (b *BreakerFetcher) SearchCities(ctx context.Context, query string) ([]models.CityMatch, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.wrapped.SearchCities(ctx, query)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	matches, ok := result.([]models.CityMatch)
	if !ok {
		return nil, fmt.Errorf("weather provider returned unexpected result")
	}
	return matches, nil
}

// breakerErr wraps open-circuit errors so they categorize as upstream
// failures; errors from the wrapped call pass through unchanged.
func breakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: weather provider circuit open", ErrUpstreamFailure)
	}
	return err
}
