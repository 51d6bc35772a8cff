package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"weatherdash/internal/models"
)

type stubFetcher struct {
	current  models.CurrentWeather
	forecast models.ForecastBundle
	matches  []models.CityMatch
	err      error
	calls    int
}

func (s *stubFetcher) FetchCurrent(ctx context.Context, city string) (models.CurrentWeather, error) {
	s.calls++
	return s.current, s.err
}

func (s *stubFetcher) FetchForecast(ctx context.Context, city string) (models.ForecastBundle, error) {
	s.calls++
	return s.forecast, s.err
}

func (s *stubFetcher) SearchCities(ctx context.Context, query string) ([]models.CityMatch, error) {
	s.calls++
	return s.matches, s.err
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 3,
	}
}

func TestBreakerFetcher_PassesThroughSuccess(t *testing.T) {
	stub := &stubFetcher{current: models.CurrentWeather{City: "Paris", Temperature: 18}}
	b := NewBreakerFetcher("test", testBreakerConfig(), stub)

	got, err := b.FetchCurrent(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("FetchCurrent() unexpected error: %v", err)
	}
	if got.City != "Paris" {
		t.Errorf("City = %q, want Paris", got.City)
	}
}

func TestBreakerFetcher_PassesThroughSentinelErrors(t *testing.T) {
	stub := &stubFetcher{err: ErrCityNotFound}
	b := NewBreakerFetcher("test", testBreakerConfig(), stub)

	_, err := b.FetchCurrent(context.Background(), "Nowhere")
	if !errors.Is(err, ErrCityNotFound) {
		t.Errorf("FetchCurrent() error = %v, want %v", err, ErrCityNotFound)
	}
}

func TestBreakerFetcher_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubFetcher{err: ErrUpstreamFailure}
	b := NewBreakerFetcher("test", testBreakerConfig(), stub)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.FetchCurrent(ctx, "Paris"); err == nil {
			t.Fatalf("FetchCurrent() call %d expected error, got nil", i+1)
		}
	}
	callsBefore := stub.calls

	// Circuit is open: the wrapped fetcher is no longer invoked and the
	// error categorizes as an upstream failure.
	_, err := b.FetchCurrent(ctx, "Paris")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("FetchCurrent() open-circuit error = %v, want %v", err, ErrUpstreamFailure)
	}
	if stub.calls != callsBefore {
		t.Errorf("wrapped fetcher calls = %d, want %d (open circuit must short-circuit)", stub.calls, callsBefore)
	}
}

func TestBreakerFetcher_SuccessResetsFailureCount(t *testing.T) {
	stub := &stubFetcher{err: ErrUpstreamFailure}
	b := NewBreakerFetcher("test", testBreakerConfig(), stub)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = b.FetchCurrent(ctx, "Paris")
	}
	stub.err = nil
	if _, err := b.FetchCurrent(ctx, "Paris"); err != nil {
		t.Fatalf("FetchCurrent() unexpected error: %v", err)
	}

	// Two more failures stay under the threshold after the reset.
	stub.err = ErrUpstreamFailure
	for i := 0; i < 2; i++ {
		_, _ = b.FetchCurrent(ctx, "Paris")
	}
	stub.err = nil
	if _, err := b.FetchCurrent(ctx, "Paris"); err != nil {
		t.Errorf("FetchCurrent() after reset error = %v, want nil (circuit should be closed)", err)
	}
}

func TestBreakerFetcher_SearchCities(t *testing.T) {
	stub := &stubFetcher{matches: []models.CityMatch{{Name: "Paris", Country: "France"}}}
	b := NewBreakerFetcher("test", testBreakerConfig(), stub)

	got, err := b.SearchCities(context.Background(), "Par")
	if err != nil {
		t.Fatalf("SearchCities() unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Paris" {
		t.Errorf("SearchCities() = %+v, want one Paris match", got)
	}
}
