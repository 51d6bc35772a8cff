package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"weatherdash/internal/cache"
	"weatherdash/internal/models"
	"weatherdash/internal/observability"
)

// Fetcher is the remote weather client contract consumed by the coordinator
// and HTTP layer. SearchCities returns an empty, non-nil slice when nothing
// matches.
type Fetcher interface {
	FetchCurrent(ctx context.Context, city string) (models.CurrentWeather, error)
	FetchForecast(ctx context.Context, city string) (models.ForecastBundle, error)
	SearchCities(ctx context.Context, query string) ([]models.CityMatch, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrCityNotFound    = errors.New("city not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
)

// forecastDays bounds the daily series requested from the provider.
const forecastDays = 5

// maxHourlyEntries caps the hourly series taken from the first forecast day.
const maxHourlyEntries = 24

// WeatherAPIClient issues current/forecast/search requests against a
// weatherapi.com-compatible provider. Current and forecast lookups go through
// the TTL caches first; search results are never cached. The client performs
// no retries; recovery policy belongs to the caller.
type WeatherAPIClient struct {
	apiKey  string
	apiURL  string
	client  *http.Client
	current cache.Store[models.CurrentWeather]
	fcast   cache.Store[models.ForecastBundle]
	ttl     time.Duration
	now     func() time.Time
}

// NewWeatherAPIClient creates a client gated by the given caches. ttl is the
// cache window applied to successful current/forecast fetches.
func NewWeatherAPIClient(
	apiKey, apiURL string,
	timeout time.Duration,
	current cache.Store[models.CurrentWeather],
	fcast cache.Store[models.ForecastBundle],
	ttl time.Duration,
) (*WeatherAPIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &WeatherAPIClient{
		apiKey:  apiKey,
		apiURL:  strings.TrimRight(apiURL, "/"),
		current: current,
		fcast:   fcast,
		ttl:     ttl,
		now:     time.Now,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type conditionPayload struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
}

type currentResponse struct {
	Location struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		TempC     float64          `json:"temp_c"`
		Humidity  int              `json:"humidity"`
		WindKph   float64          `json:"wind_kph"`
		Condition conditionPayload `json:"condition"`
	} `json:"current"`
}

type forecastResponse struct {
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC  float64          `json:"maxtemp_c"`
				MinTempC  float64          `json:"mintemp_c"`
				AvgTempC  float64          `json:"avgtemp_c"`
				Condition conditionPayload `json:"condition"`
			} `json:"day"`
			Hour []struct {
				Time      string           `json:"time"`
				TempC     float64          `json:"temp_c"`
				Humidity  int              `json:"humidity"`
				WindKph   float64          `json:"wind_kph"`
				Condition conditionPayload `json:"condition"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

type searchMatch struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchCurrent returns current weather for city, consulting the TTL cache
// first. The cached payload is already normalized, so hits return it as-is
// with no network access.
func (c *WeatherAPIClient) FetchCurrent(ctx context.Context, city string) (models.CurrentWeather, error) {
	key := "current:" + city
	if cached, ok, err := c.current.Get(ctx, key); err == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("current").Inc()
		return cached, nil
	} else if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
	}

	body, err := c.doGet(ctx, "current.json", url.Values{"q": {city}}, "current")
	if err != nil {
		return models.CurrentWeather{}, err
	}

	var apiResp currentResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.CurrentWeather{}, fmt.Errorf("parse current response: %w", err)
	}
	if apiResp.Location.Name == "" {
		logShapeMismatch(ctx, "current", city)
		return models.CurrentWeather{}, fmt.Errorf("parse current response: missing location for %q", city)
	}

	data := models.CurrentWeather{
		City:        apiResp.Location.Name,
		Temperature: apiResp.Current.TempC,
		Condition:   apiResp.Current.Condition.Text,
		Humidity:    apiResp.Current.Humidity,
		WindKph:     apiResp.Current.WindKph,
		IconURL:     normalizeIconURL(apiResp.Current.Condition.Icon),
		LastUpdated: c.now(),
	}

	if err := c.current.Set(ctx, key, data, c.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
	}
	return data, nil
}

// FetchForecast returns the forecast bundle for city: the provider's daily
// series (at most forecastDays entries) and the first day's hours capped at
// maxHourlyEntries, in chronological order. Consults the TTL cache first.
func (c *WeatherAPIClient) FetchForecast(ctx context.Context, city string) (models.ForecastBundle, error) {
	key := "forecast:" + city
	if cached, ok, err := c.fcast.Get(ctx, key); err == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		return cached, nil
	} else if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
	}

	query := url.Values{"q": {city}, "days": {fmt.Sprintf("%d", forecastDays)}}
	body, err := c.doGet(ctx, "forecast.json", query, "forecast")
	if err != nil {
		return models.ForecastBundle{}, err
	}

	var apiResp forecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.ForecastBundle{}, fmt.Errorf("parse forecast response: %w", err)
	}
	if len(apiResp.Forecast.ForecastDay) == 0 {
		logShapeMismatch(ctx, "forecast", city)
		return models.ForecastBundle{}, fmt.Errorf("parse forecast response: no forecast days for %q", city)
	}

	bundle := mapForecast(apiResp)
	if err := c.fcast.Set(ctx, key, bundle, c.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
	}
	return bundle, nil
}

// SearchCities returns cities matching query. Results are not cached; an
// empty result is an empty slice, never nil.
func (c *WeatherAPIClient) SearchCities(ctx context.Context, query string) ([]models.CityMatch, error) {
	body, err := c.doGet(ctx, "search.json", url.Values{"q": {query}}, "search")
	if err != nil {
		return nil, err
	}

	var raw []searchMatch
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	matches := make([]models.CityMatch, 0, len(raw))
	for _, m := range raw {
		matches = append(matches, models.CityMatch{
			Name:    m.Name,
			Country: m.Country,
			Lat:     m.Lat,
			Lon:     m.Lon,
		})
	}
	return matches, nil
}

// doGet issues one GET against the provider and returns the response body.
// Non-2xx statuses are mapped to the typed sentinel errors, carrying the
// provider's message when one is present.
func (c *WeatherAPIClient) doGet(ctx context.Context, endpoint string, query url.Values, operation string) ([]byte, error) {
	start := time.Now()

	reqURL, err := url.Parse(c.apiURL + "/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	query.Set("key", c.apiKey)
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(operation, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	observability.WeatherAPICallsTotal.WithLabelValues(operation, statusLabel(resp.StatusCode)).Inc()
	observability.WeatherAPIDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if err := mapErrorResponse(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// mapErrorResponse maps a non-2xx status to a sentinel error wrapping the
// provider's message. weatherapi.com reports unknown locations as 400 with
// code 1006.
func mapErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	message := fmt.Sprintf("HTTP %d", statusCode)
	var pe providerError
	if err := json.Unmarshal(body, &pe); err == nil && pe.Error.Message != "" {
		message = pe.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, message)
	case statusCode == http.StatusBadRequest && pe.Error.Code == 1006:
		return fmt.Errorf("%w: %s", ErrCityNotFound, message)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrCityNotFound, message)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	default:
		return fmt.Errorf("%w: %s", ErrUpstreamFailure, message)
	}
}

// normalizeIconURL rewrites protocol-relative icon URLs to absolute HTTPS.
// Runs before caching so cached payloads are already normalized.
func normalizeIconURL(icon string) string {
	if strings.HasPrefix(icon, "//") {
		return "https:" + icon
	}
	return icon
}

// mapForecast builds the bundle from the provider response: every returned
// day, plus the first day's hours capped at maxHourlyEntries.
func mapForecast(apiResp forecastResponse) models.ForecastBundle {
	days := apiResp.Forecast.ForecastDay
	daily := make([]models.DailyForecast, 0, len(days))
	for _, day := range days {
		daily = append(daily, models.DailyForecast{
			Date:      day.Date,
			MinTemp:   day.Day.MinTempC,
			MaxTemp:   day.Day.MaxTempC,
			AvgTemp:   day.Day.AvgTempC,
			Condition: day.Day.Condition.Text,
			IconURL:   normalizeIconURL(day.Day.Condition.Icon),
		})
	}

	hours := days[0].Hour
	if len(hours) > maxHourlyEntries {
		hours = hours[:maxHourlyEntries]
	}
	hourly := make([]models.HourlyForecast, 0, len(hours))
	for _, hour := range hours {
		hourly = append(hourly, models.HourlyForecast{
			Time:        formatHour(hour.Time),
			Temperature: hour.TempC,
			Humidity:    hour.Humidity,
			WindKph:     hour.WindKph,
			Condition:   hour.Condition.Text,
			IconURL:     normalizeIconURL(hour.Condition.Icon),
		})
	}

	return models.ForecastBundle{Daily: daily, Hourly: hourly}
}

// formatHour converts the provider's "2006-01-02 15:04" timestamp to the
// dashboard's hour:minute display form. Unparseable values pass through.
func formatHour(raw string) string {
	t, err := time.Parse("2006-01-02 15:04", raw)
	if err != nil {
		return raw
	}
	return t.Format("03:04 PM")
}

// statusLabel buckets a status code into a stable metric label.
func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// logShapeMismatch records a malformed-payload event via the request-scoped
// logger when one is present.
func logShapeMismatch(ctx context.Context, operation, city string) {
	if logger := observability.LoggerFromContext(ctx); logger != nil {
		logger.Warn("provider response shape mismatch",
			zap.String("operation", operation),
			zap.String("city", city))
	}
}
