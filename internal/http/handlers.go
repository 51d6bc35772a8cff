package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"weatherdash/internal/client"
	"weatherdash/internal/coordinator"
	"weatherdash/internal/models"
	"weatherdash/internal/observability"
	"weatherdash/internal/prefs"
	"weatherdash/internal/state"
	"weatherdash/internal/validation"
)

// Handler holds dependencies for HTTP handlers. Fetch endpoints map 1:1 onto
// coordinator runs; the coordinator feeds the state store, and each handler
// also waits on its own run's settlement for the response body.
type Handler struct {
	coord   *coordinator.Coordinator
	fetcher client.Fetcher
	store   *state.Store
	prefs   *prefs.Store
	logger  *zap.Logger

	cityMinLength int
	cityMaxLength int

	// CachePing, when set, is called by the health handler to check cache
	// reachability. Set when the backend is memcached.
	CachePing func() error

	startTime time.Time
}

// NewHandler returns a new Handler.
func NewHandler(
	coord *coordinator.Coordinator,
	fetcher client.Fetcher,
	store *state.Store,
	prefsStore *prefs.Store,
	logger *zap.Logger,
	cityMinLength, cityMaxLength int,
) *Handler {
	return &Handler{
		coord:         coord,
		fetcher:       fetcher,
		store:         store,
		prefs:         prefsStore,
		logger:        logger,
		cityMinLength: cityMinLength,
		cityMaxLength: cityMaxLength,
		startTime:     time.Now(),
	}
}

// displayUnit resolves the unit for a response: explicit ?unit= wins,
// otherwise the stored preference applies.
func (h *Handler) displayUnit(r *http.Request) models.Unit {
	if raw := r.URL.Query().Get("unit"); raw != "" {
		return models.ParseUnit(raw)
	}
	return h.prefs.Unit()
}

// GetCurrentWeather handles GET /api/weather/{city}.
func (h *Handler) GetCurrentWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	observability.RecordWeatherQuery(city)

	key := coordinator.Key{Kind: coordinator.KindCurrent, City: city}
	res := <-h.coord.Run(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.fetcher.FetchCurrent(ctx, city)
	})

	switch res.Outcome {
	case coordinator.OutcomeFulfilled:
		data := res.Payload.(models.CurrentWeather)
		writeJSON(w, http.StatusOK, data.InUnit(h.displayUnit(r)))
	case coordinator.OutcomeCancelled:
		writeSuperseded(w, r)
	default:
		writeServiceError(w, r, res.Err)
	}
}

// GetForecast handles GET /api/forecast/{city}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	observability.RecordWeatherQuery(city)

	key := coordinator.Key{Kind: coordinator.KindForecast, City: city}
	res := <-h.coord.Run(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.fetcher.FetchForecast(ctx, city)
	})

	switch res.Outcome {
	case coordinator.OutcomeFulfilled:
		bundle := res.Payload.(models.ForecastBundle)
		writeJSON(w, http.StatusOK, bundle.InUnit(h.displayUnit(r)))
	case coordinator.OutcomeCancelled:
		writeSuperseded(w, r)
	default:
		writeServiceError(w, r, res.Err)
	}
}

// SearchCities handles GET /api/search?q=. The run's payload is the ordered
// list of matching city names; an empty result is 200 with an empty array.
func (h *Handler) SearchCities(w http.ResponseWriter, r *http.Request) {
	query, err := validation.ValidateCity(r.URL.Query().Get("q"), h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	key := coordinator.Key{Kind: coordinator.KindSearch, City: query}
	res := <-h.coord.Run(r.Context(), key, func(ctx context.Context) (any, error) {
		matches, err := h.fetcher.SearchCities(ctx, query)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return names, nil
	})

	switch res.Outcome {
	case coordinator.OutcomeFulfilled:
		writeJSON(w, http.StatusOK, res.Payload.([]string))
	case coordinator.OutcomeCancelled:
		writeSuperseded(w, r)
	default:
		writeServiceError(w, r, res.Err)
	}
}

// GetState handles GET /api/state: the snapshot a subscriber would observe.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// GetFavorites handles GET /api/favorites.
func (h *Handler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prefs.Favorites())
}

// AddFavorite handles POST /api/favorites/{city}.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	if err := h.prefs.AddFavorite(r.Context(), city); err != nil {
		writeStorageError(w, r, err)
		return
	}
	observability.SetTrackedCities(h.prefs.Favorites())
	writeJSON(w, http.StatusCreated, h.prefs.Favorites())
}

// RemoveFavorite handles DELETE /api/favorites/{city}.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	if err := h.prefs.RemoveFavorite(r.Context(), city); err != nil {
		writeStorageError(w, r, err)
		return
	}
	observability.SetTrackedCities(h.prefs.Favorites())
	writeJSON(w, http.StatusOK, h.prefs.Favorites())
}

// GetSearchHistory handles GET /api/history.
func (h *Handler) GetSearchHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prefs.SearchHistory())
}

// RecordSearchHistory handles POST /api/history/{city}: the user selected a
// search result, so it moves to the front of the history.
func (h *Handler) RecordSearchHistory(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	if err := h.prefs.RecordSearch(r.Context(), city); err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.prefs.SearchHistory())
}

// RemoveSearchHistory handles DELETE /api/history/{city}.
func (h *Handler) RemoveSearchHistory(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	if err := h.prefs.RemoveSearch(r.Context(), city); err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.prefs.SearchHistory())
}

// ClearSearchHistory handles DELETE /api/history.
func (h *Handler) ClearSearchHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.prefs.ClearSearchHistory(r.Context()); err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.prefs.SearchHistory())
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"temperatureUnit": string(h.prefs.Unit()),
	})
}

// SetUnit handles PUT /api/settings/unit with body {"unit": "celsius"|"fahrenheit"}.
func (h *Handler) SetUnit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Unit string `json:"unit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "expected JSON body with unit field")
		return
	}
	if body.Unit != string(models.UnitCelsius) && body.Unit != string(models.UnitFahrenheit) {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNIT", "unit must be celsius or fahrenheit")
		return
	}
	if err := h.prefs.SetUnit(r.Context(), models.ParseUnit(body.Unit)); err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"temperatureUnit": string(h.prefs.Unit()),
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := make(map[string]string)
	if h.CachePing != nil {
		if h.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status":           status,
		"service":          "weatherdash",
		"version":          "dev",
		"checks":           checks,
		"inFlightRequests": h.coord.InFlight(),
		"uptimeSeconds":    int(time.Since(h.startTime).Seconds()),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeSuperseded reports that a newer request took this key. Deliberately
// not the standard error envelope shape: supersession is not a failure.
func writeSuperseded(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusConflict, map[string]string{
		"status": "superseded",
	})
}

// writeServiceError maps an upstream failure to a response status by its
// category. Logs the underlying error at DEBUG level when a request logger is
// present.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	code := "UPSTREAM_ERROR"
	switch {
	case errors.Is(err, client.ErrCityNotFound):
		status = http.StatusNotFound
		code = "CITY_NOT_FOUND"
	case errors.Is(err, client.ErrRateLimited):
		status = http.StatusServiceUnavailable
		code = "UPSTREAM_RATE_LIMITED"
	case errors.Is(err, client.ErrInvalidAPIKey):
		code = "UPSTREAM_AUTH"
	case client.CategorizeError(err) == client.ErrorCategoryTimeout:
		status = http.StatusGatewayTimeout
		code = "UPSTREAM_TIMEOUT"
	}

	message := "Unable to fetch weather data"
	if err != nil {
		message = err.Error()
	}
	writeError(w, r, status, code, message)
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}

// writeStorageError reports a preferences persistence failure.
func writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusInternalServerError, "STORAGE_ERROR", "Unable to persist preferences")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Error("preferences storage error", zap.Error(err))
	}
}
