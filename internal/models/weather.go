package models

import "time"

// CurrentWeather is the normalized current-conditions payload for one city.
// Temperature is always Celsius; unit conversion happens at the presentation
// boundary via InUnit and never mutates stored data.
type CurrentWeather struct {
	City        string    `json:"city"`
	Temperature float64   `json:"temperature"`
	Condition   string    `json:"condition"`
	Humidity    int       `json:"humidity"`
	WindKph     float64   `json:"windSpeed"`
	IconURL     string    `json:"icon"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// DailyForecast is one day of the daily forecast series.
type DailyForecast struct {
	Date      string  `json:"date"`
	MinTemp   float64 `json:"minTemp"`
	MaxTemp   float64 `json:"maxTemp"`
	AvgTemp   float64 `json:"temperature"`
	Condition string  `json:"condition"`
	IconURL   string  `json:"icon"`
}

// HourlyForecast is one hour of the hourly forecast series. Time is a
// pre-formatted display string (e.g. "02:00 PM"), matching the dashboard's
// rendering contract.
type HourlyForecast struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	WindKph     float64 `json:"windSpeed"`
	Condition   string  `json:"condition"`
	IconURL     string  `json:"icon"`
}

// ForecastBundle holds the daily series (provider-bounded, at most 5 days) and
// the first day's hourly series capped at 24 entries, in chronological order.
type ForecastBundle struct {
	Daily  []DailyForecast  `json:"daily"`
	Hourly []HourlyForecast `json:"hourly"`
}

// CityMatch is a single city search result.
type CityMatch struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}
