package models

// Unit identifies a temperature display unit.
type Unit string

const (
	UnitCelsius    Unit = "celsius"
	UnitFahrenheit Unit = "fahrenheit"
)

// ParseUnit maps a unit string to a Unit, defaulting to Celsius.
func ParseUnit(s string) Unit {
	if s == string(UnitFahrenheit) {
		return UnitFahrenheit
	}
	return UnitCelsius
}

// CelsiusToFahrenheit converts a Celsius temperature to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// convert applies the unit to a Celsius value. Celsius is the identity.
func convert(c float64, u Unit) float64 {
	if u == UnitFahrenheit {
		return CelsiusToFahrenheit(c)
	}
	return c
}

// InUnit returns a copy of the weather with the temperature converted for
// display. The receiver is not modified.
func (w CurrentWeather) InUnit(u Unit) CurrentWeather {
	w.Temperature = convert(w.Temperature, u)
	return w
}

// InUnit returns a copy of the bundle with all temperatures converted for
// display. The receiver's slices are not modified.
func (b ForecastBundle) InUnit(u Unit) ForecastBundle {
	if u == UnitCelsius {
		return b
	}
	daily := make([]DailyForecast, len(b.Daily))
	for i, d := range b.Daily {
		d.MinTemp = convert(d.MinTemp, u)
		d.MaxTemp = convert(d.MaxTemp, u)
		d.AvgTemp = convert(d.AvgTemp, u)
		daily[i] = d
	}
	hourly := make([]HourlyForecast, len(b.Hourly))
	for i, h := range b.Hourly {
		h.Temperature = convert(h.Temperature, u)
		hourly[i] = h
	}
	return ForecastBundle{Daily: daily, Hourly: hourly}
}
