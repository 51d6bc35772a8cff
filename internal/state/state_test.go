package state

import (
	"testing"

	"weatherdash/internal/coordinator"
	"weatherdash/internal/models"
)

func currentKey(city string) coordinator.Key {
	return coordinator.Key{Kind: coordinator.KindCurrent, City: city}
}

func TestPending_SetsLoadingAndClearsError(t *testing.T) {
	s := NewStore()
	s.Rejected(currentKey("Paris"), "boom")
	if snap := s.Snapshot(); snap.Error != "boom" {
		t.Fatalf("Error = %q, want boom", snap.Error)
	}

	s.Pending(currentKey("Paris"))
	snap := s.Snapshot()
	if !snap.Loading {
		t.Error("Loading = false, want true while pending")
	}
	if snap.Error != "" {
		t.Errorf("Error = %q, want cleared on pending", snap.Error)
	}
	if got := snap.Statuses["current:Paris"]; got != StatusPending {
		t.Errorf("Statuses[current:Paris] = %q, want %q", got, StatusPending)
	}
}

func TestFulfilled_WritesPerCity(t *testing.T) {
	s := NewStore()
	s.Pending(currentKey("Paris"))
	s.Fulfilled(currentKey("Paris"), models.CurrentWeather{City: "Paris", Temperature: 18})

	snap := s.Snapshot()
	if snap.Loading {
		t.Error("Loading = true, want false after fulfilment")
	}
	got, ok := snap.CurrentByCity["Paris"]
	if !ok {
		t.Fatal("CurrentByCity missing Paris")
	}
	if got.Temperature != 18 {
		t.Errorf("Temperature = %v, want 18", got.Temperature)
	}
	if got := snap.Statuses["current:Paris"]; got != StatusFulfilled {
		t.Errorf("Statuses[current:Paris] = %q, want %q", got, StatusFulfilled)
	}
}

func TestFulfilled_OtherCitiesUntouched(t *testing.T) {
	s := NewStore()
	s.Fulfilled(currentKey("Paris"), models.CurrentWeather{City: "Paris", Temperature: 18})
	s.Fulfilled(currentKey("London"), models.CurrentWeather{City: "London", Temperature: 11})

	snap := s.Snapshot()
	if len(snap.CurrentByCity) != 2 {
		t.Fatalf("len(CurrentByCity) = %d, want 2", len(snap.CurrentByCity))
	}
	if snap.CurrentByCity["Paris"].Temperature != 18 {
		t.Errorf("Paris Temperature = %v, want 18", snap.CurrentByCity["Paris"].Temperature)
	}
	if snap.CurrentByCity["London"].Temperature != 11 {
		t.Errorf("London Temperature = %v, want 11", snap.CurrentByCity["London"].Temperature)
	}
}

func TestRejected_KeepsStaleData(t *testing.T) {
	s := NewStore()
	s.Fulfilled(currentKey("Paris"), models.CurrentWeather{City: "Paris", Temperature: 18})
	s.Pending(currentKey("Paris"))
	s.Rejected(currentKey("Paris"), "provider down")

	snap := s.Snapshot()
	if snap.Error != "provider down" {
		t.Errorf("Error = %q, want provider down", snap.Error)
	}
	got, ok := snap.CurrentByCity["Paris"]
	if !ok {
		t.Fatal("CurrentByCity lost Paris after rejection; stale data must survive")
	}
	if got.Temperature != 18 {
		t.Errorf("stale Temperature = %v, want 18", got.Temperature)
	}
	if got := snap.Statuses["current:Paris"]; got != StatusRejected {
		t.Errorf("Statuses[current:Paris] = %q, want %q", got, StatusRejected)
	}
}

func TestCancelled_ResetsOnlyPendingStatus(t *testing.T) {
	s := NewStore()
	s.Pending(currentKey("Paris"))
	s.Cancelled(currentKey("Paris"))

	snap := s.Snapshot()
	if snap.Loading {
		t.Error("Loading = true after cancellation, want false")
	}
	if _, ok := snap.Statuses["current:Paris"]; ok {
		t.Error("Statuses retains cancelled key, want removed")
	}
	if snap.Error != "" {
		t.Errorf("Error = %q, want empty (cancellation is not an error)", snap.Error)
	}

	// A cancellation arriving after fulfilment must not clobber the status.
	s.Fulfilled(currentKey("Paris"), models.CurrentWeather{City: "Paris"})
	s.Cancelled(currentKey("Paris"))
	if got := s.Snapshot().Statuses["current:Paris"]; got != StatusFulfilled {
		t.Errorf("Statuses[current:Paris] = %q, want %q after late cancellation", got, StatusFulfilled)
	}
}

func TestLoading_DerivedFromAnyPendingKey(t *testing.T) {
	s := NewStore()
	s.Pending(currentKey("Paris"))
	s.Pending(coordinator.Key{Kind: coordinator.KindForecast, City: "London"})

	s.Fulfilled(currentKey("Paris"), models.CurrentWeather{City: "Paris"})
	if snap := s.Snapshot(); !snap.Loading {
		t.Error("Loading = false, want true while the forecast key is still pending")
	}

	s.Fulfilled(coordinator.Key{Kind: coordinator.KindForecast, City: "London"}, models.ForecastBundle{})
	if snap := s.Snapshot(); snap.Loading {
		t.Error("Loading = true, want false once no key is pending")
	}
}

func TestFulfilled_SearchReplacesResults(t *testing.T) {
	s := NewStore()
	searchKey := coordinator.Key{Kind: coordinator.KindSearch, City: "Par"}
	s.Fulfilled(searchKey, []string{"Paris", "Parma"})
	s.Fulfilled(coordinator.Key{Kind: coordinator.KindSearch, City: "Lon"}, []string{"London"})

	snap := s.Snapshot()
	if len(snap.SearchResults) != 1 || snap.SearchResults[0] != "London" {
		t.Errorf("SearchResults = %v, want [London]", snap.SearchResults)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := NewStore()
	s.Fulfilled(currentKey("Paris"), models.CurrentWeather{City: "Paris", Temperature: 18})
	s.Fulfilled(coordinator.Key{Kind: coordinator.KindForecast, City: "Paris"}, models.ForecastBundle{
		Daily: []models.DailyForecast{{Date: "2025-06-01", MaxTemp: 20}},
	})

	snap := s.Snapshot()
	snap.CurrentByCity["Paris"] = models.CurrentWeather{City: "Paris", Temperature: -100}
	snap.ForecastsByCity["Paris"].Daily[0] = models.DailyForecast{Date: "mutated"}
	snap.Statuses["current:Paris"] = StatusRejected

	fresh := s.Snapshot()
	if fresh.CurrentByCity["Paris"].Temperature != 18 {
		t.Error("mutating a snapshot leaked into the store's current map")
	}
	if fresh.ForecastsByCity["Paris"].Daily[0].Date != "2025-06-01" {
		t.Error("mutating a snapshot leaked into the store's forecast slices")
	}
	if fresh.Statuses["current:Paris"] != StatusFulfilled {
		t.Error("mutating a snapshot leaked into the store's status map")
	}
}

func TestSubscribe_NotifiedOnEveryTransition(t *testing.T) {
	s := NewStore()
	var seen []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		seen = append(seen, snap)
	})

	s.Pending(currentKey("Paris"))
	s.Fulfilled(currentKey("Paris"), models.CurrentWeather{City: "Paris"})

	if len(seen) != 2 {
		t.Fatalf("notifications = %d, want 2", len(seen))
	}
	if !seen[0].Loading {
		t.Error("first notification Loading = false, want true")
	}
	if seen[1].Loading {
		t.Error("second notification Loading = true, want false")
	}

	unsubscribe()
	s.Pending(currentKey("London"))
	if len(seen) != 2 {
		t.Errorf("notifications after unsubscribe = %d, want 2", len(seen))
	}
}
