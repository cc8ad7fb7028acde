package model

import (
	"strings"
	"time"
)

// Coordinate — точка маршрута [широта, долгота].
type Coordinate [2]float64

// Schedule — расписание маршрута университетского автобуса.
type Schedule struct {
	ID            string       `json:"id" yaml:"-"`
	RouteNo       string       `json:"routeNo" yaml:"routeNo"`
	RouteName     string       `json:"routeName" yaml:"routeName"`
	StartTime     []string     `json:"startTime" yaml:"startTime"`
	DepartureTime []string     `json:"departureTime" yaml:"departureTime"`
	Details       string       `json:"details" yaml:"details"`
	Coordinates   []Coordinate `json:"coordinates" yaml:"coordinates"`
	CreatedAt     time.Time    `json:"createdAt" yaml:"-"`
	UpdatedAt     time.Time    `json:"updatedAt" yaml:"-"`
}

// ScheduleFilter — поиск по номеру/названию/описанию и точный фильтр маршрута.
type ScheduleFilter struct {
	Search  string
	RouteNo string
}

// Matches проверяет расписание на соответствие фильтру.
func (s Schedule) Matches(f ScheduleFilter) bool {
	if f.RouteNo != "" && s.RouteNo != f.RouteNo {
		return false
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(s.RouteNo), q) ||
		strings.Contains(strings.ToLower(s.RouteName), q) ||
		strings.Contains(strings.ToLower(s.Details), q)
}

// Clean убирает пустые слоты времени и нулевые координаты [0,0].
func (s Schedule) Clean() Schedule {
	out := s
	out.StartTime = nonBlank(s.StartTime)
	out.DepartureTime = nonBlank(s.DepartureTime)
	coords := make([]Coordinate, 0, len(s.Coordinates))
	for _, c := range s.Coordinates {
		if c[0] != 0 || c[1] != 0 {
			coords = append(coords, c)
		}
	}
	out.Coordinates = coords
	return out
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, it)
		}
	}
	return out
}
