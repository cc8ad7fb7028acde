package model

import (
	"strings"
	"time"
)

// Приоритеты объявлений.
const (
	PriorityNormal = "normal"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// CategoryAll — фильтр, пропускающий любую категорию.
const CategoryAll = "all"

// NoticeCategories — допустимые категории объявлений.
var NoticeCategories = []string{
	"general", "schedule", "route", "holiday", "maintenance", "security", "weather",
}

// Notice — объявление на доске.
type Notice struct {
	ID       string    `json:"_id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	Author   string    `json:"author"`
	Priority string    `json:"priority"`
	Category string    `json:"category"`
	Created  time.Time `json:"createdAt"`
}

// NoticeInput — поля формы объявления.
type NoticeInput struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Author   string `json:"author"`
	Priority string `json:"priority"`
	Category string `json:"category"`
}

// NoticeFilter — поиск по заголовку/тексту и фильтр по категории.
type NoticeFilter struct {
	Search   string
	Category string
}

// Matches — регистронезависимый поиск подстроки в title/content;
// категория "" или "all" пропускает всё.
func (n Notice) Matches(f NoticeFilter) bool {
	if f.Category != "" && f.Category != CategoryAll && n.Category != f.Category {
		return false
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(n.Title), q) ||
		strings.Contains(strings.ToLower(n.Content), q)
}

// IsValidPriority проверяет приоритет объявления.
func IsValidPriority(p string) bool {
	switch p {
	case PriorityNormal, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// IsValidCategory проверяет категорию объявления.
func IsValidCategory(c string) bool {
	for _, v := range NoticeCategories {
		if v == c {
			return true
		}
	}
	return false
}

// PriorityCounts — число объявлений по приоритетам.
func PriorityCounts(notices []Notice) map[string]int {
	counts := map[string]int{PriorityHigh: 0, PriorityMedium: 0, PriorityNormal: 0}
	for _, n := range notices {
		counts[n.Priority]++
	}
	return counts
}
