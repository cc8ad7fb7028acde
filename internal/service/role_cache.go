package service

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша ролей.
var (
	roleCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tp_role_cache_hits_total",
		Help: "Общее количество попаданий в кэш ролей.",
	})
	roleCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tp_role_cache_misses_total",
		Help: "Общее количество промахов кэша ролей.",
	})
)

// RoleCache — LRU-кэш ролей по email с TTL.
// Инвалидируется при upsert и смене роли; TTL ограничивает
// устаревание при изменении роли на другом экземпляре.
type RoleCache struct {
	cache *expirable.LRU[string, string]
}

// NewRoleCache создаёт кэш на maxSize записей с временем жизни ttl.
func NewRoleCache(maxSize int, ttl time.Duration) *RoleCache {
	return &RoleCache{cache: expirable.NewLRU[string, string](maxSize, nil, ttl)}
}

// Get возвращает роль из кэша.
func (c *RoleCache) Get(email string) (string, bool) {
	role, ok := c.cache.Get(cacheKey(email))
	if ok {
		roleCacheHitsTotal.Inc()
		return role, true
	}
	roleCacheMissesTotal.Inc()
	return "", false
}

// Set сохраняет роль.
func (c *RoleCache) Set(email, role string) {
	c.cache.Add(cacheKey(email), role)
}

// Invalidate удаляет роль из кэша.
func (c *RoleCache) Invalidate(email string) {
	c.cache.Remove(cacheKey(email))
}

func cacheKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
