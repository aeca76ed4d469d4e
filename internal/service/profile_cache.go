// profile_cache.go — LRU-кэш профилей с TTL для middleware аутентификации.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/irt/internal/domain/model"
)

var (
	profileCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irt_profile_cache_hits_total",
		Help: "Общее количество попаданий в кэш профилей.",
	})
	profileCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irt_profile_cache_misses_total",
		Help: "Общее количество промахов кэша профилей.",
	})
)

// ProfileCache — кэш профилей по subject. Каждый экземпляр сервера
// имеет собственный кэш, изменения профиля инвалидируют запись локально.
type ProfileCache struct {
	cache *expirable.LRU[string, model.User]
}

// NewProfileCache создаёт кэш на maxSize записей со временем жизни ttl.
func NewProfileCache(maxSize int, ttl time.Duration) *ProfileCache {
	return &ProfileCache{cache: expirable.NewLRU[string, model.User](maxSize, nil, ttl)}
}

// Get возвращает копию профиля из кэша.
func (c *ProfileCache) Get(id string) (*model.User, bool) {
	u, ok := c.cache.Get(id)
	if !ok {
		profileCacheMissesTotal.Inc()
		return nil, false
	}
	profileCacheHitsTotal.Inc()
	return &u, true
}

// Set добавляет или обновляет профиль.
func (c *ProfileCache) Set(u *model.User) {
	c.cache.Add(u.ID, *u)
}

// Delete удаляет профиль из кэша.
func (c *ProfileCache) Delete(id string) {
	c.cache.Remove(id)
}

// Len — число записей в кэше.
func (c *ProfileCache) Len() int {
	return c.cache.Len()
}
