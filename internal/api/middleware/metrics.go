// metrics.go — Prometheus HTTP метрики API IRT.
// Регистрирует метрики: irt_http_requests_total, irt_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irt_http_requests_total",
			Help: "Общее количество HTTP-запросов к API IRT",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irt_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к API IRT в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// knownPaths — статические пути API, остальные сводятся к {id} или other.
var knownPaths = map[string]struct{}{
	"/health/live":                  {},
	"/health/ready":                 {},
	"/metrics":                      {},
	"/api/v1/openapi.yaml":          {},
	"/api/v1/me":                    {},
	"/api/v1/pricing":               {},
	"/api/v1/pricing/services":      {},
	"/api/v1/interventions":         {},
	"/api/v1/interventions/export":  {},
	"/api/v1/statistics":            {},
	"/api/v1/profiles":              {},
}

// normalizePath заменяет ID в пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/profiles/a1b2c3d4-... → /api/v1/profiles/{id}
// Неизвестные пути сводятся к "other".
func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}

	const profilesPrefix = "/api/v1/profiles/"
	if rest, ok := strings.CutPrefix(path, profilesPrefix); ok && rest != "" && !strings.Contains(rest, "/") {
		return profilesPrefix + "{id}"
	}
	return "other"
}
