package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Dependency is a backing service checked by the health endpoint besides
// the database, e.g. the Redis lease store.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

func checkDependencies(ctx context.Context, deps []Dependency) (map[string]string, bool) {
	out := make(map[string]string, len(deps))
	healthy := true
	for _, d := range deps {
		if err := d.Ping(ctx); err != nil {
			out[d.Name] = err.Error()
			healthy = false
			continue
		}
		out[d.Name] = "ok"
	}
	return out, healthy
}

// HealthHandler pings the database and every dependency. Any failure
// reports 503.
func HealthHandler(pool *pgxpool.Pool, deps ...Dependency) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"status": "healthy"}
		status := http.StatusOK

		stats := GetPoolStats(pool)
		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		body["pool"] = stats

		if len(deps) > 0 {
			results, ok := checkDependencies(ctx, deps)
			body["dependencies"] = results
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}
