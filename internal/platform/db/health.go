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

type healthProbe struct {
	ping          func(ctx context.Context) error
	stats         func() *PoolStats
	schemaVersion func(ctx context.Context) (int, error)
}

// HealthHandler reports pool statistics and the applied schema version.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthProbe{
		ping:  pool.Ping,
		stats: func() *PoolStats { return GetPoolStats(pool) },
		schemaVersion: func(ctx context.Context) (int, error) {
			var v int
			err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM _migrations`).Scan(&v)
			return v, err
		},
	}.handle
}

func (p healthProbe) handle(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats := p.stats()
	if err := p.ping(ctx); err != nil {
		stats.Healthy = false
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
			"pool":   stats,
		})
	}

	body := map[string]interface{}{
		"status": "healthy",
		"pool":   stats,
	}
	if v, err := p.schemaVersion(ctx); err == nil {
		body["schema_version"] = v
	}
	return c.JSON(http.StatusOK, body)
}
