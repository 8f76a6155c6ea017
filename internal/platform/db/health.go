package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Health is the payload of the database health endpoint. The connection
// counts surface pool exhaustion, the usual cause of a stalled scheduler
// tick, without exposing connection strings or schema detail.
type Health struct {
	Status        string `json:"status"`
	PingMillis    int64  `json:"ping_ms"`
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	Error         string `json:"error,omitempty"`
}

// HealthHandler returns the GET /health/db handler.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		started := time.Now()
		pingErr := pool.Ping(ctx)
		stat := pool.Stat()

		h := Health{
			Status:        "healthy",
			PingMillis:    time.Since(started).Milliseconds(),
			TotalConns:    stat.TotalConns(),
			IdleConns:     stat.IdleConns(),
			AcquiredConns: stat.AcquiredConns(),
			MaxConns:      stat.MaxConns(),
		}
		if pingErr != nil {
			h.Status = "unhealthy"
			h.Error = pingErr.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}
