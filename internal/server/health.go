package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   interface{}     `json:"details,omitempty"`
}

// handleHealth serves GET /health: 200 when healthy or degraded, 503 when
// the database cannot be reached.
func (s *Server) handleHealth(ctx context.Context, _ *Request) Response {
	health := s.checkHealth(ctx)

	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	body, err := json.Marshal(health)
	if err != nil {
		return failure(http.StatusInternalServerError, "Error")
	}
	return Response{Status: status, ContentType: contentTypeJSON, Body: string(body)}
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp: time.Now().UTC(),
		Version:   s.cfg.Version,
		Components: map[string]ComponentHealth{
			"database":        s.checkDatabaseHealth(ctx),
			"circuit_breaker": s.checkBreakerHealth(),
		},
	}
	health.Status = determineOverallHealth(health.Components)
	return health
}

// checkDatabaseHealth pings the store, bypassing the circuit breaker so a
// recovered database shows up immediately.
func (s *Server) checkDatabaseHealth(ctx context.Context) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "database ping failed: " + err.Error(),
		}
	}

	latency := time.Since(start).Milliseconds()
	if latency > 1000 {
		return ComponentHealth{
			Status:    ComponentStatusDegraded,
			Message:   "database latency high",
			LatencyMs: float64(latency),
		}
	}
	return ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   "database healthy",
		LatencyMs: float64(latency),
	}
}

func (s *Server) checkBreakerHealth() ComponentHealth {
	stats := s.breaker.GetStats()
	status := ComponentStatusUp
	if s.breaker.GetState() != StateClosed {
		status = ComponentStatusDegraded
	}
	return ComponentHealth{
		Status:  status,
		Message: "circuit " + stats.State,
		Details: stats,
	}
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var downCount, degradedCount int
	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	if downCount > 0 {
		return HealthStatusUnhealthy
	}
	if degradedCount > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
