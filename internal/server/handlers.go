package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/monitor"
)

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// healthHandler runs the registered checkers against downstream services
func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    statuses,
	})
}

// livenessHandler reports process liveness only
func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler reports readiness to receive traffic
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Monitoring API handlers
// -----------------------------------------------------------------------------

// summaryHandler returns the live health summary across all services
func (s *Server) summaryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.mon.HealthSummary())
}

// alertsHandler returns currently active (unexpired) alerts
func (s *Server) alertsHandler(c *gin.Context) {
	alerts := s.mon.ActiveAlerts()
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// alertHistoryHandler returns recent alerts. With ?limit=N it reads from
// the persistent store; otherwise it returns the in-memory ring.
func (s *Server) alertHistoryHandler(c *gin.Context) {
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 1000",
			})
			return
		}

		alerts, err := s.alertStore.RecentAlerts(c.Request.Context(), limit)
		if err != nil {
			logging.L(c.Request.Context()).Error("alert history query failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "storage_error",
				"message": "Failed to load alert history",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
		return
	}

	alerts := s.mon.AlertHistory()
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// performanceHandler returns trend reports, optionally for one service
func (s *Server) performanceHandler(c *gin.Context) {
	reports := s.mon.PerformanceMetrics(c.Query("service"))
	c.JSON(http.StatusOK, gin.H{
		"services": reports,
		"count":    len(reports),
	})
}

// historyHandler returns raw snapshot history for one service. A configured
// service that has not been polled yet returns an empty list, not a 404.
func (s *Server) historyHandler(c *gin.Context) {
	service := c.Param("service")
	if _, ok := s.services[service]; !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown_service",
			"message": "No such service: " + service,
		})
		return
	}
	history := s.mon.History(service)
	if history == nil {
		history = []monitor.ServiceSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"service": service,
		"history": history,
		"count":   len(history),
	})
}

// statsHandler returns aggregate client request statistics
func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.client.Stats())
}

// breakersHandler returns the current state of every circuit breaker
func (s *Server) breakersHandler(c *gin.Context) {
	snapshots := s.client.Breaker().Snapshots()
	c.JSON(http.StatusOK, gin.H{
		"breakers": snapshots,
		"count":    len(snapshots),
	})
}

// realtimeStatsHandler returns WebSocket hub statistics
func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}
