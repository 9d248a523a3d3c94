package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/resnet-api/internal/metrics"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// RequestID reuses the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog logs each request and records it in the request metrics.
func AccessLog(log logrus.FieldLogger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(path, c.Request.Method, status, latency)

		log.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    latency,
		}).Info("request")
	}
}

// Recovery turns a panic into a 500 with the usual failure body.
func Recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithField("request_id", c.GetString(requestIDKey)).Errorf("panic: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, PredictResponse{Error: "internal server error"})
	})
}
